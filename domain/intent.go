package domain

// Intent is a named board mutation. Apply turns the current state plus an
// intent into the next state.
type Intent interface {
	intent()
}

// MoveOrderToCell places the order as a loose order in the target cell,
// removing it from wherever it resides first.
type MoveOrderToCell struct {
	OrderID string
	Cell    CellKey
}

// MoveOrderToRun inserts the order into the target run's sequence. A nil
// Index appends; an out-of-range index is clamped.
type MoveOrderToRun struct {
	OrderID string
	RunID   string
	Index   *int
}

// MoveOrderToUnscheduled returns the order to the unscheduled pool.
type MoveOrderToUnscheduled struct {
	OrderID string
}

// CreateRun places a new empty run in the given cell.
type CreateRun struct {
	RunID string
	Cell  CellKey
	Name  string
}

// DeleteEmptyRuns removes every run whose sequence is empty. Run after any
// move that could have emptied one; an empty run is meaningless to the UI.
type DeleteEmptyRuns struct{}

func (MoveOrderToCell) intent()        {}
func (MoveOrderToRun) intent()         {}
func (MoveOrderToUnscheduled) intent() {}
func (CreateRun) intent()              {}
func (DeleteEmptyRuns) intent()        {}
