package domain

import "sort"

// State is the complete in-memory board: the three registries plus view
// state. Transitions never mutate a State in place; Apply clones first, so
// the previous value stays valid as a rollback snapshot.
type State struct {
	Orders map[string]Order
	Runs   map[string]Run
	Cells  map[CellKey]CellData

	Trucks       []string
	VisibleWeeks int
	AnchorDate   Date
}

// NewState returns an empty board.
func NewState() *State {
	return &State{
		Orders:       map[string]Order{},
		Runs:         map[string]Run{},
		Cells:        map[CellKey]CellData{},
		VisibleWeeks: 1,
	}
}

// Clone deep-copies the state.
func (s *State) Clone() *State {
	c := &State{
		Orders:       make(map[string]Order, len(s.Orders)),
		Runs:         make(map[string]Run, len(s.Runs)),
		Cells:        make(map[CellKey]CellData, len(s.Cells)),
		Trucks:       append([]string(nil), s.Trucks...),
		VisibleWeeks: s.VisibleWeeks,
		AnchorDate:   s.AnchorDate,
	}
	for id, o := range s.Orders {
		if o.Date != nil {
			d := *o.Date
			o.Date = &d
		}
		c.Orders[id] = o
	}
	for id, r := range s.Runs {
		r.OrderIDs = append([]string(nil), r.OrderIDs...)
		c.Runs[id] = r
	}
	for k, cell := range s.Cells {
		c.Cells[k] = CellData{
			RunIDs:        append([]string(nil), cell.RunIDs...),
			LooseOrderIDs: append([]string(nil), cell.LooseOrderIDs...),
		}
	}
	return c
}

// location describes where an order currently resides.
type location struct {
	unscheduled bool
	cell        CellKey
	runID       string // non-empty when the order sits inside a run
	loose       bool   // true when the order sits directly in the cell
}

// locate finds the order's current placement. It trusts the exclusivity
// invariant: the first hit is the only hit.
func (s *State) locate(orderID string) (location, bool) {
	o, ok := s.Orders[orderID]
	if !ok {
		return location{}, false
	}
	if o.Date == nil {
		return location{unscheduled: true}, true
	}
	for key, cell := range s.Cells {
		if contains(cell.LooseOrderIDs, orderID) {
			return location{cell: key, loose: true}, true
		}
		for _, runID := range cell.RunIDs {
			if contains(s.Runs[runID].OrderIDs, orderID) {
				return location{cell: key, runID: runID}, true
			}
		}
	}
	// Scheduled date but no placement; CheckExclusivity reports this.
	return location{unscheduled: true}, true
}

// cellOfRun resolves the cell a run is anchored to.
func (s *State) cellOfRun(runID string) (CellKey, bool) {
	for key, cell := range s.Cells {
		if contains(cell.RunIDs, runID) {
			return key, true
		}
	}
	return CellKey{}, false
}

// CellSnapshot is one grid cell in wire form.
type CellSnapshot struct {
	Resource      string   `json:"resource"`
	Date          Date     `json:"date"`
	RunIDs        []string `json:"runIds,omitempty"`
	LooseOrderIDs []string `json:"looseOrderIds,omitempty"`
}

// Snapshot is the full hydrate payload: the serialized form of a State.
type Snapshot struct {
	Orders       []Order        `json:"orders"`
	Runs         []Run          `json:"runs"`
	Cells        []CellSnapshot `json:"cells"`
	Trucks       []string       `json:"trucks"`
	VisibleWeeks int            `json:"visibleWeeks"`
	AnchorDate   Date           `json:"anchorDate"`
}

// Snapshot serializes the state deterministically (registries sorted by ID,
// cells by resource then date).
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Orders:       make([]Order, 0, len(s.Orders)),
		Runs:         make([]Run, 0, len(s.Runs)),
		Cells:        make([]CellSnapshot, 0, len(s.Cells)),
		Trucks:       append([]string(nil), s.Trucks...),
		VisibleWeeks: s.VisibleWeeks,
		AnchorDate:   s.AnchorDate,
	}
	for _, o := range s.Orders {
		if o.Date != nil {
			d := *o.Date
			o.Date = &d
		}
		snap.Orders = append(snap.Orders, o)
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	for _, r := range s.Runs {
		r.OrderIDs = append([]string(nil), r.OrderIDs...)
		snap.Runs = append(snap.Runs, r)
	}
	sort.Slice(snap.Runs, func(i, j int) bool { return snap.Runs[i].ID < snap.Runs[j].ID })
	for key, cell := range s.Cells {
		cs := CellSnapshot{Resource: key.Resource, Date: key.Date}
		cs.RunIDs = append([]string(nil), cell.RunIDs...)
		sort.Strings(cs.RunIDs)
		cs.LooseOrderIDs = append([]string(nil), cell.LooseOrderIDs...)
		sort.Strings(cs.LooseOrderIDs)
		snap.Cells = append(snap.Cells, cs)
	}
	sort.Slice(snap.Cells, func(i, j int) bool {
		a, b := snap.Cells[i], snap.Cells[j]
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		return a.Date.Before(b.Date)
	})
	return snap
}

// BuildState assembles a State from a snapshot and validates the global
// invariant. A violation means the payload itself is broken and is
// surfaced, never repaired.
func BuildState(snap Snapshot) (*State, error) {
	s := NewState()
	s.Trucks = append([]string(nil), snap.Trucks...)
	s.VisibleWeeks = snap.VisibleWeeks
	if s.VisibleWeeks < 1 {
		s.VisibleWeeks = 1
	}
	s.AnchorDate = snap.AnchorDate
	for _, o := range snap.Orders {
		if o.Date != nil {
			d := *o.Date
			o.Date = &d
		}
		s.Orders[o.ID] = o
	}
	for _, r := range snap.Runs {
		r.OrderIDs = append([]string(nil), r.OrderIDs...)
		s.Runs[r.ID] = r
	}
	for _, c := range snap.Cells {
		key := CellKey{Resource: c.Resource, Date: c.Date}
		s.Cells[key] = CellData{
			RunIDs:        append([]string(nil), c.RunIDs...),
			LooseOrderIDs: append([]string(nil), c.LooseOrderIDs...),
		}
	}
	if err := CheckExclusivity(s); err != nil {
		return nil, err
	}
	return s, nil
}
