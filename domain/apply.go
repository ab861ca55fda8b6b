package domain

import "fmt"

// Apply executes an intent against the state and returns the resulting
// state. The input state is never mutated: on success the result is a fresh
// value (or the input itself for a no-op), on failure the input is returned
// unchanged alongside the error. Either way the returned state satisfies
// the exclusivity invariant whenever the input did.
func Apply(s *State, in Intent) (*State, error) {
	switch in := in.(type) {
	case MoveOrderToCell:
		return applyMoveToCell(s, in)
	case MoveOrderToRun:
		return applyMoveToRun(s, in)
	case MoveOrderToUnscheduled:
		return applyMoveToUnscheduled(s, in)
	case CreateRun:
		return applyCreateRun(s, in)
	case DeleteEmptyRuns:
		return applyDeleteEmptyRuns(s), nil
	}
	return s, fmt.Errorf("unknown intent %T", in)
}

func applyMoveToCell(s *State, in MoveOrderToCell) (*State, error) {
	loc, ok := s.locate(in.OrderID)
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownOrder, in.OrderID)
	}
	if loc.loose && loc.cell == in.Cell {
		return s, nil
	}
	next := s.Clone()
	detach(next, in.OrderID, loc)
	cell := next.Cells[in.Cell]
	cell.LooseOrderIDs = append(cell.LooseOrderIDs, in.OrderID)
	next.Cells[in.Cell] = cell
	setDate(next, in.OrderID, &in.Cell.Date)
	return next, nil
}

func applyMoveToRun(s *State, in MoveOrderToRun) (*State, error) {
	loc, ok := s.locate(in.OrderID)
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownOrder, in.OrderID)
	}
	if _, ok := s.Runs[in.RunID]; !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownRun, in.RunID)
	}
	runCell, ok := s.cellOfRun(in.RunID)
	if !ok {
		return s, fmt.Errorf("%w: %s is not placed in any cell", ErrUnknownRun, in.RunID)
	}
	next := s.Clone()
	detach(next, in.OrderID, loc)
	run := next.Runs[in.RunID]
	idx := len(run.OrderIDs)
	if in.Index != nil {
		idx = *in.Index
		if idx < 0 {
			idx = 0
		}
		if idx > len(run.OrderIDs) {
			idx = len(run.OrderIDs)
		}
	}
	run.OrderIDs = append(run.OrderIDs, "")
	copy(run.OrderIDs[idx+1:], run.OrderIDs[idx:])
	run.OrderIDs[idx] = in.OrderID
	next.Runs[in.RunID] = run
	setDate(next, in.OrderID, &runCell.Date)
	return next, nil
}

func applyMoveToUnscheduled(s *State, in MoveOrderToUnscheduled) (*State, error) {
	loc, ok := s.locate(in.OrderID)
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownOrder, in.OrderID)
	}
	if loc.unscheduled {
		return s, nil
	}
	next := s.Clone()
	detach(next, in.OrderID, loc)
	setDate(next, in.OrderID, nil)
	return next, nil
}

func applyCreateRun(s *State, in CreateRun) (*State, error) {
	if _, exists := s.Runs[in.RunID]; exists {
		return s, fmt.Errorf("%w: %s", ErrRunExists, in.RunID)
	}
	next := s.Clone()
	next.Runs[in.RunID] = Run{ID: in.RunID, Name: in.Name, OrderIDs: []string{}}
	cell := next.Cells[in.Cell]
	cell.RunIDs = append(cell.RunIDs, in.RunID)
	next.Cells[in.Cell] = cell
	return next, nil
}

func applyDeleteEmptyRuns(s *State) *State {
	empty := false
	for _, r := range s.Runs {
		if len(r.OrderIDs) == 0 {
			empty = true
			break
		}
	}
	if !empty {
		return s
	}
	next := s.Clone()
	for id, r := range next.Runs {
		if len(r.OrderIDs) > 0 {
			continue
		}
		delete(next.Runs, id)
		if key, ok := next.cellOfRun(id); ok {
			cell := next.Cells[key]
			cell.RunIDs = remove(cell.RunIDs, id)
			next.Cells[key] = cell
			dropIfEmpty(next, key)
		}
	}
	return next
}

// detach removes the order from its current placement. The run it leaves
// may become transiently empty; DeleteEmptyRuns collects it.
func detach(s *State, orderID string, loc location) {
	switch {
	case loc.unscheduled:
	case loc.loose:
		cell := s.Cells[loc.cell]
		cell.LooseOrderIDs = remove(cell.LooseOrderIDs, orderID)
		s.Cells[loc.cell] = cell
		dropIfEmpty(s, loc.cell)
	case loc.runID != "":
		run := s.Runs[loc.runID]
		run.OrderIDs = remove(run.OrderIDs, orderID)
		s.Runs[loc.runID] = run
	}
}

func setDate(s *State, orderID string, d *Date) {
	o := s.Orders[orderID]
	if d != nil {
		copied := *d
		d = &copied
	}
	o.Date = d
	s.Orders[orderID] = o
}

func dropIfEmpty(s *State, key CellKey) {
	if cell, ok := s.Cells[key]; ok && cell.Empty() {
		delete(s.Cells, key)
	}
}
