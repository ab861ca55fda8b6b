package board

import (
	"sort"

	"dispatch-board/domain"
)

// Read-only query surface for the UI layer. Results are copies; callers
// cannot reach the live state through them.

// Order resolves an order by ID.
func (s *Store) Order(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.Orders[id]
	if ok && o.Date != nil {
		d := *o.Date
		o.Date = &d
	}
	return o, ok
}

// OrdersInCell lists the loose orders of a cell, sorted by ID.
func (s *Store) OrdersInCell(resource string, date domain.Date) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell := s.state.Cells[domain.CellKey{Resource: resource, Date: date}]
	out := make([]domain.Order, 0, len(cell.LooseOrderIDs))
	for _, id := range cell.LooseOrderIDs {
		out = append(out, s.state.Orders[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunsInCell lists the runs placed in a cell, sorted by ID.
func (s *Store) RunsInCell(resource string, date domain.Date) []domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	cell := s.state.Cells[domain.CellKey{Resource: resource, Date: date}]
	out := make([]domain.Run, 0, len(cell.RunIDs))
	for _, id := range cell.RunIDs {
		run := s.state.Runs[id]
		run.OrderIDs = append([]string(nil), run.OrderIDs...)
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunOrders lists a run's orders in delivery sequence.
func (s *Store) RunOrders(runID string) ([]domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.state.Runs[runID]
	if !ok {
		return nil, false
	}
	out := make([]domain.Order, 0, len(run.OrderIDs))
	for _, id := range run.OrderIDs {
		out = append(out, s.state.Orders[id])
	}
	return out, true
}

// UnscheduledOrders lists the unscheduled pool, sorted by ID.
func (s *Store) UnscheduledOrders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.state.Orders {
		if o.Date == nil {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Trucks returns the ordered resource rows, excluding the synthetic ones.
func (s *Store) Trucks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.state.Trucks...)
}

// Snapshot serializes the whole board.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}
