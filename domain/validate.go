package domain

import "fmt"

// CheckExclusivity verifies the global board invariant: every registered
// order occupies exactly one place (unscheduled pool, one loose set, or one
// run), placements agree with the order's date, every referenced ID
// resolves, and every run sits in exactly one cell. It returns the first
// violation found, wrapped in ErrInvalidSnapshot.
func CheckExclusivity(s *State) error {
	seen := make(map[string]int, len(s.Orders))
	runCells := make(map[string]CellKey, len(s.Runs))

	for key, cell := range s.Cells {
		for _, orderID := range cell.LooseOrderIDs {
			o, ok := s.Orders[orderID]
			if !ok {
				return violation("cell %v references unknown order %s", key, orderID)
			}
			if o.Date == nil || *o.Date != key.Date {
				return violation("loose order %s in cell %v has date %v", orderID, key, o.Date)
			}
			seen[orderID]++
		}
		for _, runID := range cell.RunIDs {
			run, ok := s.Runs[runID]
			if !ok {
				return violation("cell %v references unknown run %s", key, runID)
			}
			if prev, dup := runCells[runID]; dup {
				return violation("run %s placed in both %v and %v", runID, prev, key)
			}
			runCells[runID] = key
			for _, orderID := range run.OrderIDs {
				o, ok := s.Orders[orderID]
				if !ok {
					return violation("run %s references unknown order %s", runID, orderID)
				}
				if o.Date == nil || *o.Date != key.Date {
					return violation("order %s in run %s has date %v, cell is %v", orderID, runID, o.Date, key)
				}
				seen[orderID]++
			}
		}
	}

	for id := range s.Runs {
		if _, ok := runCells[id]; !ok {
			return violation("run %s is not placed in any cell", id)
		}
	}

	for id, o := range s.Orders {
		switch n := seen[id]; {
		case o.Date == nil && n != 0:
			return violation("unscheduled order %s appears on the board %d times", id, n)
		case o.Date != nil && n == 0:
			return violation("order %s has date %s but no placement", id, o.Date)
		case n > 1:
			return violation("order %s occupies %d places", id, n)
		}
	}
	return nil
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSnapshot, fmt.Sprintf(format, args...))
}
