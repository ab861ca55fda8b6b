// Package board owns the live scheduling-board state for one site: the
// order/run/cell registries, the board view state, and the mutation
// operations the drag controller drives. Mutations are serialized; the
// underlying model is a pure value and never mutated in place, so the
// pre-mutation state doubles as the rollback snapshot while the remote
// mirror is in flight.
package board

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"dispatch-board/domain"
)

// ErrStaleRollback indicates a rollback request that lost the race against
// a newer committed move; the newer move wins and the rollback is dropped.
var ErrStaleRollback = errors.New("rollback superseded by a newer move")

// Mutation describes one committed scheduling decision, in the shape the
// sync adapter mirrors to the remote API.
type Mutation struct {
	Revision  uint64
	OrderID   string
	OrderType domain.OrderType
	Date      *domain.Date // nil = unscheduled
	Resource  string       // "" when unscheduled
	RunID     string       // "" when loose or unscheduled

	// AffectedRuns carries the post-move sequence of every run the move
	// touched (source and/or target); RemovedRuns lists runs the empty-run
	// sweep collected.
	AffectedRuns []domain.Run
	RemovedRuns  []string
}

// Mirror receives committed mutations for remote persistence.
type Mirror interface {
	ScheduleCommitted(m Mutation)
	RunCreated(runID string, cell domain.CellKey, name string)
}

// Store is the board store for a single site.
type Store struct {
	mu       sync.Mutex
	state    *domain.State
	prev     *domain.State // pre-mutation snapshot of the latest commit
	revision uint64
	mirror   Mirror
}

// NewStore returns an empty store; call Hydrate before use.
func NewStore() *Store {
	return &Store{state: domain.NewState()}
}

// SetMirror registers the sync adapter. Pass nil to detach.
func (s *Store) SetMirror(m Mirror) {
	s.mu.Lock()
	s.mirror = m
	s.mu.Unlock()
}

// Hydrate atomically replaces the whole board from a snapshot. A payload
// violating the exclusivity invariant is rejected as-is; nothing is
// repaired and the previous state stays in place.
func (s *Store) Hydrate(snap domain.Snapshot) error {
	next, err := domain.BuildState(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = next
	s.prev = nil
	s.revision++
	s.mu.Unlock()
	return nil
}

// MoveOrderToCell drops the order as a loose order into the target cell.
func (s *Store) MoveOrderToCell(orderID, resource string, date domain.Date) error {
	cell := domain.CellKey{Resource: resource, Date: date}
	return s.commit(domain.MoveOrderToCell{OrderID: orderID, Cell: cell}, orderID)
}

// MoveOrderToRun inserts the order into the run's sequence at index, or
// appends when index is nil.
func (s *Store) MoveOrderToRun(orderID, runID string, index *int) error {
	return s.commit(domain.MoveOrderToRun{OrderID: orderID, RunID: runID, Index: index}, orderID)
}

// MoveOrderToUnscheduled returns the order to the unscheduled pool.
func (s *Store) MoveOrderToUnscheduled(orderID string) error {
	return s.commit(domain.MoveOrderToUnscheduled{OrderID: orderID}, orderID)
}

// CreateRun places a new empty run in the given cell and returns its ID.
func (s *Store) CreateRun(resource string, date domain.Date, name string) (string, error) {
	cell := domain.CellKey{Resource: resource, Date: date}
	runID := uuid.NewString()
	s.mu.Lock()
	next, err := domain.Apply(s.state, domain.CreateRun{RunID: runID, Cell: cell, Name: name})
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.state = next
	mirror := s.mirror
	s.mu.Unlock()
	if mirror != nil {
		mirror.RunCreated(runID, cell, name)
	}
	return runID, nil
}

// DeleteEmptyRuns sweeps runs with empty sequences. Moves invoke the sweep
// themselves; this entry point covers housekeeping after hydration edits.
func (s *Store) DeleteEmptyRuns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.state
	next, _ := domain.Apply(s.state, domain.DeleteEmptyRuns{})
	s.state = next
	return removedRuns(before, next)
}

// commit applies a move, sweeps empty runs, and notifies the mirror. A
// no-op move (same source and destination) commits nothing.
func (s *Store) commit(in domain.Intent, orderID string) error {
	s.mu.Lock()
	before := s.state
	next, err := domain.Apply(before, in)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if next == before {
		s.mu.Unlock()
		return nil
	}
	swept, _ := domain.Apply(next, domain.DeleteEmptyRuns{})
	s.prev = before
	s.revision++
	s.state = swept

	m := s.mutationLocked(orderID)
	m.RemovedRuns = removedRuns(next, swept)
	m.AffectedRuns = affectedRuns(before, swept)
	mirror := s.mirror
	s.mu.Unlock()

	log.WithFields(log.Fields{
		"order":    orderID,
		"revision": m.Revision,
		"resource": m.Resource,
		"run":      m.RunID,
	}).Debug("board move committed")
	if mirror != nil {
		mirror.ScheduleCommitted(m)
	}
	return nil
}

// Rollback restores the pre-mutation snapshot of the given revision. It
// fails with ErrStaleRollback when a newer move has committed since; the
// newer move's state stands.
func (s *Store) Rollback(revision uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if revision != s.revision || s.prev == nil {
		return fmt.Errorf("%w: revision %d, current %d", ErrStaleRollback, revision, s.revision)
	}
	s.state = s.prev
	s.prev = nil
	s.revision++
	return nil
}

// Resolve discards the rollback snapshot once the mirror confirmed the
// revision durably persisted.
func (s *Store) Resolve(revision uint64) {
	s.mu.Lock()
	if revision == s.revision {
		s.prev = nil
	}
	s.mu.Unlock()
}

// Revision returns the current commit counter.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Assignment reports the order's current placement, for reconciling remote
// completions against local state.
func (s *Store) Assignment(orderID string) (Mutation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Orders[orderID]; !ok {
		return Mutation{}, false
	}
	return s.mutationLocked(orderID), true
}

// mutationLocked derives the order's placement from the current state.
func (s *Store) mutationLocked(orderID string) Mutation {
	o := s.state.Orders[orderID]
	m := Mutation{Revision: s.revision, OrderID: orderID, OrderType: o.Type}
	if o.Date == nil {
		return m
	}
	d := *o.Date
	m.Date = &d
	for key, cell := range s.state.Cells {
		if key.Date != d {
			continue
		}
		for _, id := range cell.LooseOrderIDs {
			if id == orderID {
				m.Resource = key.Resource
				return m
			}
		}
		for _, runID := range cell.RunIDs {
			for _, id := range s.state.Runs[runID].OrderIDs {
				if id == orderID {
					m.Resource = key.Resource
					m.RunID = runID
					return m
				}
			}
		}
	}
	return m
}

func removedRuns(before, after *domain.State) []string {
	var removed []string
	for id := range before.Runs {
		if _, ok := after.Runs[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// affectedRuns collects runs whose sequence differs between the two states
// and that still exist afterwards.
func affectedRuns(before, after *domain.State) []domain.Run {
	var out []domain.Run
	for id, run := range after.Runs {
		prev, existed := before.Runs[id]
		if existed && equalSeq(prev.OrderIDs, run.OrderIDs) {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func equalSeq(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
