// Package syncer reconciles the optimistic in-memory board with the remote
// persistence API. It hydrates the store from a windowed fetch, mirrors
// every committed move as an idempotent schedule upsert, rolls the store
// back when the remote rejects one, and re-hydrates when the push channel
// signals that another session changed scheduling data.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dispatch-board/board"
	"dispatch-board/domain"
)

// ScheduleUpdate is the command payload of the remote API: an idempotent
// upsert of one order's scheduling assignment.
type ScheduleUpdate struct {
	OrderID   string           `json:"orderId"`
	OrderType domain.OrderType `json:"orderType"`
	Date      *domain.Date     `json:"scheduledDate"`
	Resource  string           `json:"scheduledResourceId"`
	RunID     string           `json:"runId,omitempty"`
}

// Window is one bounded calendar fetch.
type Window struct {
	Orders []domain.Order
	Runs   []domain.Run
	Cells  []domain.CellSnapshot
}

// Remote is the persistence API consumed by the adapter.
type Remote interface {
	FetchWindow(ctx context.Context, site string, from, to domain.Date) (Window, error)
	FetchUnscheduled(ctx context.Context, site string) ([]domain.Order, error)
	FetchTrucks(ctx context.Context, site string) ([]string, error)
	UpdateSchedule(ctx context.Context, site string, upd ScheduleUpdate) error
	SaveRun(ctx context.Context, site string, run domain.Run, cell domain.CellKey) error
	SaveRunSequence(ctx context.Context, site string, run domain.Run) error
	DeleteRuns(ctx context.Context, site string, runIDs []string) error
}

// NotifyFunc surfaces user-visible failure notices.
type NotifyFunc func(message string)

// DragGate reports whether a drag gesture is in flight; re-hydration is
// deferred while it is.
type DragGate interface {
	Dragging() bool
}

// Config parameterizes an Adapter.
type Config struct {
	Site         string
	Anchor       domain.Date
	VisibleWeeks int
	// Timeout bounds each remote call. Defaults to 30s.
	Timeout time.Duration
}

// Adapter mirrors one site's board store against the remote API.
type Adapter struct {
	cfg    Config
	store  *board.Store
	remote Remote
	notify NotifyFunc
	gate   DragGate

	jobs    chan board.Mutation
	pending sync.WaitGroup
	closed  chan struct{}

	mu                sync.Mutex
	rehydrateDeferred bool
}

// New wires an adapter to its store. The caller registers the adapter as
// the store's mirror.
func New(cfg Config, store *board.Store, remote Remote, notify NotifyFunc) *Adapter {
	if cfg.VisibleWeeks < 1 {
		cfg.VisibleWeeks = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if notify == nil {
		notify = func(string) {}
	}
	a := &Adapter{
		cfg:    cfg,
		store:  store,
		remote: remote,
		notify: notify,
		jobs:   make(chan board.Mutation, 64),
		closed: make(chan struct{}),
	}
	go a.worker()
	return a
}

// SetDragGate registers the drag controller so external re-hydration waits
// for the current gesture.
func (a *Adapter) SetDragGate(g DragGate) {
	a.mu.Lock()
	a.gate = g
	a.mu.Unlock()
}

// Close stops the mirror worker after draining queued mutations.
func (a *Adapter) Close() {
	close(a.jobs)
	<-a.closed
}

// Flush blocks until every queued mutation has been mirrored. Used by
// callers that need the remote outcome before reading state.
func (a *Adapter) Flush() {
	a.pending.Wait()
}

// Load fetches the calendar window, the unscheduled pool and the resource
// list, assembles the hydrate payload and replaces the store's state. A
// payload failing validation is a fatal load error, surfaced untouched.
func (a *Adapter) Load(ctx context.Context) error {
	from := a.cfg.Anchor.AddDays(-7)
	to := a.cfg.Anchor.AddDays(7 * a.cfg.VisibleWeeks)

	win, err := a.remote.FetchWindow(ctx, a.cfg.Site, from, to)
	if err != nil {
		return fmt.Errorf("fetch window: %w", err)
	}
	pool, err := a.remote.FetchUnscheduled(ctx, a.cfg.Site)
	if err != nil {
		return fmt.Errorf("fetch unscheduled: %w", err)
	}
	trucks, err := a.remote.FetchTrucks(ctx, a.cfg.Site)
	if err != nil {
		return fmt.Errorf("fetch trucks: %w", err)
	}

	snap := domain.Snapshot{
		Orders:       append(win.Orders, pool...),
		Runs:         win.Runs,
		Cells:        win.Cells,
		Trucks:       trucks,
		VisibleWeeks: a.cfg.VisibleWeeks,
		AnchorDate:   a.cfg.Anchor,
	}
	if err := a.store.Hydrate(snap); err != nil {
		return fmt.Errorf("hydrate %s: %w", a.cfg.Site, err)
	}
	log.WithFields(log.Fields{
		"site":   a.cfg.Site,
		"orders": len(snap.Orders),
		"runs":   len(snap.Runs),
	}).Info("board hydrated")
	return nil
}

// ScheduleCommitted implements board.Mirror: committed moves are queued for
// the mirror worker so the drag interaction never waits on the network.
func (a *Adapter) ScheduleCommitted(m board.Mutation) {
	a.pending.Add(1)
	select {
	case a.jobs <- m:
	default:
		// Buffer saturated; mirror inline rather than dropping the write.
		a.mirror(m)
		a.pending.Done()
	}
}

// RunCreated implements board.Mirror.
func (a *Adapter) RunCreated(runID string, cell domain.CellKey, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()
	run := domain.Run{ID: runID, Name: name, OrderIDs: []string{}}
	if err := a.remote.SaveRun(ctx, a.cfg.Site, run, cell); err != nil {
		log.WithFields(log.Fields{"site": a.cfg.Site, "run": runID, "err": err}).Error("persist run failed")
		a.notify("could not save the new run")
	}
}

func (a *Adapter) worker() {
	for m := range a.jobs {
		a.mirror(m)
		a.pending.Done()
	}
	close(a.closed)
}

// mirror pushes one mutation to the remote and reconciles the outcome. A
// completion is honored only while it still matches the order's current
// local assignment; superseded completions are discarded silently.
func (a *Adapter) mirror(m board.Mutation) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	err := a.remote.UpdateSchedule(ctx, a.cfg.Site, ScheduleUpdate{
		OrderID:   m.OrderID,
		OrderType: m.OrderType,
		Date:      m.Date,
		Resource:  m.Resource,
		RunID:     m.RunID,
	})
	if err == nil {
		for _, run := range m.AffectedRuns {
			if seqErr := a.remote.SaveRunSequence(ctx, a.cfg.Site, run); seqErr != nil {
				err = fmt.Errorf("save run %s sequence: %w", run.ID, seqErr)
				break
			}
		}
	}
	if err == nil && len(m.RemovedRuns) > 0 {
		if delErr := a.remote.DeleteRuns(ctx, a.cfg.Site, m.RemovedRuns); delErr != nil {
			// The order assignment is durable; a lingering empty run row is
			// cleaned up by the next hydrate.
			log.WithFields(log.Fields{"site": a.cfg.Site, "runs": m.RemovedRuns, "err": delErr}).Warn("delete empty runs failed")
		}
	}

	cur, ok := a.store.Assignment(m.OrderID)
	if !ok || !sameAssignment(cur, m) {
		return
	}
	if err != nil {
		log.WithFields(log.Fields{"site": a.cfg.Site, "order": m.OrderID, "err": err}).Error("schedule update rejected")
		if rbErr := a.store.Rollback(m.Revision); rbErr != nil {
			// A later move committed past this revision; the rejection
			// cannot be unwound locally. The server is authoritative, so
			// re-fetch its state.
			a.notify(fmt.Sprintf("could not save the move of order %s; refreshing the board", m.OrderID))
			rctx, rcancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
			defer rcancel()
			a.Rehydrate(rctx)
			return
		}
		a.notify(fmt.Sprintf("could not save the move of order %s; the board was restored", m.OrderID))
		return
	}
	a.store.Resolve(m.Revision)
}

func sameAssignment(cur, m board.Mutation) bool {
	if cur.Resource != m.Resource || cur.RunID != m.RunID {
		return false
	}
	switch {
	case cur.Date == nil && m.Date == nil:
		return true
	case cur.Date == nil || m.Date == nil:
		return false
	}
	return *cur.Date == *m.Date
}

// SubscribeUpdates listens on the push channel and re-hydrates when another
// actor changed scheduling data for this site. Re-hydration is deferred
// while a drag gesture is in flight and replayed once it resolves. Blocks
// until ctx is cancelled.
func (a *Adapter) SubscribeUpdates(ctx context.Context, rc *redis.Client, channel string) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
		for msg := range ch {
			var ev struct {
				Site string `json:"site"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.WithField("err", err).Error("unable to parse board update")
				continue
			}
			if ev.Site != a.cfg.Site {
				continue
			}
			a.Rehydrate(ctx)
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("board update channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

// Rehydrate re-fetches and re-hydrates the board, unless a drag gesture is
// active, in which case one re-hydrate is queued for DragResolved.
func (a *Adapter) Rehydrate(ctx context.Context) {
	a.mu.Lock()
	gate := a.gate
	if gate != nil && gate.Dragging() {
		a.rehydrateDeferred = true
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	if err := a.Load(ctx); err != nil {
		log.WithFields(log.Fields{"site": a.cfg.Site, "err": err}).Error("re-hydration failed")
		a.notify("the board could not be refreshed")
	}
}

// DragResolved replays a deferred re-hydrate. Wire it to the drag
// controller's OnDragEnd hook.
func (a *Adapter) DragResolved(ctx context.Context) {
	a.mu.Lock()
	deferred := a.rehydrateDeferred
	a.rehydrateDeferred = false
	a.mu.Unlock()
	if deferred {
		a.Rehydrate(ctx)
	}
}
