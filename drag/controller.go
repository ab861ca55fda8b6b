// Package drag turns raw pointer samples into board move intents. The
// controller is an explicit finite-state machine (Idle → Dragging → Idle)
// decoupled from any rendering layer: callers feed it pointer events plus
// the hit-tested drop target under the pointer, and it drives the board
// store on release. Policy violations and unrecognized targets drop the
// gesture silently; nothing is committed before pointer-up, so cancelling
// is free.
package drag

import (
	"math"
	"sync"

	log "github.com/sirupsen/logrus"

	"dispatch-board/domain"
)

// DefaultThreshold is the activation deadzone in pixels. Movement below it
// is read as a plain click, not a drag.
const DefaultThreshold = 4.0

// Board is the slice of the board store the controller drives. Empty-run
// cleanup happens inside the store on every committed move.
type Board interface {
	Order(id string) (domain.Order, bool)
	MoveOrderToCell(orderID, resource string, date domain.Date) error
	MoveOrderToRun(orderID, runID string, index *int) error
	MoveOrderToUnscheduled(orderID string) error
}

// TargetKind classifies what sits under the pointer.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetCell
	TargetRun
	TargetUnscheduled
)

// DropTarget is the hit-tested drop candidate under the pointer. For
// TargetRun, Cell is the cell anchoring the run and Index the insert
// position implied by the pointer (negative = append).
type DropTarget struct {
	Kind  TargetKind
	Cell  domain.CellKey
	RunID string
	Index int
}

// Result reports how a gesture resolved.
type Result struct {
	OrderID string
	Target  DropTarget
	Moved   bool
	// Err carries referential failures (stale client state); callers
	// should trigger a re-hydration when set.
	Err error
}

// Hooks are the drag lifecycle callbacks exposed to the UI layer.
type Hooks struct {
	OnDragStart func(orderID string)
	OnDragEnd   func(Result)
}

type phase int

const (
	idle phase = iota
	armed
	dragging
)

// Controller is the gesture recognizer. One in-flight gesture at a time; a
// pointer-down while a gesture is active is ignored.
type Controller struct {
	mu        sync.Mutex
	board     Board
	hooks     Hooks
	threshold float64

	phase          phase
	orderID        string
	startX, startY float64
	target         DropTarget
}

// NewController builds a controller with the default activation threshold.
func NewController(b Board, hooks Hooks) *Controller {
	return &Controller{board: b, hooks: hooks, threshold: DefaultThreshold}
}

// SetThreshold overrides the activation deadzone; non-positive values keep
// the default.
func (c *Controller) SetThreshold(px float64) {
	if px <= 0 {
		return
	}
	c.mu.Lock()
	c.threshold = px
	c.mu.Unlock()
}

// Dragging reports whether a gesture is past the activation threshold. The
// sync adapter defers external re-hydration while this is true.
func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == dragging
}

// PointerDown arms a gesture on the given order card. Read-only orders and
// unknown IDs never start a drag.
func (c *Controller) PointerDown(orderID string, x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != idle {
		return
	}
	o, ok := c.board.Order(orderID)
	if !ok || o.ReadOnly {
		return
	}
	c.phase = armed
	c.orderID = orderID
	c.startX, c.startY = x, y
	c.target = DropTarget{}
}

// PointerMove advances an armed gesture past the deadzone and, while
// dragging, tracks the candidate drop target. Pure presentation feedback;
// board state is untouched.
func (c *Controller) PointerMove(x, y float64, target DropTarget) {
	c.mu.Lock()
	var started string
	switch c.phase {
	case armed:
		if math.Hypot(x-c.startX, y-c.startY) < c.threshold {
			break
		}
		c.phase = dragging
		c.target = target
		started = c.orderID
	case dragging:
		c.target = target
	}
	hooks := c.hooks
	c.mu.Unlock()
	if started != "" && hooks.OnDragStart != nil {
		hooks.OnDragStart(started)
	}
}

// PointerUp resolves the gesture. A release inside the deadzone is a plain
// click: no mutation, no drag callbacks.
func (c *Controller) PointerUp() {
	c.mu.Lock()
	if c.phase != dragging {
		c.phase = idle
		c.orderID = ""
		c.mu.Unlock()
		return
	}
	orderID := c.orderID
	target := c.target
	c.phase = idle
	c.orderID = ""
	c.target = DropTarget{}
	hooks := c.hooks
	c.mu.Unlock()

	res := c.resolve(orderID, target)
	if res.Err != nil {
		log.WithFields(log.Fields{"order": orderID, "err": res.Err}).Warn("drop failed, client state may be stale")
	}
	if hooks.OnDragEnd != nil {
		hooks.OnDragEnd(res)
	}
}

// Cancel aborts an in-flight gesture (e.g. focus loss) with no mutation.
func (c *Controller) Cancel() {
	c.mu.Lock()
	wasDragging := c.phase == dragging
	orderID := c.orderID
	c.phase = idle
	c.orderID = ""
	c.target = DropTarget{}
	hooks := c.hooks
	c.mu.Unlock()
	if wasDragging && hooks.OnDragEnd != nil {
		hooks.OnDragEnd(Result{OrderID: orderID})
	}
}

// resolve maps the drop target to a store operation, enforcing the
// PO/SO-resource assignment policy before the store is touched.
func (c *Controller) resolve(orderID string, target DropTarget) Result {
	res := Result{OrderID: orderID, Target: target}
	o, ok := c.board.Order(orderID)
	if !ok {
		res.Err = domain.ErrUnknownOrder
		return res
	}
	switch target.Kind {
	case TargetUnscheduled:
		res.Err = c.board.MoveOrderToUnscheduled(orderID)
	case TargetCell:
		if !domain.AllowedResource(o.Type, target.Cell.Resource) {
			return res
		}
		res.Err = c.board.MoveOrderToCell(orderID, target.Cell.Resource, target.Cell.Date)
	case TargetRun:
		if !domain.AllowedResource(o.Type, target.Cell.Resource) {
			return res
		}
		var idx *int
		if target.Index >= 0 {
			i := target.Index
			idx = &i
		}
		res.Err = c.board.MoveOrderToRun(orderID, target.RunID, idx)
	default:
		return res
	}
	res.Moved = res.Err == nil
	return res
}
