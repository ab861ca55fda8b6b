package api

import (
	"context"

	"dispatch-board/domain"
)

// Board is the per-site board session surface handlers operate on.
type Board interface {
	Snapshot() domain.Snapshot
	Order(orderID string) (domain.Order, bool)
	UnscheduledOrders() []domain.Order
	MoveOrderToCell(orderID, resource string, date domain.Date) error
	MoveOrderToRun(orderID, runID string, index *int) error
	MoveOrderToUnscheduled(orderID string) error
	CreateRun(resource string, date domain.Date, name string) (string, error)
}

// Sessions resolves a site to its hydrated board session.
type Sessions interface {
	Board(ctx context.Context, site string) (Board, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents reprocessing of duplicate move commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, site, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, site, key string) error
}
