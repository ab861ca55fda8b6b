package domain

import "errors"

var (
	// ErrUnknownOrder indicates an operation named an order that is not in
	// the registry. Usually a sign of stale client state; callers should
	// re-hydrate.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrUnknownRun indicates an operation named a run that is not placed
	// on the board.
	ErrUnknownRun = errors.New("unknown run")
	// ErrRunExists indicates a run ID collision on creation.
	ErrRunExists = errors.New("run already exists")
	// ErrInvalidSnapshot indicates a hydrate payload that violates the
	// board invariants. Fatal to the board view.
	ErrInvalidSnapshot = errors.New("invalid board snapshot")
)
