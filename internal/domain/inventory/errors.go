package inventory

import "errors"

var (
	// ErrNotFound means the referenced item does not exist.
	ErrNotFound = errors.New("item not found")
	// ErrInsufficientStock means a stock-out asked for more than is on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateCode means another item already holds the business code.
	ErrDuplicateCode = errors.New("item code already in use")
	// ErrInvalidQuantity means a quantity outside the allowed range for the
	// operation, or an unknown movement type.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrRemoteWrite wraps any failed remote write, including a write that
	// was compensated afterwards.
	ErrRemoteWrite = errors.New("remote write failed")
	// ErrSyncFailed aggregates remote read failures during reconciliation.
	ErrSyncFailed = errors.New("sync failed")
)
