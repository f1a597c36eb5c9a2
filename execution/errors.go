package execution

import "errors"

var (
	// ErrDuplicateOrder means an order for the same symbol and side is
	// still working.
	ErrDuplicateOrder = errors.New("open order exists for symbol and side")
	ErrSubmitFailed   = errors.New("submit failed after retries")
	ErrNotCancellable = errors.New("order cannot be cancelled in its current state")
	// ErrCancelFailed means the broker did not take the cancel request. The
	// order returns to its previous working state.
	ErrCancelFailed = errors.New("cancel request failed")
	ErrOrderNotFound  = errors.New("order not found")
	ErrShuttingDown   = errors.New("order manager is shutting down")
	// ErrReconciliationConflict marks broker state that disagrees with
	// local state. The broker wins; these are logged, not returned.
	ErrReconciliationConflict = errors.New("reconciliation conflict")
)
