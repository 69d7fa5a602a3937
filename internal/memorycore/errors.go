package memorycore

import "errors"

// Sentinel errors for the memory engine's error taxonomy. Callers
// discriminate with errors.Is; wrapped context is added with fmt.Errorf's
// %w verb at the call site.
var (
	// ErrNotFound indicates a lookup by id missed. Callers decide the fallback.
	ErrNotFound = errors.New("memorycore: not found")

	// ErrPreconditionFailed indicates a precondition violation: closing
	// without a summary, claiming a closed or blocked task, invalid scope
	// arguments, or a dependency cycle.
	ErrPreconditionFailed = errors.New("memorycore: precondition failed")

	// ErrConflict indicates a lease held by another owner, or a conditional
	// update whose precondition no longer holds.
	ErrConflict = errors.New("memorycore: conflict")

	// ErrTimeout indicates an observer or reflector call exceeded its deadline.
	ErrTimeout = errors.New("memorycore: timeout")

	// ErrStorage indicates a transient backing-store failure.
	ErrStorage = errors.New("memorycore: storage")
)
