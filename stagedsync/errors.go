package stagedsync

import "fmt"

// RecoverableError wraps a transient failure (network timeout, bad
// response). The pipeline logs it at warn level, pauses briefly, and
// retries the same stage without unwinding.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string { return fmt.Sprintf("recoverable: %v", e.Err) }
func (e *RecoverableError) Unwrap() error { return e.Err }

// ValidationError attributes a data inconsistency to a specific block. The
// pipeline responds by unwinding every stage to Block-1 and retrying from
// the top.
type ValidationError struct {
	Block uint64
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error at block %d: %v", e.Block, e.Err)
}
func (e *ValidationError) Unwrap() error { return e.Err }

// StageProgressError means the stage refuses to advance because the
// database state for block N contradicts the stage's own expectations. It
// is not recoverable without operator intervention.
type StageProgressError struct {
	Block uint64
}

func (e *StageProgressError) Error() string {
	return fmt.Sprintf("stage progress %d contradicts available data", e.Block)
}

// DatabaseIntegrityError reports a violated data-model invariant (section 3
// of the table layout). It is always fatal: no automatic recovery is
// attempted because the data cannot be trusted.
type DatabaseIntegrityError struct {
	Reason string
}

func (e *DatabaseIntegrityError) Error() string { return fmt.Sprintf("database integrity: %s", e.Reason) }

// FatalError is a bug-class error. The pipeline halts and the process
// terminates non-zero.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }
