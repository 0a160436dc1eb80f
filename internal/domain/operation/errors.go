package operation

import "errors"

// Domain errors for Operation aggregate
var (
	ErrOperationNotFound = errors.New("operation not found")
	ErrAlreadyCompleted  = errors.New("operation already completed")
	ErrInvalidKind       = errors.New("invalid operation kind")
	ErrInvalidPlacement  = errors.New("placement ID cannot be empty")
)
