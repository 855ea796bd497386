package utils

import "fmt"

// AppError carries the failing operation alongside a human-facing message,
// so repair and rollback failures stay attributable when they surface in
// incident details and logs.
type AppError struct {
	// Op names the failing operation, dotted by component ("rollback.restore").
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError around an optional cause.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
