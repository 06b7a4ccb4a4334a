package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrCorruptState  = errors.New("corrupt state")
	ErrMergeRejected = errors.New("merge rejected")
	ErrInvalidConfig = errors.New("invalid configuration")
)
