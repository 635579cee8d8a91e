package data

import "errors"

var (
	ErrIndexOutOfRange   = errors.New("data: index out of range")
	ErrReadOnly          = errors.New("data: container is read-only")
	ErrInvalidSize       = errors.New("data: size must be non-negative")
	ErrAllocationFailure = errors.New("data: buffer allocation failed")
)
