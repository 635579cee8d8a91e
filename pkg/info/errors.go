package info

import "errors"

var (
	ErrKeyNotFound     = errors.New("info: key not found")
	ErrTypeMismatch    = errors.New("info: stored value has another type")
	ErrInvalidEncoding = errors.New("info: invalid wire encoding")
	ErrUnsupportedType = errors.New("info: unsupported value type")
	ErrOutOfRange      = errors.New("info: integer outside the 32-bit range")
)
