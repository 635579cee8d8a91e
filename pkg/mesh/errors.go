package mesh

import "errors"

var (
	ErrDuplicateID        = errors.New("mesh: id already exists")
	ErrDanglingReference  = errors.New("mesh: element references a node that does not exist")
	ErrKeyNotFound        = errors.New("mesh: id not found")
	ErrInvalidID          = errors.New("mesh: ids must be non-negative")
	ErrNodeCountMismatch  = errors.New("mesh: connectivity does not match the element type")
	ErrUnknownElementType = errors.New("mesh: unknown element type")
	ErrIndexOutOfRange    = errors.New("mesh: index out of range")
	ErrLengthMismatch     = errors.New("mesh: input slices have different lengths")
	ErrInvalidName        = errors.New("mesh: model part name must be non-empty and must not contain '.'")
	ErrInvalidEncoding    = errors.New("mesh: invalid wire encoding")
	ErrNotEmpty           = errors.New("mesh: model part must be empty")
	ErrInvalidPartition   = errors.New("mesh: partition index must be non-negative")
)
