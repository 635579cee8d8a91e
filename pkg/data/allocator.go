package data

import "fmt"

// Allocator is the allocation contract shared by both sides of the API
// boundary. A buffer obtained from Allocate must only be given back through
// Release of the same Allocator.
type Allocator[T Number] interface {
	Allocate(n int) ([]T, error)
	Release(buf []T)
}

// HeapAllocator allocates on the Go heap. MaxElements, when positive,
// bounds a single allocation.
type HeapAllocator[T Number] struct {
	MaxElements int
}

var _ Allocator[float64] = HeapAllocator[float64]{}

func (h HeapAllocator[T]) Allocate(n int) ([]T, error) {
	if n < 0 {
		return nil, ErrInvalidSize
	}
	if h.MaxElements > 0 && n > h.MaxElements {
		return nil, fmt.Errorf("requested %d elements, limit is %d", n, h.MaxElements)
	}
	return make([]T, n), nil
}

// Release is a no-op, the garbage collector reclaims heap buffers.
func (h HeapAllocator[T]) Release([]T) {}
