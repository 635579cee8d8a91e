package data

// External is a writable view over a caller-owned buffer. The length of
// *buf is the capacity the caller provided; Size tracks the valid prefix.
type External[T Number] struct {
	buf   *[]T
	size  int
	alloc Allocator[T]
}

var _ Container[float64] = (*External[float64])(nil)

// NewExternal wraps *buf holding size valid elements. A nil alloc defaults
// to [HeapAllocator].
func NewExternal[T Number](buf *[]T, size int, alloc Allocator[T]) (*External[T], error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}
	if buf == nil {
		buf = new([]T)
	}
	if size > len(*buf) {
		return nil, checkIndex(size-1, len(*buf))
	}
	if alloc == nil {
		alloc = HeapAllocator[T]{}
	}
	return &External[T]{buf: buf, size: size, alloc: alloc}, nil
}

func (e *External[T]) Size() int {
	return e.size
}

func (e *External[T]) At(i int) (T, error) {
	if err := checkIndex(i, e.size); err != nil {
		var zero T
		return zero, err
	}
	return (*e.buf)[i], nil
}

func (e *External[T]) Set(i int, v T) error {
	if err := checkIndex(i, e.size); err != nil {
		return err
	}
	(*e.buf)[i] = v
	return nil
}

// Resize grows the caller buffer through the allocator when n exceeds its
// capacity. The new slice is written back through the caller pointer and
// the old one is released.
func (e *External[T]) Resize(n int) error {
	if n < 0 {
		return ErrInvalidSize
	}
	if n <= len(*e.buf) {
		e.size = n
		return nil
	}

	grown, err := e.alloc.Allocate(n)
	if err != nil || len(grown) < n {
		allocationFailed(n, err)
	}
	copy(grown, (*e.buf)[:e.size])
	old := *e.buf
	*e.buf = grown
	e.size = n
	if old != nil {
		e.alloc.Release(old)
	}
	return nil
}

func (e *External[T]) View() []T {
	return (*e.buf)[:e.size]
}
