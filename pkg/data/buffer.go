package data

// Buffer owns a growable slice. The zero value is an empty buffer.
type Buffer[T Number] struct {
	data  []T
	alloc Allocator[T]
}

var _ Container[float64] = (*Buffer[float64])(nil)

// NewBuffer returns a buffer holding a copy of values.
func NewBuffer[T Number](values ...T) *Buffer[T] {
	b := &Buffer[T]{}
	b.data = append(b.data, values...)
	return b
}

// NewBufferWith returns an empty buffer allocating through alloc.
func NewBufferWith[T Number](alloc Allocator[T]) *Buffer[T] {
	return &Buffer[T]{alloc: alloc}
}

func (b *Buffer[T]) Size() int {
	return len(b.data)
}

func (b *Buffer[T]) At(i int) (T, error) {
	if err := checkIndex(i, len(b.data)); err != nil {
		var zero T
		return zero, err
	}
	return b.data[i], nil
}

func (b *Buffer[T]) Set(i int, v T) error {
	if err := checkIndex(i, len(b.data)); err != nil {
		return err
	}
	b.data[i] = v
	return nil
}

func (b *Buffer[T]) Resize(n int) error {
	if n < 0 {
		return ErrInvalidSize
	}
	if n <= cap(b.data) {
		old := len(b.data)
		b.data = b.data[:n]
		if n > old {
			clear(b.data[old:])
		}
		return nil
	}

	alloc := b.alloc
	if alloc == nil {
		alloc = HeapAllocator[T]{}
	}
	grown, err := alloc.Allocate(n)
	if err != nil || len(grown) < n {
		allocationFailed(n, err)
	}
	copy(grown, b.data)
	if b.data != nil {
		alloc.Release(b.data)
	}
	b.data = grown[:n]
	return nil
}

func (b *Buffer[T]) View() []T {
	return b.data
}

// Release hands the storage over to the caller and leaves the buffer
// empty.
func (b *Buffer[T]) Release() []T {
	out := b.data
	b.data = nil
	return out
}
