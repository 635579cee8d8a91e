package data

// ReadOnly is an export-only view over size elements of a caller buffer.
type ReadOnly[T Number] struct {
	data []T
}

var _ Container[float64] = ReadOnly[float64]{}

func NewReadOnly[T Number](values []T) ReadOnly[T] {
	return ReadOnly[T]{data: values}
}

func (r ReadOnly[T]) Size() int {
	return len(r.data)
}

func (r ReadOnly[T]) At(i int) (T, error) {
	if err := checkIndex(i, len(r.data)); err != nil {
		var zero T
		return zero, err
	}
	return r.data[i], nil
}

func (r ReadOnly[T]) Set(int, T) error {
	return ErrReadOnly
}

func (r ReadOnly[T]) Resize(int) error {
	return ErrReadOnly
}

func (r ReadOnly[T]) View() []T {
	return r.data
}
