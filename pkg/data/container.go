// Package data provides a uniform view over contiguous numeric buffers, so
// that the exchange layer never depends on who owns the memory.
//
// Three shapes are available:
//
//   - [External] wraps a caller-owned buffer reachable through a pointer. When
//     an import needs more room it reallocates through an [Allocator] and
//     writes the new slice back through that pointer. The caller stays the
//     owner and must release the final buffer with the same Allocator.
//   - [ReadOnly] is an export-only view.
//   - [Buffer] owns its storage and hands it back with [Buffer.Release].
//
// Running out of memory while resizing is unrecoverable: the container panics
// with an error wrapping [ErrAllocationFailure] rather than leaving a
// partially sized buffer behind.
package data

import "fmt"

// Number lists the element types a container can hold.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// Container is a view over Size() valid elements.
type Container[T Number] interface {
	Size() int
	At(i int) (T, error)
	Set(i int, v T) error
	// Resize changes the number of valid elements, keeping the first
	// min(old, new) values.
	Resize(n int) error
	// View returns the valid elements. The slice aliases the container and
	// must not be retained across a Resize.
	View() []T
}

func checkIndex(i, size int) error {
	if i < 0 || i >= size {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, size)
	}
	return nil
}

func allocationFailed(n int, err error) {
	panic(fmt.Errorf("%w: %d elements: %w", ErrAllocationFailure, n, err))
}

// Assign resizes dst to len(values) and copies values into it.
func Assign[T Number](dst Container[T], values []T) error {
	if err := dst.Resize(len(values)); err != nil {
		return err
	}
	copy(dst.View(), values)
	return nil
}
