//go:build !unix

package transport

import "fmt"

func newPipe(Config) (Transport, error) {
	return nil, fmt.Errorf("%w: %q needs named pipes", ErrUnknownFormat, FormatPipe)
}
