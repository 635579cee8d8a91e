//go:build unix

package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	cfgA := testConfig(t, "node1", RoleAuto)
	cfgB := cfgA
	cfgB.LogHandler = testHandler("node2")

	a, err := NewPipe(cfgA)
	require.NoError(t, err)
	b, err := New(FormatPipe, cfgB)
	require.NoError(t, err)
	require.IsType(t, &Pipe{}, b)

	connectPair(t, a, b)

	for _, name := range []string{toPrimaryPipe, toSecondaryPipe} {
		st, err := os.Stat(filepath.Join(a.rendezvous.Dir(), name))
		require.NoError(t, err)
		require.Equal(t, os.ModeNamedPipe, st.Mode().Type())
	}

	testExchange(t, a, b)
	closePair(t, a, b)

	_, err = os.Stat(a.rendezvous.Dir())
	require.ErrorIs(t, err, os.ErrNotExist)
	require.ErrorIs(t, a.Send(t.Context(), "x", nil), ErrClosed)
}

func TestPipeBeforeHandshake(t *testing.T) {
	p, err := NewPipe(testConfig(t, "node1", RoleAuto))
	require.NoError(t, err)
	require.ErrorIs(t, p.Send(t.Context(), "x", nil), ErrClosed)
	_, err = p.Receive(t.Context(), "x")
	require.ErrorIs(t, err, ErrClosed)
}
