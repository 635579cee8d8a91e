package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	hub := NewHub()
	cfgA := testConfig(t, "node1", RoleAuto)
	cfgA.Hub = hub
	cfgB := cfgA
	cfgB.LogHandler = testHandler("node2")

	a, err := NewMemory(cfgA)
	require.NoError(t, err)
	b, err := NewMemory(cfgB)
	require.NoError(t, err)

	connectPair(t, a, b)
	testExchange(t, a, b)

	t.Run("payload is copied on send", func(t *testing.T) {
		payload := []byte("abc")
		require.NoError(t, a.Send(context.Background(), "copy", payload))
		payload[0] = 'z'
		got, err := b.Receive(context.Background(), "copy")
		require.NoError(t, err)
		require.Equal(t, []byte("abc"), got)
	})

	t.Run("frames sent before close are still delivered", func(t *testing.T) {
		require.NoError(t, a.Send(context.Background(), "last", []byte("bye")))
		require.NoError(t, a.Close(context.Background()))

		got, err := b.Receive(context.Background(), "last")
		require.NoError(t, err)
		require.Equal(t, []byte("bye"), got)

		_, err = b.Receive(context.Background(), "last")
		require.ErrorIs(t, err, ErrClosed)
	})
	require.NoError(t, b.Close(context.Background()))
}

func TestMemoryRoleConflict(t *testing.T) {
	hub := NewHub()
	cfg := testConfig(t, "node1", RolePrimary)
	cfg.Hub = hub

	a, err := NewMemory(cfg)
	require.NoError(t, err)
	b, err := NewMemory(cfg)
	require.NoError(t, err)

	errs := make(chan error, 2)
	go func() {
		_, err := a.Handshake(context.Background())
		errs <- err
	}()
	go func() {
		_, err := b.Handshake(context.Background())
		errs <- err
	}()
	require.ErrorIs(t, <-errs, ErrRoleConflict)
	require.ErrorIs(t, <-errs, ErrRoleConflict)
}

func TestMemoryNoPeer(t *testing.T) {
	cfg := testConfig(t, "node1", RoleAuto)
	cfg.Hub = NewHub()
	cfg.Timeout = 20 * time.Millisecond

	m, err := NewMemory(cfg)
	require.NoError(t, err)
	_, err = m.Handshake(context.Background())
	require.ErrorIs(t, err, ErrConnectionTimeout)
	require.Empty(t, cfg.Hub.rooms)
}
