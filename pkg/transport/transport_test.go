package transport

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testHandler(emitter string) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(emitter)},
	})
}

func testConfig(t *testing.T, emitter string, role Role) Config {
	t.Helper()
	return Config{
		ConnectionName:   "alpha_beta",
		Role:             role,
		WorkingDirectory: t.TempDir(),
		Timeout:          5 * time.Second,
		PollInterval:     time.Millisecond,
		LogHandler:       testHandler(emitter),
	}
}

// connectPair runs both handshakes concurrently.
func connectPair(t *testing.T, a, b Transport) (Role, Role) {
	t.Helper()
	var (
		wg           sync.WaitGroup
		roleA, roleB Role
		errA, errB   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		roleA, errA = a.Handshake(context.Background())
	}()
	go func() {
		defer wg.Done()
		roleB, errB = b.Handshake(context.Background())
	}()
	wg.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)
	require.Equal(t, roleA.opposite(), roleB)
	return roleA, roleB
}

func closePair(t *testing.T, a, b Transport) {
	t.Helper()
	var (
		wg         sync.WaitGroup
		errA, errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = a.Close(context.Background())
	}()
	go func() {
		defer wg.Done()
		errB = b.Close(context.Background())
	}()
	wg.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)
}

// testExchange checks the behaviour every transport shares.
func testExchange(t *testing.T, a, b Transport) {
	ctx := context.Background()

	t.Run("frames of one identifier keep their order", func(t *testing.T) {
		require.NoError(t, a.Send(ctx, "x", []byte("1")))
		require.NoError(t, a.Send(ctx, "x", []byte("2")))
		require.NoError(t, a.Send(ctx, "y", []byte("3")))

		got, err := b.Receive(ctx, "y")
		require.NoError(t, err)
		require.Equal(t, []byte("3"), got)

		got, err = b.Receive(ctx, "x")
		require.NoError(t, err)
		require.Equal(t, []byte("1"), got)

		got, err = b.Receive(ctx, "x")
		require.NoError(t, err)
		require.Equal(t, []byte("2"), got)
	})

	t.Run("both directions", func(t *testing.T) {
		payload := make([]byte, 1<<17)
		for i := range payload {
			payload[i] = byte(i)
		}
		// larger than a pipe buffer, so the send may only complete while
		// the peer reads
		sent := make(chan error, 1)
		go func() { sent <- b.Send(ctx, "big", payload) }()
		got, err := a.Receive(ctx, "big")
		require.NoError(t, err)
		require.NoError(t, <-sent)
		require.Equal(t, payload, got)
	})

	t.Run("empty payload", func(t *testing.T) {
		require.NoError(t, a.Send(ctx, "empty", nil))
		got, err := b.Receive(ctx, "empty")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("timeout without pending frames", func(t *testing.T) {
		short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err := b.Receive(short, "nothing")
		require.ErrorIs(t, err, ErrConnectionTimeout)
	})

	t.Run("timeout with frames for another identifier", func(t *testing.T) {
		require.NoError(t, a.Send(ctx, "other", []byte("late")))

		short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		_, err := b.Receive(short, "wanted")
		require.ErrorIs(t, err, ErrIdentifierMismatch)

		got, err := b.Receive(ctx, "other")
		require.NoError(t, err)
		require.Equal(t, []byte("late"), got)
	})
}

func TestElect(t *testing.T) {
	tests := []struct {
		name      string
		mine      Role
		peer      Role
		myToken   string
		peerToken string
		want      Role
		conflict  bool
	}{
		{name: "explicit pair", mine: RoleSecondary, peer: RolePrimary, want: RoleSecondary},
		{name: "explicit conflict", mine: RolePrimary, peer: RolePrimary, conflict: true},
		{name: "only mine", mine: RolePrimary, peer: RoleAuto, want: RolePrimary},
		{name: "only peer", mine: RoleAuto, peer: RolePrimary, want: RoleSecondary},
		{name: "tie lower token", myToken: "a", peerToken: "b", want: RolePrimary},
		{name: "tie higher token", myToken: "b", peerToken: "a", want: RoleSecondary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := elect(tt.mine, tt.peer, tt.myToken, tt.peerToken)
			if tt.conflict {
				require.ErrorIs(t, err, ErrRoleConflict)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	cfg := testConfig(t, "node1", RoleAuto)

	_, err := New("carrier_pigeon", cfg)
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = New(FormatQUIC, cfg)
	require.ErrorIs(t, err, ErrNoTLSConfig)

	_, err = New(FormatMemory, cfg)
	require.ErrorIs(t, err, ErrNoHub)

	tr, err := New(FormatFile, cfg)
	require.NoError(t, err)
	require.IsType(t, &File{}, tr)

	cfg.ConnectionName = ""
	_, err = New(FormatFile, cfg)
	require.ErrorIs(t, err, ErrInvalidCfg)
}
