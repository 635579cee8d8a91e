// Package transport moves identifier-tagged frames between the two peers of
// a coupling. Every implementation satisfies [Transport]:
//
//   - [File] rendezvous through a shared directory: frames are published by
//     atomic rename and consumed by read-then-delete.
//   - [Socket] speaks TCP or unix sockets, [QUIC] a single QUIC stream. Both
//     use a [File] rendezvous to elect roles and publish the listen address.
//   - [Pipe] writes the same frames to two named pipes, unix systems only.
//   - [Memory] pairs two connections of the same process through a [Hub].
//
// Frames for one identifier arrive in the order they were sent. Every wait is
// bounded by Config.Timeout, after which the call fails with
// [ErrConnectionTimeout] or, if frames for other identifiers are pending,
// [ErrIdentifierMismatch].
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/cosimio/internal/telemetry"
)

// Transport is the byte-level exchange of one connection.
type Transport interface {
	// Handshake blocks until the peer is reachable and returns the role
	// this side plays.
	Handshake(ctx context.Context) (Role, error)
	Send(ctx context.Context, identifier string, payload []byte) error
	Receive(ctx context.Context, identifier string) ([]byte, error)
	// Close releases the resources. It must only be called once both
	// peers agreed to disconnect.
	Close(ctx context.Context) error
}

// Role of a peer in a connection. The primary owns shared resources such as
// the rendezvous directory and the listening socket.
type Role uint8

const (
	RoleAuto Role = iota
	RolePrimary
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "auto"
	}
}

func (r Role) opposite() Role {
	switch r {
	case RolePrimary:
		return RoleSecondary
	case RoleSecondary:
		return RolePrimary
	default:
		return RoleAuto
	}
}

// elect resolves the roles of both peers. Tokens break the tie when neither
// side asked for a role.
func elect(mine, peer Role, myToken, peerToken string) (Role, error) {
	switch {
	case mine != RoleAuto && peer != RoleAuto:
		if mine == peer {
			return RoleAuto, fmt.Errorf("%w: %s", ErrRoleConflict, mine)
		}
		return mine, nil
	case mine != RoleAuto:
		return mine, nil
	case peer != RoleAuto:
		return peer.opposite(), nil
	case myToken < peerToken:
		return RolePrimary, nil
	default:
		return RoleSecondary, nil
	}
}

const (
	FormatFile        = "file"
	FormatSocket      = "socket"
	FormatLocalSocket = "local_socket"
	FormatQUIC        = "quic"
	FormatMemory      = "memory"
	FormatPipe        = "pipe"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultPollInterval = 5 * time.Millisecond
)

// Config is shared by every transport.
type Config struct {
	// ConnectionName is the name both peers agreed on.
	ConnectionName string

	// Role requested by this side, RoleAuto lets the handshake decide.
	Role Role

	// WorkingDirectory hosts the rendezvous directory.
	WorkingDirectory string

	// Timeout bounds every blocking wait.
	Timeout time.Duration

	// PollInterval of the file transport.
	PollInterval time.Duration

	// Address the socket transports listen on. Defaults to 127.0.0.1.
	Address string

	// TLSConfig is required by the QUIC transport.
	TLSConfig *tls.Config

	// Hub pairs memory transports.
	Hub *Hub

	// MetricsLabels to add to every metrics emitted by the transport.
	MetricLabels []metrics.Label

	// MetricSink to use for emitting metrics.
	MetricSink metrics.MetricSink

	// LogHandler to use for emitting structured logs.
	LogHandler slog.Handler
}

// New builds the transport registered under format.
func New(format string, cfg Config) (Transport, error) {
	switch format {
	case FormatFile, "":
		return NewFile(cfg)
	case FormatSocket:
		return NewSocket("tcp", cfg)
	case FormatLocalSocket:
		return NewSocket("unix", cfg)
	case FormatQUIC:
		return NewQUIC(cfg)
	case FormatMemory:
		return NewMemory(cfg)
	case FormatPipe:
		return newPipe(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

type base struct {
	cfg    Config
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label
}

func newBase(format string, cfg Config) (base, error) {
	if cfg.ConnectionName == "" {
		return base{}, fmt.Errorf("%w: empty connection name", ErrInvalidCfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	b := base{cfg: cfg}
	if cfg.LogHandler == nil {
		b.logger = slog.Default()
	} else {
		b.logger = slog.New(cfg.LogHandler)
	}
	b.logger = b.logger.With(
		telemetry.LabelConnection.L(cfg.ConnectionName),
		telemetry.LabelFormat.L(format),
	)

	if cfg.MetricSink == nil {
		b.msink = metrics.Default()
	} else {
		b.msink = cfg.MetricSink
	}
	b.labels = telemetry.With(cfg.MetricLabels,
		telemetry.LabelConnection.M(cfg.ConnectionName),
		telemetry.LabelFormat.M(format),
	)
	return b, nil
}

// bound derives the context of one blocking wait.
func (b *base) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.cfg.Timeout)
}

// waitError converts the end of a bounded wait into a transport error.
func waitError(ctx context.Context, what string) error {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s", ErrConnectionTimeout, what)
}

func (b *base) sent(identifier string, n int, err error) {
	labels := telemetry.With(b.labels, telemetry.LabelIdentifier.M(identifier))
	if err != nil {
		b.msink.IncrCounterWithLabels(MetricFrameOutErrorCount, 1.0, labels)
		return
	}
	b.msink.IncrCounterWithLabels(MetricFrameOutBytes, float32(n), labels)
	b.logger.Debug("frame sent", telemetry.LabelIdentifier.L(identifier), "bytes", n)
}

func (b *base) received(identifier string, n int, err error) {
	labels := telemetry.With(b.labels, telemetry.LabelIdentifier.M(identifier))
	if err != nil {
		b.msink.IncrCounterWithLabels(MetricFrameInErrorCount, 1.0, labels)
		return
	}
	b.msink.IncrCounterWithLabels(MetricFrameInBytes, float32(n), labels)
	b.logger.Debug("frame received", telemetry.LabelIdentifier.L(identifier), "bytes", n)
}

func (b *base) handshook(role Role, err error) {
	if err != nil {
		b.msink.IncrCounterWithLabels(MetricHandshakeErrorCount, 1.0, b.labels)
		b.logger.Warn("handshake failed", telemetry.LabelError.L(err))
		return
	}
	b.msink.IncrCounterWithLabels(MetricHandshakeCount, 1.0,
		telemetry.With(b.labels, telemetry.LabelRole.M(role.String())))
	b.logger.Debug("handshake done", telemetry.LabelRole.L(role))
}

// poll calls cond every interval until it reports done, fails, or ctx ends.
func poll(ctx context.Context, interval time.Duration, cond func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
