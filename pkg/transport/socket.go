package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const connectionInfoIdentifier = "connection_info"

// Socket carries frames over TCP or a unix socket. Roles and the listen
// address are exchanged through a [File] rendezvous first.
type Socket struct {
	*stream
	network    string
	rendezvous *File

	lk     sync.Mutex
	closed bool
}

var _ Transport = (*Socket)(nil)

// NewSocket accepts "tcp" or "unix" as network.
func NewSocket(network string, cfg Config) (*Socket, error) {
	format := FormatSocket
	switch network {
	case "tcp":
	case "unix":
		format = FormatLocalSocket
	default:
		return nil, fmt.Errorf("%w: network %q", ErrInvalidCfg, network)
	}
	rdv, err := newFile(format, cfg)
	if err != nil {
		return nil, err
	}
	return &Socket{
		stream:     newStream(rdv.base, nil),
		network:    network,
		rendezvous: rdv,
	}, nil
}

func (s *Socket) listenAddress() string {
	if s.network == "unix" {
		return filepath.Join(s.rendezvous.Dir(), "socket")
	}
	host := s.cfg.Address
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, "0")
}

func (s *Socket) Handshake(ctx context.Context) (Role, error) {
	role, err := s.rendezvous.Handshake(ctx)
	if err != nil {
		return RoleAuto, err
	}

	var conn net.Conn
	if role == RolePrimary {
		conn, err = s.accept(ctx)
	} else {
		conn, err = s.dial(ctx)
	}
	if err != nil {
		return RoleAuto, err
	}

	s.stream.conn = conn
	s.stream.rd.Reset(conn)
	s.logger.Debug("socket established",
		"local", conn.LocalAddr().String(),
		"remote", conn.RemoteAddr().String(),
	)
	return role, nil
}

func (s *Socket) accept(ctx context.Context) (net.Conn, error) {
	addr := s.listenAddress()
	if s.network == "unix" {
		os.Remove(addr)
	}
	ln, err := net.Listen(s.network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	defer ln.Close()

	if err := s.rendezvous.Send(ctx, connectionInfoIdentifier, []byte(ln.Addr().String())); err != nil {
		return nil, err
	}

	if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		dl.SetDeadline(s.deadline(ctx))
	}
	conn, err := ln.Accept()
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: nobody dialed %s", ErrConnectionTimeout, addr)
		}
		return nil, fmt.Errorf("transport: accept on %s: %w", addr, err)
	}
	return conn, nil
}

func (s *Socket) dial(ctx context.Context) (net.Conn, error) {
	addr, err := s.rendezvous.Receive(ctx, connectionInfoIdentifier)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, s.network, string(addr))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return conn, nil
}

func (s *Socket) ready() error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.stream.conn == nil {
		return fmt.Errorf("%w: handshake not done", ErrClosed)
	}
	return nil
}

func (s *Socket) Send(ctx context.Context, identifier string, payload []byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.stream.send(ctx, identifier, payload)
}

func (s *Socket) Receive(ctx context.Context, identifier string) ([]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.stream.receive(ctx, identifier)
}

func (s *Socket) Close(ctx context.Context) error {
	s.lk.Lock()
	if s.closed {
		s.lk.Unlock()
		return nil
	}
	s.closed = true
	s.lk.Unlock()

	var err error
	if s.stream.conn != nil {
		err = s.stream.conn.Close()
	}
	if rerr := s.rendezvous.Close(ctx); err == nil {
		err = rerr
	}
	return err
}
