package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated by the QUIC transport.
const ALPN = "cosimio"

const helloIdentifier = "__hello"

// QUIC carries frames on a single bidirectional QUIC stream. The secondary
// dials and opens the stream; its first frame makes the stream visible to
// the primary.
type QUIC struct {
	*stream
	rendezvous *File
	tlsConf    *tls.Config

	udpLn *net.UDPConn
	tr    *quic.Transport
	ln    *quic.Listener
	conn  quic.Connection
	qs    quic.Stream

	lk     sync.Mutex
	closed bool
}

var _ Transport = (*QUIC)(nil)

func NewQUIC(cfg Config) (*QUIC, error) {
	if cfg.TLSConfig == nil {
		return nil, ErrNoTLSConfig
	}
	rdv, err := newFile(FormatQUIC, cfg)
	if err != nil {
		return nil, err
	}

	tlsConf := cfg.TLSConfig.Clone()
	if !slices.Contains(tlsConf.NextProtos, ALPN) {
		tlsConf.NextProtos = append(tlsConf.NextProtos, ALPN)
	}
	return &QUIC{
		stream:     newStream(rdv.base, nil),
		rendezvous: rdv,
		tlsConf:    tlsConf,
	}, nil
}

func (q *QUIC) quicConfig() *quic.Config {
	return &quic.Config{
		Versions:              []quic.Version{quic.Version2, quic.Version1},
		HandshakeIdleTimeout:  q.cfg.Timeout,
		MaxIdleTimeout:        q.cfg.Timeout,
		KeepAlivePeriod:       q.cfg.Timeout / 4,
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
	}
}

func (q *QUIC) Handshake(ctx context.Context) (role Role, err error) {
	role, err = q.rendezvous.Handshake(ctx)
	if err != nil {
		return RoleAuto, err
	}
	defer func() {
		if err != nil {
			q.teardown(&QErrInternal, "handshake failed")
		}
	}()

	host := q.cfg.Address
	if host == "" {
		host = "127.0.0.1"
	}
	udpLn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(host), Port: 0})
	if err != nil {
		return RoleAuto, fmt.Errorf("transport: failed to allocate UDP listener: %w", err)
	}
	q.udpLn = udpLn
	q.tr = &quic.Transport{Conn: udpLn}

	bounded, cancel := q.bound(ctx)
	defer cancel()

	if role == RolePrimary {
		err = q.accept(ctx, bounded)
	} else {
		err = q.dial(ctx, bounded)
	}
	if err != nil {
		return RoleAuto, err
	}

	q.stream.conn = q.qs
	q.stream.rd.Reset(q.qs)

	if role == RolePrimary {
		if _, err := q.stream.receive(ctx, helloIdentifier); err != nil {
			return RoleAuto, err
		}
	}
	q.logger.Debug("quic stream established",
		"local", q.conn.LocalAddr().String(),
		"remote", q.conn.RemoteAddr().String(),
		"stream_id", q.qs.StreamID(),
	)
	return role, nil
}

func (q *QUIC) accept(ctx, bounded context.Context) error {
	ln, err := q.tr.Listen(q.tlsConf, q.quicConfig())
	if err != nil {
		return fmt.Errorf("transport: failed to allocate QUIC listener: %w", err)
	}
	q.ln = ln

	if err := q.rendezvous.Send(ctx, connectionInfoIdentifier, []byte(q.udpLn.LocalAddr().String())); err != nil {
		return err
	}

	conn, err := ln.Accept(bounded)
	if err != nil {
		return waitError(bounded, "no QUIC connection accepted")
	}
	q.conn = conn

	qs, err := conn.AcceptStream(bounded)
	if err != nil {
		return waitError(bounded, "no QUIC stream accepted")
	}
	q.qs = qs
	return nil
}

func (q *QUIC) dial(ctx, bounded context.Context) error {
	raw, err := q.rendezvous.Receive(ctx, connectionInfoIdentifier)
	if err != nil {
		return err
	}
	addr, err := net.ResolveUDPAddr("udp", string(raw))
	if err != nil {
		return fmt.Errorf("%w: bad peer address %q: %w", ErrProtocolViolation, raw, err)
	}

	tlsConf := q.tlsConf.Clone()
	if tlsConf.ServerName == "" {
		tlsConf.ServerName = addr.IP.String()
	}
	conn, err := q.tr.Dial(bounded, addr, tlsConf, q.quicConfig())
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	q.conn = conn

	qs, err := conn.OpenStreamSync(bounded)
	if err != nil {
		return fmt.Errorf("transport: open stream: %w", err)
	}
	q.qs = qs
	q.stream.conn = qs
	return q.stream.send(ctx, helloIdentifier, nil)
}

func (q *QUIC) ready() error {
	q.lk.Lock()
	defer q.lk.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.qs == nil {
		return fmt.Errorf("%w: handshake not done", ErrClosed)
	}
	return nil
}

func (q *QUIC) Send(ctx context.Context, identifier string, payload []byte) error {
	if err := q.ready(); err != nil {
		return err
	}
	return q.stream.send(ctx, identifier, payload)
}

func (q *QUIC) Receive(ctx context.Context, identifier string) ([]byte, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	payload, err := q.stream.receive(ctx, identifier)
	if errors.Is(err, ErrProtocolViolation) {
		q.qs.CancelRead(QErrProtocolViolation)
	}
	return payload, err
}

func (q *QUIC) teardown(qerr *QuicApplicationError, reason string) {
	if q.qs != nil {
		q.qs.Close()
	}
	if q.conn != nil {
		qerr.Close(q.conn, reason)
	}
	if q.ln != nil {
		q.ln.Close()
	}
	if q.tr != nil {
		q.tr.Close()
	}
	if q.udpLn != nil {
		q.udpLn.Close()
	}
}

func (q *QUIC) Close(ctx context.Context) error {
	q.lk.Lock()
	if q.closed {
		q.lk.Unlock()
		return nil
	}
	q.closed = true
	q.lk.Unlock()

	if q.qs != nil {
		// give the peer a chance to read what is still in flight
		q.qs.Close()
		select {
		case <-q.qs.Context().Done():
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
	}
	q.teardown(&QErrShutdown, "disconnected")
	return q.rendezvous.Close(ctx)
}
