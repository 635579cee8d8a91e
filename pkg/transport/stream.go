package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	maxIdentifierBytes = 1024
	maxPayloadBytes    = 1 << 36
	streamBufferSize   = 1 << 16
)

// deadlineConn is what both net.Conn and quic.Stream offer.
type deadlineConn interface {
	io.ReadWriteCloser
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// demux queues frames that arrived for identifiers nobody asked for yet.
type demux struct {
	pending map[string][][]byte
	order   []string
}

func (d *demux) push(identifier string, payload []byte) {
	if d.pending == nil {
		d.pending = make(map[string][][]byte)
	}
	if _, known := d.pending[identifier]; !known {
		d.order = append(d.order, identifier)
	}
	d.pending[identifier] = append(d.pending[identifier], payload)
}

func (d *demux) pop(identifier string) ([]byte, bool) {
	queue := d.pending[identifier]
	if len(queue) == 0 {
		return nil, false
	}
	payload := queue[0]
	if len(queue) == 1 {
		delete(d.pending, identifier)
		d.order = slices.DeleteFunc(d.order, func(id string) bool { return id == identifier })
	} else {
		d.pending[identifier] = queue[1:]
	}
	return payload, true
}

func (d *demux) identifiers() []string {
	return slices.Clone(d.order)
}

// stream frames identifier-tagged payloads over a reliable byte stream:
//
//	varint(len(identifier)) identifier varint(len(payload)) payload
//
// A frame header is only consumed once complete, so a read timeout never
// leaves the stream in the middle of a frame.
type stream struct {
	base
	conn deadlineConn
	rd   *bufio.Reader

	wlk sync.Mutex

	rlk    sync.Mutex
	queue  demux
	broken error
}

func newStream(b base, conn deadlineConn) *stream {
	return &stream{
		base: b,
		conn: conn,
		rd:   bufio.NewReaderSize(conn, streamBufferSize),
	}
}

func (s *stream) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(s.cfg.Timeout)
	if ctxDl, ok := ctx.Deadline(); ok && ctxDl.Before(dl) {
		return ctxDl
	}
	return dl
}

func appendFrame(b []byte, identifier string, payload []byte) []byte {
	b = protowire.AppendString(b, identifier)
	return protowire.AppendBytes(b, payload)
}

func (s *stream) send(ctx context.Context, identifier string, payload []byte) (err error) {
	defer func() { s.sent(identifier, len(payload), err) }()
	if err := ctx.Err(); err != nil {
		return err
	}

	frame := appendFrame(nil, identifier, payload)

	s.wlk.Lock()
	defer s.wlk.Unlock()
	if err := s.conn.SetWriteDeadline(s.deadline(ctx)); err != nil {
		return err
	}
	if _, err := s.conn.Write(frame); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: writing frame %s", ErrConnectionTimeout, identifier)
		}
		return fmt.Errorf("transport: write frame %s: %w", identifier, err)
	}
	return nil
}

func (s *stream) receive(ctx context.Context, identifier string) (payload []byte, err error) {
	defer func() { s.received(identifier, len(payload), err) }()

	s.rlk.Lock()
	defer s.rlk.Unlock()

	if queued, ok := s.queue.pop(identifier); ok {
		return queued, nil
	}
	if s.broken != nil {
		return nil, s.broken
	}

	dl := s.deadline(ctx)
	for {
		if err := s.conn.SetReadDeadline(dl); err != nil {
			return nil, err
		}
		got, payload, err := s.readFrame()
		if err != nil {
			if isTimeout(err) {
				if others := s.queue.identifiers(); len(others) > 0 {
					return nil, fmt.Errorf("%w: waiting for %q, pending %q", ErrIdentifierMismatch, identifier, others)
				}
				return nil, fmt.Errorf("%w: frame %s", ErrConnectionTimeout, identifier)
			}
			s.broken = err
			return nil, err
		}
		if got == identifier {
			return payload, nil
		}
		s.queue.push(got, payload)
	}
}

// readFrame peeks until the header is complete, then reads the payload with
// a fresh deadline. A failure after the header was consumed breaks the
// stream.
func (s *stream) readFrame() (string, []byte, error) {
	need := 1
	var (
		identifier string
		size       uint64
		headerLen  int
	)
	for {
		buf, err := s.rd.Peek(need)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", nil, fmt.Errorf("%w: %w", ErrClosed, err)
			}
			return "", nil, err
		}

		idLen, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			if errors.Is(protowire.ParseError(n), io.ErrUnexpectedEOF) && need < binaryMaxVarint {
				need++
				continue
			}
			return "", nil, fmt.Errorf("%w: bad identifier length", ErrProtocolViolation)
		}
		if idLen > maxIdentifierBytes {
			return "", nil, fmt.Errorf("%w: identifier of %d bytes", ErrProtocolViolation, idLen)
		}
		idEnd := n + int(idLen)
		if len(buf) <= idEnd {
			need = idEnd + 1
			continue
		}

		var m int
		size, m = protowire.ConsumeVarint(buf[idEnd:])
		if m < 0 {
			if errors.Is(protowire.ParseError(m), io.ErrUnexpectedEOF) && len(buf)-idEnd < binaryMaxVarint {
				need++
				continue
			}
			return "", nil, fmt.Errorf("%w: bad payload length", ErrProtocolViolation)
		}
		if size > maxPayloadBytes {
			return "", nil, fmt.Errorf("%w: payload of %d bytes", ErrProtocolViolation, size)
		}
		identifier = string(buf[n:idEnd])
		headerLen = idEnd + m
		break
	}

	if _, err := s.rd.Discard(headerLen); err != nil {
		return "", nil, err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return "", nil, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(s.rd, payload); err != nil {
		return "", nil, fmt.Errorf("%w: payload of %s cut short: %v", ErrProtocolViolation, identifier, err)
	}
	return identifier, payload, nil
}

const binaryMaxVarint = 10

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
