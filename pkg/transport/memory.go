package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryQueueSize = 1024

type memoryFrame struct {
	identifier string
	payload    []byte
}

// pipe is one direction of a memory connection.
type pipe struct {
	data    chan memoryFrame
	lk      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

func newMemoryPipe() *pipe {
	return &pipe{
		data:    make(chan memoryFrame, memoryQueueSize),
		closeCh: make(chan struct{}),
	}
}

func (p *pipe) close() {
	p.lk.Lock()
	defer p.lk.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.closeCh)
}

type meeting struct {
	token   string
	role    Role
	elected Role
	err     error
	out     *pipe
	in      *pipe
	joined  chan struct{}
}

// Hub pairs memory transports sharing a connection name. Both peers must use
// the same Hub.
type Hub struct {
	lk    sync.Mutex
	rooms map[string]*meeting
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*meeting)}
}

// join blocks until the peer arrives and returns the pipes as seen from the
// caller.
func (h *Hub) join(ctx context.Context, name string, role Role) (out, in *pipe, elected Role, err error) {
	token := uuid.NewString()

	h.lk.Lock()
	m, waiting := h.rooms[name]
	if !waiting {
		m = &meeting{
			token:  token,
			role:   role,
			out:    newMemoryPipe(),
			in:     newMemoryPipe(),
			joined: make(chan struct{}),
		}
		h.rooms[name] = m
		h.lk.Unlock()

		select {
		case <-m.joined:
			return m.out, m.in, m.elected, m.err
		case <-ctx.Done():
			h.lk.Lock()
			if h.rooms[name] == m {
				delete(h.rooms, name)
				h.lk.Unlock()
				return nil, nil, RoleAuto, waitError(ctx, "no peer joined "+name)
			}
			h.lk.Unlock()
			<-m.joined
			return m.out, m.in, m.elected, m.err
		}
	}
	delete(h.rooms, name)
	h.lk.Unlock()

	elected, err = elect(role, m.role, token, m.token)
	if err == nil {
		m.elected = elected.opposite()
	}
	m.err = err
	close(m.joined)
	return m.in, m.out, elected, err
}

// Memory connects two peers of the same process through buffered channels.
type Memory struct {
	base
	out *pipe
	in  *pipe

	rlk   sync.Mutex
	queue demux

	lk     sync.Mutex
	role   Role
	closed bool
}

var _ Transport = (*Memory)(nil)

func NewMemory(cfg Config) (*Memory, error) {
	if cfg.Hub == nil {
		return nil, ErrNoHub
	}
	b, err := newBase(FormatMemory, cfg)
	if err != nil {
		return nil, err
	}
	return &Memory{base: b}, nil
}

func (m *Memory) Handshake(ctx context.Context) (role Role, err error) {
	defer func() { m.handshook(role, err) }()

	ctx, cancel := m.bound(ctx)
	defer cancel()
	out, in, role, err := m.cfg.Hub.join(ctx, m.cfg.ConnectionName, m.cfg.Role)
	if err != nil {
		return RoleAuto, err
	}

	m.lk.Lock()
	m.out, m.in, m.role = out, in, role
	m.lk.Unlock()
	return role, nil
}

func (m *Memory) ready() error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.role == RoleAuto {
		return fmt.Errorf("%w: handshake not done", ErrClosed)
	}
	return nil
}

func (m *Memory) Send(ctx context.Context, identifier string, payload []byte) (err error) {
	defer func() { m.sent(identifier, len(payload), err) }()
	if err := m.ready(); err != nil {
		return err
	}

	m.out.lk.Lock()
	if m.out.closed {
		m.out.lk.Unlock()
		return ErrClosed
	}
	m.out.lk.Unlock()

	frame := memoryFrame{identifier: identifier, payload: slices.Clone(payload)}
	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()
	select {
	case m.out.data <- frame:
		return nil
	case <-m.out.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: peer queue full for %s", ErrConnectionTimeout, identifier)
	}
}

func (m *Memory) Receive(ctx context.Context, identifier string) (payload []byte, err error) {
	defer func() { m.received(identifier, len(payload), err) }()
	if err := m.ready(); err != nil {
		return nil, err
	}

	m.rlk.Lock()
	defer m.rlk.Unlock()
	if queued, ok := m.queue.pop(identifier); ok {
		return queued, nil
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()
	for {
		select {
		case frame := <-m.in.data:
			if frame.identifier == identifier {
				return frame.payload, nil
			}
			m.queue.push(frame.identifier, frame.payload)
		case <-m.in.closeCh:
			// drain what the peer sent before closing
			select {
			case frame := <-m.in.data:
				if frame.identifier == identifier {
					return frame.payload, nil
				}
				m.queue.push(frame.identifier, frame.payload)
				continue
			default:
			}
			return nil, ErrClosed
		case <-ctx.Done():
			if others := m.queue.identifiers(); len(others) > 0 {
				return nil, fmt.Errorf("%w: waiting for %q, pending %q", ErrIdentifierMismatch, identifier, others)
			}
			return nil, waitError(ctx, "frame "+identifier)
		}
	}
}

func (m *Memory) Close(context.Context) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.out != nil {
		m.out.close()
	}
	return nil
}
