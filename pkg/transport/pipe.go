//go:build unix

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	pipeReadyIdentifier = "pipe_ready"
	toSecondaryPipe     = "pipe_p2s"
	toPrimaryPipe       = "pipe_s2p"
)

// fifoConn joins the two named pipes of a connection, one per direction.
type fifoConn struct {
	r, w *os.File
}

func (c fifoConn) Read(b []byte) (int, error)  { return c.r.Read(b) }
func (c fifoConn) Write(b []byte) (int, error) { return c.w.Write(b) }

func (c fifoConn) Close() error {
	return errors.Join(c.r.Close(), c.w.Close())
}

func (c fifoConn) SetReadDeadline(t time.Time) error  { return c.r.SetReadDeadline(t) }
func (c fifoConn) SetWriteDeadline(t time.Time) error { return c.w.SetWriteDeadline(t) }

// Pipe carries frames over two named pipes created by the primary inside
// the rendezvous directory.
type Pipe struct {
	*stream
	rendezvous *File

	lk     sync.Mutex
	closed bool
}

var _ Transport = (*Pipe)(nil)

func NewPipe(cfg Config) (*Pipe, error) {
	rdv, err := newFile(FormatPipe, cfg)
	if err != nil {
		return nil, err
	}
	return &Pipe{
		stream:     newStream(rdv.base, nil),
		rendezvous: rdv,
	}, nil
}

func newPipe(cfg Config) (Transport, error) {
	return NewPipe(cfg)
}

func (p *Pipe) Handshake(ctx context.Context) (Role, error) {
	role, err := p.rendezvous.Handshake(ctx)
	if err != nil {
		return RoleAuto, err
	}

	in := filepath.Join(p.rendezvous.Dir(), toPrimaryPipe)
	out := filepath.Join(p.rendezvous.Dir(), toSecondaryPipe)
	if role == RolePrimary {
		if err := p.makeFifos(in, out); err != nil {
			return RoleAuto, err
		}
		err = p.rendezvous.Send(ctx, connectionInfoIdentifier, nil)
	} else {
		in, out = out, in
		_, err = p.rendezvous.Receive(ctx, connectionInfoIdentifier)
	}
	if err != nil {
		return RoleAuto, err
	}

	conn, err := p.open(ctx, in, out)
	if err != nil {
		return RoleAuto, err
	}

	// a read end sees EOF until the peer opened its write end
	err = p.rendezvous.Send(ctx, pipeReadyIdentifier, nil)
	if err == nil {
		_, err = p.rendezvous.Receive(ctx, pipeReadyIdentifier)
	}
	if err != nil {
		conn.Close()
		return RoleAuto, err
	}

	p.stream.conn = conn
	p.stream.rd.Reset(conn)
	p.logger.Debug("pipes opened", "in", in, "out", out)
	return role, nil
}

func (p *Pipe) makeFifos(paths ...string) error {
	for _, path := range paths {
		os.Remove(path)
		if err := unix.Mkfifo(path, 0o600); err != nil {
			return fmt.Errorf("transport: create pipe %s: %w", path, err)
		}
	}
	return nil
}

// open opens the read end right away, then waits for the peer to open its
// read end so that ours can be opened for writing.
func (p *Pipe) open(ctx context.Context, in, out string) (fifoConn, error) {
	r, err := os.OpenFile(in, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fifoConn{}, fmt.Errorf("transport: open pipe %s: %w", in, err)
	}

	ctx, cancel := p.bound(ctx)
	defer cancel()

	var w *os.File
	err = poll(ctx, p.cfg.PollInterval, func() (bool, error) {
		var err error
		w, err = os.OpenFile(out, os.O_WRONLY|unix.O_NONBLOCK, 0)
		if errors.Is(err, unix.ENXIO) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		r.Close()
		if ctx.Err() != nil {
			return fifoConn{}, waitError(ctx, "nobody opened "+out)
		}
		return fifoConn{}, fmt.Errorf("transport: open pipe %s: %w", out, err)
	}
	return fifoConn{r: r, w: w}, nil
}

func (p *Pipe) ready() error {
	p.lk.Lock()
	defer p.lk.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.stream.conn == nil {
		return fmt.Errorf("%w: handshake not done", ErrClosed)
	}
	return nil
}

func (p *Pipe) Send(ctx context.Context, identifier string, payload []byte) error {
	if err := p.ready(); err != nil {
		return err
	}
	return p.stream.send(ctx, identifier, payload)
}

func (p *Pipe) Receive(ctx context.Context, identifier string) ([]byte, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.stream.receive(ctx, identifier)
}

func (p *Pipe) Close(ctx context.Context) error {
	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		return nil
	}
	p.closed = true
	p.lk.Unlock()

	var err error
	if p.stream.conn != nil {
		err = p.stream.conn.Close()
	}
	return errors.Join(err, p.rendezvous.Close(ctx))
}
