package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/raskyld/cosimio/internal/telemetry"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	dirPrefix   = ".CoSimIOFileComm_"
	framePrefix = "CoSimIO_"
	helloPrefix = "CoSimIO_hello_"
	ackPrefix   = "CoSimIO_ack_"
	frameSuffix = ".dat"
	tempSuffix  = ".tmp"
)

// File exchanges frames through a directory shared by both peers.
type File struct {
	base

	dir   string
	token string
	role  Role

	lk      sync.Mutex
	sendSeq map[string]uint64
	recvSeq map[string]uint64
	closed  bool
}

var _ Transport = (*File)(nil)

func NewFile(cfg Config) (*File, error) {
	return newFile(FormatFile, cfg)
}

func newFile(format string, cfg Config) (*File, error) {
	b, err := newBase(format, cfg)
	if err != nil {
		return nil, err
	}
	wd := b.cfg.WorkingDirectory
	if wd == "" {
		wd = "."
	}
	info, err := os.Stat(wd)
	if err != nil {
		return nil, fmt.Errorf("%w: working directory: %w", ErrInvalidCfg, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: working directory %q is not a directory", ErrInvalidCfg, wd)
	}
	return &File{
		base:    b,
		dir:     filepath.Join(wd, dirPrefix+cfg.ConnectionName),
		token:   uuid.NewString(),
		sendSeq: make(map[string]uint64),
		recvSeq: make(map[string]uint64),
	}, nil
}

// Dir is the rendezvous directory.
func (f *File) Dir() string {
	return f.dir
}

// Handshake pairs with the peer through hello files. Each side acknowledges
// the hello it picked, and only leaves once its own hello was acknowledged.
//
// An explicit primary starts from an empty directory, and an elected primary
// discards leftover frames before acknowledging, so nothing sent by a
// previous session is ever delivered to this one.
func (f *File) Handshake(ctx context.Context) (role Role, err error) {
	defer func() { f.handshook(role, err) }()

	if f.cfg.Role == RolePrimary {
		if err := os.RemoveAll(f.dir); err != nil {
			return RoleAuto, fmt.Errorf("transport: clear rendezvous directory: %w", err)
		}
	}

	own := helloName(f.token)
	if err := f.announce(own); err != nil {
		f.logger.Debug("hello not published yet", telemetry.LabelError.L(err))
	}

	ctx, cancel := f.bound(ctx)
	defer cancel()
	withdraw := func() {
		os.Remove(filepath.Join(f.dir, own))
		os.Remove(filepath.Join(f.dir, ackName(f.token)))
	}

	var (
		peerToken string
		peerRole  Role
	)
	err = poll(ctx, f.cfg.PollInterval, func() (bool, error) {
		var found bool
		peerToken, peerRole, found = f.findHello(own)
		if !found {
			f.ensureAnnounced(own)
		}
		return found, nil
	})
	if err != nil {
		withdraw()
		return RoleAuto, waitError(ctx, "no peer hello in "+f.dir)
	}

	role, err = elect(f.cfg.Role, peerRole, f.token, peerToken)
	if err != nil {
		withdraw()
		return RoleAuto, err
	}
	if role == RolePrimary {
		f.discardLeftovers()
	}
	if err := f.publish(ackName(peerToken), nil); err != nil {
		withdraw()
		return RoleAuto, err
	}

	err = poll(ctx, f.cfg.PollInterval, func() (bool, error) {
		if _, err := os.Stat(filepath.Join(f.dir, ackName(f.token))); err == nil {
			return true, nil
		}
		f.ensureAnnounced(own)
		// the hello we picked may have been a leftover wiped by the primary
		for token := range f.hellos(own) {
			if _, err := os.Stat(filepath.Join(f.dir, ackName(token))); errors.Is(err, fs.ErrNotExist) {
				f.publish(ackName(token), nil)
			}
		}
		return false, nil
	})
	withdraw()
	if err != nil {
		return RoleAuto, waitError(ctx, "peer never acknowledged our hello")
	}

	f.lk.Lock()
	f.role = role
	f.lk.Unlock()
	return role, nil
}

func helloName(token string) string {
	return helloPrefix + token + frameSuffix
}

func ackName(token string) string {
	return ackPrefix + token + frameSuffix
}

func (f *File) announce(hello string) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("transport: create rendezvous directory: %w", err)
	}
	return f.publish(hello, []byte{byte(f.cfg.Role)})
}

// ensureAnnounced publishes our hello again if a primary cleared the
// directory after we first wrote it.
func (f *File) ensureAnnounced(hello string) {
	if _, err := os.Stat(filepath.Join(f.dir, hello)); !errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err := f.announce(hello); err != nil {
		f.logger.Debug("hello not published yet", telemetry.LabelError.L(err))
	}
}

func (f *File) findHello(own string) (token string, role Role, found bool) {
	for token, role := range f.hellos(own) {
		return token, role, true
	}
	return "", RoleAuto, false
}

// hellos yields the token and requested role of every peer hello.
func (f *File) hellos(own string) iter.Seq2[string, Role] {
	return func(yield func(string, Role) bool) {
		entries, err := os.ReadDir(f.dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			if name == own || !strings.HasPrefix(name, helloPrefix) || !strings.HasSuffix(name, frameSuffix) {
				continue
			}
			content, err := os.ReadFile(filepath.Join(f.dir, name))
			if err != nil || len(content) != 1 {
				continue
			}
			token := strings.TrimSuffix(strings.TrimPrefix(name, helloPrefix), frameSuffix)
			if !yield(token, Role(content[0])) {
				return
			}
		}
	}
}

// discardLeftovers removes the frames a crashed session left behind. The
// peer cannot send before we acknowledge its hello, so every frame found
// here is stale.
func (f *File) discardLeftovers() {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return
	}
	var discarded int
	for _, entry := range entries {
		name := entry.Name()
		_, isPrimary := parseFrameName(roleTag(RolePrimary), name)
		_, isSecondary := parseFrameName(roleTag(RoleSecondary), name)
		if !isPrimary && !isSecondary {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, name)); err == nil {
			discarded++
		}
	}
	if discarded > 0 {
		f.logger.Warn("discarded frames left by a previous session", "count", discarded, "dir", f.dir)
	}
}

func roleTag(r Role) string {
	if r == RolePrimary {
		return "p"
	}
	return "s"
}

func frameName(tag, identifier string, seq uint64) string {
	return framePrefix + tag + "_" + identifier + "_" + strconv.FormatUint(seq, 10) + frameSuffix
}

// parseFrameName returns the identifier of a frame written with tag.
func parseFrameName(tag, name string) (string, bool) {
	prefix := framePrefix + tag + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, frameSuffix) {
		return "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), frameSuffix)
	sep := strings.LastIndexByte(rest, '_')
	if sep <= 0 {
		return "", false
	}
	if _, err := strconv.ParseUint(rest[sep+1:], 10, 64); err != nil {
		return "", false
	}
	return rest[:sep], true
}

// publish writes content to a hidden temporary file and renames it into
// place so the peer never observes a partial file.
func (f *File) publish(name string, content []byte) error {
	tmp, err := os.CreateTemp(f.dir, "."+uuid.NewString()+"*"+tempSuffix)
	if err != nil {
		return fmt.Errorf("transport: create temporary file: %w", err)
	}
	_, err = tmp.Write(content)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filepath.Join(f.dir, name))
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("transport: publish %s: %w", name, err)
	}
	return nil
}

func (f *File) state() (Role, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.closed {
		return RoleAuto, ErrClosed
	}
	if f.role == RoleAuto {
		return RoleAuto, fmt.Errorf("%w: handshake not done", ErrClosed)
	}
	return f.role, nil
}

func (f *File) nextSeq(counters map[string]uint64, identifier string) uint64 {
	f.lk.Lock()
	defer f.lk.Unlock()
	seq := counters[identifier]
	counters[identifier] = seq + 1
	return seq
}

func (f *File) peekSeq(counters map[string]uint64, identifier string) uint64 {
	f.lk.Lock()
	defer f.lk.Unlock()
	return counters[identifier]
}

// Send publishes the frame and returns without waiting for the peer.
func (f *File) Send(ctx context.Context, identifier string, payload []byte) (err error) {
	defer func() { f.sent(identifier, len(payload), err) }()

	role, err := f.state()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seq := f.nextSeq(f.sendSeq, identifier)
	content := protowire.AppendVarint(make([]byte, 0, len(payload)+protowire.SizeVarint(uint64(len(payload)))), uint64(len(payload)))
	content = append(content, payload...)
	return f.publish(frameName(roleTag(role), identifier, seq), content)
}

// Receive waits for the next frame of identifier, reads and deletes it.
func (f *File) Receive(ctx context.Context, identifier string) (payload []byte, err error) {
	defer func() { f.received(identifier, len(payload), err) }()

	role, err := f.state()
	if err != nil {
		return nil, err
	}
	peerTag := roleTag(role.opposite())
	seq := f.peekSeq(f.recvSeq, identifier)
	path := filepath.Join(f.dir, frameName(peerTag, identifier, seq))

	ctx, cancel := f.bound(ctx)
	defer cancel()

	var content []byte
	err = poll(ctx, f.cfg.PollInterval, func() (bool, error) {
		var err error
		content, err = os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		if ctx.Err() == nil {
			return nil, fmt.Errorf("transport: read %s: %w", path, err)
		}
		others := slices.DeleteFunc(f.pendingIdentifiers(peerTag), func(id string) bool { return id == identifier })
		if len(others) > 0 {
			return nil, fmt.Errorf("%w: waiting for %q, pending %q", ErrIdentifierMismatch, identifier, others)
		}
		return nil, waitError(ctx, "frame "+identifier)
	}

	size, n := protowire.ConsumeVarint(content)
	if n < 0 || uint64(len(content)-n) != size {
		return nil, fmt.Errorf("%w: frame %s is truncated", ErrProtocolViolation, path)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("transport: consume %s: %w", path, err)
	}
	f.nextSeq(f.recvSeq, identifier)
	return content[n:], nil
}

func (f *File) pendingIdentifiers(tag string) []string {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, entry := range entries {
		if id, ok := parseFrameName(tag, entry.Name()); ok && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close waits for the peer to drain what we sent. The primary then removes
// the rendezvous directory while the secondary waits for it to disappear, so
// that a new connection under the same name starts from a clean directory.
func (f *File) Close(ctx context.Context) error {
	f.lk.Lock()
	if f.closed {
		f.lk.Unlock()
		return nil
	}
	f.closed = true
	role := f.role
	f.lk.Unlock()

	ctx, cancel := f.bound(ctx)
	defer cancel()

	if role != RolePrimary {
		if role == RoleAuto {
			return nil
		}
		err := poll(ctx, f.cfg.PollInterval, func() (bool, error) {
			_, err := os.Stat(f.dir)
			return errors.Is(err, fs.ErrNotExist), nil
		})
		if err != nil {
			f.logger.Warn("rendezvous directory still present on close", "dir", f.dir)
		}
		return nil
	}

	err := poll(ctx, f.cfg.PollInterval, func() (bool, error) {
		return len(f.pendingIdentifiers(roleTag(role))) == 0, nil
	})
	if err != nil {
		f.logger.Warn("peer did not consume every frame before close", "pending", f.pendingIdentifiers(roleTag(role)))
	}
	if err := os.RemoveAll(f.dir); err != nil {
		return fmt.Errorf("transport: remove rendezvous directory: %w", err)
	}
	return nil
}
