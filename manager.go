package cosimio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/raskyld/cosimio/internal/telemetry"
	"github.com/raskyld/cosimio/pkg/data"
	"github.com/raskyld/cosimio/pkg/info"
	"github.com/raskyld/cosimio/pkg/mesh"
)

var ErrManagerClosed = errors.New("cosimio: manager closed")

// Manager keeps the live connections of a process, keyed by connection
// name. Every operation locates its connection with the "connection_name"
// entry of its settings.
type Manager struct {
	config config
	logger *slog.Logger

	lk     sync.Mutex
	conns  map[string]*Connection
	closed bool
}

func NewManager(opts ...Option) (*Manager, error) {
	cfg := defaultConfig()
	if err := cfg.apply(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}
	return &Manager{
		config: *cfg,
		logger: slog.New(cfg.logHandler),
		conns:  make(map[string]*Connection),
	}, nil
}

// Connect creates the connection described by settings and connects it.
// The name is reserved for the whole handshake so a concurrent Connect
// under the same name fails with [ErrNameAlreadyInUse].
func (m *Manager) Connect(ctx context.Context, settings *info.Info) (*info.Info, error) {
	cfg := m.config
	conn, err := newConnection(settings, &cfg)
	if err != nil {
		res := info.New()
		info.Set(res, "connection_status", int(ConnectionError))
		info.Set(res, "is_connected", false)
		return res, err
	}

	m.lk.Lock()
	if m.closed {
		m.lk.Unlock()
		return conn.statusResult(ConnectionError), ErrManagerClosed
	}
	if existing, taken := m.conns[conn.name]; taken {
		m.lk.Unlock()
		if existing.IsConnected() {
			return conn.statusResult(ConnectionError), fmt.Errorf("%w: %w: %s", ErrNameAlreadyInUse, ErrAlreadyConnected, conn.name)
		}
		return conn.statusResult(ConnectionError), fmt.Errorf("%w: %s", ErrNameAlreadyInUse, conn.name)
	}
	m.conns[conn.name] = conn
	m.lk.Unlock()

	res, err := conn.Connect(ctx)
	if err != nil {
		m.forget(conn)
	}
	return res, err
}

func (m *Manager) forget(conn *Connection) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.conns[conn.name] == conn {
		delete(m.conns, conn.name)
	}
}

// Connection returns the live connection registered under name.
func (m *Manager) Connection(name string) (*Connection, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	conn, ok := m.conns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	return conn, nil
}

func (m *Manager) lookup(settings *info.Info) (*Connection, error) {
	name, err := info.Get[string](settings, "connection_name")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return m.Connection(name)
}

// Names of the registered connections, sorted.
func (m *Manager) Names() []string {
	m.lk.Lock()
	defer m.lk.Unlock()
	return slices.Sorted(maps.Keys(m.conns))
}

// Disconnect disconnects the connection and frees its name, even when the
// partner could not be reached.
func (m *Manager) Disconnect(ctx context.Context, settings *info.Info) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		res := info.New()
		info.Set(res, "connection_status", int(DisconnectionError))
		info.Set(res, "is_connected", false)
		return res, err
	}
	res, err := conn.Disconnect(ctx)
	m.forget(conn)
	return res, err
}

func (m *Manager) ImportInfo(ctx context.Context, settings *info.Info) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	return conn.ImportInfo(ctx, settings)
}

func (m *Manager) ExportInfo(ctx context.Context, settings *info.Info) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	return conn.ExportInfo(ctx, settings)
}

func (m *Manager) ImportData(ctx context.Context, settings *info.Info, values data.Container[float64]) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	return conn.ImportData(ctx, settings, values)
}

func (m *Manager) ExportData(ctx context.Context, settings *info.Info, values data.Container[float64]) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	return conn.ExportData(ctx, settings, values)
}

func (m *Manager) ImportMesh(ctx context.Context, settings *info.Info, mp *mesh.ModelPart) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	return conn.ImportMesh(ctx, settings, mp)
}

func (m *Manager) ExportMesh(ctx context.Context, settings *info.Info, mp *mesh.ModelPart) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	return conn.ExportMesh(ctx, settings, mp)
}

func (m *Manager) ImportMeshArrays(ctx context.Context, settings *info.Info, coords data.Container[float64], connectivities, vtkTypes data.Container[int]) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	return conn.ImportMeshArrays(ctx, settings, coords, connectivities, vtkTypes)
}

func (m *Manager) ExportMeshArrays(ctx context.Context, settings *info.Info, coords data.Container[float64], connectivities, vtkTypes data.Container[int]) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	return conn.ExportMeshArrays(ctx, settings, coords, connectivities, vtkTypes)
}

// Register stores cb for the hook named in settings under "function_name".
func (m *Manager) Register(settings *info.Info, cb Callback) error {
	conn, err := m.lookup(settings)
	if err != nil {
		return err
	}
	name, err := info.Get[string](settings, "function_name")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return conn.RegisterByName(name, cb)
}

func (m *Manager) Run(ctx context.Context, settings *info.Info) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	return conn.Run(ctx)
}

// SendControlSignal sends the signal named in settings under
// "control_signal"; the remaining entries travel along with it.
func (m *Manager) SendControlSignal(ctx context.Context, settings *info.Info) (*info.Info, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return nil, err
	}
	name, err := info.Get[string](settings, "control_signal")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	sig, err := ParseControlSignal(name)
	if err != nil {
		return nil, err
	}
	forwarded := settings.Copy()
	forwarded.Erase("control_signal")
	forwarded.Erase("connection_name")
	return conn.SendControlSignal(ctx, sig, forwarded)
}

func (m *Manager) IsConverged(settings *info.Info) (bool, error) {
	conn, err := m.lookup(settings)
	if err != nil {
		return false, err
	}
	return conn.IsConverged(), nil
}

// Close disconnects every live connection. The Manager refuses new
// connections afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.lk.Lock()
	if m.closed {
		m.lk.Unlock()
		return nil
	}
	m.closed = true
	conns := slices.Collect(maps.Values(m.conns))
	m.lk.Unlock()

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(conns))
	)
	for i, conn := range conns {
		if !conn.IsConnected() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = conn.Disconnect(ctx)
			m.forget(conn)
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Warn("some connections did not disconnect cleanly", telemetry.LabelError.L(err))
	}
	return err
}
