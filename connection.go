package cosimio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/cosimio/internal/telemetry"
	"github.com/raskyld/cosimio/pkg/info"
	"github.com/raskyld/cosimio/pkg/transport"
)

const (
	compatibilityIdentifier = "compatibility_checks"
	disconnectIdentifier    = "__disconnect"
)

type connState uint8

const (
	stateNew connState = iota
	stateConnected
	stateDisconnected
)

// partner is what the other side told us during Connect.
type partner struct {
	versionMajor    int
	versionMinor    int
	versionPatch    int
	explicitPrimary bool
	echoLevel       int
	solverVersion   string
}

func (p partner) version() string {
	return fmt.Sprintf("%d.%d.%d", p.versionMajor, p.versionMinor, p.versionPatch)
}

// Connection is one named coupling with a remote partner.
//
// A Connection goes through new, connected and disconnected, in that order.
// Once disconnected it cannot be connected again: create a new one under the
// same name. Exchanges on a single Connection must be serialized by the
// caller, distinct Connections can be driven concurrently.
type Connection struct {
	name     string
	settings *connectSettings
	cfg      *config
	logger   *slog.Logger
	msink    metrics.MetricSink
	labels   []metrics.Label

	lk      sync.Mutex
	state   connState
	tr      transport.Transport
	role    transport.Role
	partner partner
	// live mirrors state == stateConnected without waiting on a handshake
	live atomic.Bool

	cblk      sync.RWMutex
	callbacks map[Hook]Callback
	converged atomic.Bool
}

// NewConnection validates settings without reaching the partner yet.
func NewConnection(settings *info.Info, opts ...Option) (*Connection, error) {
	cfg := defaultConfig()
	if err := cfg.apply(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}
	return newConnection(settings, cfg)
}

func newConnection(settings *info.Info, cfg *config) (*Connection, error) {
	cs, err := parseConnectSettings(settings)
	if err != nil {
		return nil, err
	}
	name := cs.name()
	return &Connection{
		name:      name,
		settings:  cs,
		cfg:       cfg,
		logger:    slog.New(cfg.logHandler).With(telemetry.LabelConnection.L(name)),
		msink:     cfg.metricSink,
		labels:    telemetry.With(cfg.metricLabels, telemetry.LabelConnection.M(name)),
		callbacks: make(map[Hook]Callback),
	}, nil
}

// Name of the connection as agreed with the partner.
func (c *Connection) Name() string {
	return c.name
}

func (c *Connection) lifecycleLevel() slog.Level {
	if c.settings.EchoLevel >= 1 {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func (c *Connection) exchangeLevel() slog.Level {
	if c.settings.EchoLevel >= 2 {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func (c *Connection) workingDirectory() string {
	switch {
	case c.settings.WorkingDirectory != "":
		return c.settings.WorkingDirectory
	case c.cfg.trCfg.WorkingDirectory != "":
		return c.cfg.trCfg.WorkingDirectory
	default:
		return "."
	}
}

func (c *Connection) transportConfig() transport.Config {
	cfg := c.cfg.trCfg
	cfg.ConnectionName = c.name
	cfg.Role = c.settings.role()
	cfg.WorkingDirectory = c.workingDirectory()
	cfg.Timeout = c.settings.timeout(cfg.Timeout)
	if c.settings.Address != "" {
		cfg.Address = c.settings.Address
	}
	return cfg
}

func (c *Connection) statusResult(status ConnectionStatus) *info.Info {
	res := info.New()
	info.Set(res, "connection_name", c.name)
	info.Set(res, "connection_status", int(status))
	info.Set(res, "is_connected", status == Connected)
	return res
}

// Connect reaches the partner, agrees on roles and checks that both sides
// speak compatible versions.
func (c *Connection) Connect(ctx context.Context) (*info.Info, error) {
	c.lk.Lock()
	defer c.lk.Unlock()

	switch c.state {
	case stateConnected:
		return c.statusResult(ConnectionError), fmt.Errorf("%w: %s", ErrAlreadyConnected, c.name)
	case stateDisconnected:
		return c.statusResult(ConnectionError), fmt.Errorf("%w: %s", ErrConnectionClosed, c.name)
	}

	c.logger.Log(ctx, c.lifecycleLevel(), "connecting",
		telemetry.LabelFormat.L(c.settings.Format),
		"working_directory", c.workingDirectory(),
	)

	tr, err := c.cfg.newTransport(c.settings.Format, c.transportConfig())
	if err != nil {
		return c.connectFailed(ctx, nil, err)
	}
	role, err := tr.Handshake(ctx)
	if err != nil {
		return c.connectFailed(ctx, nil, err)
	}
	p, err := c.checkCompatibility(ctx, tr, role)
	if err != nil {
		return c.connectFailed(ctx, tr, err)
	}

	c.tr, c.role, c.partner = tr, role, p
	c.state = stateConnected
	c.live.Store(true)
	c.msink.IncrCounterWithLabels(MetricConnEstCount, 1.0,
		telemetry.With(c.labels, telemetry.LabelRole.M(role.String())))
	c.logger.Log(ctx, c.lifecycleLevel(), "connected",
		telemetry.LabelRole.L(role),
		"partner_version", p.version(),
	)

	res := c.statusResult(Connected)
	info.Set(res, "is_primary_connection", role == transport.RolePrimary)
	info.Set(res, "working_directory", c.workingDirectory())
	info.Set(res, "partner_version", p.version())
	info.Set(res, "partner_solver_version", p.solverVersion)
	info.Set(res, "partner_echo_level", p.echoLevel)
	return res, nil
}

func (c *Connection) connectFailed(ctx context.Context, tr transport.Transport, err error) (*info.Info, error) {
	if tr != nil {
		if cerr := tr.Close(ctx); cerr != nil {
			c.logger.Warn("failed to release transport", telemetry.LabelError.L(cerr))
		}
	}
	c.msink.IncrCounterWithLabels(MetricConnErrorCount, 1.0, c.labels)
	c.logger.Warn("connection failed", telemetry.LabelError.L(err))
	return c.statusResult(ConnectionError), fmt.Errorf("cosimio: connect %s: %w", c.name, err)
}

func (c *Connection) compatibilityInfo() *info.Info {
	ci := info.New()
	info.Set(ci, "version_major", VersionMajor)
	info.Set(ci, "version_minor", VersionMinor)
	info.Set(ci, "version_patch", VersionPatch)
	info.Set(ci, "primary_was_explicitly_specified", c.settings.IsPrimary != nil)
	info.Set(ci, "echo_level", c.settings.EchoLevel)
	info.Set(ci, "solver_version", c.settings.SolverVersion)
	return ci
}

// checkCompatibility exchanges the version information, primary first so
// that both sides never wait on each other.
func (c *Connection) checkCompatibility(ctx context.Context, tr transport.Transport, role transport.Role) (partner, error) {
	mine := encodePayload(info.Marshal(c.compatibilityInfo()), false)

	var (
		raw []byte
		err error
	)
	if role == transport.RolePrimary {
		if err = tr.Send(ctx, compatibilityIdentifier, mine); err == nil {
			raw, err = tr.Receive(ctx, compatibilityIdentifier)
		}
	} else {
		if raw, err = tr.Receive(ctx, compatibilityIdentifier); err == nil {
			err = tr.Send(ctx, compatibilityIdentifier, mine)
		}
	}
	if err != nil {
		return partner{}, err
	}

	body, err := decodePayload(raw)
	if err != nil {
		return partner{}, err
	}
	theirs, err := info.Unmarshal(body)
	if err != nil {
		return partner{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var (
		p    partner
		errs []error
	)
	p.versionMajor, err = info.Get[int](theirs, "version_major")
	errs = append(errs, err)
	p.versionMinor, err = info.Get[int](theirs, "version_minor")
	errs = append(errs, err)
	p.versionPatch, err = info.Get[int](theirs, "version_patch")
	errs = append(errs, err)
	p.explicitPrimary, err = info.Get[bool](theirs, "primary_was_explicitly_specified")
	errs = append(errs, err)
	p.echoLevel, err = info.GetOr(theirs, "echo_level", 0)
	errs = append(errs, err)
	p.solverVersion, err = info.GetOr(theirs, "solver_version", "")
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return partner{}, fmt.Errorf("%w: compatibility checks: %w", ErrInvalidPayload, err)
	}

	if p.versionMajor != VersionMajor {
		return partner{}, fmt.Errorf("%w: mine is %s, partner is %s", ErrVersionMismatch, Version(), p.version())
	}
	if p.versionMinor != VersionMinor || p.versionPatch != VersionPatch {
		c.logger.Warn("partner runs another minor version",
			"version", Version(),
			"partner_version", p.version(),
		)
	}
	if p.solverVersion != c.settings.SolverVersion {
		c.logger.Warn("partner runs another solver version",
			"solver_version", c.settings.SolverVersion,
			"partner_solver_version", p.solverVersion,
		)
	}
	if explicit := c.settings.IsPrimary != nil; explicit != p.explicitPrimary {
		return partner{}, fmt.Errorf("%w: mine is %s, partner is %s",
			ErrPrimaryMismatch, strconv.FormatBool(explicit), strconv.FormatBool(p.explicitPrimary))
	}
	return p, nil
}

// connected returns the transport if the connection is usable.
func (c *Connection) connected() (transport.Transport, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.state != stateConnected {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.name)
	}
	return c.tr, nil
}

// IsConnected reports whether exchanges are possible.
func (c *Connection) IsConnected() bool {
	return c.live.Load()
}

// Role played by this side, RoleAuto until connected.
func (c *Connection) Role() transport.Role {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.role
}

// Disconnect agrees with the partner on closing and releases the transport.
// A connection can only be disconnected once.
func (c *Connection) Disconnect(ctx context.Context) (*info.Info, error) {
	c.lk.Lock()
	defer c.lk.Unlock()

	if c.state != stateConnected {
		return c.statusResult(DisconnectionError), fmt.Errorf("%w: %s", ErrNotConnected, c.name)
	}

	tr := c.tr
	err := tr.Send(ctx, disconnectIdentifier, nil)
	if err == nil {
		_, err = tr.Receive(ctx, disconnectIdentifier)
	}
	err = errors.Join(err, tr.Close(ctx))

	c.state = stateDisconnected
	c.live.Store(false)
	c.tr = nil
	c.msink.IncrCounterWithLabels(MetricConnClosedCount, 1.0, c.labels)
	if err != nil {
		c.logger.Warn("disconnection failed", telemetry.LabelError.L(err))
		return c.statusResult(DisconnectionError), fmt.Errorf("cosimio: disconnect %s: %w", c.name, err)
	}
	c.logger.Log(ctx, c.lifecycleLevel(), "disconnected")
	return c.statusResult(Disconnected), nil
}
