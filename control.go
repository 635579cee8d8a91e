package cosimio

import (
	"context"
	"fmt"
	"slices"

	"github.com/raskyld/cosimio/internal/telemetry"
	"github.com/raskyld/cosimio/pkg/info"
	"github.com/raskyld/cosimio/pkg/transport"
)

const runControlIdentifier = "run_control"

// ControlSignal drives the loop of [Connection.Run].
type ControlSignal uint8

const (
	SignalDummy ControlSignal = iota
	SignalBreakSolutionLoop
	SignalConvergenceAchieved
	SignalAdvanceInTime
	SignalInitializeSolutionStep
	SignalPredict
	SignalSolveSolutionStep
	SignalFinalizeSolutionStep
	SignalOutputSolutionStep
	SignalImportGeometry
	SignalExportGeometry
	SignalImportMesh
	SignalExportMesh
	SignalImportData
	SignalExportData
	numSignals
)

var signalNames = [numSignals]string{
	"Dummy",
	"BreakSolutionLoop",
	"ConvergenceAchieved",
	"AdvanceInTime",
	"InitializeSolutionStep",
	"Predict",
	"SolveSolutionStep",
	"FinalizeSolutionStep",
	"OutputSolutionStep",
	"ImportGeometry",
	"ExportGeometry",
	"ImportMesh",
	"ExportMesh",
	"ImportData",
	"ExportData",
}

func (s ControlSignal) Valid() bool {
	return s < numSignals
}

func (s ControlSignal) String() string {
	if !s.Valid() {
		return fmt.Sprintf("ControlSignal(%d)", uint8(s))
	}
	return signalNames[s]
}

// ParseControlSignal accepts the names returned by String.
func ParseControlSignal(name string) (ControlSignal, error) {
	i := slices.Index(signalNames[:], name)
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	return ControlSignal(i), nil
}

// hook dispatched for the signal, false for the signals handled by Run
// itself.
func (s ControlSignal) hook() (Hook, bool) {
	switch s {
	case SignalAdvanceInTime:
		return HookAdvanceInTime, true
	case SignalInitializeSolutionStep:
		return HookInitializeSolutionStep, true
	case SignalPredict:
		return HookPredict, true
	case SignalSolveSolutionStep:
		return HookSolveSolutionStep, true
	case SignalFinalizeSolutionStep:
		return HookFinalizeSolutionStep, true
	case SignalOutputSolutionStep:
		return HookOutputSolutionStep, true
	case SignalImportGeometry, SignalImportMesh:
		return HookImportMesh, true
	case SignalExportGeometry, SignalExportMesh:
		return HookExportMesh, true
	case SignalImportData:
		return HookImportData, true
	case SignalExportData:
		return HookExportData, true
	default:
		return 0, false
	}
}

// Hook names a step of the partner solver a [Callback] can be registered
// for.
type Hook uint8

const (
	HookAdvanceInTime Hook = iota
	HookInitializeSolutionStep
	HookPredict
	HookSolveSolutionStep
	HookFinalizeSolutionStep
	HookOutputSolutionStep
	HookImportMesh
	HookExportMesh
	HookImportData
	HookExportData
	numHooks
)

var hookNames = [numHooks]string{
	"AdvanceInTime",
	"InitializeSolutionStep",
	"Predict",
	"SolveSolutionStep",
	"FinalizeSolutionStep",
	"OutputSolutionStep",
	"ImportMesh",
	"ExportMesh",
	"ImportData",
	"ExportData",
}

func (h Hook) Valid() bool {
	return h < numHooks
}

func (h Hook) String() string {
	if !h.Valid() {
		return fmt.Sprintf("Hook(%d)", uint8(h))
	}
	return hookNames[h]
}

// ParseHook accepts the names returned by String.
func ParseHook(name string) (Hook, error) {
	i := slices.Index(hookNames[:], name)
	if i < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownHook, name)
	}
	return Hook(i), nil
}

// Callback runs one step on behalf of the partner. settings carries what
// the partner sent along with the signal, plus "connection_name".
type Callback func(ctx context.Context, settings *info.Info) (*info.Info, error)

// Register stores cb for hook, replacing any previous callback.
func (c *Connection) Register(hook Hook, cb Callback) error {
	if !hook.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownHook, hook)
	}
	if cb == nil {
		return fmt.Errorf("%w: nil callback for %s", ErrNoCallback, hook)
	}
	c.cblk.Lock()
	defer c.cblk.Unlock()
	c.callbacks[hook] = cb
	c.logger.Debug("callback registered", "hook", hook.String())
	return nil
}

// RegisterByName is [Connection.Register] with the hook given by name.
func (c *Connection) RegisterByName(name string, cb Callback) error {
	hook, err := ParseHook(name)
	if err != nil {
		return err
	}
	return c.Register(hook, cb)
}

func (c *Connection) callback(hook Hook) (Callback, bool) {
	c.cblk.RLock()
	defer c.cblk.RUnlock()
	cb, ok := c.callbacks[hook]
	return cb, ok
}

// IsConverged returns the convergence flag last set by a
// ConvergenceAchieved signal. AdvanceInTime resets it.
func (c *Connection) IsConverged() bool {
	return c.converged.Load()
}

// SendControlSignal asks the partner, blocked in Run, to perform sig.
func (c *Connection) SendControlSignal(ctx context.Context, sig ControlSignal, settings *info.Info) (*info.Info, error) {
	if !sig.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, sig)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	elapsed, err := c.exchangeAs(ctx, kindControl, directionExport, runControlIdentifier,
		func(ctx context.Context, tr transport.Transport, identifier string) error {
			return c.send(ctx, tr, identifier, encodeControl(sig, settings))
		})
	if err != nil {
		return nil, err
	}
	switch sig {
	case SignalConvergenceAchieved:
		c.converged.Store(true)
	case SignalAdvanceInTime:
		c.converged.Store(false)
	}
	res := exchangeResult(elapsed)
	info.Set(res, "control_signal", sig.String())
	return res, nil
}

// Run hands control to the partner: it waits for control signals and
// dispatches them to the registered callbacks until BreakSolutionLoop or
// ConvergenceAchieved arrives.
func (c *Connection) Run(ctx context.Context) (*info.Info, error) {
	if _, err := c.connected(); err != nil {
		return nil, err
	}

	var steps int
	for {
		var (
			sig      ControlSignal
			settings *info.Info
		)
		_, err := c.exchangeAs(ctx, kindControl, directionImport, runControlIdentifier,
			func(ctx context.Context, tr transport.Transport, identifier string) error {
				body, err := c.receive(ctx, tr, identifier)
				if err != nil {
					return err
				}
				sig, settings, err = decodeControl(body)
				return err
			})
		if err != nil {
			return nil, err
		}
		c.msink.IncrCounterWithLabels(MetricRunSignalCount, 1.0,
			telemetry.With(c.labels, telemetry.LabelSignal.M(sig.String())))
		c.logger.Log(ctx, c.exchangeLevel(), "control signal received", telemetry.LabelSignal.L(sig.String()))

		switch sig {
		case SignalDummy:
			continue
		case SignalBreakSolutionLoop:
			return c.runResult(sig, steps), nil
		case SignalConvergenceAchieved:
			c.converged.Store(true)
			return c.runResult(sig, steps), nil
		case SignalAdvanceInTime:
			c.converged.Store(false)
		}

		hook, _ := sig.hook()
		cb, ok := c.callback(hook)
		if !ok {
			return nil, fmt.Errorf("%w: %s requested by %s", ErrNoCallback, hook, sig)
		}
		info.Set(settings, "connection_name", c.name)
		if _, err := cb(ctx, settings); err != nil {
			return nil, fmt.Errorf("cosimio: callback %s: %w", hook, err)
		}
		steps++
	}
}

func (c *Connection) runResult(last ControlSignal, steps int) *info.Info {
	res := info.New()
	info.Set(res, "control_signal", last.String())
	info.Set(res, "number_of_steps", steps)
	info.Set(res, "is_converged", c.IsConverged())
	return res
}
