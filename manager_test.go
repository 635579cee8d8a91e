package cosimio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/cosimio/pkg/data"
	"github.com/raskyld/cosimio/pkg/info"
	"github.com/raskyld/cosimio/pkg/mesh"
	"github.com/raskyld/cosimio/pkg/transport"
	"github.com/stretchr/testify/require"
)

func testHandler(emitter string) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(emitter)},
	})
}

func peerSettings(myName, connectTo, format string) *info.Info {
	s := info.New()
	info.Set(s, "my_name", myName)
	info.Set(s, "connect_to", connectTo)
	info.Set(s, "communication_format", format)
	info.Set(s, "echo_level", 1)
	return s
}

func exchangeSettings(identifier string) *info.Info {
	s := info.New()
	info.Set(s, "connection_name", "fluid_structure")
	info.Set(s, "identifier", identifier)
	return s
}

type peers struct {
	fluid, structure *Manager
	fluidSink        *metrics.InmemSink
}

func newPeers(t *testing.T, opts ...Option) *peers {
	t.Helper()
	sink := metrics.NewInmemSink(time.Second, 5*time.Minute)
	common := append([]Option{
		WithTimeout(10 * time.Second),
		WithPollInterval(time.Millisecond),
	}, opts...)

	fluid, err := NewManager(append(common, WithLog(testHandler("fluid")), WithMetricSink(sink))...)
	require.NoError(t, err)
	structure, err := NewManager(append(common, WithLog(testHandler("structure")), WithMetricSink(nil))...)
	require.NoError(t, err)
	return &peers{fluid: fluid, structure: structure, fluidSink: sink}
}

// connect runs both Connect calls concurrently and returns their results.
func (p *peers) connect(t *testing.T, format string) (*info.Info, *info.Info) {
	t.Helper()
	var (
		wg           sync.WaitGroup
		resF, resS   *info.Info
		errF, errS   error
		settingsF    = peerSettings("fluid", "structure", format)
		settingsS    = peerSettings("structure", "fluid", format)
		ctx, cancel  = context.WithTimeout(context.Background(), 20*time.Second)
	)
	defer cancel()
	wg.Add(2)
	go func() {
		defer wg.Done()
		resF, errF = p.fluid.Connect(ctx, settingsF)
	}()
	go func() {
		defer wg.Done()
		resS, errS = p.structure.Connect(ctx, settingsS)
	}()
	wg.Wait()
	require.NoError(t, errF)
	require.NoError(t, errS)
	return resF, resS
}

func (p *peers) disconnect(t *testing.T) {
	t.Helper()
	var (
		wg         sync.WaitGroup
		errF, errS error
		resF, resS *info.Info
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		resF, errF = p.fluid.Disconnect(context.Background(), exchangeSettings(""))
	}()
	go func() {
		defer wg.Done()
		resS, errS = p.structure.Disconnect(context.Background(), exchangeSettings(""))
	}()
	wg.Wait()
	require.NoError(t, errF)
	require.NoError(t, errS)
	for _, res := range []*info.Info{resF, resS} {
		status, err := info.Get[int](res, "connection_status")
		require.NoError(t, err)
		require.Equal(t, int(Disconnected), status)
	}
}

func TestManagerFile(t *testing.T) {
	p := newPeers(t, WithWorkingDirectory(t.TempDir()))
	ctx := context.Background()

	resF, resS := p.connect(t, transport.FormatFile)

	t.Run("connect results", func(t *testing.T) {
		name, err := info.Get[string](resF, "connection_name")
		require.NoError(t, err)
		require.Equal(t, "fluid_structure", name)

		status, err := info.Get[int](resS, "connection_status")
		require.NoError(t, err)
		require.Equal(t, int(Connected), status)

		primaryF, err := info.Get[bool](resF, "is_primary_connection")
		require.NoError(t, err)
		primaryS, err := info.Get[bool](resS, "is_primary_connection")
		require.NoError(t, err)
		require.True(t, primaryF, "fluid sorts first")
		require.False(t, primaryS)

		version, err := info.Get[string](resS, "partner_version")
		require.NoError(t, err)
		require.Equal(t, Version(), version)

		require.Equal(t, []string{"fluid_structure"}, p.fluid.Names())
	})

	t.Run("data round trip", func(t *testing.T) {
		res, err := p.fluid.ExportData(ctx, exchangeSettings("vector_of_pi"), data.NewReadOnly([]float64{3.14, 3.14, 3.14, 3.14}))
		require.NoError(t, err)
		size, err := info.Get[int](res, "size")
		require.NoError(t, err)
		require.Equal(t, 4, size)
		require.True(t, res.Has("elapsed_time"))

		received := data.NewBuffer[float64]()
		res, err = p.structure.ImportData(ctx, exchangeSettings("vector_of_pi"), received)
		require.NoError(t, err)
		require.Equal(t, []float64{3.14, 3.14, 3.14, 3.14}, received.View())
		size, err = info.Get[int](res, "size")
		require.NoError(t, err)
		require.Equal(t, 4, size)
	})

	t.Run("external buffer is reallocated and handed back", func(t *testing.T) {
		_, err := p.structure.ExportData(ctx, exchangeSettings("pressure"), data.NewBuffer(1.0, 2.0, 3.0))
		require.NoError(t, err)

		var raw []float64
		ext, err := data.NewExternal(&raw, 0, data.HeapAllocator[float64]{})
		require.NoError(t, err)
		_, err = p.fluid.ImportData(ctx, exchangeSettings("pressure"), ext)
		require.NoError(t, err)
		require.Equal(t, []float64{1, 2, 3}, raw[:ext.Size()])
	})

	t.Run("mesh round trip", func(t *testing.T) {
		mp := testModelPart(t)
		res, err := p.fluid.ExportMesh(ctx, exchangeSettings("interface"), mp)
		require.NoError(t, err)
		nodes, err := info.Get[int](res, "number_of_nodes")
		require.NoError(t, err)
		require.Equal(t, 6, nodes)

		got, err := mesh.NewModelPart("interface")
		require.NoError(t, err)
		res, err = p.structure.ImportMesh(ctx, exchangeSettings("interface"), got)
		require.NoError(t, err)
		elements, err := info.Get[int](res, "number_of_elements")
		require.NoError(t, err)
		require.Equal(t, 4, elements)
		require.Equal(t, mp.String(), got.String())

		wantCoords, wantConn, wantTypes, err := mp.ToArrays()
		require.NoError(t, err)
		gotCoords, gotConn, gotTypes, err := got.ToArrays()
		require.NoError(t, err)
		require.Equal(t, wantCoords, gotCoords)
		require.Equal(t, wantConn, gotConn)
		require.Equal(t, wantTypes, gotTypes)
	})

	t.Run("mesh arrays round trip", func(t *testing.T) {
		coords := []float64{
			0, 0, 0,
			1, 0, 0,
			2, 0, 0,
			0, 1, 0,
			1, 1, 0,
			2, 1, 0,
		}
		conn := []int{0, 1, 4, 0, 4, 3, 1, 2, 5, 1, 5, 4}
		types := []int{5, 5, 5, 5}

		_, err := p.structure.ExportMeshArrays(ctx, exchangeSettings("arrays"),
			data.NewReadOnly(coords), data.NewReadOnly(conn), data.NewReadOnly(types))
		require.NoError(t, err)

		gotCoords, gotConn, gotTypes := data.NewBuffer[float64](), data.NewBuffer[int](), data.NewBuffer[int]()
		_, err = p.fluid.ImportMeshArrays(ctx, exchangeSettings("arrays"), gotCoords, gotConn, gotTypes)
		require.NoError(t, err)
		require.Equal(t, coords, gotCoords.View())
		require.Equal(t, conn, gotConn.View())
		require.Equal(t, types, gotTypes.View())
	})

	t.Run("info round trip", func(t *testing.T) {
		out := exchangeSettings("convergence")
		info.Set(out, "is_converged", true)
		info.Set(out, "tolerance", 1e-6)
		_, err := p.structure.ExportInfo(ctx, out)
		require.NoError(t, err)

		in, err := p.fluid.ImportInfo(ctx, exchangeSettings("convergence"))
		require.NoError(t, err)
		converged, err := info.Get[bool](in, "is_converged")
		require.NoError(t, err)
		require.True(t, converged)
		tol, err := info.Get[float64](in, "tolerance")
		require.NoError(t, err)
		require.Equal(t, 1e-6, tol)
		elapsed, err := info.Get[float64](in, "elapsed_time")
		require.NoError(t, err)
		require.GreaterOrEqual(t, elapsed, 0.0)
	})

	t.Run("ints wider than 32 bits are refused before sending", func(t *testing.T) {
		out := exchangeSettings("wide")
		info.Set(out, "count", math.MaxInt32+1)
		_, err := p.structure.ExportInfo(ctx, out)
		require.ErrorIs(t, err, ErrInvalidSettings)
		require.ErrorIs(t, err, info.ErrOutOfRange)

		ctl := exchangeSettings("")
		info.Set(ctl, "control_signal", SignalAdvanceInTime.String())
		info.Set(ctl, "ids", []int{math.MinInt32 - 1})
		_, err = p.fluid.SendControlSignal(ctx, ctl)
		require.ErrorIs(t, err, ErrInvalidSettings)
		require.ErrorIs(t, err, info.ErrOutOfRange)
	})

	t.Run("a second connection under a live name is refused", func(t *testing.T) {
		res, err := p.fluid.Connect(ctx, peerSettings("fluid", "structure", transport.FormatFile))
		require.ErrorIs(t, err, ErrNameAlreadyInUse)
		require.ErrorIs(t, err, ErrAlreadyConnected)
		status, err := info.Get[int](res, "connection_status")
		require.NoError(t, err)
		require.Equal(t, int(ConnectionError), status)
	})

	p.disconnect(t)

	t.Run("metrics", func(t *testing.T) {
		var established bool
		for _, interval := range p.fluidSink.Data() {
			for _, c := range interval.Counters {
				if c.Name == "cosimio.connection.established.count" {
					established = true
				}
			}
		}
		require.True(t, established)
	})

	t.Run("disconnected name is reusable", func(t *testing.T) {
		_, err := p.fluid.ExportData(ctx, exchangeSettings("vector_of_pi"), data.NewBuffer(1.0))
		require.ErrorIs(t, err, ErrNotConnected)

		res, err := p.fluid.Disconnect(ctx, exchangeSettings(""))
		require.ErrorIs(t, err, ErrNotConnected)
		status, err := info.Get[int](res, "connection_status")
		require.NoError(t, err)
		require.Equal(t, int(DisconnectionError), status)

		p.connect(t, transport.FormatFile)
		p.disconnect(t)
	})
}

func testModelPart(t *testing.T) *mesh.ModelPart {
	t.Helper()
	mp, err := mesh.NewModelPart("interface")
	require.NoError(t, err)
	require.NoError(t, mp.CreateNewNodes(
		[]int{1, 2, 3, 4, 5, 6},
		[]float64{0, 1, 2, 0, 1, 2},
		[]float64{0, 0, 0, 1, 1, 1},
		[]float64{0, 0, 0, 0, 0, 0},
	))
	tri := mesh.Triangle3D3
	require.NoError(t, mp.CreateNewElements(
		[]int{1, 2, 3, 4},
		[]mesh.ElementType{tri, tri, tri, tri},
		[]int{1, 2, 5, 1, 5, 4, 2, 3, 6, 2, 6, 5},
	))
	return mp
}

func TestManagerRun(t *testing.T) {
	p := newPeers(t, WithMemoryHub(transport.NewHub()))
	ctx := context.Background()
	p.connect(t, transport.FormatMemory)
	defer p.disconnect(t)

	conn, err := p.structure.Connection("fluid_structure")
	require.NoError(t, err)

	var (
		lk    sync.Mutex
		calls []string
		dt    float64
	)
	record := func(name string) Callback {
		return func(_ context.Context, settings *info.Info) (*info.Info, error) {
			lk.Lock()
			defer lk.Unlock()
			calls = append(calls, name)
			if name == "SolveSolutionStep" {
				dt, _ = info.Get[float64](settings, "delta_time")
			}
			cn, err := info.Get[string](settings, "connection_name")
			if err != nil || cn != "fluid_structure" {
				return nil, ErrInvalidSettings
			}
			return info.New(), nil
		}
	}
	require.NoError(t, conn.Register(HookAdvanceInTime, record("AdvanceInTime")))
	require.NoError(t, conn.RegisterByName("SolveSolutionStep", record("SolveSolutionStep")))
	regSettings := exchangeSettings("")
	info.Set(regSettings, "function_name", "ImportMesh")
	require.NoError(t, p.structure.Register(regSettings, record("ImportMesh")))
	require.ErrorIs(t, conn.RegisterByName("Relax", record("Relax")), ErrUnknownHook)

	type runResult struct {
		res *info.Info
		err error
	}
	done := make(chan runResult, 1)
	go func() {
		res, err := p.structure.Run(ctx, exchangeSettings(""))
		done <- runResult{res, err}
	}()

	send := func(signal string, extra ...func(*info.Info)) {
		s := exchangeSettings("")
		info.Set(s, "control_signal", signal)
		for _, fn := range extra {
			fn(s)
		}
		_, err := p.fluid.SendControlSignal(ctx, s)
		require.NoError(t, err)
	}
	send("AdvanceInTime")
	send("Dummy")
	send("SolveSolutionStep", func(s *info.Info) { info.Set(s, "delta_time", 0.1) })
	send("ImportGeometry")
	send("ConvergenceAchieved")

	got := <-done
	require.NoError(t, got.err)
	steps, err := info.Get[int](got.res, "number_of_steps")
	require.NoError(t, err)
	require.Equal(t, 3, steps)
	require.Equal(t, []string{"AdvanceInTime", "SolveSolutionStep", "ImportMesh"}, calls)
	require.Equal(t, 0.1, dt)

	converged, err := p.structure.IsConverged(exchangeSettings(""))
	require.NoError(t, err)
	require.True(t, converged)

	t.Run("signal without callback stops the loop", func(t *testing.T) {
		go func() {
			res, err := conn.Run(ctx)
			done <- runResult{res, err}
		}()
		send("ExportData")
		got := <-done
		require.ErrorIs(t, got.err, ErrNoCallback)
	})

	t.Run("break leaves the loop", func(t *testing.T) {
		go func() {
			res, err := conn.Run(ctx)
			done <- runResult{res, err}
		}()
		send("AdvanceInTime")
		send("BreakSolutionLoop")
		got := <-done
		require.NoError(t, got.err)
		require.False(t, conn.IsConverged())
	})
}

func TestManagerCompression(t *testing.T) {
	p := newPeers(t, WithMemoryHub(transport.NewHub()))
	ctx := context.Background()

	settingsF := peerSettings("fluid", "structure", transport.FormatMemory)
	info.Set(settingsF, "compression", "zstd")
	settingsS := peerSettings("structure", "fluid", transport.FormatMemory)

	errS := make(chan error, 1)
	go func() {
		_, err := p.structure.Connect(ctx, settingsS)
		errS <- err
	}()
	_, err := p.fluid.Connect(ctx, settingsF)
	require.NoError(t, err)
	require.NoError(t, <-errS)
	defer p.disconnect(t)

	values := make([]float64, 4096)
	for i := range values {
		values[i] = float64(i % 7)
	}
	_, err = p.fluid.ExportData(ctx, exchangeSettings("field"), data.NewReadOnly(values))
	require.NoError(t, err)

	got := data.NewBuffer[float64]()
	_, err = p.structure.ImportData(ctx, exchangeSettings("field"), got)
	require.NoError(t, err)
	require.Equal(t, values, got.View())
}

func TestManagerClose(t *testing.T) {
	p := newPeers(t, WithMemoryHub(transport.NewHub()))
	p.connect(t, transport.FormatMemory)

	errs := make(chan error, 2)
	for _, m := range []*Manager{p.fluid, p.structure} {
		go func() {
			errs <- m.Close(context.Background())
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	require.Empty(t, p.fluid.Names())

	_, err := p.fluid.Connect(context.Background(), peerSettings("fluid", "structure", transport.FormatMemory))
	require.ErrorIs(t, err, ErrManagerClosed)
}

func TestManagerUnknownConnection(t *testing.T) {
	m, err := NewManager(WithLog(testHandler("fluid")))
	require.NoError(t, err)

	_, err = m.ImportInfo(context.Background(), exchangeSettings("x"))
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = m.ImportInfo(context.Background(), info.New())
	require.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewManager(WithTimeout(-time.Second))
	require.ErrorIs(t, err, ErrInvalidCfg)
}

func TestManagerConcurrentConnections(t *testing.T) {
	const partners = 4
	hub := transport.NewHub()
	ctx := context.Background()

	fluid, err := NewManager(WithLog(testHandler("fluid")), WithMetricSink(nil), WithMemoryHub(hub))
	require.NoError(t, err)

	errs := make(chan error, 2*partners)
	var wg sync.WaitGroup
	for i := range partners {
		partner := fmt.Sprintf("solid%d", i)
		name := CreateConnectionName("fluid", partner)
		wg.Add(2)

		go func() {
			defer wg.Done()
			if _, err := fluid.Connect(ctx, peerSettings("fluid", partner, transport.FormatMemory)); err != nil {
				errs <- err
				return
			}
			s := info.New()
			info.Set(s, "connection_name", name)
			info.Set(s, "identifier", "load")
			if _, err := fluid.ExportData(ctx, s, data.NewReadOnly([]float64{float64(i)})); err != nil {
				errs <- err
				return
			}
			_, err := fluid.Disconnect(ctx, s)
			errs <- err
		}()

		go func() {
			defer wg.Done()
			solid, err := NewManager(WithLog(testHandler(partner)), WithMetricSink(nil), WithMemoryHub(hub))
			if err != nil {
				errs <- err
				return
			}
			if _, err := solid.Connect(ctx, peerSettings(partner, "fluid", transport.FormatMemory)); err != nil {
				errs <- err
				return
			}
			s := info.New()
			info.Set(s, "connection_name", name)
			info.Set(s, "identifier", "load")
			got := data.NewBuffer[float64]()
			if _, err := solid.ImportData(ctx, s, got); err != nil {
				errs <- err
				return
			}
			if got.Size() != 1 || got.View()[0] != float64(i) {
				errs <- fmt.Errorf("%s imported %v", partner, got.View())
				return
			}
			_, err = solid.Disconnect(ctx, s)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Empty(t, fluid.Names())
}

func TestManagerSameNameRace(t *testing.T) {
	p := newPeers(t, WithMemoryHub(transport.NewHub()))
	ctx := context.Background()

	errS := make(chan error, 1)
	go func() {
		_, err := p.structure.Connect(ctx, peerSettings("structure", "fluid", transport.FormatMemory))
		errS <- err
	}()

	const attempts = 8
	var (
		wg       sync.WaitGroup
		won      atomic.Int32
		refusals atomic.Int32
		others   = make(chan error, attempts)
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.fluid.Connect(ctx, peerSettings("fluid", "structure", transport.FormatMemory))
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, ErrNameAlreadyInUse):
				refusals.Add(1)
			default:
				others <- err
			}
		}()
	}
	wg.Wait()
	close(others)
	for err := range others {
		require.NoError(t, err)
	}
	require.NoError(t, <-errS)
	require.EqualValues(t, 1, won.Load())
	require.EqualValues(t, attempts-1, refusals.Load())
	require.Equal(t, []string{"fluid_structure"}, p.fluid.Names())

	p.disconnect(t)
}
