package cosimio

import (
	"context"
	"fmt"
	"time"

	"github.com/raskyld/cosimio/internal/telemetry"
	"github.com/raskyld/cosimio/pkg/data"
	"github.com/raskyld/cosimio/pkg/info"
	"github.com/raskyld/cosimio/pkg/mesh"
	"github.com/raskyld/cosimio/pkg/transport"
)

const (
	kindData    = "data"
	kindInfo    = "info"
	kindMesh    = "mesh"
	kindControl = "control"

	directionExport = "export"
	directionImport = "import"
)

type exchangeFunc func(ctx context.Context, tr transport.Transport, identifier string) error

// exchange runs fn on a connected transport and records how long it took.
func (c *Connection) exchange(ctx context.Context, kind, direction string, settings *info.Info, fn exchangeFunc) (time.Duration, error) {
	identifier, err := checkIdentifier(settings)
	if err != nil {
		return 0, err
	}
	return c.exchangeAs(ctx, kind, direction, identifier, fn)
}

func (c *Connection) exchangeAs(ctx context.Context, kind, direction, identifier string, fn exchangeFunc) (time.Duration, error) {
	tr, err := c.connected()
	if err != nil {
		return 0, err
	}

	labels := telemetry.With(c.labels,
		telemetry.LabelKind.M(kind),
		telemetry.LabelDirection.M(direction),
	)
	start := time.Now()
	err = fn(ctx, tr, identifier)
	elapsed := time.Since(start)
	if err != nil {
		c.msink.IncrCounterWithLabels(MetricExchangeErrCount, 1.0, labels)
		c.logger.Warn("exchange failed",
			telemetry.LabelKind.L(kind),
			telemetry.LabelDirection.L(direction),
			telemetry.LabelIdentifier.L(identifier),
			telemetry.LabelError.L(err),
		)
		return elapsed, fmt.Errorf("cosimio: %s %s %q: %w", direction, kind, identifier, err)
	}

	c.msink.AddSampleWithLabels(MetricExchangeDuration, float32(elapsed.Seconds()*1000), labels)
	c.logger.Log(ctx, c.exchangeLevel(), "exchange done",
		telemetry.LabelKind.L(kind),
		telemetry.LabelDirection.L(direction),
		telemetry.LabelIdentifier.L(identifier),
		"elapsed", elapsed,
	)
	return elapsed, nil
}

func exchangeResult(elapsed time.Duration) *info.Info {
	res := info.New()
	info.Set(res, "elapsed_time", elapsed.Seconds())
	return res
}

func (c *Connection) send(ctx context.Context, tr transport.Transport, identifier string, body []byte) error {
	return tr.Send(ctx, identifier, encodePayload(body, c.settings.Compression == "zstd"))
}

func (c *Connection) receive(ctx context.Context, tr transport.Transport, identifier string) ([]byte, error) {
	raw, err := tr.Receive(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return decodePayload(raw)
}

// ExportInfo sends settings itself to the partner, identifier included.
func (c *Connection) ExportInfo(ctx context.Context, settings *info.Info) (*info.Info, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	elapsed, err := c.exchange(ctx, kindInfo, directionExport, settings,
		func(ctx context.Context, tr transport.Transport, identifier string) error {
			return c.send(ctx, tr, identifier, info.Marshal(settings))
		})
	if err != nil {
		return nil, err
	}
	return exchangeResult(elapsed), nil
}

// ImportInfo returns the Info the partner exported under the identifier of
// settings, with "elapsed_time" set to the duration of the import.
func (c *Connection) ImportInfo(ctx context.Context, settings *info.Info) (*info.Info, error) {
	var imported *info.Info
	elapsed, err := c.exchange(ctx, kindInfo, directionImport, settings,
		func(ctx context.Context, tr transport.Transport, identifier string) error {
			body, err := c.receive(ctx, tr, identifier)
			if err != nil {
				return err
			}
			imported, err = info.Unmarshal(body)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	info.Set(imported, "elapsed_time", elapsed.Seconds())
	return imported, nil
}

// ExportData sends the valid elements of values.
func (c *Connection) ExportData(ctx context.Context, settings *info.Info, values data.Container[float64]) (*info.Info, error) {
	elapsed, err := c.exchange(ctx, kindData, directionExport, settings,
		func(ctx context.Context, tr transport.Transport, identifier string) error {
			return c.send(ctx, tr, identifier, encodeDoubles(values))
		})
	if err != nil {
		return nil, err
	}
	res := exchangeResult(elapsed)
	info.Set(res, "size", values.Size())
	return res, nil
}

// ImportData resizes values to what the partner sent and fills it.
func (c *Connection) ImportData(ctx context.Context, settings *info.Info, values data.Container[float64]) (*info.Info, error) {
	elapsed, err := c.exchange(ctx, kindData, directionImport, settings,
		func(ctx context.Context, tr transport.Transport, identifier string) error {
			body, err := c.receive(ctx, tr, identifier)
			if err != nil {
				return err
			}
			received, err := decodeDoubles(body)
			if err != nil {
				return err
			}
			return data.Assign(values, received)
		})
	if err != nil {
		return nil, err
	}
	res := exchangeResult(elapsed)
	info.Set(res, "size", values.Size())
	return res, nil
}

func meshResult(elapsed time.Duration, mp *mesh.ModelPart) *info.Info {
	res := exchangeResult(elapsed)
	info.Set(res, "number_of_nodes", mp.NumberOfNodes())
	info.Set(res, "number_of_elements", mp.NumberOfElements())
	return res
}

// ExportMesh sends mp with its ids, coordinates, types and connectivities.
func (c *Connection) ExportMesh(ctx context.Context, settings *info.Info, mp *mesh.ModelPart) (*info.Info, error) {
	elapsed, err := c.exchange(ctx, kindMesh, directionExport, settings,
		func(ctx context.Context, tr transport.Transport, identifier string) error {
			return c.send(ctx, tr, identifier, mesh.Marshal(mp))
		})
	if err != nil {
		return nil, err
	}
	return meshResult(elapsed, mp), nil
}

// ImportMesh fills mp, which must be empty, with the mesh of the partner.
func (c *Connection) ImportMesh(ctx context.Context, settings *info.Info, mp *mesh.ModelPart) (*info.Info, error) {
	if mp.NumberOfNodes() > 0 || mp.NumberOfElements() > 0 {
		return nil, fmt.Errorf("%w: model part %q", mesh.ErrNotEmpty, mp.Name())
	}
	elapsed, err := c.exchange(ctx, kindMesh, directionImport, settings,
		func(ctx context.Context, tr transport.Transport, identifier string) error {
			body, err := c.receive(ctx, tr, identifier)
			if err != nil {
				return err
			}
			return mesh.Unmarshal(body, mp)
		})
	if err != nil {
		return nil, err
	}
	return meshResult(elapsed, mp), nil
}

// ExportMeshArrays exports the mesh described by flat coordinates, 0-based
// connectivities and VTK cell types. Nodes and elements are numbered from 1.
func (c *Connection) ExportMeshArrays(ctx context.Context, settings *info.Info, coords data.Container[float64], connectivities, vtkTypes data.Container[int]) (*info.Info, error) {
	identifier, err := checkIdentifier(settings)
	if err != nil {
		return nil, err
	}
	mp, err := mesh.FromArrays(identifier, coords.View(), connectivities.View(), vtkTypes.View())
	if err != nil {
		return nil, err
	}
	return c.ExportMesh(ctx, settings, mp)
}

// ImportMeshArrays imports a mesh and flattens it into the three containers,
// resizing them as needed.
func (c *Connection) ImportMeshArrays(ctx context.Context, settings *info.Info, coords data.Container[float64], connectivities, vtkTypes data.Container[int]) (*info.Info, error) {
	identifier, err := checkIdentifier(settings)
	if err != nil {
		return nil, err
	}
	mp, err := mesh.NewModelPart(identifier)
	if err != nil {
		return nil, err
	}
	res, err := c.ImportMesh(ctx, settings, mp)
	if err != nil {
		return nil, err
	}

	xyz, conn, types, err := mp.ToArrays()
	if err != nil {
		return nil, err
	}
	if err := data.Assign(coords, xyz); err != nil {
		return nil, err
	}
	if err := data.Assign(connectivities, conn); err != nil {
		return nil, err
	}
	if err := data.Assign(vtkTypes, types); err != nil {
		return nil, err
	}
	return res, nil
}
