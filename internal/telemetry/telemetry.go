// Package telemetry holds the label type shared by every package emitting
// structured logs and metrics.
package telemetry

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

type Label string

var (
	LabelConnection Label = "connection_name"
	LabelDirection  Label = "direction"
	LabelError      Label = "error"
	LabelFormat     Label = "communication_format"
	LabelIdentifier Label = "identifier"
	LabelKind       Label = "kind"
	LabelPeerAddr   Label = "peer_addr"
	LabelRole       Label = "role"
	LabelSignal     Label = "signal"
)

func (lab Label) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab Label) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

// With returns a copy of base extended with extra, never aliasing base.
func With(base []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
