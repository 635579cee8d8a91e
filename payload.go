package cosimio

import (
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/raskyld/cosimio/pkg/data"
	"github.com/raskyld/cosimio/pkg/info"
	"google.golang.org/protobuf/encoding/protowire"
)

// Every payload starts with one byte telling how the body is encoded, so
// that partners do not need to agree on compression.
const (
	payloadRaw  byte = 0x0
	payloadZstd byte = 0x1
)

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
)

func encodePayload(body []byte, compress bool) []byte {
	if compress {
		if enc, err := zstdEncoder(); err == nil {
			out := make([]byte, 1, len(body)/2+1)
			out[0] = payloadZstd
			return enc.EncodeAll(body, out)
		}
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, payloadRaw)
	return append(out, body...)
}

func decodePayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	switch payload[0] {
	case payloadRaw:
		return payload[1:], nil
	case payloadZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		body, err := dec.DecodeAll(payload[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding 0x%x", ErrInvalidPayload, payload[0])
	}
}

// encodeDoubles writes the element count followed by each value.
func encodeDoubles(values data.Container[float64]) []byte {
	view := values.View()
	b := make([]byte, 0, protowire.SizeVarint(uint64(len(view)))+8*len(view))
	b = protowire.AppendVarint(b, uint64(len(view)))
	for _, v := range view {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func decodeDoubles(b []byte) ([]float64, error) {
	count, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, protowire.ParseError(n))
	}
	b = b[n:]
	if count > uint64(len(b))/8 || uint64(len(b)) != 8*count {
		return nil, fmt.Errorf("%w: %d values announced, %d bytes left", ErrInvalidPayload, count, len(b))
	}
	values := make([]float64, count)
	for i := range values {
		v, _ := protowire.ConsumeFixed64(b[8*i:])
		values[i] = math.Float64frombits(v)
	}
	return values, nil
}

const (
	controlSignalField   protowire.Number = 1
	controlSettingsField protowire.Number = 2
)

func encodeControl(sig ControlSignal, settings *info.Info) []byte {
	var b []byte
	b = protowire.AppendTag(b, controlSignalField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(sig))
	if settings != nil && settings.Size() > 0 {
		b = protowire.AppendTag(b, controlSettingsField, protowire.BytesType)
		b = protowire.AppendBytes(b, info.Marshal(settings))
	}
	return b
}

func decodeControl(b []byte) (ControlSignal, *info.Info, error) {
	var (
		sig      ControlSignal
		seen     bool
		settings = info.New()
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == controlSignalField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return 0, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, protowire.ParseError(m))
			}
			sig, seen, n = ControlSignal(v), true, m
		case num == controlSettingsField && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return 0, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, protowire.ParseError(m))
			}
			var err error
			if settings, err = info.Unmarshal(v); err != nil {
				return 0, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	if !seen {
		return 0, nil, fmt.Errorf("%w: control frame without signal", ErrInvalidPayload)
	}
	if !sig.Valid() {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownSignal, sig)
	}
	return sig, settings, nil
}
