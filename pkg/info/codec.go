package info

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldEntry protowire.Number = 1
)

const (
	fieldKey protowire.Number = iota + 1
	fieldKind
	fieldInt
	fieldDouble
	fieldBool
	fieldString
	fieldInfo
	fieldIntList
)

// Marshal encodes the Info in protobuf wire format, entries in insertion
// order, nested Info recursively.
func Marshal(in *Info) []byte {
	return AppendMarshal(nil, in)
}

// AppendMarshal appends the encoding of in to b.
func AppendMarshal(b []byte, in *Info) []byte {
	if in == nil {
		return b
	}
	for _, key := range in.keys {
		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEntry(nil, key, in.entries[key]))
	}
	return b
}

func appendEntry(b []byte, key string, e entry) []byte {
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.kind))

	switch val := e.val.(type) {
	case int:
		b = protowire.AppendTag(b, fieldInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(val)))
	case float64:
		b = protowire.AppendTag(b, fieldDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(val))
	case bool:
		b = protowire.AppendTag(b, fieldBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(val))
	case string:
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		b = protowire.AppendString(b, val)
	case *Info:
		b = protowire.AppendTag(b, fieldInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, Marshal(val))
	case []int:
		var packed []byte
		for _, v := range val {
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(v)))
		}
		b = protowire.AppendTag(b, fieldIntList, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

// Unmarshal decodes an Info produced by [Marshal]. Unknown fields are
// skipped.
func Unmarshal(b []byte) (*Info, error) {
	out := New()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldEntry || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(n))
		}
		b = b[n:]

		key, e, err := consumeEntry(raw)
		if err != nil {
			return nil, err
		}
		out.set(key, e.kind, e.val)
	}
	return out, nil
}

func consumeEntry(b []byte) (key string, e entry, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", e, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKey && typ == protowire.BytesType:
			key, n = protowire.ConsumeString(b)
		case num == fieldKind && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			e.kind = Kind(v)
		case num == fieldInt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if n >= 0 {
				i := protowire.DecodeZigZag(v)
				if err := checkInt(i); err != nil {
					return "", e, fmt.Errorf("%w: entry %q: %w", ErrInvalidEncoding, key, err)
				}
				e.val = int(i)
			}
		case num == fieldDouble && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			e.val = math.Float64frombits(v)
		case num == fieldBool && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			e.val = protowire.DecodeBool(v)
		case num == fieldString && typ == protowire.BytesType:
			e.val, n = protowire.ConsumeString(b)
		case num == fieldInfo && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				sub, subErr := Unmarshal(raw)
				if subErr != nil {
					return "", e, subErr
				}
				e.val = sub
			}
		case num == fieldIntList && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				list, listErr := consumeIntList(raw)
				if listErr != nil {
					return "", e, listErr
				}
				e.val = list
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", e, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(n))
		}
		b = b[n:]
	}

	// Empty values are omitted by some encoders, restore them from the kind.
	if e.val == nil {
		switch e.kind {
		case KindInt:
			e.val = 0
		case KindDouble:
			e.val = 0.0
		case KindBool:
			e.val = false
		case KindString:
			e.val = ""
		case KindInfo:
			e.val = New()
		case KindIntList:
			e.val = []int{}
		}
	}
	if kindOf(e.val) != e.kind || e.kind == KindInvalid {
		return "", e, fmt.Errorf("%w: entry %q has kind %s but carries %T", ErrInvalidEncoding, key, e.kind, e.val)
	}
	return key, e, nil
}

func consumeIntList(b []byte) ([]int, error) {
	list := []int{}
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(n))
		}
		i := protowire.DecodeZigZag(v)
		if err := checkInt(i); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
		}
		list = append(list, int(i))
		b = b[n:]
	}
	return list, nil
}
