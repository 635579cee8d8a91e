package mesh

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldName protowire.Number = iota + 1
	fieldNodeCount
	fieldNodeIDs
	fieldCoordinates
	fieldPartitions
	fieldElementCount
	fieldElementIDs
	fieldElementTypes
	fieldConnectivityLengths
	fieldConnectivities
)

// localPartition marks a local node in the partition column.
const localPartition = -1

// Marshal encodes mp in protobuf wire format. Nodes keep their creation
// order, local and ghost interleaved; elements keep theirs.
func Marshal(mp *ModelPart) []byte {
	var (
		ids        = make([]int, len(mp.nodes))
		coords     = make([]float64, 0, 3*len(mp.nodes))
		partitions = make([]int, len(mp.nodes))
	)
	for i, n := range mp.nodes {
		ids[i] = n.id
		coords = append(coords, n.coords[:]...)
		partitions[i] = localPartition
		if n.ghost {
			partitions[i] = n.partition
		}
	}

	var (
		elIDs   = make([]int, len(mp.elements))
		elTypes = make([]int, len(mp.elements))
		lengths = make([]int, len(mp.elements))
		conn    []int
	)
	for i, e := range mp.elements {
		elIDs[i] = e.id
		elTypes[i] = int(e.typ)
		lengths[i] = len(e.nodes)
		for _, n := range e.nodes {
			conn = append(conn, n.id)
		}
	}

	var b []byte
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, mp.name)
	b = protowire.AppendTag(b, fieldNodeCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(mp.nodes)))
	b = appendPackedInts(b, fieldNodeIDs, ids)
	b = appendPackedDoubles(b, fieldCoordinates, coords)
	b = appendPackedInts(b, fieldPartitions, partitions)
	b = protowire.AppendTag(b, fieldElementCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(mp.elements)))
	b = appendPackedInts(b, fieldElementIDs, elIDs)
	b = appendPackedInts(b, fieldElementTypes, elTypes)
	b = appendPackedInts(b, fieldConnectivityLengths, lengths)
	b = appendPackedInts(b, fieldConnectivities, conn)
	return b
}

type wireModelPart struct {
	name         string
	nodeCount    uint64
	nodeIDs      []int
	coords       []float64
	partitions   []int
	elementCount uint64
	elementIDs   []int
	elementTypes []int
	lengths      []int
	conn         []int
}

// Unmarshal decodes b into mp, which must be empty. On failure mp is left
// empty.
func Unmarshal(b []byte, mp *ModelPart) (err error) {
	if mp.NumberOfNodes() != 0 || mp.NumberOfElements() != 0 {
		return fmt.Errorf("%w: %q", ErrNotEmpty, mp.name)
	}
	defer func() {
		if err != nil {
			mp.Clear()
		}
	}()

	w, err := consumeModelPart(b)
	if err != nil {
		return err
	}
	if int(w.nodeCount) != len(w.nodeIDs) || 3*len(w.nodeIDs) != len(w.coords) || len(w.partitions) != len(w.nodeIDs) {
		return fmt.Errorf("%w: %d nodes announced, %d ids, %d coordinates, %d partitions",
			ErrInvalidEncoding, w.nodeCount, len(w.nodeIDs), len(w.coords), len(w.partitions))
	}
	if int(w.elementCount) != len(w.elementIDs) || len(w.elementTypes) != len(w.elementIDs) || len(w.lengths) != len(w.elementIDs) {
		return fmt.Errorf("%w: %d elements announced, %d ids, %d types, %d lengths",
			ErrInvalidEncoding, w.elementCount, len(w.elementIDs), len(w.elementTypes), len(w.lengths))
	}

	for i, id := range w.nodeIDs {
		x, y, z := w.coords[3*i], w.coords[3*i+1], w.coords[3*i+2]
		if w.partitions[i] == localPartition {
			_, err = mp.CreateNewNode(id, x, y, z)
		} else {
			_, err = mp.CreateNewGhostNode(id, x, y, z, w.partitions[i])
		}
		if err != nil {
			return err
		}
	}

	offset := 0
	for i, id := range w.elementIDs {
		length := w.lengths[i]
		if length < 0 || offset+length > len(w.conn) {
			return fmt.Errorf("%w: connectivity of element %d overflows", ErrInvalidEncoding, id)
		}
		raw := w.elementTypes[i]
		if raw < 0 || raw >= int(numElementTypes) {
			return fmt.Errorf("%w: element %d has type %d: %w", ErrInvalidEncoding, id, raw, ErrUnknownElementType)
		}
		if _, err = mp.CreateNewElement(id, ElementType(raw), w.conn[offset:offset+length]); err != nil {
			return err
		}
		offset += length
	}
	if offset != len(w.conn) {
		return fmt.Errorf("%w: %d trailing connectivity entries", ErrInvalidEncoding, len(w.conn)-offset)
	}
	return nil
}

func consumeModelPart(b []byte) (*wireModelPart, error) {
	w := &wireModelPart{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(n))
		}
		b = b[n:]

		var err error
		switch {
		case num == fieldName && typ == protowire.BytesType:
			w.name, n = protowire.ConsumeString(b)
		case num == fieldNodeCount && typ == protowire.VarintType:
			w.nodeCount, n = protowire.ConsumeVarint(b)
		case num == fieldElementCount && typ == protowire.VarintType:
			w.elementCount, n = protowire.ConsumeVarint(b)
		case num == fieldCoordinates && typ == protowire.BytesType:
			w.coords, n, err = consumePackedDoubles(b)
		case typ == protowire.BytesType && num >= fieldNodeIDs && num <= fieldConnectivities:
			var list []int
			list, n, err = consumePackedInts(b)
			switch num {
			case fieldNodeIDs:
				w.nodeIDs = list
			case fieldPartitions:
				w.partitions = list
			case fieldElementIDs:
				w.elementIDs = list
			case fieldElementTypes:
				w.elementTypes = list
			case fieldConnectivityLengths:
				w.lengths = list
			case fieldConnectivities:
				w.conn = list
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return w, nil
}

func appendPackedInts(b []byte, num protowire.Number, values []int) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(v)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendPackedDoubles(b []byte, num protowire.Number, values []float64) []byte {
	packed := make([]byte, 0, 8*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func consumePackedInts(b []byte) ([]int, int, error) {
	raw, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n, nil
	}
	values := make([]int, 0, len(raw))
	for len(raw) > 0 {
		v, m := protowire.ConsumeVarint(raw)
		if m < 0 {
			return nil, n, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(m))
		}
		values = append(values, int(protowire.DecodeZigZag(v)))
		raw = raw[m:]
	}
	return values, n, nil
}

func consumePackedDoubles(b []byte) ([]float64, int, error) {
	raw, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n, nil
	}
	if len(raw)%8 != 0 {
		return nil, n, fmt.Errorf("%w: packed doubles of %d bytes", ErrInvalidEncoding, len(raw))
	}
	values := make([]float64, 0, len(raw)/8)
	for len(raw) > 0 {
		v, m := protowire.ConsumeFixed64(raw)
		if m < 0 {
			return nil, n, fmt.Errorf("%w: %w", ErrInvalidEncoding, protowire.ParseError(m))
		}
		values = append(values, math.Float64frombits(v))
		raw = raw[m:]
	}
	return values, n, nil
}
