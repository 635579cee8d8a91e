// Package mesh holds the in-memory mesh exchanged between coupled solvers:
// nodes split into local and ghost subsets, and elements whose connectivity
// references nodes of the same ModelPart.
package mesh

import (
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
)

// ModelPart owns nodes and elements. Entries are reachable by id through a
// hash index and by position in creation order. It is not safe for
// concurrent mutation.
type ModelPart struct {
	name string

	nodes      []*Node
	localNodes []*Node
	ghostNodes []*Node
	nodeIndex  map[int]*Node

	elements     []*Element
	elementIndex map[int]*Element
}

func NewModelPart(name string) (*ModelPart, error) {
	if name == "" || strings.Contains(name, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return &ModelPart{
		name:         name,
		nodeIndex:    make(map[int]*Node),
		elementIndex: make(map[int]*Element),
	}, nil
}

func (mp *ModelPart) Name() string {
	return mp.name
}

func (mp *ModelPart) checkNewNode(id int) error {
	if id < 0 {
		return fmt.Errorf("%w: node %d", ErrInvalidID, id)
	}
	if _, exists := mp.nodeIndex[id]; exists {
		return fmt.Errorf("%w: node %d", ErrDuplicateID, id)
	}
	return nil
}

func (mp *ModelPart) addNode(n *Node) {
	mp.nodes = append(mp.nodes, n)
	if n.ghost {
		mp.ghostNodes = append(mp.ghostNodes, n)
	} else {
		mp.localNodes = append(mp.localNodes, n)
	}
	mp.nodeIndex[n.id] = n
}

// CreateNewNode adds a local node. Ids are shared with ghost nodes.
func (mp *ModelPart) CreateNewNode(id int, x, y, z float64) (*Node, error) {
	if err := mp.checkNewNode(id); err != nil {
		return nil, err
	}
	n := &Node{id: id, coords: [3]float64{x, y, z}}
	mp.addNode(n)
	return n, nil
}

// CreateNewGhostNode adds a node owned by partition partitionIndex.
func (mp *ModelPart) CreateNewGhostNode(id int, x, y, z float64, partitionIndex int) (*Node, error) {
	if err := mp.checkNewNode(id); err != nil {
		return nil, err
	}
	if partitionIndex < 0 {
		return nil, fmt.Errorf("%w: node %d", ErrInvalidPartition, id)
	}
	n := &Node{id: id, coords: [3]float64{x, y, z}, ghost: true, partition: partitionIndex}
	mp.addNode(n)
	return n, nil
}

// CreateNewNodes adds len(ids) local nodes. Either all nodes are added or
// none.
func (mp *ModelPart) CreateNewNodes(ids []int, xs, ys, zs []float64) error {
	return mp.createNodes(ids, xs, ys, zs, nil)
}

// CreateNewGhostNodes is the ghost counterpart of CreateNewNodes.
func (mp *ModelPart) CreateNewGhostNodes(ids []int, xs, ys, zs []float64, partitionIndices []int) error {
	if len(partitionIndices) != len(ids) {
		return fmt.Errorf("%w: %d ids, %d partition indices", ErrLengthMismatch, len(ids), len(partitionIndices))
	}
	for i, p := range partitionIndices {
		if p < 0 {
			return fmt.Errorf("%w: node %d", ErrInvalidPartition, ids[i])
		}
	}
	return mp.createNodes(ids, xs, ys, zs, partitionIndices)
}

func (mp *ModelPart) createNodes(ids []int, xs, ys, zs []float64, partitions []int) error {
	if len(xs) != len(ids) || len(ys) != len(ids) || len(zs) != len(ids) {
		return fmt.Errorf("%w: %d ids, %d/%d/%d coordinates", ErrLengthMismatch, len(ids), len(xs), len(ys), len(zs))
	}
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if err := mp.checkNewNode(id); err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: node %d", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	for i, id := range ids {
		n := &Node{id: id, coords: [3]float64{xs[i], ys[i], zs[i]}}
		if partitions != nil {
			n.ghost = true
			n.partition = partitions[i]
		}
		mp.addNode(n)
	}
	return nil
}

func (mp *ModelPart) newElement(id int, typ ElementType, nodeIDs []int) (*Element, error) {
	if id < 0 {
		return nil, fmt.Errorf("%w: element %d", ErrInvalidID, id)
	}
	if _, exists := mp.elementIndex[id]; exists {
		return nil, fmt.Errorf("%w: element %d", ErrDuplicateID, id)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: element %d has type %d", ErrUnknownElementType, id, uint8(typ))
	}
	if len(nodeIDs) != typ.NumberOfNodes() {
		return nil, fmt.Errorf("%w: element %d of type %s needs %d nodes, got %d",
			ErrNodeCountMismatch, id, typ, typ.NumberOfNodes(), len(nodeIDs))
	}
	nodes := make([]*Node, len(nodeIDs))
	for i, nodeID := range nodeIDs {
		n, ok := mp.nodeIndex[nodeID]
		if !ok {
			return nil, fmt.Errorf("%w: element %d, node %d", ErrDanglingReference, id, nodeID)
		}
		nodes[i] = n
	}
	return &Element{id: id, typ: typ, nodes: nodes}, nil
}

func (mp *ModelPart) addElement(e *Element) {
	mp.elements = append(mp.elements, e)
	mp.elementIndex[e.id] = e
}

// CreateNewElement adds an element whose connectivity references existing
// nodes by id.
func (mp *ModelPart) CreateNewElement(id int, typ ElementType, nodeIDs []int) (*Element, error) {
	e, err := mp.newElement(id, typ, nodeIDs)
	if err != nil {
		return nil, err
	}
	mp.addElement(e)
	return e, nil
}

// CreateNewElements adds len(ids) elements. connectivities holds the node
// ids of every element back to back. Either all elements are added or none.
func (mp *ModelPart) CreateNewElements(ids []int, types []ElementType, connectivities []int) error {
	if len(types) != len(ids) {
		return fmt.Errorf("%w: %d ids, %d types", ErrLengthMismatch, len(ids), len(types))
	}
	created := make([]*Element, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	offset := 0
	for i, id := range ids {
		count := types[i].NumberOfNodes()
		if offset+count > len(connectivities) {
			return fmt.Errorf("%w: connectivities end before element %d", ErrNodeCountMismatch, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: element %d", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		e, err := mp.newElement(id, types[i], connectivities[offset:offset+count])
		if err != nil {
			return err
		}
		created = append(created, e)
		offset += count
	}
	if offset != len(connectivities) {
		return fmt.Errorf("%w: %d trailing connectivity entries", ErrNodeCountMismatch, len(connectivities)-offset)
	}
	for _, e := range created {
		mp.addElement(e)
	}
	return nil
}

func (mp *ModelPart) NumberOfNodes() int {
	return len(mp.nodes)
}

func (mp *ModelPart) NumberOfLocalNodes() int {
	return len(mp.localNodes)
}

func (mp *ModelPart) NumberOfGhostNodes() int {
	return len(mp.ghostNodes)
}

func (mp *ModelPart) NumberOfElements() int {
	return len(mp.elements)
}

func at[T any](items []T, i int, what string) (T, error) {
	if i < 0 || i >= len(items) {
		var zero T
		return zero, fmt.Errorf("%w: %s %d of %d", ErrIndexOutOfRange, what, i, len(items))
	}
	return items[i], nil
}

// NodeAt indexes every node, local and ghost, in creation order.
func (mp *ModelPart) NodeAt(i int) (*Node, error) {
	return at(mp.nodes, i, "node")
}

func (mp *ModelPart) LocalNodeAt(i int) (*Node, error) {
	return at(mp.localNodes, i, "local node")
}

func (mp *ModelPart) GhostNodeAt(i int) (*Node, error) {
	return at(mp.ghostNodes, i, "ghost node")
}

func (mp *ModelPart) ElementAt(i int) (*Element, error) {
	return at(mp.elements, i, "element")
}

func (mp *ModelPart) GetNode(id int) (*Node, error) {
	n, ok := mp.nodeIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %d", ErrKeyNotFound, id)
	}
	return n, nil
}

func (mp *ModelPart) GetLocalNode(id int) (*Node, error) {
	n, err := mp.GetNode(id)
	if err == nil && n.ghost {
		return nil, fmt.Errorf("%w: node %d is a ghost", ErrKeyNotFound, id)
	}
	return n, err
}

func (mp *ModelPart) GetGhostNode(id int) (*Node, error) {
	n, err := mp.GetNode(id)
	if err == nil && !n.ghost {
		return nil, fmt.Errorf("%w: node %d is local", ErrKeyNotFound, id)
	}
	return n, err
}

func (mp *ModelPart) GetElement(id int) (*Element, error) {
	e, ok := mp.elementIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: element %d", ErrKeyNotFound, id)
	}
	return e, nil
}

func (mp *ModelPart) Nodes() iter.Seq[*Node] {
	return slices.Values(mp.nodes)
}

func (mp *ModelPart) LocalNodes() iter.Seq[*Node] {
	return slices.Values(mp.localNodes)
}

func (mp *ModelPart) GhostNodes() iter.Seq[*Node] {
	return slices.Values(mp.ghostNodes)
}

func (mp *ModelPart) Elements() iter.Seq[*Element] {
	return slices.Values(mp.elements)
}

// Clear drops every node and element. Nodes and elements obtained before
// must not be used with this ModelPart anymore.
func (mp *ModelPart) Clear() {
	mp.nodes = nil
	mp.localNodes = nil
	mp.ghostNodes = nil
	mp.elements = nil
	clear(mp.nodeIndex)
	clear(mp.elementIndex)
}

func (mp *ModelPart) Print(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CoSimIO-ModelPart %q\n    Number of Nodes: %d\n", mp.name, len(mp.nodes))
	if len(mp.ghostNodes) > 0 {
		fmt.Fprintf(&sb, "        Local: %d\n        Ghost: %d\n", len(mp.localNodes), len(mp.ghostNodes))
	}
	fmt.Fprintf(&sb, "    Number of Elements: %d\n", len(mp.elements))
	_, err := io.WriteString(w, sb.String())
	return err
}

func (mp *ModelPart) String() string {
	var sb strings.Builder
	_ = mp.Print(&sb)
	return sb.String()
}
