package mesh

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// Element references, without owning, the nodes of its ModelPart.
type Element struct {
	id    int
	typ   ElementType
	nodes []*Node
}

func (e *Element) ID() int {
	return e.id
}

func (e *Element) Type() ElementType {
	return e.typ
}

func (e *Element) NumberOfNodes() int {
	return len(e.nodes)
}

// Nodes in connectivity order.
func (e *Element) Nodes() []*Node {
	return slices.Clone(e.nodes)
}

func (e *Element) NodeAt(i int) (*Node, error) {
	if i < 0 || i >= len(e.nodes) {
		return nil, fmt.Errorf("%w: node %d of element %d", ErrIndexOutOfRange, i, e.id)
	}
	return e.nodes[i], nil
}

// NodeIDs in connectivity order.
func (e *Element) NodeIDs() []int {
	ids := make([]int, len(e.nodes))
	for i, n := range e.nodes {
		ids[i] = n.id
	}
	return ids
}

func (e *Element) Print(w io.Writer) error {
	ids := make([]string, len(e.nodes))
	for i, n := range e.nodes {
		ids[i] = strconv.Itoa(n.id)
	}
	_, err := fmt.Fprintf(w, "CoSimIO-Element; Id: %d\n    Type: %s\n    Number of Nodes: %d\n    Node Ids: %s\n",
		e.id, e.typ, len(e.nodes), strings.Join(ids, ", "))
	return err
}

func (e *Element) String() string {
	var sb strings.Builder
	_ = e.Print(&sb)
	return sb.String()
}
