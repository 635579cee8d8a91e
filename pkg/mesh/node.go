package mesh

import (
	"fmt"
	"io"
	"strings"
)

// Node is a mesh vertex. Ghost nodes belong to another partition and carry
// its index.
type Node struct {
	id        int
	coords    [3]float64
	ghost     bool
	partition int
}

func (n *Node) ID() int {
	return n.id
}

func (n *Node) X() float64 {
	return n.coords[0]
}

func (n *Node) Y() float64 {
	return n.coords[1]
}

func (n *Node) Z() float64 {
	return n.coords[2]
}

func (n *Node) Coordinates() [3]float64 {
	return n.coords
}

func (n *Node) IsGhost() bool {
	return n.ghost
}

// PartitionIndex of the owning partition, only meaningful for ghost nodes.
func (n *Node) PartitionIndex() int {
	return n.partition
}

func (n *Node) Print(w io.Writer) error {
	_, err := fmt.Fprintf(w, "CoSimIO-Node; Id: %d\n    Coordinates: [ %v | %v | %v ]\n",
		n.id, n.coords[0], n.coords[1], n.coords[2])
	if err == nil && n.ghost {
		_, err = fmt.Fprintf(w, "    Ghost node of partition: %d\n", n.partition)
	}
	return err
}

func (n *Node) String() string {
	var sb strings.Builder
	_ = n.Print(&sb)
	return sb.String()
}
