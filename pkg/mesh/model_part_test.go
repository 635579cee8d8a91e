package mesh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestModelPart(t *testing.T) *ModelPart {
	t.Helper()
	mp, err := NewModelPart("interface")
	require.NoError(t, err)
	return mp
}

func TestModelPartName(t *testing.T) {
	_, err := NewModelPart("")
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = NewModelPart("fluid.interface")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestModelPartNodes(t *testing.T) {
	mp := newTestModelPart(t)

	n, err := mp.CreateNewNode(1, 1.0, -2.5, 3.25)
	require.NoError(t, err)
	require.Equal(t, 1, n.ID())
	require.Equal(t, [3]float64{1.0, -2.5, 3.25}, n.Coordinates())
	require.False(t, n.IsGhost())

	_, err = mp.CreateNewNode(1, 0, 0, 0)
	require.ErrorIs(t, err, ErrDuplicateID)
	require.Equal(t, 1, mp.NumberOfNodes())

	_, err = mp.CreateNewNode(-3, 0, 0, 0)
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = mp.CreateNewNode(0, 0, 0, 0)
	require.NoError(t, err, "zero is a valid id")

	got, err := mp.GetNode(1)
	require.NoError(t, err)
	require.Same(t, n, got)

	_, err = mp.GetNode(42)
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = mp.NodeAt(2)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestModelPartGhostPartition(t *testing.T) {
	mp := newTestModelPart(t)

	require.NoError(t, mp.CreateNewNodes([]int{1, 2}, []float64{0, 1}, []float64{0, 0}, []float64{0, 0}))
	_, err := mp.CreateNewGhostNode(10, 5, 5, 5, 3)
	require.NoError(t, err)
	_, err = mp.CreateNewNode(3, 2, 0, 0)
	require.NoError(t, err)
	require.NoError(t, mp.CreateNewGhostNodes([]int{11, 12}, []float64{6, 7}, []float64{0, 0}, []float64{0, 0}, []int{1, 2}))

	require.Equal(t, 6, mp.NumberOfNodes())
	require.Equal(t, 3, mp.NumberOfLocalNodes())
	require.Equal(t, 3, mp.NumberOfGhostNodes())

	var local, ghost, all []int
	for i := range mp.NumberOfLocalNodes() {
		n, err := mp.LocalNodeAt(i)
		require.NoError(t, err)
		local = append(local, n.ID())
	}
	for n := range mp.GhostNodes() {
		ghost = append(ghost, n.ID())
		require.True(t, n.IsGhost())
	}
	for n := range mp.Nodes() {
		all = append(all, n.ID())
	}
	require.Equal(t, []int{1, 2, 3}, local)
	require.Equal(t, []int{10, 11, 12}, ghost)
	require.Equal(t, []int{1, 2, 10, 3, 11, 12}, all)

	g, err := mp.GetGhostNode(11)
	require.NoError(t, err)
	require.Equal(t, 1, g.PartitionIndex())

	_, err = mp.GetGhostNode(1)
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = mp.GetLocalNode(10)
	require.ErrorIs(t, err, ErrKeyNotFound)

	// ghost and local ids share one namespace
	_, err = mp.CreateNewGhostNode(2, 0, 0, 0, 1)
	require.ErrorIs(t, err, ErrDuplicateID)
	_, err = mp.CreateNewGhostNode(99, 0, 0, 0, -1)
	require.ErrorIs(t, err, ErrInvalidPartition)
}

func TestModelPartBatchIsAtomic(t *testing.T) {
	mp := newTestModelPart(t)
	_, err := mp.CreateNewNode(2, 0, 0, 0)
	require.NoError(t, err)

	err = mp.CreateNewNodes([]int{5, 6, 2}, []float64{0, 0, 0}, []float64{0, 0, 0}, []float64{0, 0, 0})
	require.ErrorIs(t, err, ErrDuplicateID)
	require.Equal(t, 1, mp.NumberOfNodes())

	err = mp.CreateNewNodes([]int{5, 5}, []float64{0, 0}, []float64{0, 0}, []float64{0, 0})
	require.ErrorIs(t, err, ErrDuplicateID)

	err = mp.CreateNewNodes([]int{5}, []float64{0, 0}, []float64{0}, []float64{0})
	require.ErrorIs(t, err, ErrLengthMismatch)
	require.Equal(t, 1, mp.NumberOfNodes())
}

func TestModelPartElements(t *testing.T) {
	mp := newTestModelPart(t)
	require.NoError(t, mp.CreateNewNodes(
		[]int{1, 2, 3, 4},
		[]float64{0, 1, 0, 1},
		[]float64{0, 0, 1, 1},
		[]float64{0, 0, 0, 0},
	))

	e, err := mp.CreateNewElement(1, Triangle3D3, []int{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, Triangle3D3, e.Type())
	require.Equal(t, []int{1, 2, 3}, e.NodeIDs())
	n, err := e.NodeAt(1)
	require.NoError(t, err)
	require.Equal(t, 2, n.ID())

	_, err = mp.CreateNewElement(1, Line2D2, []int{1, 2})
	require.ErrorIs(t, err, ErrDuplicateID)

	_, err = mp.CreateNewElement(2, Triangle3D3, []int{1, 2, 77})
	require.ErrorIs(t, err, ErrDanglingReference)
	require.Equal(t, 1, mp.NumberOfElements())

	_, err = mp.CreateNewElement(2, Quadrilateral2D4, []int{1, 2, 3})
	require.ErrorIs(t, err, ErrNodeCountMismatch)

	_, err = mp.CreateNewElement(2, ElementType(200), []int{1})
	require.ErrorIs(t, err, ErrUnknownElementType)

	err = mp.CreateNewElements(
		[]int{2, 3},
		[]ElementType{Line2D2, Quadrilateral2D4},
		[]int{1, 2, 1, 2, 4, 3},
	)
	require.NoError(t, err)
	require.Equal(t, 3, mp.NumberOfElements())

	err = mp.CreateNewElements([]int{4, 5}, []ElementType{Point3D, Point3D}, []int{1, 99})
	require.ErrorIs(t, err, ErrDanglingReference)
	require.Equal(t, 3, mp.NumberOfElements())

	var ids []int
	for el := range mp.Elements() {
		ids = append(ids, el.ID())
	}
	require.Equal(t, []int{1, 2, 3}, ids)

	got, err := mp.GetElement(3)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 4, 3}, got.NodeIDs())
	_, err = mp.GetElement(9)
	require.ErrorIs(t, err, ErrKeyNotFound)

	mp.Clear()
	require.Equal(t, 0, mp.NumberOfNodes())
	require.Equal(t, 0, mp.NumberOfElements())
	_, err = mp.GetNode(1)
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = mp.CreateNewNode(1, 0, 0, 0)
	require.NoError(t, err)
}

func TestElementTypeCatalog(t *testing.T) {
	cases := map[ElementType]int{
		Hexahedra3D20: 20, Hexahedra3D27: 27, Hexahedra3D8: 8,
		Prism3D15: 15, Prism3D6: 6, Pyramid3D13: 13, Pyramid3D5: 5,
		Quadrilateral2D4: 4, Quadrilateral2D8: 8, Quadrilateral2D9: 9,
		Quadrilateral3D4: 4, Quadrilateral3D8: 8, Quadrilateral3D9: 9,
		Tetrahedra3D10: 10, Tetrahedra3D4: 4,
		Triangle2D3: 3, Triangle2D6: 6, Triangle3D3: 3, Triangle3D6: 6,
		Line2D2: 2, Line2D3: 3, Line3D2: 2, Line3D3: 3,
		Point2D: 1, Point3D: 1,
	}
	require.Len(t, cases, int(numElementTypes))
	for typ, nodes := range cases {
		require.Equal(t, nodes, typ.NumberOfNodes(), typ.String())

		parsed, err := ParseElementType(typ.String())
		require.NoError(t, err)
		require.Equal(t, typ, parsed)

		vtk, err := typ.VtkCellType()
		require.NoError(t, err)
		back, err := vtk.ElementType()
		require.NoError(t, err)
		require.Equal(t, nodes, back.NumberOfNodes(), "vtk mapping of %s must keep the node count", typ)
	}

	require.Equal(t, 0, ElementType(99).NumberOfNodes())
	_, err := ParseElementType("Triangle")
	require.ErrorIs(t, err, ErrUnknownElementType)
}

func TestPrint(t *testing.T) {
	mp := newTestModelPart(t)
	n, err := mp.CreateNewNode(1, 0.5, 1, -2)
	require.NoError(t, err)
	_, err = mp.CreateNewNode(2, 0, 0, 0)
	require.NoError(t, err)
	e, err := mp.CreateNewElement(7, Line3D2, []int{1, 2})
	require.NoError(t, err)

	require.Equal(t, "CoSimIO-Node; Id: 1\n    Coordinates: [ 0.5 | 1 | -2 ]\n", n.String())
	require.Equal(t, "CoSimIO-Element; Id: 7\n    Type: Line3D2\n    Number of Nodes: 2\n    Node Ids: 1, 2\n", e.String())
	require.Equal(t, "CoSimIO-ModelPart \"interface\"\n    Number of Nodes: 2\n    Number of Elements: 1\n", mp.String())

	_, err = mp.CreateNewGhostNode(3, 0, 0, 0, 1)
	require.NoError(t, err)
	require.Equal(t, "CoSimIO-ModelPart \"interface\"\n    Number of Nodes: 3\n        Local: 2\n        Ghost: 1\n    Number of Elements: 1\n", mp.String())
}
