package mesh

import "fmt"

// ElementType is the geometric family of an element. Values are stable and
// used on the wire.
type ElementType uint8

const (
	Hexahedra3D20 ElementType = iota
	Hexahedra3D27
	Hexahedra3D8
	Prism3D15
	Prism3D6
	Pyramid3D13
	Pyramid3D5
	Quadrilateral2D4
	Quadrilateral2D8
	Quadrilateral2D9
	Quadrilateral3D4
	Quadrilateral3D8
	Quadrilateral3D9
	Tetrahedra3D10
	Tetrahedra3D4
	Triangle2D3
	Triangle2D6
	Triangle3D3
	Triangle3D6
	Line2D2
	Line2D3
	Line3D2
	Line3D3
	Point2D
	Point3D

	numElementTypes
)

type elementTypeInfo struct {
	name     string
	numNodes int
	vtk      VtkCellType
}

var elementTypes = [numElementTypes]elementTypeInfo{
	Hexahedra3D20:    {"Hexahedra3D20", 20, VtkQuadraticHexahedron},
	Hexahedra3D27:    {"Hexahedra3D27", 27, VtkTriquadraticHexahedron},
	Hexahedra3D8:     {"Hexahedra3D8", 8, VtkHexahedron},
	Prism3D15:        {"Prism3D15", 15, VtkQuadraticWedge},
	Prism3D6:         {"Prism3D6", 6, VtkWedge},
	Pyramid3D13:      {"Pyramid3D13", 13, VtkQuadraticPyramid},
	Pyramid3D5:       {"Pyramid3D5", 5, VtkPyramid},
	Quadrilateral2D4: {"Quadrilateral2D4", 4, VtkQuad},
	Quadrilateral2D8: {"Quadrilateral2D8", 8, VtkQuadraticQuad},
	Quadrilateral2D9: {"Quadrilateral2D9", 9, VtkBiquadraticQuad},
	Quadrilateral3D4: {"Quadrilateral3D4", 4, VtkQuad},
	Quadrilateral3D8: {"Quadrilateral3D8", 8, VtkQuadraticQuad},
	Quadrilateral3D9: {"Quadrilateral3D9", 9, VtkBiquadraticQuad},
	Tetrahedra3D10:   {"Tetrahedra3D10", 10, VtkQuadraticTetra},
	Tetrahedra3D4:    {"Tetrahedra3D4", 4, VtkTetra},
	Triangle2D3:      {"Triangle2D3", 3, VtkTriangle},
	Triangle2D6:      {"Triangle2D6", 6, VtkQuadraticTriangle},
	Triangle3D3:      {"Triangle3D3", 3, VtkTriangle},
	Triangle3D6:      {"Triangle3D6", 6, VtkQuadraticTriangle},
	Line2D2:          {"Line2D2", 2, VtkLine},
	Line2D3:          {"Line2D3", 3, VtkQuadraticEdge},
	Line3D2:          {"Line3D2", 2, VtkLine},
	Line3D3:          {"Line3D3", 3, VtkQuadraticEdge},
	Point2D:          {"Point2D", 1, VtkVertex},
	Point3D:          {"Point3D", 1, VtkVertex},
}

func (t ElementType) Valid() bool {
	return t < numElementTypes
}

func (t ElementType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ElementType(%d)", uint8(t))
	}
	return elementTypes[t].name
}

// NumberOfNodes is the exact connectivity length required for t, or 0 for
// an unknown type.
func (t ElementType) NumberOfNodes() int {
	if !t.Valid() {
		return 0
	}
	return elementTypes[t].numNodes
}

// VtkCellType maps t onto the VTK cell catalog.
func (t ElementType) VtkCellType() (VtkCellType, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownElementType, uint8(t))
	}
	return elementTypes[t].vtk, nil
}

// ParseElementType resolves a name such as "Triangle3D3".
func ParseElementType(name string) (ElementType, error) {
	for t, meta := range elementTypes {
		if meta.name == name {
			return ElementType(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownElementType, name)
}

// VtkCellType identifies a cell in the VTK file format catalog.
type VtkCellType int

const (
	VtkVertex                 VtkCellType = 1
	VtkLine                   VtkCellType = 3
	VtkTriangle               VtkCellType = 5
	VtkQuad                   VtkCellType = 9
	VtkTetra                  VtkCellType = 10
	VtkHexahedron             VtkCellType = 12
	VtkWedge                  VtkCellType = 13
	VtkPyramid                VtkCellType = 14
	VtkQuadraticEdge          VtkCellType = 21
	VtkQuadraticTriangle      VtkCellType = 22
	VtkQuadraticQuad          VtkCellType = 23
	VtkQuadraticTetra         VtkCellType = 24
	VtkQuadraticHexahedron    VtkCellType = 25
	VtkQuadraticWedge         VtkCellType = 26
	VtkQuadraticPyramid       VtkCellType = 27
	VtkBiquadraticQuad        VtkCellType = 28
	VtkTriquadraticHexahedron VtkCellType = 29
)

// cells that exist in 2D and 3D resolve to the 3D element
var vtkToElementType = map[VtkCellType]ElementType{
	VtkVertex:                 Point3D,
	VtkLine:                   Line3D2,
	VtkTriangle:               Triangle3D3,
	VtkQuad:                   Quadrilateral3D4,
	VtkTetra:                  Tetrahedra3D4,
	VtkHexahedron:             Hexahedra3D8,
	VtkWedge:                  Prism3D6,
	VtkPyramid:                Pyramid3D5,
	VtkQuadraticEdge:          Line3D3,
	VtkQuadraticTriangle:      Triangle3D6,
	VtkQuadraticQuad:          Quadrilateral3D8,
	VtkQuadraticTetra:         Tetrahedra3D10,
	VtkQuadraticHexahedron:    Hexahedra3D20,
	VtkQuadraticWedge:         Prism3D15,
	VtkQuadraticPyramid:       Pyramid3D13,
	VtkBiquadraticQuad:        Quadrilateral3D9,
	VtkTriquadraticHexahedron: Hexahedra3D27,
}

// ElementType returns the element type for a VTK cell.
func (c VtkCellType) ElementType() (ElementType, error) {
	t, ok := vtkToElementType[c]
	if !ok {
		return 0, fmt.Errorf("%w: vtk cell %d", ErrUnknownElementType, int(c))
	}
	return t, nil
}
