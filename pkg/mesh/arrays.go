package mesh

import "fmt"

// FromArrays builds a ModelPart from the flat array form used by the
// language bindings: coords holds x,y,z per node, connectivities holds
// 0-based node positions per element back to back, vtkTypes one VTK cell
// type per element. Node ids are 1..N and element ids 1..M.
func FromArrays(name string, coords []float64, connectivities []int, vtkTypes []int) (*ModelPart, error) {
	if len(coords)%3 != 0 {
		return nil, fmt.Errorf("%w: %d coordinates is not a multiple of 3", ErrLengthMismatch, len(coords))
	}
	mp, err := NewModelPart(name)
	if err != nil {
		return nil, err
	}

	numNodes := len(coords) / 3
	ids := make([]int, numNodes)
	xs := make([]float64, numNodes)
	ys := make([]float64, numNodes)
	zs := make([]float64, numNodes)
	for i := range numNodes {
		ids[i] = i + 1
		xs[i], ys[i], zs[i] = coords[3*i], coords[3*i+1], coords[3*i+2]
	}
	if err := mp.CreateNewNodes(ids, xs, ys, zs); err != nil {
		return nil, err
	}

	elIDs := make([]int, len(vtkTypes))
	types := make([]ElementType, len(vtkTypes))
	for i, vtk := range vtkTypes {
		t, err := VtkCellType(vtk).ElementType()
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i+1, err)
		}
		elIDs[i] = i + 1
		types[i] = t
	}
	nodeIDs := make([]int, len(connectivities))
	for i, pos := range connectivities {
		if pos < 0 || pos >= numNodes {
			return nil, fmt.Errorf("%w: connectivity entry %d points at node position %d of %d",
				ErrDanglingReference, i, pos, numNodes)
		}
		nodeIDs[i] = pos + 1
	}
	if err := mp.CreateNewElements(elIDs, types, nodeIDs); err != nil {
		return nil, err
	}
	return mp, nil
}

// ToArrays flattens mp into the array form accepted by FromArrays.
func (mp *ModelPart) ToArrays() (coords []float64, connectivities []int, vtkTypes []int, err error) {
	position := make(map[int]int, len(mp.nodes))
	coords = make([]float64, 0, 3*len(mp.nodes))
	for i, n := range mp.nodes {
		position[n.id] = i
		coords = append(coords, n.coords[:]...)
	}

	vtkTypes = make([]int, 0, len(mp.elements))
	for _, e := range mp.elements {
		vtk, err := e.typ.VtkCellType()
		if err != nil {
			return nil, nil, nil, err
		}
		vtkTypes = append(vtkTypes, int(vtk))
		for _, n := range e.nodes {
			connectivities = append(connectivities, position[n.id])
		}
	}
	return coords, connectivities, vtkTypes, nil
}
