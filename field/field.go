package field

import (
	"fmt"

	"github.com/notargets/goplasma/types"
)

// Shape is the local extent of a field, including guard cells. 2D fields have Nz == 1.
type Shape struct {
	Nx, Ny, Nz int
}

func (s Shape) Len() int { return s.Nx * s.Ny * s.Nz }

// Index is the offset of (i,j,k) in a dense buffer, z is the fastest varying index
func (s Shape) Index(i, j, k int) int { return (i*s.Ny+j)*s.Nz + k }

// Stride is the buffer distance between neighbours in a direction
func (s Shape) Stride(dir types.Direction) int {
	switch dir {
	case types.DIR_X:
		return s.Ny * s.Nz
	case types.DIR_Y:
		return s.Nz
	default:
		return 1
	}
}

// Extent is the number of points along a direction
func (s Shape) Extent(dir types.Direction) int {
	switch dir {
	case types.DIR_X:
		return s.Nx
	case types.DIR_Y:
		return s.Ny
	default:
		return s.Nz
	}
}

func (s Shape) Plane() Shape { return Shape{s.Nx, s.Ny, 1} }

// Field is a scalar sampled on the mesh
type Field interface {
	Name() string
	Shape() Shape
	Location() types.CellLoc
	SetLocation(loc types.CellLoc)
	Data() []float64
	Is3D() bool
	IsAllocated() bool
	Allocate()
	// Empty is an allocated, zero valued field with the same dimensionality, shape and location
	Empty() Field
}

type base struct {
	name  string
	shape Shape
	loc   types.CellLoc
	data  []float64
}

func (b *base) Name() string                  { return b.name }
func (b *base) SetName(name string)           { b.name = name }
func (b *base) Shape() Shape                  { return b.shape }
func (b *base) Location() types.CellLoc       { return b.loc }
func (b *base) SetLocation(loc types.CellLoc) { b.loc = loc.Resolve() }
func (b *base) Data() []float64               { return b.data }
func (b *base) IsAllocated() bool             { return b.data != nil }

// Allocate reserves storage once, an allocated buffer is never replaced
func (b *base) Allocate() {
	if b.data == nil {
		b.data = make([]float64, b.shape.Len())
	}
}

func (b *base) Fill(val float64) {
	b.Allocate()
	for i := range b.data {
		b.data[i] = val
	}
}

func (b *base) copyFrom(src *base) {
	b.name = src.name
	b.shape = src.shape
	b.loc = src.loc
	if src.data != nil {
		b.data = make([]float64, len(src.data))
		copy(b.data, src.data)
	}
}

type Field2D struct {
	base
}

// NewField2D is an unallocated cell centred 2D field
func NewField2D(nx, ny int) *Field2D {
	return &Field2D{base{shape: Shape{nx, ny, 1}, loc: types.CELL_CENTRE}}
}

func NewField2DConst(nx, ny int, val float64) (f *Field2D) {
	f = NewField2D(nx, ny)
	f.Fill(val)
	return
}

func (f *Field2D) Is3D() bool              { return false }
func (f *Field2D) At(i, j int) float64     { return f.data[f.shape.Index(i, j, 0)] }
func (f *Field2D) Set(i, j int, v float64) { f.data[f.shape.Index(i, j, 0)] = v }
func (f *Field2D) Empty() Field            { return f.Zero() }

func (f *Field2D) Zero() (R *Field2D) {
	R = NewField2D(f.shape.Nx, f.shape.Ny)
	R.loc = f.loc
	R.Allocate()
	return
}

func (f *Field2D) Copy() (R *Field2D) {
	R = &Field2D{}
	R.copyFrom(&f.base)
	return
}

type Field3D struct {
	base
}

// NewField3D is an unallocated cell centred 3D field
func NewField3D(nx, ny, nz int) *Field3D {
	return &Field3D{base{shape: Shape{nx, ny, nz}, loc: types.CELL_CENTRE}}
}

func (f *Field3D) Is3D() bool                 { return true }
func (f *Field3D) At(i, j, k int) float64     { return f.data[f.shape.Index(i, j, k)] }
func (f *Field3D) Set(i, j, k int, v float64) { f.data[f.shape.Index(i, j, k)] = v }
func (f *Field3D) Empty() Field               { return f.Zero() }

func (f *Field3D) Zero() (R *Field3D) {
	R = NewField3D(f.shape.Nx, f.shape.Ny, f.shape.Nz)
	R.loc = f.loc
	R.Allocate()
	return
}

func (f *Field3D) Copy() (R *Field3D) {
	R = &Field3D{}
	R.copyFrom(&f.base)
	return
}

// AtPoint reads f at (i,j,k), 2D fields ignore k
func AtPoint(f Field, i, j, k int) float64 {
	s := f.Shape()
	if s.Nz == 1 {
		k = 0
	}
	return f.Data()[s.Index(i, j, k)]
}

// Promote returns an empty field able to hold a result combining a and b: 3D if either is 3D
func Promote(a, b Field) Field {
	switch {
	case a.Is3D():
		return a.Empty()
	case b.Is3D():
		R := b.Empty()
		R.SetLocation(a.Location())
		return R
	}
	return a.Empty()
}

func checkPlane(a, b Field) {
	sa, sb := a.Shape(), b.Shape()
	if sa.Nx != sb.Nx || sa.Ny != sb.Ny {
		panic(fmt.Errorf("mismatch in field planes: %s is %dx%d, %s is %dx%d",
			a.Name(), sa.Nx, sa.Ny, b.Name(), sb.Nx, sb.Ny))
	}
}
