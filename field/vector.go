package field

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Metric holds the contravariant g^{ij} and covariant g_{ij} tensors, both symmetric
type Metric struct {
	Contra [3][3]*Field2D
	Co     [3][3]*Field2D
}

// NewMetric builds a metric from the contravariant components and inverts it pointwise
func NewMetric(g11, g22, g33, g12, g13, g23 *Field2D) (g *Metric, err error) {
	g = &Metric{}
	g.Contra = symmetric(g11, g22, g33, g12, g13, g23)
	if err = g.CalcCovariant(); err != nil {
		return nil, err
	}
	return
}

func NewIdentityMetric(nx, ny int) (g *Metric) {
	var (
		one  = func() *Field2D { return NewField2DConst(nx, ny, 1) }
		zero = func() *Field2D { return NewField2DConst(nx, ny, 0) }
	)
	g = &Metric{
		Contra: symmetric(one(), one(), one(), zero(), zero(), zero()),
		Co:     symmetric(one(), one(), one(), zero(), zero(), zero()),
	}
	return
}

func symmetric(g11, g22, g33, g12, g13, g23 *Field2D) [3][3]*Field2D {
	return [3][3]*Field2D{
		{g11, g12, g13},
		{g12, g22, g23},
		{g13, g23, g33},
	}
}

// CalcCovariant inverts g^{ij} at every point of the plane
func (g *Metric) CalcCovariant() (err error) {
	var (
		s  = g.Contra[0][0].Shape()
		nx = s.Nx
		ny = s.Ny
		G  = mat.NewDense(3, 3, nil)
		Gi = mat.NewDense(3, 3, nil)
		co [6]*Field2D
	)
	for n := range co {
		co[n] = NewField2D(nx, ny)
		co[n].Allocate()
	}
	g.Co = symmetric(co[0], co[1], co[2], co[3], co[4], co[5])
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for a := 0; a < 3; a++ {
				for b := 0; b < 3; b++ {
					G.Set(a, b, g.Contra[a][b].At(i, j))
				}
			}
			if err = Gi.Inverse(G); err != nil {
				return fmt.Errorf("metric is singular at (%d,%d): %w", i, j, err)
			}
			for a := 0; a < 3; a++ {
				for b := a; b < 3; b++ {
					g.Co[a][b].Set(i, j, Gi.At(a, b))
				}
			}
		}
	}
	return
}

// Vector3D is a 3D vector field, stored either in covariant or contravariant components
type Vector3D struct {
	X, Y, Z   *Field3D
	Covariant bool
}

func NewVector3D(nx, ny, nz int, covariant bool) *Vector3D {
	return &Vector3D{
		X:         NewField3D(nx, ny, nz),
		Y:         NewField3D(nx, ny, nz),
		Z:         NewField3D(nx, ny, nz),
		Covariant: covariant,
	}
}

func (v *Vector3D) Components() [3]Field { return [3]Field{v.X, v.Y, v.Z} }

func (v *Vector3D) IsAllocated() bool {
	return v.X.IsAllocated() && v.Y.IsAllocated() && v.Z.IsAllocated()
}

func (v *Vector3D) Allocate() { v.X.Allocate(); v.Y.Allocate(); v.Z.Allocate() }

func (v *Vector3D) ToCovariant(g *Metric) {
	if !v.Covariant {
		transform(v.Components(), g.Co)
		v.Covariant = true
	}
}

func (v *Vector3D) ToContravariant(g *Metric) {
	if v.Covariant {
		transform(v.Components(), g.Contra)
		v.Covariant = false
	}
}

// Vector2D is a vector whose components are axisymmetric
type Vector2D struct {
	X, Y, Z   *Field2D
	Covariant bool
}

func NewVector2D(nx, ny int, covariant bool) *Vector2D {
	return &Vector2D{
		X:         NewField2D(nx, ny),
		Y:         NewField2D(nx, ny),
		Z:         NewField2D(nx, ny),
		Covariant: covariant,
	}
}

func (v *Vector2D) Components() [3]Field { return [3]Field{v.X, v.Y, v.Z} }

func (v *Vector2D) IsAllocated() bool {
	return v.X.IsAllocated() && v.Y.IsAllocated() && v.Z.IsAllocated()
}

func (v *Vector2D) Allocate() { v.X.Allocate(); v.Y.Allocate(); v.Z.Allocate() }

func (v *Vector2D) ToCovariant(g *Metric) {
	if !v.Covariant {
		transform(v.Components(), g.Co)
		v.Covariant = true
	}
}

func (v *Vector2D) ToContravariant(g *Metric) {
	if v.Covariant {
		transform(v.Components(), g.Contra)
		v.Covariant = false
	}
}

// transform replaces v^a with sum_b G[a][b] v^b at every point
func transform(comps [3]Field, G [3][3]*Field2D) {
	var (
		s  = comps[0].Shape()
		vd [3][]float64
		gd [3][3][]float64
		in [3]float64
	)
	for a := 0; a < 3; a++ {
		if !comps[a].IsAllocated() {
			panic(fmt.Errorf("vector component %d is unallocated", a))
		}
		vd[a] = comps[a].Data()
		for b := 0; b < 3; b++ {
			gd[a][b] = G[a][b].Data()
		}
	}
	for ij := 0; ij < s.Nx*s.Ny; ij++ {
		for k := 0; k < s.Nz; k++ {
			ind := ij*s.Nz + k
			for a := 0; a < 3; a++ {
				in[a] = vd[a][ind]
			}
			for a := 0; a < 3; a++ {
				vd[a][ind] = gd[a][0][ij]*in[0] + gd[a][1][ij]*in[1] + gd[a][2][ij]*in[2]
			}
		}
	}
}
