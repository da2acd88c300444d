package Transport3D

import (
	"fmt"
	"math"

	"github.com/notargets/goplasma/derivs"
	"github.com/notargets/goplasma/field"
	"github.com/notargets/goplasma/mesh"
	"github.com/notargets/goplasma/solver"
	"github.com/notargets/goplasma/types"
)

/*
Transport of a density by a parallel flow on a field aligned mesh, x radial, y along the field
and z toroidal:

				∂n/∂t = - V^y ∂n/∂y + D (∂²n/∂x² + ∂²n/∂z²) - μ ∂⁴n/∂z⁴ - κ ∂T/∂x

				∂T/∂t = χ ∂²T/∂x²

				∂V/∂t = - c ∂V/∂z - ν V

	n is a 3D density, T an axisymmetric temperature profile and V a contravariant flow. The z
	derivative of V carries the Christoffel terms of the basis.

Initial state, with (x, y, z) the global cell centre positions in [0,1) x [0,1) x [0,2π):
				n = 1 + A exp(-(x-½)²/w²) (1 + cos z)
				T = 1 + x
				V = (0, U, 0)

Physical boundary guard cells are held at zero gradient and do not evolve.
*/

type Parameters struct {
	D, Mu, Kappa, Chi, C, Nu float64
	A, W, U                  float64
}

func DefaultParameters() Parameters {
	return Parameters{
		D:     1.e-3,
		Mu:    1.e-5,
		Kappa: 1.e-2,
		Chi:   1.e-3,
		C:     0.1,
		Nu:    0.1,
		A:     0.1,
		W:     0.1,
		U:     1,
	}
}

// NewParameters overrides the defaults by name, like "D" or "chi"
func NewParameters(model map[string]float64) (p Parameters, err error) {
	p = DefaultParameters()
	for name, v := range model {
		switch name {
		case "D", "d":
			p.D = v
		case "Mu", "mu":
			p.Mu = v
		case "Kappa", "kappa":
			p.Kappa = v
		case "Chi", "chi":
			p.Chi = v
		case "C", "c":
			p.C = v
		case "Nu", "nu":
			p.Nu = v
		case "A", "a":
			p.A = v
		case "W", "w":
			p.W = v
		case "U", "u":
			p.U = v
		default:
			return p, fmt.Errorf("unknown model parameter [%s]", name)
		}
	}
	return
}

type Transport3D struct {
	Parameters
	m        mesh.Mesh
	e        *derivs.Engine
	nxG, nyG int // Global interior size
	N, DN    *field.Field3D
	T, DT    *field.Field2D
	V, DV    *field.Vector3D
}

func NewTransport3D(m mesh.Mesh, methods derivs.Methods, p Parameters, nxGlobal, nyGlobal int) (tr *Transport3D, err error) {
	var (
		s = m.Shape()
	)
	tr = &Transport3D{
		Parameters: p,
		m:          m,
		nxG:        nxGlobal,
		nyG:        nyGlobal,
		N:          field.NewField3D(s.Nx, s.Ny, s.Nz),
		DN:         field.NewField3D(s.Nx, s.Ny, s.Nz),
		T:          field.NewField2D(s.Nx, s.Ny),
		DT:         field.NewField2D(s.Nx, s.Ny),
		V:          field.NewVector3D(s.Nx, s.Ny, s.Nz, false),
		DV:         field.NewVector3D(s.Nx, s.Ny, s.Nz, false),
	}
	if tr.e, err = derivs.NewEngine(m, methods); err != nil {
		return nil, err
	}
	tr.initialize()
	return
}

func (tr *Transport3D) initialize() {
	var (
		s = tr.m.Shape()
	)
	tr.N.Allocate()
	tr.T.Allocate()
	tr.V.Allocate()
	for i := 0; i < s.Nx; i++ {
		x := (float64(tr.m.GlobalX(i)) + 0.5) / float64(tr.nxG)
		for j := 0; j < s.Ny; j++ {
			tr.T.Set(i, j, 1+x)
			for k := 0; k < s.Nz; k++ {
				z := 2 * math.Pi * float64(k) / float64(s.Nz)
				tr.N.Set(i, j, k, 1+tr.A*math.Exp(-(x-0.5)*(x-0.5)/(tr.W*tr.W))*(1+math.Cos(z)))
				tr.V.Y.Set(i, j, k, tr.U)
			}
		}
	}
}

// Register adds the evolving variables, n and V are 3D, T is 2D
func (tr *Transport3D) Register(reg *solver.Registry) (err error) {
	if err = reg.Add3D("n", tr.N, tr.DN); err != nil {
		return
	}
	if err = reg.Add2D("T", tr.T, tr.DT); err != nil {
		return
	}
	return reg.AddVector3D("V", tr.V, tr.DV)
}

// RHS computes the time derivatives of the registered variables, it is collective
func (tr *Transport3D) RHS(t float64) (err error) {
	var (
		e   = tr.e
		def = types.CELL_DEFAULT
		dm  = types.DIFF_DEFAULT
	)
	for _, f := range []field.Field{tr.N, tr.T, tr.V.X, tr.V.Y, tr.V.Z} {
		tr.zeroGradient(f)
	}
	if err = tr.m.Communicate(tr.N, tr.T, tr.V.X, tr.V.Y, tr.V.Z); err != nil {
		return
	}

	dn := e.VDDY(tr.V.Y, tr.N, def, dm)
	field.Scale(dn, -1)
	field.AddScaledTo(dn, tr.D, e.D2DX2(tr.N, def, dm))
	field.AddScaledTo(dn, tr.D, e.D2DZ2(tr.N, def, dm))
	field.AddScaledTo(dn, -tr.Mu, e.D4DZ4(tr.N))
	field.AddScaledTo(dn, -tr.Kappa, e.DDX(tr.T, def, dm))
	store(tr.DN, dn)

	dT := e.D2DX2(tr.T, def, dm)
	field.Scale(dT, tr.Chi)
	store(tr.DT, dT)

	dV := e.DDZVector(tr.V, def, dm)
	tr.DV.Covariant = dV.Covariant
	for a, c := range dV.Components() {
		field.Scale(c, -tr.C)
		field.AddScaledTo(c, -tr.Nu, tr.V.Components()[a])
		tr.guardsToZero(c)
		store(tr.DV.Components()[a], c)
	}
	tr.guardsToZero(tr.DN)
	tr.guardsToZero(tr.DT)
	return
}

// store copies a result into a registered derivative, which must keep its identity
func store(dst, src field.Field) {
	dst.Allocate()
	copy(dst.Data(), src.Data())
	dst.SetLocation(src.Location())
}

// zeroGradient copies the outermost interior values into the physical boundary guard cells
func (tr *Transport3D) zeroGradient(f field.Field) {
	var (
		m  = tr.m
		s  = f.Shape()
		fd = f.Data()
	)
	set := func(i, j, iFrom, jFrom int) {
		for k := 0; k < s.Nz; k++ {
			fd[s.Index(i, j, k)] = fd[s.Index(iFrom, jFrom, k)]
		}
	}
	for j := m.YStart(); j <= m.YEnd(); j++ {
		if m.FirstX() {
			for i := 0; i < m.XStart(); i++ {
				set(i, j, m.XStart(), j)
			}
		}
		if m.LastX() {
			for i := m.XEnd() + 1; i < s.Nx; i++ {
				set(i, j, m.XEnd(), j)
			}
		}
	}
	for _, i := range m.BoundaryLowerY() {
		for j := 0; j < m.YStart(); j++ {
			set(i, j, i, m.YStart())
		}
	}
	for _, i := range m.BoundaryUpperY() {
		for j := m.YEnd() + 1; j < s.Ny; j++ {
			set(i, j, i, m.YEnd())
		}
	}
}

// guardsToZero clears every point outside the interior
func (tr *Transport3D) guardsToZero(f field.Field) {
	var (
		m  = tr.m
		s  = f.Shape()
		fd = f.Data()
	)
	for i := 0; i < s.Nx; i++ {
		for j := 0; j < s.Ny; j++ {
			if i >= m.XStart() && i <= m.XEnd() && j >= m.YStart() && j <= m.YEnd() {
				continue
			}
			for k := 0; k < s.Nz; k++ {
				fd[s.Index(i, j, k)] = 0
			}
		}
	}
}

// Mass is the sum of n over the local interior
func (tr *Transport3D) Mass() (sum float64) {
	var (
		m = tr.m
		s = tr.N.Shape()
	)
	for i := m.XStart(); i <= m.XEnd(); i++ {
		for j := m.YStart(); j <= m.YEnd(); j++ {
			for k := 0; k < s.Nz; k++ {
				sum += tr.N.At(i, j, k)
			}
		}
	}
	return
}
