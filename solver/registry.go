package solver

import (
	"errors"
	"fmt"

	"github.com/notargets/goplasma/field"
	"github.com/notargets/goplasma/mesh"
	"github.com/notargets/goplasma/types"
)

var (
	ErrUnallocated   = errors.New("field storage is unallocated")
	ErrSealed        = errors.New("registry is sealed")
	ErrState         = errors.New("invalid solver state")
	ErrLength        = errors.New("buffer length mismatch")
	ErrStopRequested = errors.New("stop requested by monitor")
	ErrPeerFailed    = errors.New("another subdomain failed")
)

type Var2D struct {
	Name   string
	F, DDt *field.Field2D
}

type Var3D struct {
	Name   string
	F, DDt *field.Field3D
	// Location is where both F and DDt live once packed
	Location types.CellLoc
}

type VarVector2D struct {
	Name      string
	V, DDt    *field.Vector2D
	Covariant bool
}

type VarVector3D struct {
	Name      string
	V, DDt    *field.Vector3D
	Covariant bool
}

// Registry owns the ordered list of evolving variables of one subdomain and converts between
// them and a flat state vector. The canonical order is fixed when the registry is sealed:
// 2D scalars, then 2D vector components, then 3D scalars, then 3D vector components.
type Registry struct {
	m      mesh.Mesh
	f2d    []*Var2D
	f3d    []*Var3D
	v2d    []*VarVector2D
	v3d    []*VarVector3D
	sealed bool
	list2D []*Var2D
	list3D []*Var3D
}

func NewRegistry(m mesh.Mesh) *Registry {
	return &Registry{m: m}
}

func (r *Registry) Mesh() mesh.Mesh { return r.m }

func (r *Registry) checkOpen(name string) error {
	if r.sealed {
		return fmt.Errorf("adding %q: %w", name, ErrSealed)
	}
	return nil
}

func (r *Registry) checkPlane(name string, s field.Shape) error {
	ms := r.m.Shape()
	if s.Nx != ms.Nx || s.Ny != ms.Ny {
		return fmt.Errorf("variable %q has plane %dx%d, mesh is %dx%d", name, s.Nx, s.Ny, ms.Nx, ms.Ny)
	}
	return nil
}

// Add2D registers an evolving 2D scalar. A nil ddt is created to match f.
func (r *Registry) Add2D(name string, f, ddt *field.Field2D) (err error) {
	if err = r.checkOpen(name); err != nil {
		return
	}
	if err = r.checkPlane(name, f.Shape()); err != nil {
		return
	}
	f.SetName(name)
	if ddt == nil {
		ddt = field.NewField2D(f.Shape().Nx, f.Shape().Ny)
	}
	ddt.SetName("ddt(" + name + ")")
	r.f2d = append(r.f2d, &Var2D{Name: name, F: f, DDt: ddt})
	return
}

// Add3D registers an evolving 3D scalar, its current location is the declared location
func (r *Registry) Add3D(name string, f, ddt *field.Field3D) (err error) {
	if err = r.checkOpen(name); err != nil {
		return
	}
	s := f.Shape()
	if err = r.checkPlane(name, s); err != nil {
		return
	}
	if s.Nz != r.m.Shape().Nz {
		return fmt.Errorf("variable %q has %d z planes, mesh has %d", name, s.Nz, r.m.Shape().Nz)
	}
	f.SetName(name)
	if ddt == nil {
		ddt = field.NewField3D(s.Nx, s.Ny, s.Nz)
		ddt.SetLocation(f.Location())
	}
	ddt.SetName("ddt(" + name + ")")
	r.f3d = append(r.f3d, &Var3D{Name: name, F: f, DDt: ddt, Location: f.Location()})
	return
}

func (r *Registry) AddVector2D(name string, v, ddt *field.Vector2D) (err error) {
	if err = r.checkOpen(name); err != nil {
		return
	}
	if err = r.checkPlane(name, v.X.Shape()); err != nil {
		return
	}
	if ddt == nil {
		s := v.X.Shape()
		ddt = field.NewVector2D(s.Nx, s.Ny, v.Covariant)
	}
	r.v2d = append(r.v2d, &VarVector2D{Name: name, V: v, DDt: ddt, Covariant: v.Covariant})
	return
}

func (r *Registry) AddVector3D(name string, v, ddt *field.Vector3D) (err error) {
	if err = r.checkOpen(name); err != nil {
		return
	}
	s := v.X.Shape()
	if err = r.checkPlane(name, s); err != nil {
		return
	}
	if ddt == nil {
		ddt = field.NewVector3D(s.Nx, s.Ny, s.Nz, v.Covariant)
	}
	r.v3d = append(r.v3d, &VarVector3D{Name: name, V: v, DDt: ddt, Covariant: v.Covariant})
	return
}

// Seal fixes the canonical variable order, no variables can be added afterwards
func (r *Registry) Seal() {
	if r.sealed {
		return
	}
	r.list2D = append(r.list2D, r.f2d...)
	for _, vv := range r.v2d {
		var (
			comps = [3]*field.Field2D{vv.V.X, vv.V.Y, vv.V.Z}
			ddts  = [3]*field.Field2D{vv.DDt.X, vv.DDt.Y, vv.DDt.Z}
		)
		for n, suffix := range []string{"_x", "_y", "_z"} {
			comps[n].SetName(vv.Name + suffix)
			ddts[n].SetName("ddt(" + vv.Name + suffix + ")")
			r.list2D = append(r.list2D, &Var2D{Name: vv.Name + suffix, F: comps[n], DDt: ddts[n]})
		}
	}
	r.list3D = append(r.list3D, r.f3d...)
	for _, vv := range r.v3d {
		var (
			comps = [3]*field.Field3D{vv.V.X, vv.V.Y, vv.V.Z}
			ddts  = [3]*field.Field3D{vv.DDt.X, vv.DDt.Y, vv.DDt.Z}
		)
		for n, suffix := range []string{"_x", "_y", "_z"} {
			comps[n].SetName(vv.Name + suffix)
			ddts[n].SetName("ddt(" + vv.Name + suffix + ")")
			r.list3D = append(r.list3D, &Var3D{Name: vv.Name + suffix, F: comps[n], DDt: ddts[n],
				Location: comps[n].Location()})
		}
	}
	r.sealed = true
}

func (r *Registry) Sealed() bool { return r.sealed }

// N2D and N3D count scalar slots, each vector contributes three
func (r *Registry) N2D() int { return len(r.f2d) + 3*len(r.v2d) }
func (r *Registry) N3D() int { return len(r.f3d) + 3*len(r.v3d) }

func (r *Registry) Points() int { return mesh.Points(r.m) }

// Variables lists the canonical order, for diagnostics
func (r *Registry) Variables() (names []string) {
	r.Seal()
	for _, v := range r.list2D {
		names = append(names, v.Name)
	}
	for _, v := range r.list3D {
		names = append(names, v.Name)
	}
	return
}

func (r *Registry) LocalLength() int {
	return r.Points() * (r.N2D() + r.N3D()*r.m.Shape().Nz)
}

// forEachPoint visits state points in canonical order: inner x boundary, lower y boundary,
// bulk, upper y boundary, outer x boundary
func (r *Registry) forEachPoint(fn func(i, j int)) {
	var (
		m = r.m
		s = m.Shape()
	)
	if m.FirstX() {
		for i := 0; i < m.XStart(); i++ {
			for j := m.YStart(); j <= m.YEnd(); j++ {
				fn(i, j)
			}
		}
	}
	for _, i := range m.BoundaryLowerY() {
		for j := 0; j < m.YStart(); j++ {
			fn(i, j)
		}
	}
	for i := m.XStart(); i <= m.XEnd(); i++ {
		for j := m.YStart(); j <= m.YEnd(); j++ {
			fn(i, j)
		}
	}
	for _, i := range m.BoundaryUpperY() {
		for j := m.YEnd() + 1; j < s.Ny; j++ {
			fn(i, j)
		}
	}
	if m.LastX() {
		for i := m.XEnd() + 1; i < s.Nx; i++ {
			for j := m.YStart(); j <= m.YEnd(); j++ {
				fn(i, j)
			}
		}
	}
}

// loopVars walks buffer positions in canonical order: per point all 2D slots, then per z plane
// all 3D slots. op receives a field buffer, the offset within it and the state vector position.
func (r *Registry) loopVars(d2, d3 [][]float64, op func(d []float64, ind, p int)) (p int) {
	var (
		s  = r.m.Shape()
		nz = s.Nz
	)
	r.forEachPoint(func(i, j int) {
		ij := i*s.Ny + j
		for _, d := range d2 {
			op(d, ij, p)
			p++
		}
		for k := 0; k < nz; k++ {
			for _, d := range d3 {
				op(d, ij*nz+k, p)
				p++
			}
		}
	})
	return
}

func (r *Registry) checkLength(buf []float64) error {
	if len(buf) != r.LocalLength() {
		return fmt.Errorf("%w: have %d, local length is %d (%d 2D and %d 3D variables on %d points)",
			ErrLength, len(buf), r.LocalLength(), r.N2D(), r.N3D(), r.Points())
	}
	return nil
}

func (r *Registry) valueBuffers() (d2, d3 [][]float64) {
	for _, v := range r.list2D {
		d2 = append(d2, v.F.Data())
	}
	for _, v := range r.list3D {
		d3 = append(d3, v.F.Data())
	}
	return
}

// Unpack writes a state vector into the variables, allocating storage as needed. Vector basis
// flags are reset to their declared basis since the buffer cannot carry them.
func (r *Registry) Unpack(buf []float64) (err error) {
	r.Seal()
	if err = r.checkLength(buf); err != nil {
		return
	}
	for _, v := range r.list2D {
		v.F.Allocate()
	}
	for _, v := range r.list3D {
		v.F.Allocate()
		v.F.SetLocation(v.Location)
	}
	d2, d3 := r.valueBuffers()
	r.loopVars(d2, d3, func(d []float64, ind, p int) { d[ind] = buf[p] })
	for _, vv := range r.v2d {
		vv.V.Covariant = vv.Covariant
	}
	for _, vv := range r.v3d {
		vv.V.Covariant = vv.Covariant
	}
	return
}

// Pack seeds a state vector from the current variable values, converting vectors to their
// declared basis first
func (r *Registry) Pack(buf []float64) (err error) {
	r.Seal()
	if err = r.checkLength(buf); err != nil {
		return
	}
	for _, v := range r.list2D {
		if !v.F.IsAllocated() {
			return fmt.Errorf("pack %q: %w", v.Name, ErrUnallocated)
		}
	}
	for _, v := range r.list3D {
		if !v.F.IsAllocated() {
			return fmt.Errorf("pack %q: %w", v.Name, ErrUnallocated)
		}
	}
	metric := r.m.Coordinates().Metric
	for _, vv := range r.v2d {
		toBasis2D(vv.V, vv.Covariant, metric)
	}
	for _, vv := range r.v3d {
		toBasis3D(vv.V, vv.Covariant, metric)
	}
	d2, d3 := r.valueBuffers()
	r.loopVars(d2, d3, func(d []float64, ind, p int) { buf[p] = d[ind] })
	return
}

// PackDerivatives writes the time derivatives into buf. Vector derivatives are converted to the
// declared basis and 3D derivatives computed away from their variable's location are
// interpolated back to it before packing.
func (r *Registry) PackDerivatives(buf []float64) (err error) {
	r.Seal()
	if err = r.checkLength(buf); err != nil {
		return
	}
	metric := r.m.Coordinates().Metric
	for _, vv := range r.v2d {
		if !vv.DDt.IsAllocated() {
			return fmt.Errorf("pack ddt(%s): %w", vv.Name, ErrUnallocated)
		}
		toBasis2D(vv.DDt, vv.Covariant, metric)
	}
	for _, vv := range r.v3d {
		if !vv.DDt.IsAllocated() {
			return fmt.Errorf("pack ddt(%s): %w", vv.Name, ErrUnallocated)
		}
		toBasis3D(vv.DDt, vv.Covariant, metric)
	}
	var d2, d3 [][]float64
	for _, v := range r.list2D {
		if !v.DDt.IsAllocated() {
			return fmt.Errorf("pack %s: %w", v.DDt.Name(), ErrUnallocated)
		}
		d2 = append(d2, v.DDt.Data())
	}
	for _, v := range r.list3D {
		if !v.DDt.IsAllocated() {
			return fmt.Errorf("pack %s: %w", v.DDt.Name(), ErrUnallocated)
		}
		if v.DDt.Location() != v.Location.Resolve() {
			moved := field.InterpTo(v.DDt, v.Location)
			copy(v.DDt.Data(), moved.Data())
			v.DDt.SetLocation(v.Location)
		}
		d3 = append(d3, v.DDt.Data())
	}
	r.loopVars(d2, d3, func(d []float64, ind, p int) { buf[p] = d[ind] })
	return
}

// AllocateDerivatives gives every time derivative zeroed storage at its variable's location
func (r *Registry) AllocateDerivatives() {
	r.Seal()
	for _, v := range r.list2D {
		v.DDt.Allocate()
	}
	for _, v := range r.list3D {
		v.DDt.Allocate()
		v.DDt.SetLocation(v.Location)
	}
}

func toBasis2D(v *field.Vector2D, covariant bool, g *field.Metric) {
	if covariant {
		v.ToCovariant(g)
	} else {
		v.ToContravariant(g)
	}
}

func toBasis3D(v *field.Vector3D, covariant bool, g *field.Metric) {
	if covariant {
		v.ToCovariant(g)
	} else {
		v.ToContravariant(g)
	}
}
