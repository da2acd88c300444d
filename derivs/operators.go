package derivs

import (
	"fmt"

	"github.com/notargets/goplasma/field"
	"github.com/notargets/goplasma/mesh"
	"github.com/notargets/goplasma/types"
)

// First is the first derivative along dir. An output location on the low face of dir (or back
// to the centre from it) uses a staggered stencil, any other location change interpolates.
// Along X a 3D field also gets the integrated shear term IntShiftTorsion*DDZ(f) when the mesh
// has it.
func (e *Engine) First(dir types.Direction, f field.Field, outloc types.CellLoc, method types.DiffMethod) (R field.Field) {
	R = e.first(dir, f, outloc, method, e.interior())
	if dir == types.DIR_X && e.m.IncIntShear() && f.Is3D() {
		field.AddTo(R, field.Mul(e.coords.IntShiftTorsion, e.DDZ(f, outloc, types.DIFF_DEFAULT)))
	}
	return
}

func (e *Engine) first(dir types.Direction, f field.Field, outloc types.CellLoc, method types.DiffMethod,
	r mesh.Region) (R field.Field) {
	if dir == types.DIR_Z && !f.Is3D() {
		return zeroOf(f, outloc)
	}
	var (
		inloc = f.Location()
		stag  = types.STAGGER_NONE
	)
	if outloc != types.CELL_DEFAULT {
		stag = types.NewStagger(dir, inloc, outloc)
	}
	R = f.Empty()
	e.kernel(types.Stencil{Dir: dir, Order: types.ORDER_FIRST, Method: method, Stagger: stag})(f, R, r)
	e.divideBySpacing(R, dir, 1)
	if stag != types.STAGGER_NONE {
		R.SetLocation(outloc)
		return
	}
	return moveTo(R, outloc)
}

func (e *Engine) DDX(f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.First(types.DIR_X, f, outloc, method)
}

func (e *Engine) DDY(f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.First(types.DIR_Y, f, outloc, method)
}

func (e *Engine) DDZ(f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.First(types.DIR_Z, f, outloc, method)
}

// Second is the second derivative along dir. On a stretched grid the term D1*df/di/d is added
// so the result is the derivative in physical space.
func (e *Engine) Second(dir types.Direction, f field.Field, outloc types.CellLoc, method types.DiffMethod) (R field.Field) {
	if dir == types.DIR_Z && !f.Is3D() {
		return zeroOf(f, outloc)
	}
	r := e.interior()
	R = f.Empty()
	e.kernel(types.Stencil{Dir: dir, Order: types.ORDER_SECOND, Method: method})(f, R, r)
	e.divideBySpacing(R, dir, 2)
	if d1, ok := e.nonUniform(dir); ok {
		k1 := f.Empty()
		e.kernel(types.Stencil{Dir: dir, Order: types.ORDER_FIRST})(f, k1, r)
		e.divideBySpacing(k1, dir, 1)
		field.MulBy2D(k1, d1)
		field.AddTo(R, k1)
	}
	return moveTo(R, outloc)
}

func (e *Engine) D2DX2(f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.Second(types.DIR_X, f, outloc, method)
}

func (e *Engine) D2DY2(f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.Second(types.DIR_Y, f, outloc, method)
}

func (e *Engine) D2DZ2(f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.Second(types.DIR_Z, f, outloc, method)
}

// Fourth is the fourth derivative along dir, used for hyper-diffusion
func (e *Engine) Fourth(dir types.Direction, f field.Field) (R field.Field) {
	if dir == types.DIR_Z && !f.Is3D() {
		return zeroOf(f, types.CELL_DEFAULT)
	}
	R = f.Empty()
	e.kernel(types.Stencil{Dir: dir, Order: types.ORDER_FOURTH})(f, R, e.interior())
	e.divideBySpacing(R, dir, 4)
	return
}

func (e *Engine) D4DX4(f field.Field) field.Field { return e.Fourth(types.DIR_X, f) }
func (e *Engine) D4DY4(f field.Field) field.Field { return e.Fourth(types.DIR_Y, f) }
func (e *Engine) D4DZ4(f field.Field) field.Field { return e.Fourth(types.DIR_Z, f) }

// Mixed is the cross derivative in two directions. The x-y derivative needs a guard exchange,
// which is collective, so every subdomain must call it together.
func (e *Engine) Mixed(d1, d2 types.Direction, f field.Field, outloc types.CellLoc,
	method types.DiffMethod) (R field.Field, err error) {
	if d1 > d2 {
		d1, d2 = d2, d1
	}
	switch {
	case d1 == d2:
		return e.Second(d1, f, outloc, method), nil
	case d1 == types.DIR_X && d2 == types.DIR_Y:
		return e.D2DXDY(f, outloc, method)
	case d1 == types.DIR_X:
		return e.D2DXDZ(f, outloc, method), nil
	}
	return e.D2DYDZ(f, outloc, method), nil
}

// D2DXDY takes DDY over the full x range, exchanges guards, then takes DDX
func (e *Engine) D2DXDY(f field.Field, outloc types.CellLoc, method types.DiffMethod) (R field.Field, err error) {
	dfdy := e.first(types.DIR_Y, f, outloc, method, e.interior().WithXGuards(e.m))
	if err = e.m.Communicate(dfdy); err != nil {
		return nil, fmt.Errorf("D2DXDY of %q: %w", f.Name(), err)
	}
	return e.DDX(dfdy, outloc, method), nil
}

func (e *Engine) D2DXDZ(f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	if !f.Is3D() {
		return zeroOf(f, outloc)
	}
	dfdz := e.first(types.DIR_Z, f, outloc, method, e.interior().WithXGuards(e.m))
	return e.DDX(dfdz, outloc, method)
}

// D2DYDZ uses a centred stencil with the y spacing taken at j+1 and j-1
func (e *Engine) D2DYDZ(f field.Field, outloc types.CellLoc, method types.DiffMethod) (R field.Field) {
	if !f.Is3D() {
		return zeroOf(f, outloc)
	}
	var (
		s  = f.Shape()
		nz = s.Nz
		dy = e.coords.Dy
		dz = e.coords.Dz
		at = func(i, j, k int) float64 { return field.AtPoint(f, i, j, k) }
	)
	R = f.Empty()
	rd := R.Data()
	for i := e.m.XStart(); i <= e.m.XEnd(); i++ {
		for j := e.m.YStart(); j <= e.m.YEnd(); j++ {
			for k := 0; k < nz; k++ {
				var (
					kp = (k + 1) % nz
					km = (k - 1 + nz) % nz
				)
				rd[s.Index(i, j, k)] = 0.25 * ((at(i, j+1, kp)-at(i, j-1, kp))/dy.At(i, j+1) -
					(at(i, j+1, km)-at(i, j-1, km))/dy.At(i, j-1)) / dz
			}
		}
	}
	return moveTo(R, outloc)
}

// Upwind is v times the first derivative of f, differenced by the sign of v
func (e *Engine) Upwind(dir types.Direction, v, f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.advect(types.ORDER_UPWIND, dir, v, f, outloc, method)
}

func (e *Engine) VDDX(v, f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.Upwind(types.DIR_X, v, f, outloc, method)
}

func (e *Engine) VDDY(v, f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.Upwind(types.DIR_Y, v, f, outloc, method)
}

func (e *Engine) VDDZ(v, f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.Upwind(types.DIR_Z, v, f, outloc, method)
}

// Flux is the derivative of v*f in conservative form
func (e *Engine) Flux(dir types.Direction, v, f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.advect(types.ORDER_FLUX, dir, v, f, outloc, method)
}

func (e *Engine) FDDX(v, f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.Flux(types.DIR_X, v, f, outloc, method)
}

func (e *Engine) FDDY(v, f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.Flux(types.DIR_Y, v, f, outloc, method)
}

func (e *Engine) FDDZ(v, f field.Field, outloc types.CellLoc, method types.DiffMethod) field.Field {
	return e.Flux(types.DIR_Z, v, f, outloc, method)
}

func (e *Engine) advect(order types.Order, dir types.Direction, v, f field.Field, outloc types.CellLoc,
	method types.DiffMethod) (R field.Field) {
	R = field.Promote(f, v)
	if dir == types.DIR_Z && !f.Is3D() {
		if outloc != types.CELL_DEFAULT {
			R.SetLocation(outloc)
		}
		return
	}
	e.advectionKernel(types.Stencil{Dir: dir, Order: order, Method: method})(v, f, R, e.interior())
	e.divideBySpacing(R, dir, 1)
	return moveTo(R, outloc)
}

// DDZVector differentiates each component in z and adds the Christoffel terms of a curvilinear
// basis, so the result stays in the input's basis
func (e *Engine) DDZVector(v *field.Vector3D, outloc types.CellLoc, method types.DiffMethod) (R *field.Vector3D) {
	var (
		comps = v.Components()
		out   [3]*field.Field3D
		G     = e.coords.G
	)
	for a := 0; a < 3; a++ {
		out[a] = e.DDZ(comps[a], outloc, method).(*field.Field3D)
	}
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			if v.Covariant {
				// -v_b G^b_{a3}
				if G[b][a][2] != nil {
					field.AddScaledTo(out[a], -1, field.Mul(G[b][a][2], comps[b]))
				}
			} else if G[a][b][2] != nil {
				// +v^b G^a_{b3}
				field.AddScaledTo(out[a], 1, field.Mul(G[a][b][2], comps[b]))
			}
		}
	}
	R = &field.Vector3D{X: out[0], Y: out[1], Z: out[2], Covariant: v.Covariant}
	return
}

// DDZVector2D is zero, axisymmetric components have no z dependence
func (e *Engine) DDZVector2D(v *field.Vector2D) (R *field.Vector2D) {
	s := v.X.Shape()
	R = field.NewVector2D(s.Nx, s.Ny, v.Covariant)
	R.Allocate()
	return
}
