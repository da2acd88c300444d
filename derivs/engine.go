package derivs

import (
	"fmt"
	"strings"

	"github.com/notargets/goplasma/field"
	"github.com/notargets/goplasma/mesh"
	"github.com/notargets/goplasma/types"
	"github.com/notargets/goplasma/utils"
)

// Methods holds the default differencing method of each order, per direction
type Methods struct {
	First, Second, Fourth, Upwind, Flux [3]types.DiffMethod
}

func DefaultMethods() (dm Methods) {
	for dir := 0; dir < 3; dir++ {
		dm.First[dir] = types.DIFF_C2
		dm.Second[dir] = types.DIFF_C2
		dm.Fourth[dir] = types.DIFF_C2
		dm.Upwind[dir] = types.DIFF_U1
		dm.Flux[dir] = types.DIFF_U1
	}
	return
}

// NewMethods overrides the defaults from per direction maps of order name to method name,
// e.g. ddx = {"first": "C4", "upwind": "U2"}. Missing or "default" entries keep the default.
func NewMethods(ddx, ddy, ddz map[string]string) (dm Methods, err error) {
	dm = DefaultMethods()
	for dir, table := range []map[string]string{ddx, ddy, ddz} {
		for orderName, methodName := range table {
			var (
				method types.DiffMethod
				order  types.Order
				ok     bool
			)
			if order, ok = types.OrderNames[strings.ToLower(strings.TrimSpace(orderName))]; !ok {
				return dm, fmt.Errorf("dd%s: unknown derivative order [%s]",
					strings.ToLower(types.Direction(dir).String()), orderName)
			}
			if method, err = types.NewDiffMethod(methodName); err != nil {
				return
			}
			if method != types.DIFF_DEFAULT {
				dm.slot(order)[dir] = method
			}
		}
	}
	return
}

func (dm *Methods) slot(order types.Order) *[3]types.DiffMethod {
	switch order {
	case types.ORDER_FIRST:
		return &dm.First
	case types.ORDER_SECOND:
		return &dm.Second
	case types.ORDER_FOURTH:
		return &dm.Fourth
	case types.ORDER_UPWIND:
		return &dm.Upwind
	}
	return &dm.Flux
}

func (dm Methods) lookup(order types.Order, dir types.Direction) types.DiffMethod {
	return dm.slot(order)[dir]
}

// Engine evaluates derivatives of fields on one subdomain. It is not safe for concurrent use,
// each subdomain goroutine owns its own engine.
type Engine struct {
	m         mesh.Mesh
	coords    *mesh.Coordinates
	methods   Methods
	kernels   map[types.Stencil]mesh.Kernel
	advection map[types.Stencil]mesh.AdvectionKernel
}

// NewEngine resolves the default stencil of every direction and order. A default that names an
// illegal combination is reported here rather than in the middle of a right hand side.
func NewEngine(m mesh.Mesh, methods Methods) (e *Engine, err error) {
	e = &Engine{
		m:         m,
		coords:    m.Coordinates(),
		methods:   methods,
		kernels:   make(map[types.Stencil]mesh.Kernel),
		advection: make(map[types.Stencil]mesh.AdvectionKernel),
	}
	for _, dir := range []types.Direction{types.DIR_X, types.DIR_Y, types.DIR_Z} {
		for _, order := range []types.Order{types.ORDER_FIRST, types.ORDER_SECOND, types.ORDER_FOURTH,
			types.ORDER_UPWIND, types.ORDER_FLUX} {
			if err = e.Bind(types.Stencil{Dir: dir, Order: order}); err != nil {
				return nil, fmt.Errorf("default %s derivative in %s: %w", order, dir, err)
			}
		}
		for _, stag := range []types.Stagger{types.STAGGER_C2L, types.STAGGER_L2C} {
			if err = e.Bind(types.Stencil{Dir: dir, Order: types.ORDER_FIRST, Stagger: stag}); err != nil {
				return nil, err
			}
		}
	}
	return
}

func (e *Engine) Mesh() mesh.Mesh { return e.m }

func (e *Engine) Methods() Methods { return e.methods }

// resolve replaces DIFF_DEFAULT with the configured method. Staggered first derivatives only
// exist as C2.
func (e *Engine) resolve(st types.Stencil) types.Stencil {
	if st.Method == types.DIFF_DEFAULT {
		if st.Order == types.ORDER_FIRST && st.Stagger != types.STAGGER_NONE {
			st.Method = types.DIFF_C2
		} else {
			st.Method = e.methods.lookup(st.Order, st.Dir)
		}
	}
	return st
}

// Bind resolves a stencil ahead of use. A stencil reaching further than the guard cells of its
// direction is illegal on this mesh.
func (e *Engine) Bind(st types.Stencil) (err error) {
	st = e.resolve(st)
	switch st.Order {
	case types.ORDER_UPWIND, types.ORDER_FLUX:
		var k mesh.AdvectionKernel
		if k, err = mesh.LookupAdvectionKernel(st); err != nil {
			return
		}
		if err = e.checkGuards(st); err == nil {
			e.advection[st] = k
		}
	default:
		var k mesh.Kernel
		if k, err = mesh.LookupKernel(st); err != nil {
			return
		}
		if err = e.checkGuards(st); err == nil {
			e.kernels[st] = k
		}
	}
	return
}

// checkGuards compares the reach of a stencil with the guard width, z is periodic
func (e *Engine) checkGuards(st types.Stencil) error {
	var guards int
	switch st.Dir {
	case types.DIR_X:
		guards = e.m.XStart()
	case types.DIR_Y:
		guards = e.m.YStart()
	default:
		return nil
	}
	if w := mesh.StencilWidth(st); w > guards {
		return fmt.Errorf("%w: %s reaches %d points, the mesh has %d guard cells in %s",
			mesh.ErrIllegalStencil, st, w, guards, st.Dir)
	}
	return nil
}

func (e *Engine) kernel(st types.Stencil) mesh.Kernel {
	st = e.resolve(st)
	if k, ok := e.kernels[st]; ok {
		return k
	}
	if err := e.Bind(st); err != nil {
		panic(err)
	}
	return e.kernels[st]
}

func (e *Engine) advectionKernel(st types.Stencil) mesh.AdvectionKernel {
	st = e.resolve(st)
	if k, ok := e.advection[st]; ok {
		return k
	}
	if err := e.Bind(st); err != nil {
		panic(err)
	}
	return e.advection[st]
}

func (e *Engine) interior() mesh.Region { return mesh.Interior(e.m) }

// divideBySpacing applies the metric spacing of a direction raised to power
func (e *Engine) divideBySpacing(f field.Field, dir types.Direction, power int) {
	switch dir {
	case types.DIR_X:
		field.DivBy2D(f, e.coords.Dx, power)
	case types.DIR_Y:
		field.DivBy2D(f, e.coords.Dy, power)
	default:
		field.Scale(f, utils.POW(e.coords.Dz, -power))
	}
}

func (e *Engine) nonUniform(dir types.Direction) (d1 *field.Field2D, ok bool) {
	switch dir {
	case types.DIR_X:
		return e.coords.D1Dx, e.coords.NonUniformX
	case types.DIR_Y:
		return e.coords.D1Dy, e.coords.NonUniformY
	}
	return nil, false
}

// zeroOf is the zero result of an operator that vanishes identically, like a z derivative of an
// axisymmetric field
func zeroOf(f field.Field, outloc types.CellLoc) (R field.Field) {
	R = f.Empty()
	if outloc != types.CELL_DEFAULT {
		R.SetLocation(outloc)
	}
	return
}

func moveTo(R field.Field, outloc types.CellLoc) field.Field {
	if outloc == types.CELL_DEFAULT || outloc.Resolve() == R.Location() {
		return R
	}
	return field.InterpTo(R, outloc)
}
