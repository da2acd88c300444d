package mesh

import (
	"fmt"

	"github.com/notargets/goplasma/field"
	"github.com/notargets/goplasma/types"
)

// Kernel applies an index space stencil to f, writing out over region r. Spacing is not applied.
type Kernel func(f, out field.Field, r Region)

// AdvectionKernel is a kernel of a velocity v and a field f, either may be 2D
type AdvectionKernel func(v, f, out field.Field, r Region)

// line is the 1D pencil through a point along a direction, z pencils wrap
type line struct {
	d                    []float64
	base, pos, n, stride int
	periodic             bool
}

func (l line) at(m int) float64 {
	p := l.pos + m
	if l.periodic {
		p = ((p % l.n) + l.n) % l.n
	}
	return l.d[l.base+p*l.stride]
}

func lineOf(f field.Field, dir types.Direction, i, j, k int) (l line) {
	s := f.Shape()
	if s.Nz == 1 {
		k = 0
	}
	switch dir {
	case types.DIR_X:
		l.pos = i
	case types.DIR_Y:
		l.pos = j
	default:
		l.pos = k
		l.periodic = true
	}
	l.d = f.Data()
	l.n = s.Extent(dir)
	l.stride = s.Stride(dir)
	l.base = s.Index(i, j, k) - l.pos*l.stride
	return
}

func sweep(dir types.Direction, f, out field.Field, r Region, op func(fl line) float64) {
	var (
		so = out.Shape()
		od = out.Data()
	)
	for i := r.XBeg; i <= r.XEnd; i++ {
		for j := r.YBeg; j <= r.YEnd; j++ {
			for k := 0; k < so.Nz; k++ {
				od[so.Index(i, j, k)] = op(lineOf(f, dir, i, j, k))
			}
		}
	}
}

func sweepAdvection(dir types.Direction, v, f, out field.Field, r Region, op func(vl, fl line) float64) {
	var (
		so = out.Shape()
		od = out.Data()
	)
	for i := r.XBeg; i <= r.XEnd; i++ {
		for j := r.YBeg; j <= r.YEnd; j++ {
			for k := 0; k < so.Nz; k++ {
				od[so.Index(i, j, k)] = op(lineOf(v, dir, i, j, k), lineOf(f, dir, i, j, k))
			}
		}
	}
}

type pencilOp func(fl line) float64

var (
	firstC2  pencilOp = func(f line) float64 { return 0.5 * (f.at(1) - f.at(-1)) }
	firstC4  pencilOp = func(f line) float64 { return (8.*(f.at(1)-f.at(-1)) - (f.at(2) - f.at(-2))) / 12. }
	firstC2L pencilOp = func(f line) float64 { return f.at(0) - f.at(-1) }
	firstL2C pencilOp = func(f line) float64 { return f.at(1) - f.at(0) }
	secondC2 pencilOp = func(f line) float64 { return f.at(1) - 2.*f.at(0) + f.at(-1) }
	secondC4 pencilOp = func(f line) float64 {
		return (-f.at(2) + 16.*f.at(1) - 30.*f.at(0) + 16.*f.at(-1) - f.at(-2)) / 12.
	}
	fourthC2 pencilOp = func(f line) float64 {
		return f.at(2) - 4.*f.at(1) + 6.*f.at(0) - 4.*f.at(-1) + f.at(-2)
	}
)

type advectionOp func(vl, fl line) float64

var (
	upwindU1 advectionOp = func(v, f line) float64 {
		vv := v.at(0)
		if vv >= 0 {
			return vv * (f.at(0) - f.at(-1))
		}
		return vv * (f.at(1) - f.at(0))
	}
	upwindU2 advectionOp = func(v, f line) float64 {
		vv := v.at(0)
		if vv >= 0 {
			return vv * (1.5*f.at(0) - 2.*f.at(-1) + 0.5*f.at(-2))
		}
		return vv * (-1.5*f.at(0) + 2.*f.at(1) - 0.5*f.at(2))
	}
	upwindC2 advectionOp = func(v, f line) float64 { return v.at(0) * firstC2(f) }
	upwindC4 advectionOp = func(v, f line) float64 { return v.at(0) * firstC4(f) }
	// fluxU1 upwinds the face fluxes using face averaged velocities
	fluxU1 advectionOp = func(v, f line) float64 {
		var (
			vR = 0.5 * (v.at(0) + v.at(1))
			vL = 0.5 * (v.at(-1) + v.at(0))
			fR = vR * f.at(1)
			fL = vL * f.at(0)
		)
		if vR >= 0 {
			fR = vR * f.at(0)
		}
		if vL >= 0 {
			fL = vL * f.at(-1)
		}
		return fR - fL
	}
	fluxC2    advectionOp = func(v, f line) float64 { return 0.5 * (v.at(1)*f.at(1) - v.at(-1)*f.at(-1)) }
	fluxSplit advectionOp = func(v, f line) float64 { return v.at(0)*firstC2(f) + f.at(0)*firstC2(v) }
)

// StencilWidth is the number of points a stencil reads on either side of the point it writes
func StencilWidth(st types.Stencil) int {
	switch {
	case st.Order == types.ORDER_FOURTH, st.Method == types.DIFF_C4, st.Method == types.DIFF_U2:
		return 2
	}
	return 1
}

func illegal(st types.Stencil) error {
	return fmt.Errorf("%w: %s", ErrIllegalStencil, st)
}

// LookupKernel resolves a first, second or fourth order stencil to its kernel
func LookupKernel(st types.Stencil) (k Kernel, err error) {
	var op pencilOp
	switch st.Order {
	case types.ORDER_FIRST:
		switch {
		case st.Stagger == types.STAGGER_C2L && st.Method == types.DIFF_C2:
			op = firstC2L
		case st.Stagger == types.STAGGER_L2C && st.Method == types.DIFF_C2:
			op = firstL2C
		case st.Stagger != types.STAGGER_NONE:
		case st.Method == types.DIFF_C2:
			op = firstC2
		case st.Method == types.DIFF_C4:
			op = firstC4
		}
	case types.ORDER_SECOND:
		if st.Stagger == types.STAGGER_NONE {
			switch st.Method {
			case types.DIFF_C2:
				op = secondC2
			case types.DIFF_C4:
				op = secondC4
			}
		}
	case types.ORDER_FOURTH:
		if st.Stagger == types.STAGGER_NONE && st.Method == types.DIFF_C2 {
			op = fourthC2
		}
	}
	if op == nil {
		return nil, illegal(st)
	}
	dir := st.Dir
	k = func(f, out field.Field, r Region) { sweep(dir, f, out, r, op) }
	return
}

// LookupAdvectionKernel resolves an upwind or flux stencil to its kernel
func LookupAdvectionKernel(st types.Stencil) (k AdvectionKernel, err error) {
	var op advectionOp
	if st.Stagger == types.STAGGER_NONE {
		switch st.Order {
		case types.ORDER_UPWIND:
			switch st.Method {
			case types.DIFF_U1:
				op = upwindU1
			case types.DIFF_U2:
				op = upwindU2
			case types.DIFF_C2:
				op = upwindC2
			case types.DIFF_C4:
				op = upwindC4
			}
		case types.ORDER_FLUX:
			switch st.Method {
			case types.DIFF_U1:
				op = fluxU1
			case types.DIFF_SPLIT:
				op = fluxSplit
			case types.DIFF_C2:
				op = fluxC2
			}
		}
	}
	if op == nil {
		return nil, illegal(st)
	}
	dir := st.Dir
	k = func(v, f, out field.Field, r Region) { sweepAdvection(dir, v, f, out, r, op) }
	return
}
