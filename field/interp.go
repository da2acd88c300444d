package field

import (
	"github.com/notargets/goplasma/types"
)

// InterpTo moves f onto a new cell location. Moving between two staggered locations goes via the
// cell centre. The result is a new field, f is returned as is when no move is needed.
func InterpTo(f Field, loc types.CellLoc) Field {
	var (
		from = f.Location().Resolve()
		to   = loc.Resolve()
	)
	if loc == types.CELL_DEFAULT || from == to {
		return f
	}
	if from != types.CELL_CENTRE && to != types.CELL_CENTRE {
		return InterpTo(InterpTo(f, types.CELL_CENTRE), to)
	}
	var (
		toLow = from == types.CELL_CENTRE
		dir   types.Direction
	)
	if toLow {
		dir = lowFaceDir(to)
	} else {
		dir = lowFaceDir(from)
	}
	R := f.Empty()
	R.SetLocation(to)
	if dir == types.DIR_Z && !f.Is3D() {
		// Axisymmetric values are unchanged by a z shift
		copy(R.Data(), f.Data())
		return R
	}
	shift(f.Data(), R.Data(), f.Shape(), dir, toLow)
	return R
}

func lowFaceDir(loc types.CellLoc) types.Direction {
	switch loc {
	case types.CELL_XLOW:
		return types.DIR_X
	case types.CELL_YLOW:
		return types.DIR_Y
	}
	return types.DIR_Z
}

// shift interpolates half a cell along dir. Going to the low face, point m sits between m-1 and m,
// going to the centre it sits between m and m+1. The 4 point formula is used where the stencil
// fits, 2 points next to the edge and a copy at the edge itself. Z is periodic.
func shift(src, dst []float64, s Shape, dir types.Direction, toLow bool) {
	var (
		n        = s.Extent(dir)
		stride   = s.Stride(dir)
		periodic = dir == types.DIR_Z
		lo       = 0
	)
	if toLow {
		lo = -1
	}
	at := func(base, m int) (val float64, ok bool) {
		if periodic {
			m = ((m % n) + n) % n
		} else if m < 0 || m >= n {
			return 0, false
		}
		return src[base+m*stride], true
	}
	for i := 0; i < s.Nx; i++ {
		for j := 0; j < s.Ny; j++ {
			for k := 0; k < s.Nz; k++ {
				var (
					ind  = s.Index(i, j, k)
					m    int
					base int
				)
				switch dir {
				case types.DIR_X:
					m = i
				case types.DIR_Y:
					m = j
				default:
					m = k
				}
				base = ind - m*stride
				// a, b straddle the target point, c, d are the outer pair
				a, okA := at(base, m+lo)
				b, okB := at(base, m+lo+1)
				c, okC := at(base, m+lo-1)
				d, okD := at(base, m+lo+2)
				switch {
				case okA && okB && okC && okD:
					dst[ind] = (9.*(a+b) - (c + d)) / 16.
				case okA && okB:
					dst[ind] = 0.5 * (a + b)
				case okB:
					dst[ind] = b
				default:
					dst[ind] = a
				}
			}
		}
	}
}
