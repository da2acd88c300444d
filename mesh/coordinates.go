package mesh

import (
	"math"

	"github.com/notargets/goplasma/field"
)

// Coordinates are the metric coefficients of a subdomain. The derivative engine only reads them.
type Coordinates struct {
	Dx, Dy *field.Field2D
	Dz     float64
	// D1Dx and D1Dy are index derivatives of 1/Dx and 1/Dy, used by second derivatives on
	// stretched grids
	D1Dx, D1Dy               *field.Field2D
	NonUniformX, NonUniformY bool
	IntShiftTorsion          *field.Field2D
	Metric                   *field.Metric
	// G[a][b][c] is the Christoffel symbol of the second kind G^a_{bc}, nil entries are zero
	G [3][3][3]*field.Field2D
}

func NewUniformCoordinates(nx, ny int, dx, dy, dz float64) (c *Coordinates) {
	c = &Coordinates{
		Dx:              field.NewField2DConst(nx, ny, dx),
		Dy:              field.NewField2DConst(nx, ny, dy),
		Dz:              dz,
		D1Dx:            field.NewField2DConst(nx, ny, 0),
		D1Dy:            field.NewField2DConst(nx, ny, 0),
		IntShiftTorsion: field.NewField2DConst(nx, ny, 0),
		Metric:          field.NewIdentityMetric(nx, ny),
	}
	return
}

// SetChristoffel sets G^a_{bc} and its symmetric partner G^a_{cb}
func (c *Coordinates) SetChristoffel(a, b, cc int, g *field.Field2D) {
	c.G[a][b][cc] = g
	c.G[a][cc][b] = g
}

// SetNonUniform recomputes D1Dx and D1Dy from the spacings. The correction terms are switched
// on only where the spacing actually varies.
func (c *Coordinates) SetNonUniform(enable bool) {
	c.D1Dx, c.NonUniformX = indexDerivOfInverse(c.Dx, true)
	c.D1Dy, c.NonUniformY = indexDerivOfInverse(c.Dy, false)
	c.NonUniformX = c.NonUniformX && enable
	c.NonUniformY = c.NonUniformY && enable
}

func indexDerivOfInverse(d *field.Field2D, alongX bool) (R *field.Field2D, varies bool) {
	var (
		s   = d.Shape()
		inv = func(i, j int) float64 { return 1. / d.At(i, j) }
		n   = s.Ny
	)
	if alongX {
		n = s.Nx
	}
	R = d.Zero()
	for i := 0; i < s.Nx; i++ {
		for j := 0; j < s.Ny; j++ {
			var (
				m     = j
				at    = func(mm int) float64 { return inv(i, mm) }
				deriv float64
			)
			if alongX {
				m = i
				at = func(mm int) float64 { return inv(mm, j) }
			}
			switch {
			case n < 2:
				deriv = 0
			case m == 0:
				deriv = at(1) - at(0)
			case m == n-1:
				deriv = at(m) - at(m-1)
			default:
				deriv = 0.5 * (at(m+1) - at(m-1))
			}
			R.Set(i, j, deriv)
			if math.Abs(deriv) > 1.e-14*math.Abs(at(m)) {
				varies = true
			}
		}
	}
	return
}
