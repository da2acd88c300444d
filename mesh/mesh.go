package mesh

import (
	"errors"

	"github.com/notargets/goplasma/field"
)

var ErrIllegalStencil = errors.New("illegal stencil")

// Mesh is the local view of one subdomain. Sizes include guard cells, the interior is
// XStart..XEnd by YStart..YEnd inclusive. Communicate and the reductions are collective: every
// subdomain must call them in the same order.
type Mesh interface {
	Rank() int
	NProc() int
	Shape() field.Shape
	XStart() int
	XEnd() int
	YStart() int
	YEnd() int
	// FirstX and LastX report ownership of the inner and outer radial boundaries
	FirstX() bool
	LastX() bool
	// BoundaryLowerY and BoundaryUpperY are the x indices of the Y boundary guard regions held here
	BoundaryLowerY() []int
	BoundaryUpperY() []int
	Coordinates() *Coordinates
	// GlobalX and GlobalY map local indices onto the global interior numbering
	GlobalX(i int) int
	GlobalY(j int) int
	IncIntShear() bool
	Communicate(fields ...field.Field) error
	AllReduceSum(v int) (int, error)
	AllReduceMax(v float64) (float64, error)
}

// Region is a rectangle of the index plane, bounds inclusive
type Region struct {
	XBeg, XEnd, YBeg, YEnd int
}

func Interior(m Mesh) Region {
	return Region{m.XStart(), m.XEnd(), m.YStart(), m.YEnd()}
}

// WithXGuards widens r to the full local x range
func (r Region) WithXGuards(m Mesh) Region {
	r.XBeg, r.XEnd = 0, m.Shape().Nx-1
	return r
}

// Points is the number of state points held by a subdomain: the interior plus any physical
// boundary guard cells it owns
func Points(m Mesh) (n int) {
	var (
		s   = m.Shape()
		nyI = m.YEnd() - m.YStart() + 1
		nxI = m.XEnd() - m.XStart() + 1
	)
	n = nxI * nyI
	if m.FirstX() {
		n += m.XStart() * nyI
	}
	if m.LastX() {
		n += (s.Nx - 1 - m.XEnd()) * nyI
	}
	n += len(m.BoundaryLowerY()) * m.YStart()
	n += len(m.BoundaryUpperY()) * (s.Ny - 1 - m.YEnd())
	return
}
