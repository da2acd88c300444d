package types

import (
	"fmt"
	"strings"
)

// CellLoc is the sub-cell position a field's values represent
type CellLoc uint8

const (
	CELL_DEFAULT CellLoc = iota
	CELL_CENTRE
	CELL_XLOW
	CELL_YLOW
	CELL_ZLOW
)

var CellLocPrintNames = []string{"CELL_DEFAULT", "CELL_CENTRE", "CELL_XLOW", "CELL_YLOW", "CELL_ZLOW"}

func (cl CellLoc) String() string {
	if int(cl) >= len(CellLocPrintNames) {
		return fmt.Sprintf("CellLoc(%d)", cl)
	}
	return CellLocPrintNames[cl]
}

// Resolve maps CELL_DEFAULT onto the cell centre, all others are returned unchanged
func (cl CellLoc) Resolve() CellLoc {
	if cl == CELL_DEFAULT {
		return CELL_CENTRE
	}
	return cl
}

type Direction uint8

const (
	DIR_X Direction = iota // Radial
	DIR_Y                  // Poloidal
	DIR_Z                  // Toroidal, periodic
)

var DirectionPrintNames = []string{"X", "Y", "Z"}

func (d Direction) String() string {
	if int(d) >= len(DirectionPrintNames) {
		return fmt.Sprintf("Direction(%d)", d)
	}
	return DirectionPrintNames[d]
}

// LowFace is the staggered location that sits half a cell below the centre in this direction
func (d Direction) LowFace() CellLoc {
	switch d {
	case DIR_X:
		return CELL_XLOW
	case DIR_Y:
		return CELL_YLOW
	default:
		return CELL_ZLOW
	}
}

type Order uint8

const (
	ORDER_FIRST Order = iota
	ORDER_SECOND
	ORDER_FOURTH
	ORDER_UPWIND
	ORDER_FLUX
)

var (
	OrderNames = map[string]Order{
		"first":  ORDER_FIRST,
		"second": ORDER_SECOND,
		"fourth": ORDER_FOURTH,
		"upwind": ORDER_UPWIND,
		"flux":   ORDER_FLUX,
	}
	OrderPrintNames = []string{"first", "second", "fourth", "upwind", "flux"}
)

func (o Order) String() string {
	if int(o) >= len(OrderPrintNames) {
		return fmt.Sprintf("Order(%d)", o)
	}
	return OrderPrintNames[o]
}

type DiffMethod uint8

const (
	DIFF_DEFAULT DiffMethod = iota
	DIFF_C2                 // 2nd order central
	DIFF_C4                 // 4th order central
	DIFF_U1                 // 1st order upwind
	DIFF_U2                 // 2nd order upwind
	DIFF_SPLIT              // v*df + f*dv split flux
)

var (
	DiffMethodNames = map[string]DiffMethod{
		"default": DIFF_DEFAULT,
		"c2":      DIFF_C2,
		"c4":      DIFF_C4,
		"u1":      DIFF_U1,
		"u2":      DIFF_U2,
		"split":   DIFF_SPLIT,
	}
	DiffMethodPrintNames = []string{"DEFAULT", "C2", "C4", "U1", "U2", "SPLIT"}
)

func (dm DiffMethod) String() string {
	if int(dm) >= len(DiffMethodPrintNames) {
		return fmt.Sprintf("DiffMethod(%d)", dm)
	}
	return DiffMethodPrintNames[dm]
}

// NewDiffMethod parses a method label, an empty label is DIFF_DEFAULT
func NewDiffMethod(label string) (dm DiffMethod, err error) {
	var ok bool
	label = strings.ToLower(strings.TrimSpace(label))
	if len(label) == 0 {
		return DIFF_DEFAULT, nil
	}
	if dm, ok = DiffMethodNames[label]; !ok {
		err = fmt.Errorf("unable to use differencing method named [%s]", label)
	}
	return
}

// Stagger describes how input and output locations differ along the differentiation direction
type Stagger uint8

const (
	STAGGER_NONE Stagger = iota
	STAGGER_C2L          // Centre in, low face out
	STAGGER_L2C          // Low face in, centre out
)

var StaggerPrintNames = []string{"none", "C2L", "L2C"}

func (s Stagger) String() string {
	if int(s) >= len(StaggerPrintNames) {
		return fmt.Sprintf("Stagger(%d)", s)
	}
	return StaggerPrintNames[s]
}

// NewStagger works out the staggering of a derivative in direction dir taken from inloc to outloc
func NewStagger(dir Direction, inloc, outloc CellLoc) Stagger {
	var (
		in, out = inloc.Resolve(), outloc.Resolve()
		low     = dir.LowFace()
	)
	switch {
	case in == CELL_CENTRE && out == low:
		return STAGGER_C2L
	case in == low && out == CELL_CENTRE:
		return STAGGER_L2C
	}
	return STAGGER_NONE
}

// Stencil is the closed tagged variant selecting one index-space kernel
type Stencil struct {
	Dir     Direction
	Order   Order
	Method  DiffMethod
	Stagger Stagger
}

func (s Stencil) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", s.Dir, s.Order, s.Method, s.Stagger)
}

// SolverState is the lifecycle state of a solver adapter
type SolverState uint8

const (
	STATE_UNINITIALIZED SolverState = iota
	STATE_INITIALIZED
	STATE_STEPPING
	STATE_FINALIZED
)

var SolverStatePrintNames = []string{"Uninitialized", "Initialized", "Stepping", "Finalized"}

func (ss SolverState) String() string {
	if int(ss) >= len(SolverStatePrintNames) {
		return fmt.Sprintf("SolverState(%d)", ss)
	}
	return SolverStatePrintNames[ss]
}
