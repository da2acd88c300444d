package integrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/james-bowman/sparse"
)

var (
	ErrMaxSteps = errors.New("maximum step count reached before the end time")
	ErrStepSize = errors.New("step size fell below the minimum")
)

// RHSFunc evaluates dy/dt at (t, y) into dydt. It is collective across subdomains.
type RHSFunc func(t float64, y, dydt []float64) error

type Config struct {
	// InitialStep is the first step size, fixed step engines keep it
	InitialStep float64
	// MinStep and MaxStep bound the adaptive step size when > 0
	MinStep, MaxStep float64
	AbsTol, RelTol   float64
	// MaxSteps limits the steps of one Integrate call when > 0
	MaxSteps int
	// AdamsMoulton selects the trapezoid rule in the implicit engine, backward Euler otherwise
	AdamsMoulton bool
}

type Statistics struct {
	Steps       int
	Rejected    int
	Evaluations int
	LastStep    float64
	Time        float64
}

type Info struct {
	Name     string
	Order    int
	Adaptive bool
	Implicit bool
}

// Integrator advances a state vector in time. Every subdomain runs its own integrator on its
// slice of the global vector, so all decisions that change the number of RHS evaluations must be
// agreed through a Reducer.
type Integrator interface {
	Info() Info
	Init(t0 float64, y0 []float64, f RHSFunc, cfg Config) error
	Integrate(tEnd float64) (Statistics, error)
	State() (t float64, y []float64)
}

// JacobianSource supplies df/dy for the local block of the state vector
type JacobianSource interface {
	Jacobian(t float64, y []float64) (*sparse.CSR, error)
}

// JacobianUser is implemented by engines that can use a Jacobian
type JacobianUser interface {
	SetJacobian(js JacobianSource)
}

// Reducer agrees a value across all subdomains
type Reducer interface {
	AllReduceMax(v float64) (float64, error)
}

// LocalReducer is the Reducer of a single subdomain run
type LocalReducer struct{}

func (LocalReducer) AllReduceMax(v float64) (float64, error) { return v, nil }

type Method uint8

const (
	METHOD_SSPRK Method = iota
	METHOD_RK45
	METHOD_IMPLICIT
)

var (
	MethodNames = map[string]Method{
		"ssprk":    METHOD_SSPRK,
		"rk45":     METHOD_RK45,
		"implicit": METHOD_IMPLICIT,
	}
	MethodPrintNames = []string{"ssprk", "rk45", "implicit"}
)

func (m Method) String() string { return MethodPrintNames[m] }

func NewMethod(label string) (m Method, err error) {
	var ok bool
	label = strings.ToLower(strings.TrimSpace(label))
	if len(label) == 0 {
		return METHOD_SSPRK, nil
	}
	if m, ok = MethodNames[label]; !ok {
		err = fmt.Errorf("unknown integrator type [%s]", label)
	}
	return
}

func New(m Method, red Reducer) Integrator {
	if red == nil {
		red = LocalReducer{}
	}
	switch m {
	case METHOD_RK45:
		return NewRK45(red)
	case METHOD_IMPLICIT:
		return NewImplicit(red)
	}
	return NewSSPRK()
}

// stepper holds what every engine keeps between Integrate calls
type stepper struct {
	f     RHSFunc
	cfg   Config
	t     float64
	y     []float64
	stats Statistics
}

func (s *stepper) init(t0 float64, y0 []float64, f RHSFunc, cfg Config) error {
	if f == nil {
		return errors.New("integrator needs a right hand side")
	}
	if cfg.InitialStep <= 0 {
		return fmt.Errorf("initial step must be positive, have %g", cfg.InitialStep)
	}
	s.f, s.cfg, s.t = f, cfg, t0
	s.y = make([]float64, len(y0))
	copy(s.y, y0)
	s.stats = Statistics{Time: t0}
	return nil
}

func (s *stepper) State() (float64, []float64) { return s.t, s.y }

func (s *stepper) eval(t float64, y, dydt []float64) (err error) {
	s.stats.Evaluations++
	if err = s.f(t, y, dydt); err != nil {
		return fmt.Errorf("rhs at t=%g: %w", t, err)
	}
	return
}

func (s *stepper) checkSteps(steps int, tEnd float64) error {
	if s.cfg.MaxSteps > 0 && steps >= s.cfg.MaxSteps {
		return fmt.Errorf("%w: %d steps, t=%g of %g", ErrMaxSteps, steps, s.t, tEnd)
	}
	return nil
}

// clip shortens a step so it lands on tEnd, steps within a rounding error of it are stretched
func clip(t, dt, tEnd float64) (float64, bool) {
	if t+dt > tEnd || tEnd-(t+dt) < 1.e-12*dt {
		return tEnd - t, true
	}
	return dt, false
}

// land pins the time to tEnd after the final step so rounding cannot leave a sliver
func (s *stepper) land(last bool, tEnd float64) {
	if last {
		s.t = tEnd
		s.stats.Time = tEnd
	}
}
