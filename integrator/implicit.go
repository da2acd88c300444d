package integrator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrNoJacobian = errors.New("implicit integrator has no Jacobian source")

// Implicit is the linearly implicit theta method at a fixed step:
//
//	(I - theta dt J) dy = dt f(t, y)
//
// theta = 1 is backward Euler, theta = 1/2 the trapezoid (Adams-Moulton order 2) rule
type Implicit struct {
	stepper
	red   Reducer
	js    JacobianSource
	theta float64
	RHSQ  []float64
	A     *mat.Dense
	b, dy *mat.VecDense
}

func NewImplicit(red Reducer) *Implicit {
	if red == nil {
		red = LocalReducer{}
	}
	return &Implicit{red: red, theta: 1}
}

func (im *Implicit) SetJacobian(js JacobianSource) { im.js = js }

func (im *Implicit) Info() Info {
	order := 1
	if im.theta == 0.5 {
		order = 2
	}
	return Info{Name: "implicit", Order: order, Implicit: true}
}

func (im *Implicit) Init(t0 float64, y0 []float64, f RHSFunc, cfg Config) (err error) {
	if err = im.init(t0, y0, f, cfg); err != nil {
		return
	}
	im.theta = 1
	if cfg.AdamsMoulton {
		im.theta = 0.5
	}
	n := len(y0)
	im.RHSQ = make([]float64, n)
	if n > 0 {
		im.A = mat.NewDense(n, n, nil)
		im.b = mat.NewVecDense(n, nil)
		im.dy = mat.NewVecDense(n, nil)
	}
	return
}

func (im *Implicit) Integrate(tEnd float64) (stats Statistics, err error) {
	var steps int
	if im.js == nil {
		err = ErrNoJacobian
		stats = im.stats
		return
	}
	for im.t < tEnd {
		if err = im.checkSteps(steps, tEnd); err != nil {
			break
		}
		dt, last := clip(im.t, im.cfg.InitialStep, tEnd)
		if err = im.Step(dt); err != nil {
			break
		}
		im.land(last, tEnd)
		steps++
	}
	stats = im.stats
	return
}

// Step advances the state by dt. The Jacobian is evaluated before the RHS so that the RHS at
// (t, y) is the last evaluation the model sees for this step.
func (im *Implicit) Step(dt float64) (err error) {
	var (
		t                 = im.t
		y                 = im.y
		J                 mat.Matrix
		solveErr          error
		failed, anyFailed float64
	)
	if J, err = im.js.Jacobian(t, y); err != nil {
		return fmt.Errorf("jacobian at t=%g: %w", t, err)
	}
	if err = im.eval(t, y, im.RHSQ); err != nil {
		return
	}
	if len(y) > 0 {
		if solveErr = im.solve(J, dt); solveErr != nil {
			failed = 1
		}
	}
	// a failed solve on one subdomain has to stop every subdomain
	if anyFailed, err = im.red.AllReduceMax(failed); err != nil {
		return
	}
	if anyFailed > 0 {
		if solveErr == nil {
			solveErr = errors.New("solve failed on another subdomain")
		}
		return fmt.Errorf("implicit solve at t=%g: %w", t, solveErr)
	}
	if len(y) > 0 {
		for i := range y {
			y[i] += im.dy.AtVec(i)
		}
	}
	im.advance(dt)
	return
}

func (im *Implicit) solve(J mat.Matrix, dt float64) (err error) {
	n := len(im.y)
	if r, c := J.Dims(); r != n || c != n {
		return fmt.Errorf("jacobian is %dx%d, state has %d entries", r, c, n)
	}
	im.A.Zero()
	for i := 0; i < n; i++ {
		im.A.Set(i, i, 1)
	}
	if nz, ok := J.(interface {
		DoNonZero(fn func(i, j int, v float64))
	}); ok {
		nz.DoNonZero(func(i, j int, v float64) {
			im.A.Set(i, j, im.A.At(i, j)-im.theta*dt*v)
		})
	} else {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				im.A.Set(i, j, im.A.At(i, j)-im.theta*dt*J.At(i, j))
			}
		}
	}
	for i := 0; i < n; i++ {
		im.b.SetVec(i, dt*im.RHSQ[i])
	}
	return im.dy.SolveVec(im.A, im.b)
}

func (im *Implicit) advance(dt float64) {
	im.t += dt
	im.stats.Steps++
	im.stats.LastStep = dt
	im.stats.Time = im.t
}
