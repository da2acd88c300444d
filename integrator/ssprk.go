package integrator

import "gonum.org/v1/gonum/floats"

// SSPRK is the four stage, third order strong stability preserving Runge Kutta scheme at a
// fixed step
type SSPRK struct {
	stepper
	Q1, Q2, Q3, RHSQ []float64
}

func NewSSPRK() *SSPRK { return &SSPRK{} }

func (rk *SSPRK) Info() Info { return Info{Name: "ssprk", Order: 3} }

func (rk *SSPRK) Init(t0 float64, y0 []float64, f RHSFunc, cfg Config) (err error) {
	if err = rk.init(t0, y0, f, cfg); err != nil {
		return
	}
	n := len(y0)
	rk.Q1, rk.Q2, rk.Q3, rk.RHSQ = make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	return
}

func (rk *SSPRK) Integrate(tEnd float64) (stats Statistics, err error) {
	var steps int
	for rk.t < tEnd {
		if err = rk.checkSteps(steps, tEnd); err != nil {
			break
		}
		dt, last := clip(rk.t, rk.cfg.InitialStep, tEnd)
		if err = rk.Step(dt); err != nil {
			break
		}
		rk.land(last, tEnd)
		steps++
	}
	stats = rk.stats
	return
}

// Step advances the state by dt
func (rk *SSPRK) Step(dt float64) (err error) {
	var (
		Q0, Q1, Q2, Q3, RHSQ = rk.y, rk.Q1, rk.Q2, rk.Q3, rk.RHSQ
		t                    = rk.t
	)
	if err = rk.eval(t, Q0, RHSQ); err != nil {
		return
	}
	floats.AddScaledTo(Q1, Q0, 0.5*dt, RHSQ)
	if err = rk.eval(t+0.5*dt, Q1, RHSQ); err != nil {
		return
	}
	floats.AddScaledTo(Q2, Q1, 0.5*dt, RHSQ)
	if err = rk.eval(t+dt, Q2, RHSQ); err != nil {
		return
	}
	floats.ScaleTo(Q3, 2./3., Q0)
	floats.AddScaled(Q3, 1./3., Q2)
	floats.AddScaled(Q3, dt/6., RHSQ)
	if err = rk.eval(t+0.5*dt, Q3, RHSQ); err != nil {
		return
	}
	floats.AddScaledTo(Q0, Q3, 0.5*dt, RHSQ)
	rk.t += dt
	rk.stats.Steps++
	rk.stats.LastStep = dt
	rk.stats.Time = rk.t
	return
}
