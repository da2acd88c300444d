package integrator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// RK45 is the adaptive Dormand-Prince pair. The error norm is reduced across subdomains, so
// every subdomain accepts or rejects the same steps.
type RK45 struct {
	stepper
	red                        Reducer
	safety, minScale, maxScale float64
	k1, k2, k3, k4, k5, k6, k7 []float64
	ytmp, ynew                 []float64
	dt                         float64
	fsal                       bool // k1 holds f(t, y) from the last accepted step
}

func NewRK45(red Reducer) *RK45 {
	return &RK45{
		red:      red,
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
	}
}

func (rk *RK45) Info() Info { return Info{Name: "rk45", Order: 5, Adaptive: true} }

func (rk *RK45) Init(t0 float64, y0 []float64, f RHSFunc, cfg Config) (err error) {
	if cfg.AbsTol <= 0 && cfg.RelTol <= 0 {
		cfg.AbsTol, cfg.RelTol = 1.e-12, 1.e-5
	}
	if err = rk.init(t0, y0, f, cfg); err != nil {
		return
	}
	n := len(y0)
	for _, buf := range []*[]float64{&rk.k1, &rk.k2, &rk.k3, &rk.k4, &rk.k5, &rk.k6, &rk.k7,
		&rk.ytmp, &rk.ynew} {
		*buf = make([]float64, n)
	}
	rk.dt = cfg.InitialStep
	rk.fsal = false
	return
}

func (rk *RK45) Integrate(tEnd float64) (stats Statistics, err error) {
	var steps int
	for rk.t < tEnd {
		if err = rk.checkSteps(steps, tEnd); err != nil {
			break
		}
		var (
			dt, last = clip(rk.t, rk.dt, tEnd)
			accepted bool
			dtNew    float64
		)
		if accepted, dtNew, err = rk.attempt(dt); err != nil {
			break
		}
		if !accepted {
			rk.stats.Rejected++
			if rk.cfg.MinStep > 0 && dtNew < rk.cfg.MinStep {
				err = fmt.Errorf("%w: dt=%g at t=%g", ErrStepSize, dtNew, rk.t)
				break
			}
			rk.dt = dtNew
			continue
		}
		rk.land(last, tEnd)
		steps++
		if !last {
			rk.dt = dtNew
		}
		if rk.cfg.MaxStep > 0 {
			rk.dt = math.Min(rk.dt, rk.cfg.MaxStep)
		}
	}
	stats = rk.stats
	return
}

// stage sets dst = y + dt*sum(coef[n]*ks[n]) and returns it
func stage(dst, y []float64, dt float64, coef []float64, ks ...[]float64) []float64 {
	copy(dst, y)
	for n, k := range ks {
		if coef[n] != 0 {
			floats.AddScaled(dst, dt*coef[n], k)
		}
	}
	return dst
}

func (rk *RK45) attempt(dt float64) (accepted bool, dtNew float64, err error) {
	var (
		t = rk.t
		y = rk.y
	)
	if !rk.fsal {
		if err = rk.eval(t, y, rk.k1); err != nil {
			return
		}
	}
	if err = rk.eval(t+a2*dt, stage(rk.ytmp, y, dt, []float64{b21}, rk.k1), rk.k2); err != nil {
		return
	}
	if err = rk.eval(t+a3*dt, stage(rk.ytmp, y, dt, []float64{b31, b32}, rk.k1, rk.k2), rk.k3); err != nil {
		return
	}
	if err = rk.eval(t+a4*dt, stage(rk.ytmp, y, dt, []float64{b41, b42, b43}, rk.k1, rk.k2, rk.k3), rk.k4); err != nil {
		return
	}
	if err = rk.eval(t+a5*dt, stage(rk.ytmp, y, dt, []float64{b51, b52, b53, b54},
		rk.k1, rk.k2, rk.k3, rk.k4), rk.k5); err != nil {
		return
	}
	if err = rk.eval(t+dt, stage(rk.ytmp, y, dt, []float64{b61, b62, b63, b64, b65},
		rk.k1, rk.k2, rk.k3, rk.k4, rk.k5), rk.k6); err != nil {
		return
	}
	stage(rk.ynew, y, dt, []float64{c1, c3, c4, c5, c6}, rk.k1, rk.k3, rk.k4, rk.k5, rk.k6)
	if err = rk.eval(t+dt, rk.ynew, rk.k7); err != nil {
		return
	}
	errMax := 0.0
	for i := range y {
		errEst := dt * (dc1*rk.k1[i] + dc3*rk.k3[i] + dc4*rk.k4[i] + dc5*rk.k5[i] + dc6*rk.k6[i] + dc7*rk.k7[i])
		scale := rk.cfg.AbsTol + rk.cfg.RelTol*math.Max(math.Abs(y[i]), math.Abs(rk.ynew[i]))
		errMax = math.Max(errMax, math.Abs(errEst)/scale)
	}
	if errMax, err = rk.red.AllReduceMax(errMax); err != nil {
		return
	}
	if math.IsNaN(errMax) {
		err = fmt.Errorf("%w: error estimate is NaN at t=%g", ErrStepSize, t)
		return
	}
	switch {
	case errMax > 1:
		dtNew = dt * math.Max(rk.minScale, rk.safety*math.Pow(errMax, -0.25))
		// k1 is still f(t, y)
		rk.fsal = true
		return
	case errMax > 0:
		dtNew = dt * math.Min(rk.maxScale, rk.safety*math.Pow(errMax, -0.2))
	default:
		dtNew = dt * rk.maxScale
	}
	copy(rk.y, rk.ynew)
	rk.k1, rk.k7 = rk.k7, rk.k1
	rk.fsal = true
	rk.t += dt
	rk.stats.Steps++
	rk.stats.LastStep = dt
	rk.stats.Time = rk.t
	accepted = true
	return
}
