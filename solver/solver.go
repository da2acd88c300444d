package solver

import (
	"errors"
	"fmt"
	"time"

	"github.com/james-bowman/sparse"
	"github.com/sirupsen/logrus"

	"github.com/notargets/goplasma/InputParameters"
	"github.com/notargets/goplasma/integrator"
	"github.com/notargets/goplasma/jacobian"
	"github.com/notargets/goplasma/mesh"
	"github.com/notargets/goplasma/types"
)

// RHSFunc is the physical model. It reads the registered variables and writes their time
// derivatives, it is collective across subdomains.
type RHSFunc func(t float64) error

// MonitorFunc is called once per output interval, returning true stops the run. It has to
// decide the same way on every subdomain.
type MonitorFunc func(simTime float64, iteration, nout int) (stop bool)

// Restart writes the final checkpoint when a run is stopped early
type Restart interface {
	WriteFinal(simTime float64, iteration int, state []float64) error
}

// Solver adapts a registry of evolving variables and a model RHS to a time integrator. One
// Solver runs per subdomain.
type Solver struct {
	Reg     *Registry
	m       mesh.Mesh
	opts    *InputParameters.Options
	log     *logrus.Entry
	metrics *Metrics
	restart Restart

	state   types.SolverState
	rhs     RHSFunc
	monitor MonitorFunc
	integ   integrator.Integrator
	u       []float64

	nout                     int
	tstep, simTime, nextTime float64
	iteration                int
	// per output counters, reset after each monitor call
	rhsNCalls int
	rhsWTime  time.Duration

	localN, neq int
	stopped     bool
}

func NewSolver(reg *Registry, opts *InputParameters.Options, log *logrus.Entry) (s *Solver) {
	m := reg.Mesh()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s = &Solver{
		Reg:     reg,
		m:       m,
		opts:    opts,
		log:     log.WithField("rank", m.Rank()),
		metrics: NewMetrics(m.Rank()),
		state:   types.STATE_UNINITIALIZED,
	}
	return
}

func (s *Solver) SetRestart(r Restart) { s.restart = r }

func (s *Solver) State() types.SolverState         { return s.state }
func (s *Solver) SimTime() float64                  { return s.simTime }
func (s *Solver) Iteration() int                    { return s.iteration }
func (s *Solver) GlobalLength() int                 { return s.neq }
func (s *Solver) LocalLength() int                  { return s.localN }
func (s *Solver) Metrics() *Metrics                 { return s.metrics }
func (s *Solver) Stopped() bool                     { return s.stopped }
func (s *Solver) Integrator() integrator.Integrator { return s.integ }

// RHSCalls and RHSWallTime count the RHS evaluations since the last output
func (s *Solver) RHSCalls() int              { return s.rhsNCalls }
func (s *Solver) RHSWallTime() time.Duration { return s.rhsWTime }

func (s *Solver) checkState(allowed ...types.SolverState) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: solver is %s", ErrState, s.state)
}

// Initialize fixes the variable set and prepares the integrator to run nout outputs spaced by
// tstep. It is collective.
func (s *Solver) Initialize(rhs RHSFunc, nout int, tstep float64) (err error) {
	if err = s.checkState(types.STATE_UNINITIALIZED); err != nil {
		return
	}
	switch {
	case rhs == nil:
		return errors.New("solver needs a right hand side function")
	case nout < 1:
		return fmt.Errorf("number of outputs must be positive, have %d", nout)
	case tstep <= 0:
		return fmt.Errorf("output time step must be positive, have %g", tstep)
	}
	s.rhs, s.nout, s.tstep = rhs, nout, tstep
	s.Reg.Seal()
	s.localN = s.Reg.LocalLength()
	if s.neq, err = s.m.AllReduceSum(s.localN); err != nil {
		return fmt.Errorf("summing local lengths: %w", err)
	}
	s.u = make([]float64, s.localN)
	if err = s.agree(s.Reg.Pack(s.u)); err != nil {
		return fmt.Errorf("initial state: %w", err)
	}
	var (
		sec    = s.opts.Section("solver")
		method integrator.Method
		mxstep = sec.GetInt("mxstep", 500)
		cfg    = integrator.Config{
			InitialStep:  sec.GetFloat64("initial_tstep", tstep),
			MaxStep:      sec.GetFloat64("max_timestep", 0),
			AbsTol:       sec.GetFloat64("ATOL", 1.e-12),
			RelTol:       sec.GetFloat64("RTOL", 1.e-5),
			AdamsMoulton: sec.GetBool("adams_moulton", false),
			MaxSteps:     mxstep * nout,
		}
	)
	if method, err = integrator.NewMethod(sec.GetString("type", "ssprk")); err != nil {
		return
	}
	s.integ = integrator.New(method, s.m)
	if err = s.integ.Init(s.simTime, s.u, s.EvaluateRHS, cfg); err != nil {
		return fmt.Errorf("integrator %s: %w", method, err)
	}
	if ju, ok := s.integ.(integrator.JacobianUser); ok {
		if err = s.setupJacobian(ju, sec); err != nil {
			return
		}
	}
	info := s.integ.Info()
	s.log.WithFields(logrus.Fields{
		"n2d":        s.Reg.N2D(),
		"n3d":        s.Reg.N3D(),
		"local_N":    s.localN,
		"neq":        s.neq,
		"integrator": info.Name,
		"order":      info.Order,
		"atol":       cfg.AbsTol,
		"rtol":       cfg.RelTol,
		"mxstep":     mxstep,
		"tfinal":     float64(nout) * tstep,
	}).Info("solver initialized")
	s.log.WithFields(logrus.Fields{
		"use_precon":    sec.GetBool("use_precon", false),
		"precon_dimens": sec.GetInt("precon_dimens", 50),
		"precon_tol":    sec.GetFloat64("precon_tol", 1.e-4),
		"mukeep":        sec.GetInt("mukeep", 0),
		"mlkeep":        sec.GetInt("mlkeep", 0),
	}).Debug("preconditioner options")
	s.log.WithField("variables", s.Reg.Variables()).Debug("evolving variables")
	s.nextTime = s.simTime + tstep
	s.state = types.STATE_INITIALIZED
	return
}

func (s *Solver) setupJacobian(ju integrator.JacobianUser, sec *InputParameters.Section) (err error) {
	if path := sec.GetString("J_load", ""); len(path) != 0 {
		fx := jacobian.Fixed{}
		load := func() (err error) {
			if fx.M, err = jacobian.LoadFile(path); err != nil {
				return fmt.Errorf("loading jacobian: %w", err)
			}
			if r, _ := fx.M.Dims(); r != s.localN {
				return fmt.Errorf("jacobian in %s has %d rows, local length is %d", path, r, s.localN)
			}
			return
		}
		if err = s.agree(load()); err != nil {
			return
		}
		s.log.WithField("file", path).Info("loaded jacobian")
		ju.SetJacobian(fx)
		return
	}
	// the default band covers the neighbouring x columns of every 3D variable
	var (
		mxsub = s.m.XEnd() - s.m.XStart() + 1
		bw    = s.Reg.N3D() * (mxsub + 2)
		band  = jacobian.Band{Lower: sec.GetInt("mldq", bw), Upper: sec.GetInt("mudq", bw)}
		fd    = jacobian.NewFD(s.computeRHS, s.m, band, sec.GetBool("J_slowfd", false))
	)
	ju.SetJacobian(fd)
	if sec.GetBool("J_write", false) {
		var (
			path = sec.GetString("J_write_file", "data/J.dat")
			J    *sparse.CSR
		)
		if J, err = fd.Jacobian(s.simTime, s.u); err != nil {
			return fmt.Errorf("evaluating jacobian: %w", err)
		}
		if err = jacobian.SaveFile(path, J); err != nil {
			return fmt.Errorf("writing jacobian: %w", err)
		}
		s.log.WithFields(logrus.Fields{"file": path, "nnz": J.NNZ()}).Info("wrote jacobian")
		// the difference quotients leave perturbed values behind
		if err = s.Reg.Unpack(s.u); err != nil {
			return
		}
	}
	return
}

// agree turns a local failure into a collective one: every subdomain returns an error when any
// of them failed, so none is left waiting in the next collective call
func (s *Solver) agree(local error) (err error) {
	var failed, anyFailed float64
	if local != nil {
		failed = 1
	}
	if anyFailed, err = s.m.AllReduceMax(failed); err != nil {
		return
	}
	switch {
	case local != nil:
		return local
	case anyFailed > 0:
		return ErrPeerFailed
	}
	return nil
}

// computeRHS evaluates the model without touching the output bookkeeping
func (s *Solver) computeRHS(t float64, u, du []float64) (err error) {
	start := time.Now()
	evaluate := func() (err error) {
		if err = s.Reg.Unpack(u); err != nil {
			return
		}
		if err = s.rhs(t); err != nil {
			return fmt.Errorf("model rhs: %w", err)
		}
		return s.Reg.PackDerivatives(du)
	}
	if err = s.agree(evaluate()); err != nil {
		return
	}
	elapsed := time.Since(start)
	s.rhsNCalls++
	s.rhsWTime += elapsed
	s.metrics.RHSCalls.Inc()
	s.metrics.RHSSeconds.Observe(elapsed.Seconds())
	return
}

// EvaluateRHS is the callback handed to the integrator. Crossing an output time calls the
// monitor, a stop request writes the final checkpoint and returns ErrStopRequested.
func (s *Solver) EvaluateRHS(t float64, u, du []float64) (err error) {
	if err = s.checkState(types.STATE_INITIALIZED, types.STATE_STEPPING); err != nil {
		return
	}
	if err = s.computeRHS(t, u, du); err != nil {
		return
	}
	s.simTime = t
	s.metrics.SimTime.Set(t)
	if t < s.nextTime {
		return
	}
	s.iteration++
	var stop bool
	if s.monitor != nil {
		s.metrics.MonitorCalls.Inc()
		stop = s.monitor(s.simTime, s.iteration, s.nout)
	}
	s.log.WithFields(logrus.Fields{
		"iteration": s.iteration,
		"sim_time":  s.simTime,
		"rhs_calls": s.rhsNCalls,
		"wall_time": s.rhsWTime,
	}).Debug("output")
	s.rhsNCalls, s.rhsWTime = 0, 0
	s.nextTime = s.simTime + s.tstep
	if stop {
		s.stopped = true
		if s.restart != nil {
			if err = s.restart.WriteFinal(s.simTime, s.iteration, u); err != nil {
				return fmt.Errorf("writing final state: %w", err)
			}
		}
		return ErrStopRequested
	}
	return
}

// Advance integrates to nout*tstep. A monitor stop ends the run cleanly, the registered
// variables then hold the state the monitor saw.
func (s *Solver) Advance(monitor MonitorFunc) (steps int, finalTime float64, err error) {
	if err = s.checkState(types.STATE_INITIALIZED); err != nil {
		return
	}
	var (
		stats  integrator.Statistics
		tfinal = float64(s.nout) * s.tstep
	)
	s.monitor = monitor
	s.nextTime = s.simTime + s.tstep
	s.state = types.STATE_STEPPING
	stats, err = s.integ.Integrate(tfinal)
	s.state = types.STATE_FINALIZED
	steps, finalTime = stats.Steps, stats.Time
	switch {
	case errors.Is(err, ErrStopRequested):
		err = nil
		s.log.WithFields(logrus.Fields{"sim_time": s.simTime, "iteration": s.iteration}).
			Info("run stopped by monitor")
		return
	case err != nil:
		s.log.WithError(err).Error("integration failed")
		return
	}
	t, y := s.integ.State()
	copy(s.u, y)
	if err = s.Reg.Unpack(s.u); err != nil {
		return
	}
	s.simTime = t
	s.log.WithFields(logrus.Fields{
		"steps":       stats.Steps,
		"rejected":    stats.Rejected,
		"evaluations": stats.Evaluations,
		"sim_time":    t,
	}).Info("run finished")
	return
}
