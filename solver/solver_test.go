package solver

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/goplasma/InputParameters"
	"github.com/notargets/goplasma/field"
	"github.com/notargets/goplasma/mesh"
	"github.com/notargets/goplasma/types"
)

func newTestMesh(t *testing.T) *mesh.StructuredMesh {
	d, err := mesh.NewDecomposition(mesh.Config{NX: 4, NY: 3, NZ: 2, Dx: 1, Dy: 1, Dz: 1})
	require.NoError(t, err)
	return d.Mesh(0)
}

// decayModel evolves a 3D n and a 2D T with dn/dt = -n and dT/dt = -2T
type decayModel struct {
	n, dn *field.Field3D
	T, dT *field.Field2D
}

func newDecayModel(t *testing.T, reg *Registry) (dm *decayModel) {
	s := reg.Mesh().Shape()
	dm = &decayModel{
		n:  field.NewField3D(s.Nx, s.Ny, s.Nz),
		dn: field.NewField3D(s.Nx, s.Ny, s.Nz),
		T:  field.NewField2D(s.Nx, s.Ny),
		dT: field.NewField2D(s.Nx, s.Ny),
	}
	dm.n.Fill(1)
	dm.T.Fill(2)
	require.NoError(t, reg.Add3D("n", dm.n, dm.dn))
	require.NoError(t, reg.Add2D("T", dm.T, dm.dT))
	return
}

func (dm *decayModel) RHS(t float64) error {
	dm.dn.Allocate()
	dm.dT.Allocate()
	for i, v := range dm.n.Data() {
		dm.dn.Data()[i] = -v
	}
	for i, v := range dm.T.Data() {
		dm.dT.Data()[i] = -2 * v
	}
	return nil
}

type recordingRestart struct {
	calls     int
	simTime   float64
	iteration int
	length    int
}

func (r *recordingRestart) WriteFinal(simTime float64, iteration int, state []float64) error {
	r.calls++
	r.simTime, r.iteration, r.length = simTime, iteration, len(state)
	return nil
}

func options(t *testing.T, yaml string) *InputParameters.Options {
	opts, err := InputParameters.NewOptions([]byte(yaml))
	require.NoError(t, err)
	return opts
}

func TestRegistry(t *testing.T) {
	m := newTestMesh(t)
	s := m.Shape()
	L := mesh.Points(m)
	assert.Equal(t, 40, L)
	{ // Test the local length counts every scalar slot
		reg := NewRegistry(m)
		newDecayModel(t, reg)
		v2 := field.NewVector2D(s.Nx, s.Ny, false)
		v3 := field.NewVector3D(s.Nx, s.Ny, s.Nz, true)
		require.NoError(t, reg.AddVector2D("B", v2, nil))
		require.NoError(t, reg.AddVector3D("V", v3, nil))
		assert.Equal(t, 4, reg.N2D())
		assert.Equal(t, 4, reg.N3D())
		assert.Equal(t, reg.N2D()*L+reg.N3D()*L*s.Nz, reg.LocalLength())
		assert.Equal(t, []string{"T", "B_x", "B_y", "B_z", "n", "V_x", "V_y", "V_z"}, reg.Variables())
		err := reg.Add2D("late", field.NewField2D(s.Nx, s.Ny), nil)
		assert.True(t, errors.Is(err, ErrSealed))
	}
	{ // Test shape checks
		reg := NewRegistry(m)
		assert.Error(t, reg.Add2D("bad", field.NewField2D(s.Nx+1, s.Ny), nil))
		assert.Error(t, reg.Add3D("bad", field.NewField3D(s.Nx, s.Ny, s.Nz+1), nil))
	}
	{ // Test the canonical order puts 2D slots first at each point
		reg := NewRegistry(m)
		dm := newDecayModel(t, reg)
		dm.T.Fill(7)
		dm.n.Set(m.XStart(), m.YStart(), 1, 3)
		buf := make([]float64, reg.LocalLength())
		require.NoError(t, reg.Pack(buf))
		// the inner x boundary comes first, its first point is (0, YStart)
		assert.Equal(t, []float64{7, 1, 1}, buf[:3])
		// the bulk starts after the inner x boundary and the lower y boundary
		p := 3 * (m.XStart()*(m.YEnd()-m.YStart()+1) + len(m.BoundaryLowerY())*m.YStart())
		assert.Equal(t, []float64{7, 1, 3}, buf[p:p+3])
	}
	{ // Test a pack and unpack round trip restores values and declared bases
		reg := NewRegistry(m)
		dm := newDecayModel(t, reg)
		V := field.NewVector3D(s.Nx, s.Ny, s.Nz, false)
		V.Allocate()
		for n, c := range V.Components() {
			for i := range c.Data() {
				c.Data()[i] = float64(n) + 0.1*float64(i)
			}
		}
		require.NoError(t, reg.AddVector3D("V", V, nil))
		for i := range dm.n.Data() {
			dm.n.Data()[i] = math.Sin(float64(i))
		}
		buf := make([]float64, reg.LocalLength())
		require.NoError(t, reg.Pack(buf))
		dm.n.Fill(-1)
		dm.T.Fill(-1)
		V.X.Fill(-1)
		V.Covariant = true
		require.NoError(t, reg.Unpack(buf))
		assert.False(t, V.Covariant)
		buf2 := make([]float64, reg.LocalLength())
		require.NoError(t, reg.Pack(buf2))
		assert.Equal(t, buf, buf2)
		assert.Equal(t, math.Sin(float64(s.Index(m.XStart(), m.YStart(), 1))),
			dm.n.At(m.XStart(), m.YStart(), 1))
	}
	{ // Test unpack allocates storage and restores locations
		reg := NewRegistry(m)
		f := field.NewField3D(s.Nx, s.Ny, s.Nz)
		f.SetLocation(types.CELL_XLOW)
		require.NoError(t, reg.Add3D("f", f, nil))
		f.SetLocation(types.CELL_CENTRE)
		buf := make([]float64, reg.LocalLength())
		for i := range buf {
			buf[i] = 2
		}
		require.NoError(t, reg.Unpack(buf))
		assert.True(t, f.IsAllocated())
		assert.Equal(t, types.CELL_XLOW, f.Location())
		assert.Equal(t, 2., f.At(m.XStart(), m.YStart(), 0))
	}
	{ // Test pack converts a vector to its declared basis
		reg := NewRegistry(newMetricMesh(t, 2))
		V := field.NewVector3D(s.Nx, s.Ny, s.Nz, false)
		V.Allocate()
		V.X.Fill(2)
		require.NoError(t, reg.AddVector3D("V", V, nil))
		V.Covariant = true
		buf := make([]float64, reg.LocalLength())
		require.NoError(t, reg.Pack(buf))
		assert.False(t, V.Covariant)
		assert.Equal(t, 4., buf[0])
	}
	{ // Test pack names the unallocated field
		reg := NewRegistry(m)
		require.NoError(t, reg.Add3D("phi", field.NewField3D(s.Nx, s.Ny, s.Nz), nil))
		err := reg.Pack(make([]float64, reg.LocalLength()))
		assert.True(t, errors.Is(err, ErrUnallocated))
		assert.True(t, strings.Contains(err.Error(), "phi"))
	}
	{ // Test buffer lengths are checked
		reg := NewRegistry(m)
		newDecayModel(t, reg)
		assert.True(t, errors.Is(reg.Unpack(make([]float64, 3)), ErrLength))
		assert.True(t, errors.Is(reg.Pack(make([]float64, 3)), ErrLength))
		assert.True(t, errors.Is(reg.PackDerivatives(make([]float64, 3)), ErrLength))
	}
}

// newMetricMesh is a single subdomain with g^11 = g11
func newMetricMesh(t *testing.T, g11 float64) *mesh.StructuredMesh {
	m := newTestMesh(t)
	s := m.Shape()
	var (
		one  = func() *field.Field2D { return field.NewField2DConst(s.Nx, s.Ny, 1) }
		zero = func() *field.Field2D { return field.NewField2DConst(s.Nx, s.Ny, 0) }
	)
	g, err := field.NewMetric(field.NewField2DConst(s.Nx, s.Ny, g11), one(), one(), zero(), zero(), zero())
	require.NoError(t, err)
	m.Coordinates().Metric = g
	return m
}

func TestPackDerivatives(t *testing.T) {
	m := newTestMesh(t)
	s := m.Shape()
	{ // Test a derivative on the wrong location is interpolated before packing
		reg := NewRegistry(m)
		f := field.NewField3D(s.Nx, s.Ny, s.Nz)
		f.Fill(0)
		ddt := field.NewField3D(s.Nx, s.Ny, s.Nz)
		require.NoError(t, reg.Add3D("f", f, ddt))
		ddt.Allocate()
		ddt.SetLocation(types.CELL_XLOW)
		// linear in x, face i sits at i - 1/2
		for i := 0; i < s.Nx; i++ {
			for j := 0; j < s.Ny; j++ {
				for k := 0; k < s.Nz; k++ {
					ddt.Set(i, j, k, float64(i)-0.5)
				}
			}
		}
		buf := make([]float64, reg.LocalLength())
		require.NoError(t, reg.PackDerivatives(buf))
		assert.Equal(t, types.CELL_CENTRE, ddt.Location())
		require.NoError(t, reg.Unpack(buf))
		for i := m.XStart(); i <= m.XEnd(); i++ {
			assert.InDelta(t, float64(i), f.At(i, m.YStart(), 1), 1.e-12)
		}
	}
	{ // Test derivative storage must exist
		reg := NewRegistry(m)
		newDecayModel(t, reg)
		err := reg.PackDerivatives(make([]float64, reg.LocalLength()))
		assert.True(t, errors.Is(err, ErrUnallocated))
		reg.AllocateDerivatives()
		assert.NoError(t, reg.PackDerivatives(make([]float64, reg.LocalLength())))
	}
	{ // Test vector derivatives are converted to the declared basis
		reg := NewRegistry(newMetricMesh(t, 2))
		V := field.NewVector3D(s.Nx, s.Ny, s.Nz, true)
		V.Allocate()
		dV := field.NewVector3D(s.Nx, s.Ny, s.Nz, false)
		require.NoError(t, reg.AddVector3D("V", V, dV))
		dV.Allocate()
		dV.X.Fill(1)
		buf := make([]float64, reg.LocalLength())
		require.NoError(t, reg.PackDerivatives(buf))
		assert.True(t, dV.Covariant)
		// g_11 = 1/2
		assert.InDelta(t, 0.5, buf[0], 1.e-14)
	}
}

func TestSolverStates(t *testing.T) {
	{ // Test calls out of order are rejected
		reg := NewRegistry(newTestMesh(t))
		dm := newDecayModel(t, reg)
		sv := NewSolver(reg, nil, nil)
		assert.Equal(t, types.STATE_UNINITIALIZED, sv.State())
		u := make([]float64, reg.LocalLength())
		assert.True(t, errors.Is(sv.EvaluateRHS(0, u, u), ErrState))
		_, _, err := sv.Advance(nil)
		assert.True(t, errors.Is(err, ErrState))
		assert.Error(t, sv.Initialize(dm.RHS, 0, 1))
		assert.Error(t, sv.Initialize(dm.RHS, 1, 0))
		assert.Error(t, sv.Initialize(nil, 1, 1))
		require.NoError(t, sv.Initialize(dm.RHS, 2, 1))
		assert.Equal(t, types.STATE_INITIALIZED, sv.State())
		assert.Equal(t, reg.LocalLength(), sv.LocalLength())
		assert.Equal(t, reg.LocalLength(), sv.GlobalLength())
		assert.True(t, errors.Is(sv.Initialize(dm.RHS, 2, 1), ErrState))
		assert.True(t, errors.Is(reg.Add2D("x", field.NewField2D(1, 1), nil), ErrSealed))
	}
	{ // Test initialization stops on unallocated storage
		m := newTestMesh(t)
		s := m.Shape()
		reg := NewRegistry(m)
		require.NoError(t, reg.Add3D("psi", field.NewField3D(s.Nx, s.Ny, s.Nz), nil))
		sv := NewSolver(reg, nil, nil)
		err := sv.Initialize(func(float64) error { return nil }, 1, 1)
		assert.True(t, errors.Is(err, ErrUnallocated))
		assert.True(t, strings.Contains(err.Error(), "psi"))
		assert.Equal(t, types.STATE_UNINITIALIZED, sv.State())
	}
	{ // Test an unknown integrator type
		reg := NewRegistry(newTestMesh(t))
		dm := newDecayModel(t, reg)
		sv := NewSolver(reg, options(t, "solver:\n  type: cvode\n"), nil)
		assert.Error(t, sv.Initialize(dm.RHS, 1, 1))
	}
}

func TestMonitor(t *testing.T) {
	reg := NewRegistry(newTestMesh(t))
	dm := newDecayModel(t, reg)
	sv := NewSolver(reg, nil, nil)
	require.NoError(t, sv.Initialize(dm.RHS, 4, 1))
	var calls []float64
	sv.monitor = func(simTime float64, iteration, nout int) bool {
		calls = append(calls, simTime)
		assert.Equal(t, 4, nout)
		return false
	}
	var (
		u  = make([]float64, sv.LocalLength())
		du = make([]float64, sv.LocalLength())
	)
	require.NoError(t, reg.Pack(u))
	{ // Test the output time is a closed lower bound
		require.NoError(t, sv.EvaluateRHS(1-1.e-12, u, du))
		assert.Equal(t, 0, sv.Iteration())
		assert.Equal(t, 1, sv.RHSCalls())
		require.NoError(t, sv.EvaluateRHS(1, u, du))
		assert.Equal(t, 1, sv.Iteration())
		assert.Equal(t, []float64{1}, calls)
		// counters restart after each output
		assert.Equal(t, 0, sv.RHSCalls())
		assert.Equal(t, -4., du[0])
	}
	{ // Test the next output is one interval after the crossing time
		require.NoError(t, sv.EvaluateRHS(1.5, u, du))
		require.NoError(t, sv.EvaluateRHS(1.99, u, du))
		assert.Equal(t, 1, sv.Iteration())
		require.NoError(t, sv.EvaluateRHS(2.2, u, du))
		assert.Equal(t, 2, sv.Iteration())
		require.NoError(t, sv.EvaluateRHS(3.1, u, du))
		assert.Equal(t, 2, sv.Iteration())
		require.NoError(t, sv.EvaluateRHS(3.2, u, du))
		assert.Equal(t, 3, sv.Iteration())
		assert.Equal(t, []float64{1, 2.2, 3.2}, calls)
		assert.Equal(t, 3.2, sv.SimTime())
	}
	{ // Test the metrics follow the evaluations
		mt := sv.Metrics()
		assert.Equal(t, 7., testutil.ToFloat64(mt.RHSCalls))
		assert.Equal(t, 3., testutil.ToFloat64(mt.MonitorCalls))
		assert.Equal(t, 3.2, testutil.ToFloat64(mt.SimTime))
	}
}

func TestAdvance(t *testing.T) {
	{ // Test a full run lands on the final time with the decayed state
		reg := NewRegistry(newTestMesh(t))
		dm := newDecayModel(t, reg)
		sv := NewSolver(reg, options(t, "solver:\n  initial_tstep: 0.01\n"), nil)
		require.NoError(t, sv.Initialize(dm.RHS, 4, 0.25))
		var monitorCalls int
		steps, ftime, err := sv.Advance(func(simTime float64, iteration, nout int) bool {
			monitorCalls++
			return false
		})
		require.NoError(t, err)
		assert.Equal(t, types.STATE_FINALIZED, sv.State())
		assert.Equal(t, 1., ftime)
		assert.Equal(t, 100, steps)
		assert.Equal(t, monitorCalls, sv.Iteration())
		assert.True(t, monitorCalls >= 3)
		assert.False(t, sv.Stopped())
		m := reg.Mesh()
		assert.InDelta(t, math.Exp(-1), dm.n.At(m.XStart(), m.YStart(), 0), 1.e-6)
		assert.InDelta(t, 2*math.Exp(-2), dm.T.At(m.XEnd(), m.YEnd()), 1.e-6)
		_, _, err = sv.Advance(nil)
		assert.True(t, errors.Is(err, ErrState))
	}
	{ // Test a monitor stop writes the final state and ends the run cleanly
		reg := NewRegistry(newTestMesh(t))
		dm := newDecayModel(t, reg)
		sv := NewSolver(reg, options(t, "solver:\n  initial_tstep: 0.01\n"), nil)
		rs := &recordingRestart{}
		sv.SetRestart(rs)
		require.NoError(t, sv.Initialize(dm.RHS, 4, 0.25))
		_, ftime, err := sv.Advance(func(simTime float64, iteration, nout int) bool {
			return iteration == 2
		})
		require.NoError(t, err)
		assert.True(t, sv.Stopped())
		assert.Equal(t, types.STATE_FINALIZED, sv.State())
		assert.Equal(t, 1, rs.calls)
		assert.Equal(t, 2, rs.iteration)
		assert.Equal(t, sv.LocalLength(), rs.length)
		assert.True(t, rs.simTime >= 0.5-1.e-9)
		assert.True(t, ftime < 1)
	}
	{ // Test a failing model aborts the run
		reg := NewRegistry(newTestMesh(t))
		newDecayModel(t, reg)
		sv := NewSolver(reg, nil, nil)
		bad := errors.New("negative density")
		require.NoError(t, sv.Initialize(func(float64) error { return bad }, 1, 1))
		_, _, err := sv.Advance(nil)
		assert.True(t, errors.Is(err, bad))
	}
}

func TestCollectiveFailure(t *testing.T) {
	d, err := mesh.NewDecomposition(mesh.Config{NX: 4, NY: 3, NZ: 2, NXPE: 2, Dx: 1, Dy: 1, Dz: 1})
	require.NoError(t, err)
	bad := errors.New("negative density")
	// run drives one solver per subdomain, each setup gets the rank and returns the model RHS
	run := func(setup func(rank int, reg *Registry) RHSFunc) (initErrs, runErrs []error) {
		var (
			solvers = make([]*Solver, d.NProc())
			rhs     = make([]RHSFunc, d.NProc())
			done    = make(chan struct{})
		)
		initErrs, runErrs = make([]error, d.NProc()), make([]error, d.NProc())
		for rank := range solvers {
			reg := NewRegistry(d.Mesh(rank))
			rhs[rank] = setup(rank, reg)
			solvers[rank] = NewSolver(reg, options(t, "solver:\n  initial_tstep: 0.01\n"), nil)
		}
		go func() {
			defer close(done)
			finished := make(chan int)
			for rank := range solvers {
				go func(rank int) {
					sv := solvers[rank]
					if initErrs[rank] = sv.Initialize(rhs[rank], 2, 0.1); initErrs[rank] == nil {
						_, _, runErrs[rank] = sv.Advance(nil)
					}
					finished <- rank
				}(rank)
			}
			for range solvers {
				<-finished
			}
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("subdomains did not finish, a collective call was left waiting")
		}
		return
	}
	{ // Test a model failing on one subdomain stops every subdomain
		initErrs, runErrs := run(func(rank int, reg *Registry) RHSFunc {
			dm := newDecayModel(t, reg)
			if rank == 0 {
				return dm.RHS
			}
			return func(simTime float64) error {
				if simTime > 0.05 {
					return bad
				}
				return dm.RHS(simTime)
			}
		})
		assert.NoError(t, initErrs[0])
		assert.NoError(t, initErrs[1])
		assert.True(t, errors.Is(runErrs[0], ErrPeerFailed))
		assert.True(t, errors.Is(runErrs[1], bad))
	}
	{ // Test a bad initial state on one subdomain fails initialization everywhere
		initErrs, _ := run(func(rank int, reg *Registry) RHSFunc {
			dm := newDecayModel(t, reg)
			if rank == 1 {
				s := reg.Mesh().Shape()
				require.NoError(t, reg.Add3D("phi", field.NewField3D(s.Nx, s.Ny, s.Nz), nil))
			}
			return dm.RHS
		})
		assert.True(t, errors.Is(initErrs[0], ErrPeerFailed))
		assert.True(t, errors.Is(initErrs[1], ErrUnallocated))
	}
}

func TestImplicitSolver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "J.bin")
	{ // Test backward Euler with a diagonal difference Jacobian, written to disk
		reg := NewRegistry(newTestMesh(t))
		dm := newDecayModel(t, reg)
		sv := NewSolver(reg, options(t, `
solver:
  type: implicit
  initial_tstep: 0.05
  mudq: 0
  mldq: 0
  J_write: true
  J_write_file: `+path+`
`), nil)
		require.NoError(t, sv.Initialize(dm.RHS, 2, 0.25))
		assert.True(t, sv.Integrator().Info().Implicit)
		// the written Jacobian evaluation must not leave perturbed values behind
		m := reg.Mesh()
		assert.Equal(t, 1., dm.n.At(m.XStart(), m.YStart(), 0))
		steps, ftime, err := sv.Advance(nil)
		require.NoError(t, err)
		assert.Equal(t, 10, steps)
		assert.Equal(t, 0.5, ftime)
		assert.InDelta(t, math.Pow(1.05, -10), dm.n.At(m.XStart(), m.YStart(), 1), 1.e-6)
		assert.InDelta(t, 2*math.Pow(1.1, -10), dm.T.At(m.XStart(), m.YStart()), 1.e-6)
	}
	{ // Test a loaded Jacobian gives the same run
		reg := NewRegistry(newTestMesh(t))
		dm := newDecayModel(t, reg)
		sv := NewSolver(reg, options(t, `
solver:
  type: implicit
  initial_tstep: 0.05
  J_load: `+path+`
`), nil)
		require.NoError(t, sv.Initialize(dm.RHS, 2, 0.25))
		_, _, err := sv.Advance(nil)
		require.NoError(t, err)
		m := reg.Mesh()
		assert.InDelta(t, math.Pow(1.05, -10), dm.n.At(m.XStart(), m.YStart(), 1), 1.e-6)
	}
	{ // Test a missing Jacobian file stops initialization
		reg := NewRegistry(newTestMesh(t))
		dm := newDecayModel(t, reg)
		sv := NewSolver(reg, options(t, "solver:\n  type: implicit\n  J_load: /nonexistent/J.bin\n"), nil)
		assert.Error(t, sv.Initialize(dm.RHS, 1, 1))
	}
}
