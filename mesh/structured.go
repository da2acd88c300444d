package mesh

import (
	"fmt"
	"math"

	"github.com/notargets/goplasma/field"
	"github.com/notargets/goplasma/utils"
)

type Config struct {
	NX, NY, NZ int // Global interior points, NZ points toroidally
	MXG, MYG   int // Guard widths
	NXPE, NYPE int
	Dx, Dy, Dz float64
	// StretchX and StretchY vary the spacing linearly across the global domain, zero is uniform
	StretchX, StretchY float64
	NonUniform         bool
	// ShiftTorsion switches on the integrated shear correction of X derivatives when non zero
	ShiftTorsion float64
}

// Decomposition splits a global mesh into NXPE x NYPE subdomains, each meant to be driven by
// its own goroutine. Rank r sits at (r % NXPE, r / NXPE).
type Decomposition struct {
	Cfg          Config
	xPart, yPart *utils.PartitionMap
	halo         *utils.MailBox[[]float64]
	reduce       *utils.MailBox[float64]
	meshes       []*StructuredMesh
}

func NewDecomposition(cfg Config) (d *Decomposition, err error) {
	if cfg.MXG == 0 {
		cfg.MXG = 2
	}
	if cfg.MYG == 0 {
		cfg.MYG = 2
	}
	if cfg.NXPE < 1 {
		cfg.NXPE = 1
	}
	if cfg.NYPE < 1 {
		cfg.NYPE = 1
	}
	if cfg.NZ < 1 {
		cfg.NZ = 1
	}
	switch {
	case cfg.MXG < 0 || cfg.MYG < 0:
		return nil, fmt.Errorf("guard widths must be positive, have MXG=%d MYG=%d", cfg.MXG, cfg.MYG)
	case cfg.NX < cfg.NXPE*cfg.MXG:
		return nil, fmt.Errorf("NX = %d is too small for %d subdomains with %d guard cells",
			cfg.NX, cfg.NXPE, cfg.MXG)
	case cfg.NY < cfg.NYPE*cfg.MYG:
		return nil, fmt.Errorf("NY = %d is too small for %d subdomains with %d guard cells",
			cfg.NY, cfg.NYPE, cfg.MYG)
	case cfg.Dx <= 0 || cfg.Dy <= 0 || cfg.Dz <= 0:
		return nil, fmt.Errorf("grid spacings must be positive, have dx=%g dy=%g dz=%g",
			cfg.Dx, cfg.Dy, cfg.Dz)
	}
	NP := cfg.NXPE * cfg.NYPE
	d = &Decomposition{
		Cfg:    cfg,
		xPart:  utils.NewPartitionMap(cfg.NXPE, cfg.NX),
		yPart:  utils.NewPartitionMap(cfg.NYPE, cfg.NY),
		halo:   utils.NewMailBox[[]float64](NP, 4),
		reduce: utils.NewMailBox[float64](NP, 4),
		meshes: make([]*StructuredMesh, NP),
	}
	for rank := 0; rank < NP; rank++ {
		d.meshes[rank] = d.newStructuredMesh(rank)
	}
	return
}

func (d *Decomposition) NProc() int { return len(d.meshes) }

func (d *Decomposition) Mesh(rank int) *StructuredMesh { return d.meshes[rank] }

func (d *Decomposition) rankOf(px, py int) int { return py*d.Cfg.NXPE + px }

// StructuredMesh is one subdomain of a Decomposition
type StructuredMesh struct {
	d                          *Decomposition
	rank, px, py               int
	shape                      field.Shape
	xstart, xend, ystart, yend int
	coords                     *Coordinates
	lowerY, upperY             []int
}

func (d *Decomposition) newStructuredMesh(rank int) (m *StructuredMesh) {
	var (
		cfg    = d.Cfg
		px, py = rank % cfg.NXPE, rank / cfg.NXPE
		nxI    = d.xPart.GetBucketDimension(px)
		nyI    = d.yPart.GetBucketDimension(py)
		nx, ny = nxI + 2*cfg.MXG, nyI + 2*cfg.MYG
	)
	m = &StructuredMesh{
		d:      d,
		rank:   rank,
		px:     px,
		py:     py,
		shape:  field.Shape{Nx: nx, Ny: ny, Nz: cfg.NZ},
		xstart: cfg.MXG,
		xend:   cfg.MXG + nxI - 1,
		ystart: cfg.MYG,
		yend:   cfg.MYG + nyI - 1,
	}
	if py == 0 {
		for i := m.xstart; i <= m.xend; i++ {
			m.lowerY = append(m.lowerY, i)
		}
	}
	if py == cfg.NYPE-1 {
		for i := m.xstart; i <= m.xend; i++ {
			m.upperY = append(m.upperY, i)
		}
	}
	m.coords = m.newCoordinates()
	return
}

func (m *StructuredMesh) newCoordinates() (c *Coordinates) {
	var (
		cfg = m.d.Cfg
		s   = m.shape
	)
	c = NewUniformCoordinates(s.Nx, s.Ny, cfg.Dx, cfg.Dy, cfg.Dz)
	for i := 0; i < s.Nx; i++ {
		for j := 0; j < s.Ny; j++ {
			// Position in [-1/2,1/2] across the global interior, guards extrapolate
			var (
				xi  = (float64(m.GlobalX(i))+0.5)/float64(cfg.NX) - 0.5
				eta = (float64(m.GlobalY(j))+0.5)/float64(cfg.NY) - 0.5
			)
			c.Dx.Set(i, j, cfg.Dx*(1+cfg.StretchX*xi))
			c.Dy.Set(i, j, cfg.Dy*(1+cfg.StretchY*eta))
			c.IntShiftTorsion.Set(i, j, cfg.ShiftTorsion)
		}
	}
	c.SetNonUniform(cfg.NonUniform)
	return
}

func (m *StructuredMesh) Rank() int                 { return m.rank }
func (m *StructuredMesh) NProc() int                { return m.d.NProc() }
func (m *StructuredMesh) Shape() field.Shape        { return m.shape }
func (m *StructuredMesh) XStart() int               { return m.xstart }
func (m *StructuredMesh) XEnd() int                 { return m.xend }
func (m *StructuredMesh) YStart() int               { return m.ystart }
func (m *StructuredMesh) YEnd() int                 { return m.yend }
func (m *StructuredMesh) FirstX() bool              { return m.px == 0 }
func (m *StructuredMesh) LastX() bool               { return m.px == m.d.Cfg.NXPE-1 }
func (m *StructuredMesh) BoundaryLowerY() []int     { return m.lowerY }
func (m *StructuredMesh) BoundaryUpperY() []int     { return m.upperY }
func (m *StructuredMesh) Coordinates() *Coordinates { return m.coords }
func (m *StructuredMesh) IncIntShear() bool         { return m.d.Cfg.ShiftTorsion != 0 }

// GlobalX is the global interior index of local x index i, guards fall outside 0..NX-1
func (m *StructuredMesh) GlobalX(i int) int { return m.d.xPart.GetGlobalK(i-m.xstart, m.px) }

func (m *StructuredMesh) GlobalY(j int) int { return m.d.yPart.GetGlobalK(j-m.ystart, m.py) }

// neighbours in the order the exchange is done: x then y, so y strips carry filled x guards
func (m *StructuredMesh) neighbour(dir, side int) (rank int, ok bool) {
	var (
		cfg    = m.d.Cfg
		px, py = m.px, m.py
	)
	if dir == 0 {
		px += side
	} else {
		py += side
	}
	if px < 0 || px >= cfg.NXPE || py < 0 || py >= cfg.NYPE {
		return -1, false
	}
	return m.d.rankOf(px, py), true
}

// strip is the index box of the points sent to, or received from, one side
type strip struct {
	i0, i1, j0, j1 int // half open
}

func (m *StructuredMesh) strips(dir, side int) (send, recv strip) {
	var (
		s        = m.shape
		mxg, myg = m.xstart, m.ystart
	)
	if dir == 0 {
		send.j0, send.j1 = m.ystart, m.yend+1
		recv.j0, recv.j1 = send.j0, send.j1
		if side < 0 {
			send.i0, send.i1 = m.xstart, m.xstart+mxg
			recv.i0, recv.i1 = 0, mxg
		} else {
			send.i0, send.i1 = m.xend+1-mxg, m.xend+1
			recv.i0, recv.i1 = m.xend+1, s.Nx
		}
		return
	}
	send.i0, send.i1 = 0, s.Nx
	recv.i0, recv.i1 = 0, s.Nx
	if side < 0 {
		send.j0, send.j1 = m.ystart, m.ystart+myg
		recv.j0, recv.j1 = 0, myg
	} else {
		send.j0, send.j1 = m.yend+1-myg, m.yend+1
		recv.j0, recv.j1 = m.yend+1, s.Ny
	}
	return
}

func packStrip(buf []float64, f field.Field, st strip) []float64 {
	var (
		s  = f.Shape()
		fd = f.Data()
	)
	for i := st.i0; i < st.i1; i++ {
		for j := st.j0; j < st.j1; j++ {
			off := s.Index(i, j, 0)
			buf = append(buf, fd[off:off+s.Nz]...)
		}
	}
	return buf
}

func unpackStrip(buf []float64, f field.Field, st strip) []float64 {
	var (
		s  = f.Shape()
		fd = f.Data()
	)
	for i := st.i0; i < st.i1; i++ {
		for j := st.j0; j < st.j1; j++ {
			off := s.Index(i, j, 0)
			copy(fd[off:off+s.Nz], buf[:s.Nz])
			buf = buf[s.Nz:]
		}
	}
	return buf
}

// Communicate fills the guard cells of every field from the neighbouring subdomains' interiors.
// All fields travel in one message per neighbour. Guards on the global boundary are not touched.
func (m *StructuredMesh) Communicate(fields ...field.Field) (err error) {
	for _, f := range fields {
		if !f.IsAllocated() {
			return fmt.Errorf("communicate: field %q is unallocated", f.Name())
		}
		s := f.Shape()
		if s.Nx != m.shape.Nx || s.Ny != m.shape.Ny {
			return fmt.Errorf("communicate: field %q has plane %dx%d, mesh is %dx%d",
				f.Name(), s.Nx, s.Ny, m.shape.Nx, m.shape.Ny)
		}
	}
	for dir := 0; dir < 2; dir++ {
		for _, side := range []int{-1, 1} {
			if nb, ok := m.neighbour(dir, side); ok {
				send, _ := m.strips(dir, side)
				var buf []float64
				for _, f := range fields {
					buf = packStrip(buf, f, send)
				}
				m.d.halo.PostMessage(m.rank, nb, buf)
			}
		}
		for _, side := range []int{-1, 1} {
			if nb, ok := m.neighbour(dir, side); ok {
				_, recv := m.strips(dir, side)
				buf := m.d.halo.ReceiveMessage(m.rank, nb)
				for _, f := range fields {
					buf = unpackStrip(buf, f, recv)
				}
				if len(buf) != 0 {
					return fmt.Errorf("communicate: rank %d sent %d more values than expected",
						nb, len(buf))
				}
			}
		}
	}
	return
}

func (m *StructuredMesh) allGather(v float64) (vals []float64) {
	NP := m.d.NProc()
	vals = make([]float64, NP)
	m.d.reduce.PostMessageToAll(m.rank, v)
	for rank := 0; rank < NP; rank++ {
		if rank == m.rank {
			vals[rank] = v
			continue
		}
		vals[rank] = m.d.reduce.ReceiveMessage(m.rank, rank)
	}
	return
}

// AllReduceSum is collective, every rank gets the same total
func (m *StructuredMesh) AllReduceSum(v int) (sum int, err error) {
	for _, val := range m.allGather(float64(v)) {
		sum += int(val)
	}
	return
}

// AllReduceMax is collective, the values are combined in rank order so every rank agrees
func (m *StructuredMesh) AllReduceMax(v float64) (max float64, err error) {
	max = math.Inf(-1)
	for rank, val := range m.allGather(v) {
		if math.IsNaN(val) {
			return val, fmt.Errorf("rank %d contributed NaN to a max reduction", rank)
		}
		max = math.Max(max, val)
	}
	return
}
