package jacobian

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/james-bowman/sparse"
	"github.com/mitchellh/go-homedir"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goplasma/integrator"
)

// Band is the half bandwidth of the Jacobian, Lower counts diagonals below the main diagonal
type Band struct {
	Lower, Upper int
}

func (b Band) Width() int { return b.Lower + b.Upper + 1 }

// FD is a finite difference Jacobian of the local block of the state vector. Columns are grouped
// into colors so that columns of one color never touch the same row within the band, one RHS
// evaluation then gives a whole color.
type FD struct {
	f      integrator.RHSFunc
	red    integrator.Reducer
	band   Band
	slow   bool
	f0, fp []float64
	yp     []float64
	delta  []float64
	Calls  int
}

// NewFD builds a banded difference Jacobian for f. With slow set every column is its own color
// and the full local block is computed.
func NewFD(f integrator.RHSFunc, red integrator.Reducer, band Band, slow bool) (fd *FD) {
	if red == nil {
		red = integrator.LocalReducer{}
	}
	if band.Lower < 0 || band.Upper < 0 {
		panic(fmt.Errorf("negative bandwidth %+v", band))
	}
	fd = &FD{f: f, red: red, band: band, slow: slow}
	return
}

// NColors is the number of perturbed evaluations one Jacobian needs locally
func (fd *FD) NColors(n int) int {
	if fd.slow {
		return n
	}
	return min(fd.band.Width(), n)
}

func (fd *FD) rows(col, n int) (beg, end int) {
	if fd.slow {
		return 0, n - 1
	}
	beg, end = max(col-fd.band.Upper, 0), min(col+fd.band.Lower, n-1)
	return
}

func (fd *FD) Jacobian(t float64, y []float64) (J *sparse.CSR, err error) {
	var (
		n       = len(y)
		nc      = fd.NColors(n)
		ncGlob  float64
		stride  = nc
		sqrtEps = math.Sqrt(2.220446049250313e-16)
	)
	if len(fd.f0) != n {
		fd.f0, fd.fp, fd.yp, fd.delta = make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	}
	// every subdomain has to make the same number of RHS calls
	if ncGlob, err = fd.red.AllReduceMax(float64(nc)); err != nil {
		return
	}
	fd.Calls++
	if err = fd.f(t, y, fd.f0); err != nil {
		return
	}
	dok := sparse.NewDOK(n, n)
	for i := range y {
		fd.delta[i] = sqrtEps * math.Max(math.Abs(y[i]), 1)
	}
	for c := 0; c < int(ncGlob); c++ {
		copy(fd.yp, y)
		if c < nc {
			for j := c; j < n; j += stride {
				fd.yp[j] += fd.delta[j]
			}
		}
		fd.Calls++
		if err = fd.f(t, fd.yp, fd.fp); err != nil {
			return
		}
		if c >= nc {
			continue
		}
		for j := c; j < n; j += stride {
			beg, end := fd.rows(j, n)
			for i := beg; i <= end; i++ {
				if v := (fd.fp[i] - fd.f0[i]) / fd.delta[j]; v != 0 {
					dok.Set(i, j, v)
				}
			}
		}
	}
	J = dok.ToCSR()
	return
}

// Fixed serves a stored Jacobian, used when the Jacobian is loaded from disk
type Fixed struct {
	M *sparse.CSR
}

func (fx Fixed) Jacobian(t float64, y []float64) (*sparse.CSR, error) {
	if r, _ := fx.M.Dims(); r != len(y) {
		return nil, fmt.Errorf("stored jacobian has %d rows, state has %d entries", r, len(y))
	}
	return fx.M, nil
}

// Save writes the Jacobian in the gonum dense binary format
func Save(w io.Writer, J *sparse.CSR) (err error) {
	_, err = mat.DenseCopyOf(J).MarshalBinaryTo(w)
	return
}

func Load(r io.Reader) (J *sparse.CSR, err error) {
	var (
		D mat.Dense
	)
	if _, err = D.UnmarshalBinaryFrom(r); err != nil {
		return
	}
	nr, nc := D.Dims()
	dok := sparse.NewDOK(nr, nc)
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			if v := D.At(i, j); v != 0 {
				dok.Set(i, j, v)
			}
		}
	}
	J = dok.ToCSR()
	return
}

func SaveFile(path string, J *sparse.CSR) (err error) {
	var (
		file *os.File
	)
	if path, err = homedir.Expand(path); err != nil {
		return
	}
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	if file, err = os.Create(path); err != nil {
		return
	}
	defer file.Close()
	return Save(file, J)
}

func LoadFile(path string) (J *sparse.CSR, err error) {
	var (
		file *os.File
	)
	if path, err = homedir.Expand(path); err != nil {
		return
	}
	if file, err = os.Open(path); err != nil {
		return
	}
	defer file.Close()
	return Load(file)
}
