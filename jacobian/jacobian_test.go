package jacobian

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/goplasma/integrator"
)

// linear returns f(y) = A y
func linear(A *mat.Dense) integrator.RHSFunc {
	return func(t float64, y, dydt []float64) error {
		out := mat.NewVecDense(len(dydt), dydt)
		out.MulVec(A, mat.NewVecDense(len(y), y))
		return nil
	}
}

func tridiagonal(n int) (A *mat.Dense) {
	A = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		A.Set(i, i, -2)
		if i > 0 {
			A.Set(i, i-1, 1)
		}
		if i < n-1 {
			A.Set(i, i+1, 3)
		}
	}
	return
}

type fixedReducer float64

func (r fixedReducer) AllReduceMax(v float64) (float64, error) { return max(v, float64(r)), nil }

func TestFD(t *testing.T) {
	var (
		n = 10
		y = make([]float64, n)
	)
	for i := range y {
		y[i] = float64(i) - 3.5
	}
	{ // Test a banded Jacobian is recovered with one call per color
		A := tridiagonal(n)
		fd := NewFD(linear(A), nil, Band{Lower: 1, Upper: 1}, false)
		assert.Equal(t, 3, fd.NColors(n))
		J, err := fd.Jacobian(0, y)
		require.Nil(t, err)
		assert.Equal(t, 4, fd.Calls)
		assert.True(t, mat.EqualApprox(A, J, 1.e-6))
		assert.Equal(t, 3*n-2, J.NNZ())
	}
	{ // Test a one sided band
		A := tridiagonal(n)
		for i := 0; i < n-1; i++ {
			A.Set(i, i+1, 0)
		}
		fd := NewFD(linear(A), nil, Band{Lower: 1, Upper: 0}, false)
		J, err := fd.Jacobian(0, y)
		require.Nil(t, err)
		assert.Equal(t, 3, fd.Calls)
		assert.True(t, mat.EqualApprox(A, J, 1.e-6))
		assert.Equal(t, 2*n-1, J.NNZ())
	}
	{ // Test the slow path recovers a dense Jacobian
		A := mat.NewDense(4, 4, []float64{
			1, 2, 3, 4,
			5, 6, 7, 8,
			-1, 0, 1, 0,
			0, 0, 0, 9,
		})
		fd := NewFD(linear(A), nil, Band{}, true)
		J, err := fd.Jacobian(0, y[:4])
		require.Nil(t, err)
		assert.Equal(t, 5, fd.Calls)
		assert.True(t, mat.EqualApprox(A, J, 1.e-6))
	}
	{ // Test the color count follows the other subdomains
		A := tridiagonal(n)
		fd := NewFD(linear(A), fixedReducer(6), Band{Lower: 1, Upper: 1}, false)
		J, err := fd.Jacobian(0, y)
		require.Nil(t, err)
		assert.Equal(t, 7, fd.Calls)
		assert.True(t, mat.EqualApprox(A, J, 1.e-6))
	}
	{ // Test negative bandwidths are rejected
		assert.Panics(t, func() { NewFD(linear(tridiagonal(2)), nil, Band{Lower: -1}, false) })
	}
}

func TestSaveLoad(t *testing.T) {
	var (
		n = 6
		y = make([]float64, n)
	)
	A := tridiagonal(n)
	J, err := NewFD(linear(A), nil, Band{Lower: 1, Upper: 1}, false).Jacobian(0, y)
	require.Nil(t, err)
	{ // Test a stream round trip
		var buf bytes.Buffer
		require.Nil(t, Save(&buf, J))
		J2, err := Load(&buf)
		require.Nil(t, err)
		assert.True(t, mat.Equal(J, J2))
	}
	{ // Test a file round trip and the stored source
		path := filepath.Join(t.TempDir(), "jac", "J.bin")
		require.Nil(t, SaveFile(path, J))
		J2, err := LoadFile(path)
		require.Nil(t, err)
		fx := Fixed{M: J2}
		M, err := fx.Jacobian(0, y)
		require.Nil(t, err)
		assert.True(t, mat.Equal(J, M))
		_, err = fx.Jacobian(0, y[:3])
		assert.NotNil(t, err)
	}
	{ // Test a missing file
		_, err := LoadFile(filepath.Join(t.TempDir(), "none.bin"))
		assert.NotNil(t, err)
	}
}
