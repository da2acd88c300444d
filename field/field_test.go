package field

import (
	"testing"

	"github.com/notargets/goplasma/types"
	"github.com/stretchr/testify/assert"
)

func TestField(t *testing.T) {
	{ // Test lazy allocation and indexing
		f := NewField3D(3, 4, 5)
		assert.False(t, f.IsAllocated())
		assert.Nil(t, f.Data())
		f.Allocate()
		assert.Equal(t, 60, len(f.Data()))
		data := f.Data()
		f.Allocate()
		assert.Equal(t, &data[0], &f.Data()[0])
		f.Set(2, 3, 4, 7)
		assert.Equal(t, 7., f.Data()[59])
		assert.Equal(t, 7., AtPoint(f, 2, 3, 4))
		assert.Equal(t, types.CELL_CENTRE, f.Location())
	}
	{ // Test Shape strides
		s := Shape{3, 4, 5}
		assert.Equal(t, 20, s.Stride(types.DIR_X))
		assert.Equal(t, 5, s.Stride(types.DIR_Y))
		assert.Equal(t, 1, s.Stride(types.DIR_Z))
		assert.Equal(t, s.Index(1, 2, 3)+s.Stride(types.DIR_Y), s.Index(1, 3, 3))
	}
	{ // Test 2D fields read the same value for any k
		g := NewField2DConst(2, 2, 0)
		g.Set(1, 0, 3)
		assert.Equal(t, 3., AtPoint(g, 1, 0, 17))
		assert.False(t, g.Is3D())
	}
	{ // Test broadcasting a 2D field against a 3D field
		f := NewField3D(2, 2, 3)
		f.Fill(2)
		g := NewField2DConst(2, 2, 0)
		g.Set(0, 1, 4)
		AddTo(f, g)
		assert.Equal(t, 6., f.At(0, 1, 2))
		assert.Equal(t, 2., f.At(1, 1, 2))
		MulBy2D(f, NewField2DConst(2, 2, 0.5))
		assert.Equal(t, 3., f.At(0, 1, 0))
		DivBy2D(f, NewField2DConst(2, 2, 2), 2)
		assert.Equal(t, 0.75, f.At(0, 1, 1))
		R := Mul(g, f)
		assert.True(t, R.Is3D())
		assert.Equal(t, 3., AtPoint(R, 0, 1, 2))
	}
	{ // Mismatched planes panic
		assert.Panics(t, func() { AddTo(NewField2DConst(2, 2, 0), NewField2DConst(3, 2, 0)) })
	}
}

func TestVector(t *testing.T) {
	var (
		nx, ny = 2, 3
		c      = func(v float64) *Field2D { return NewField2DConst(nx, ny, v) }
	)
	g, err := NewMetric(c(2), c(3), c(4), c(1), c(0), c(0))
	assert.NoError(t, err)
	{ // Test covariant metric is the inverse
		det := 2.*3. - 1.
		assert.InDelta(t, 3./det, g.Co[0][0].At(1, 2), 1.e-12)
		assert.InDelta(t, -1./det, g.Co[0][1].At(1, 2), 1.e-12)
		assert.InDelta(t, 0.25, g.Co[2][2].At(0, 0), 1.e-12)
	}
	{ // Test round trip through covariant components
		v := NewVector3D(nx, ny, 2, false)
		v.Allocate()
		v.X.Fill(1)
		v.Y.Fill(2)
		v.Z.Fill(3)
		v.ToCovariant(g)
		assert.True(t, v.Covariant)
		assert.InDelta(t, (3.*1-1.*2)/5., v.X.At(0, 0, 1), 1.e-12)
		v.ToContravariant(g)
		assert.False(t, v.Covariant)
		assert.InDelta(t, 1., v.X.At(1, 1, 0), 1.e-12)
		assert.InDelta(t, 2., v.Y.At(1, 1, 0), 1.e-12)
		assert.InDelta(t, 3., v.Z.At(1, 1, 0), 1.e-12)
	}
	{ // Singular metric is an error
		_, err = NewMetric(c(1), c(1), c(1), c(1), c(0), c(0))
		assert.Error(t, err)
	}
}

func TestInterpTo(t *testing.T) {
	var (
		nx, ny, nz = 8, 3, 6
		f          = NewField3D(nx, ny, nz)
	)
	f.Allocate()
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			for k := 0; k < nz; k++ {
				f.Set(i, j, k, 2*float64(i)+1)
			}
		}
	}
	{ // Linear data is reproduced exactly half a cell lower
		R := InterpTo(f, types.CELL_XLOW)
		assert.Equal(t, types.CELL_XLOW, R.Location())
		for i := 1; i < nx; i++ {
			assert.InDelta(t, 2*(float64(i)-0.5)+1, AtPoint(R, i, 1, 2), 1.e-12)
		}
		assert.Equal(t, 1., AtPoint(R, 0, 1, 2))
		back := InterpTo(R, types.CELL_CENTRE)
		for i := 2; i < nx-1; i++ {
			assert.InDelta(t, 2*float64(i)+1, AtPoint(back, i, 0, 0), 1.e-12)
		}
	}
	{ // Same location is a no-op
		assert.Equal(t, Field(f), InterpTo(f, types.CELL_DEFAULT))
		assert.Equal(t, Field(f), InterpTo(f, types.CELL_CENTRE))
	}
	{ // Z shifts are periodic and leave z-constant data unchanged
		R := InterpTo(f, types.CELL_ZLOW)
		for k := 0; k < nz; k++ {
			assert.InDelta(t, 7., AtPoint(R, 3, 1, k), 1.e-12)
		}
		g := NewField2DConst(nx, ny, 5)
		R = InterpTo(g, types.CELL_ZLOW)
		assert.False(t, R.Is3D())
		assert.Equal(t, types.CELL_ZLOW, R.Location())
	}
	{ // Face to face goes via the centre
		R := InterpTo(InterpTo(f, types.CELL_XLOW), types.CELL_YLOW)
		assert.Equal(t, types.CELL_YLOW, R.Location())
		assert.InDelta(t, 9., AtPoint(R, 4, 1, 0), 1.e-12)
	}
}
