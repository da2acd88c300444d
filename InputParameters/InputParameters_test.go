package InputParameters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var input = []byte(`
########################################
Title: "Drift wave"
NOut: 10
TimeStep: 0.5
Mesh:
  NX: 16
  NY: 32
  NZ: 8
  NXPE: 2
  Dx: 0.1
  Dy: 0.2
  Dz: 0.05
  NonUniform: true
Model:
  chi: 0.01
ddx:
  first: C4
  upwind: U2
ddz:
  fourth: C2
solver:
  ATOL: 1.0e-10
  type: rk45
  adams_moulton: true
  mxstep: 2000
########################################
`)

func TestInputParameters(t *testing.T) {
	{ // Test parsing of the run description
		ip := &InputParameters{}
		require.Nil(t, ip.Parse(input))
		assert.Equal(t, "Drift wave", ip.Title)
		assert.Equal(t, 10, ip.NOut)
		assert.Equal(t, 0.5, ip.TimeStep)
		assert.Equal(t, 16, ip.Mesh.NX)
		assert.Equal(t, 2, ip.Mesh.NXPE)
		assert.Equal(t, 0.05, ip.Mesh.Dz)
		assert.True(t, ip.Mesh.NonUniform)
		assert.Equal(t, "C4", ip.DDX["first"])
		assert.Equal(t, "U2", ip.DDX["upwind"])
		assert.Equal(t, "C2", ip.DDZ["fourth"])
		assert.Nil(t, ip.DDY)
		assert.Equal(t, 0.01, ip.ModelParameter("chi", 1))
		assert.Equal(t, 1., ip.ModelParameter("nu", 1))
	}
	{ // Test reading from a file
		path := filepath.Join(t.TempDir(), "input.yaml")
		require.Nil(t, os.WriteFile(path, input, 0644))
		ip, opts, err := ReadFile(path)
		require.Nil(t, err)
		assert.Equal(t, 32, ip.Mesh.NY)
		assert.Equal(t, "rk45", opts.Section("solver").GetString("type", "ssprk"))
		_, _, err = ReadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.NotNil(t, err)
	}
}

func TestOptions(t *testing.T) {
	{ // Test keyed lookup with defaults
		opts, err := NewOptions(input)
		require.Nil(t, err)
		s := opts.Section("solver")
		assert.Equal(t, 1.e-10, s.GetFloat64("ATOL", 1.e-12))
		assert.Equal(t, 1.e-5, s.GetFloat64("RTOL", 1.e-5))
		assert.True(t, s.GetBool("adams_moulton", false))
		assert.Equal(t, 2000, s.GetInt("mxstep", 500))
		assert.Equal(t, 50, s.GetInt("precon_dimens", 50))
		assert.Equal(t, "rk45", s.GetString("TYPE", "ssprk"))
		assert.True(t, s.IsSet("atol"))
		assert.False(t, opts.Section("mesh2").IsSet("atol"))
	}
	{ // Test overrides
		opts, err := NewOptions(input)
		require.Nil(t, err)
		s := opts.Section("solver")
		s.Set("RTOL", 1.e-3)
		assert.Equal(t, 1.e-3, s.GetFloat64("rtol", 1.e-5))
	}
	{ // Test an empty and a nil store give defaults
		opts, err := NewOptions(nil)
		require.Nil(t, err)
		assert.Equal(t, 7, opts.Section("solver").GetInt("mudq", 7))
		var none *Options
		assert.Equal(t, "data/J.dat", none.Section("solver").GetString("J_write_file", "data/J.dat"))
		assert.Panics(t, func() { none.Section("solver").Set("x", 1) })
	}
	{ // Test malformed input
		_, err := NewOptions([]byte("solver: [1, 2\n"))
		assert.NotNil(t, err)
	}
}
