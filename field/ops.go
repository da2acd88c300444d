package field

import (
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/goplasma/utils"
)

// Scale multiplies f in place
func Scale(f Field, a float64) {
	floats.Scale(a, f.Data())
}

// AddTo accumulates src into dst. Shapes must agree unless src is 2D, which is broadcast in z.
func AddTo(dst, src Field) {
	checkPlane(dst, src)
	if dst.Shape() == src.Shape() {
		floats.Add(dst.Data(), src.Data())
		return
	}
	sd := src.Data()
	Broadcast(dst, func(ij int, fv float64) float64 { return fv + sd[ij] })
}

// AddScaledTo is dst += a*src with the same broadcast rule as AddTo
func AddScaledTo(dst Field, a float64, src Field) {
	checkPlane(dst, src)
	if dst.Shape() == src.Shape() {
		floats.AddScaled(dst.Data(), a, src.Data())
		return
	}
	sd := src.Data()
	Broadcast(dst, func(ij int, fv float64) float64 { return fv + a*sd[ij] })
}

// MulBy2D multiplies every z plane of f by g
func MulBy2D(f Field, g *Field2D) {
	checkPlane(f, g)
	if !f.Is3D() {
		floats.Mul(f.Data(), g.Data())
		return
	}
	gd := g.Data()
	Broadcast(f, func(ij int, fv float64) float64 { return fv * gd[ij] })
}

// DivBy2D divides every z plane of f by g raised to an integer power
func DivBy2D(f Field, g *Field2D, power int) {
	checkPlane(f, g)
	var (
		gd  = g.Data()
		inv = make([]float64, len(gd))
	)
	for ij, v := range gd {
		inv[ij] = utils.POW(v, -power)
	}
	if !f.Is3D() {
		floats.Mul(f.Data(), inv)
		return
	}
	Broadcast(f, func(ij int, fv float64) float64 { return fv * inv[ij] })
}

// Broadcast rewrites every point of f with op(planeIndex, value)
func Broadcast(f Field, op func(ij int, fv float64) float64) {
	var (
		s  = f.Shape()
		fd = f.Data()
	)
	for i := 0; i < s.Nx; i++ {
		for j := 0; j < s.Ny; j++ {
			ij := i*s.Ny + j
			off := ij * s.Nz
			for k := 0; k < s.Nz; k++ {
				fd[off+k] = op(ij, fd[off+k])
			}
		}
	}
}

// Mul is the pointwise product a*b, promoted to 3D if either is 3D
func Mul(a, b Field) (R Field) {
	checkPlane(a, b)
	R = Promote(a, b)
	var (
		s  = R.Shape()
		rd = R.Data()
	)
	for i := 0; i < s.Nx; i++ {
		for j := 0; j < s.Ny; j++ {
			for k := 0; k < s.Nz; k++ {
				rd[s.Index(i, j, k)] = AtPoint(a, i, j, k) * AtPoint(b, i, j, k)
			}
		}
	}
	return
}
