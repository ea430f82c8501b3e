// Package interp provides the interpolation kernels used when sampling a
// volume at continuous voxel coordinates: nearest-neighbour, trilinear and
// tricubic. The kernel is chosen once per run and passed into the reslicing
// engine, keeping the per-voxel hot loop free of method dispatch branching.
package interp

import (
	"fmt"
	"math"

	"voltransform/pkg/volume"
)

// Method enumerates the available interpolation kernels.
type Method int

const (
	Nearest Method = iota
	Linear
	Cubic
)

var methodNames = [...]string{"nearest", "linear", "cubic"}

// ParseMethod resolves a method name from the command line.
func ParseMethod(name string) (Method, error) {
	for m, n := range methodNames {
		if n == name {
			return Method(m), nil
		}
	}
	return 0, fmt.Errorf("unknown interpolation method %q (valid: nearest, linear, cubic)", name)
}

func (m Method) String() string {
	if m >= 0 && int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Kernel samples a volume at a continuous voxel coordinate. Implementations
// are stateless and safe for concurrent use. Coordinates wholly outside the
// kernel's support return (0, false) rather than failing.
type Kernel interface {
	Sample(v *volume.Volume, x, y, z float64) (float64, bool)
}

// New returns the kernel implementing m.
func New(m Method) Kernel {
	switch m {
	case Nearest:
		return nearest{}
	case Linear:
		return trilinear{}
	case Cubic:
		return tricubic{}
	}
	panic(fmt.Sprintf("interp: no kernel for %v", m))
}

// nearest rounds each coordinate to the closest voxel index.
type nearest struct{}

func (nearest) Sample(v *volume.Volume, x, y, z float64) (float64, bool) {
	i := int(math.Round(x))
	j := int(math.Round(y))
	k := int(math.Round(z))
	if !v.Contains(i, j, k) {
		return 0, false
	}
	return float64(v.At(i, j, k)), true
}

// trilinear interpolates over the 8 surrounding lattice points. Neighbours
// outside the volume contribute 0, so edge voxels blend toward zero.
type trilinear struct{}

func (trilinear) Sample(v *volume.Volume, x, y, z float64) (float64, bool) {
	ix, fx := split(x)
	iy, fy := split(y)
	iz, fz := split(z)

	wx := [2]float64{1 - fx, fx}
	wy := [2]float64{1 - fy, fy}
	wz := [2]float64{1 - fz, fz}

	sum := 0.0
	inside := false
	for dk := 0; dk < 2; dk++ {
		k := iz + dk
		if k < 0 || k >= v.Nz {
			continue
		}
		for dj := 0; dj < 2; dj++ {
			j := iy + dj
			if j < 0 || j >= v.Ny {
				continue
			}
			for di := 0; di < 2; di++ {
				i := ix + di
				if i < 0 || i >= v.Nx {
					continue
				}
				w := wx[di] * wy[dj] * wz[dk]
				if w == 0 {
					continue
				}
				sum += w * float64(v.At(i, j, k))
				inside = true
			}
		}
	}
	return sum, inside
}

// tricubic applies a Catmull-Rom cubic kernel separably over the 4x4x4
// surrounding lattice points. Indices one voxel outside the grid are clamped
// to the boundary (edge-replicate); anything further out contributes 0.
type tricubic struct{}

func (tricubic) Sample(v *volume.Volume, x, y, z float64) (float64, bool) {
	ix, fx := split(x)
	iy, fy := split(y)
	iz, fz := split(z)

	wx := catmullRom(fx)
	wy := catmullRom(fy)
	wz := catmullRom(fz)

	sum := 0.0
	inside := false
	for dk := 0; dk < 4; dk++ {
		k, okk := clampIndex(iz+dk-1, v.Nz)
		if !okk {
			continue
		}
		for dj := 0; dj < 4; dj++ {
			j, okj := clampIndex(iy+dj-1, v.Ny)
			if !okj {
				continue
			}
			for di := 0; di < 4; di++ {
				i, oki := clampIndex(ix+di-1, v.Nx)
				if !oki {
					continue
				}
				sum += wx[di] * wy[dj] * wz[dk] * float64(v.At(i, j, k))
				inside = true
			}
		}
	}
	return sum, inside
}

// split separates a coordinate into its base lattice index and the
// fractional offset in [0, 1).
func split(x float64) (int, float64) {
	f := math.Floor(x)
	return int(f), x - f
}

// catmullRom returns the four 1-D Catmull-Rom weights for fractional
// position t, covering lattice offsets -1, 0, +1, +2.
func catmullRom(t float64) [4]float64 {
	t2 := t * t
	t3 := t2 * t
	return [4]float64{
		0.5 * (-t3 + 2*t2 - t),
		0.5 * (3*t3 - 5*t2 + 2),
		0.5 * (-3*t3 + 4*t2 + t),
		0.5 * (t3 - t2),
	}
}

// clampIndex replicates the edge for indices within one voxel of the grid
// and rejects anything further out.
func clampIndex(i, n int) (int, bool) {
	switch {
	case i >= 0 && i < n:
		return i, true
	case i == -1:
		return 0, true
	case i == n:
		return n - 1, true
	}
	return 0, false
}
