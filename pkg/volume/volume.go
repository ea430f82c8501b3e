// Package volume provides the in-memory representation of a 3D scalar image
// together with its grid geometry (dimensions, voxel sizes and the
// voxel-index to scanner-space transform), and NIfTI-1 file I/O.
package volume

import (
	"fmt"

	"voltransform/pkg/affine"
)

// Volume is a 3D scalar image. Data is stored in row-major order with x
// varying fastest, matching the on-disk NIfTI layout. The Transform maps a
// voxel index (i, j, k) directly to scanner-space millimetres; voxel sizes
// are carried separately for oversample derivation and display.
type Volume struct {
	// Nx, Ny, Nz are the grid dimensions in voxels.
	Nx, Ny, Nz int

	// Vox holds the physical voxel size along each axis in mm.
	Vox [3]float64

	// Transform maps voxel indices to scanner-space coordinates.
	Transform affine.Matrix

	// DType is the on-disk datatype of the source image. Voxel values are
	// held as float32 in memory regardless.
	DType DataType

	// Descrip is free-form provenance text carried in the header.
	Descrip string

	// Data holds the voxel values, len Nx*Ny*Nz.
	Data []float32
}

// New allocates a zero-filled volume with unit voxels and an identity
// transform.
func New(nx, ny, nz int) *Volume {
	return &Volume{
		Nx:        nx,
		Ny:        ny,
		Nz:        nz,
		Vox:       [3]float64{1, 1, 1},
		Transform: affine.Identity(),
		DType:     Float32,
		Data:      make([]float32, nx*ny*nz),
	}
}

// NVox returns the total number of voxels.
func (v *Volume) NVox() int { return v.Nx * v.Ny * v.Nz }

// Index returns the flat data index of voxel (i, j, k). No bounds check.
func (v *Volume) Index(i, j, k int) int {
	return (k*v.Ny+j)*v.Nx + i
}

// At returns the value at voxel (i, j, k). No bounds check.
func (v *Volume) At(i, j, k int) float32 {
	return v.Data[(k*v.Ny+j)*v.Nx+i]
}

// Set stores val at voxel (i, j, k). No bounds check.
func (v *Volume) Set(i, j, k int, val float32) {
	v.Data[(k*v.Ny+j)*v.Nx+i] = val
}

// Contains reports whether (i, j, k) lies inside the grid.
func (v *Volume) Contains(i, j, k int) bool {
	return i >= 0 && i < v.Nx && j >= 0 && j < v.Ny && k >= 0 && k < v.Nz
}

// NewFromGeometry allocates a zero-filled volume adopting the grid geometry
// of tmpl: dimensions, voxel sizes and scanner transform. The datatype and
// provenance text are not copied; the caller sets those.
func NewFromGeometry(tmpl *Volume) *Volume {
	out := New(tmpl.Nx, tmpl.Ny, tmpl.Nz)
	out.Vox = tmpl.Vox
	out.Transform = tmpl.Transform
	return out
}

// SameGrid reports whether a and b share dimensions. Used by the direct-copy
// path, which requires matching grids.
func SameGrid(a, b *Volume) bool {
	return a.Nx == b.Nx && a.Ny == b.Ny && a.Nz == b.Nz
}

func (v *Volume) validate() error {
	if v.Nx <= 0 || v.Ny <= 0 || v.Nz <= 0 {
		return fmt.Errorf("volume dimensions must be positive, got %dx%dx%d", v.Nx, v.Ny, v.Nz)
	}
	for a, s := range v.Vox {
		if s <= 0 {
			return fmt.Errorf("voxel size along axis %d must be positive, got %g", a, s)
		}
	}
	if len(v.Data) != v.NVox() {
		return fmt.Errorf("data length %d does not match %dx%dx%d grid", len(v.Data), v.Nx, v.Ny, v.Nz)
	}
	return nil
}
