// Package reslice resamples a volume onto a new grid geometry. Every output
// voxel is mapped through the composed transform into continuous input
// coordinates, oversampled on a regular sub-grid to reduce aliasing, and
// sampled with the configured interpolation kernel.
package reslice

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"voltransform/pkg/affine"
	"voltransform/pkg/interp"
	"voltransform/pkg/volume"
)

// ProgressFunc receives monotonically increasing completion counts. It may
// be called from multiple workers; counts are produced with an atomic
// counter so callbacks observe them in nondecreasing order per worker.
type ProgressFunc func(done, total int)

// Engine resamples an input volume onto an output grid. The zero value is
// not usable; populate Kernel and Oversample first.
type Engine struct {
	// Kernel is the sampling strategy, fixed for the whole run.
	Kernel interp.Kernel

	// Oversample holds the per-axis sub-sample counts, each >= 1.
	Oversample [3]int

	// Workers is the number of goroutines reslicing output z-slices.
	// Zero means one per CPU.
	Workers int

	// Progress, when set, is invoked after each completed output slice.
	Progress ProgressFunc
}

// Reslice fills out by resampling in through the net transform T. The output
// grid geometry (dimensions, voxel sizes, scanner transform) must already be
// set on out. T is the extra transform composed between the two scanner
// spaces; nil means none.
//
// The per-voxel computation is a pure function of the voxel index, the
// hoisted mapping and the input volume, so output z-slices are distributed
// across a worker pool with no synchronisation beyond the final barrier:
// each output element has exactly one writer.
func (e *Engine) Reslice(out, in *volume.Volume, T *affine.Matrix) error {
	for a, f := range e.Oversample {
		if f < 1 {
			return fmt.Errorf("reslice: oversample factor along axis %d must be >= 1, got %d", a, f)
		}
	}
	if e.Kernel == nil {
		return fmt.Errorf("reslice: no interpolation kernel configured")
	}

	// Map output voxel index -> scanner -> (extra transform) -> input voxel
	// index. Constant across all voxels, so computed once here.
	inInv, err := affine.Invert(in.Transform)
	if err != nil {
		return fmt.Errorf("reslice: input image transform is not invertible: %w", err)
	}
	M := inInv
	if T != nil {
		M = affine.Mul(M, *T)
	}
	M = affine.Mul(M, out.Transform)

	// Sub-grid offsets centred within each output voxel. With a factor of 1
	// the single sample lands on the voxel centre.
	var offs [3][]float64
	for a, f := range e.Oversample {
		offs[a] = make([]float64, f)
		inc := 1 / float64(f)
		for n := 0; n < f; n++ {
			offs[a][n] = (float64(n)+0.5)*inc - 0.5
		}
	}
	norm := 1 / float64(e.Oversample[0]*e.Oversample[1]*e.Oversample[2])

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > out.Nz {
		workers = out.Nz
	}

	slices := make(chan int)
	var done atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for k := range slices {
				e.resliceSlice(out, in, M, offs, norm, k)
				n := done.Add(1)
				if e.Progress != nil {
					e.Progress(int(n), out.Nz)
				}
			}
		}()
	}
	for k := 0; k < out.Nz; k++ {
		slices <- k
	}
	close(slices)
	wg.Wait()
	return nil
}

// resliceSlice computes one output z-slice. It touches only that slice of
// the output buffer and reads the input volume, so it runs concurrently
// with other slices without locking.
func (e *Engine) resliceSlice(out, in *volume.Volume, M affine.Matrix, offs [3][]float64, norm float64, k int) {
	for j := 0; j < out.Ny; j++ {
		for i := 0; i < out.Nx; i++ {
			sum := 0.0
			for _, dz := range offs[2] {
				for _, dy := range offs[1] {
					for _, dx := range offs[0] {
						x, y, z := M.Apply(float64(i)+dx, float64(j)+dy, float64(k)+dz)
						v, _ := e.Kernel.Sample(in, x, y, z)
						sum += v
					}
				}
			}
			out.Set(i, j, k, float32(sum*norm))
		}
	}
}

// DeriveOversample returns the default per-axis oversampling factors:
// ceil(outputVoxelSize / inputVoxelSize), at least 1. Output grids finer
// than or equal to the input need no supersampling; coarser grids take
// proportionally more sub-samples to avoid aliasing.
func DeriveOversample(out, in *volume.Volume) [3]int {
	var f [3]int
	for a := 0; a < 3; a++ {
		f[a] = 1
		if in.Vox[a] > 0 {
			// The tiny slack keeps exact integer ratios from rounding up on
			// floating-point noise.
			n := int(math.Ceil(out.Vox[a]/in.Vox[a] - 1e-6))
			if n > 1 {
				f[a] = n
			}
		}
	}
	return f
}
