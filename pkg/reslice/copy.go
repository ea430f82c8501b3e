package reslice

import (
	"fmt"

	"voltransform/pkg/volume"
)

// DirectCopy transfers voxel values from in to out unchanged, one z-slice at
// a time with incremental progress. It is the fallback when no reslice was
// requested: only the header transform changes (the caller updates it via
// transform.ApplyToHeader) and the data is copied verbatim.
func DirectCopy(out, in *volume.Volume, progress ProgressFunc) error {
	if !volume.SameGrid(out, in) {
		return fmt.Errorf("direct copy: grid mismatch, input %dx%dx%d vs output %dx%dx%d",
			in.Nx, in.Ny, in.Nz, out.Nx, out.Ny, out.Nz)
	}
	sliceLen := in.Nx * in.Ny
	for k := 0; k < in.Nz; k++ {
		copy(out.Data[k*sliceLen:(k+1)*sliceLen], in.Data[k*sliceLen:(k+1)*sliceLen])
		if progress != nil {
			progress(k+1, in.Nz)
		}
	}
	return nil
}
