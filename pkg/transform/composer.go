// Package transform builds the net affine transform for a run from the raw
// loaded matrix, the optional inversion, the optional reference image and
// the mirrored-x correction, and applies the result to an image header.
package transform

import (
	"fmt"

	"voltransform/pkg/affine"
	"voltransform/pkg/volume"
)

// Compose produces the final transform and the replace decision from the
// validated options, the input image and the optional reference image.
// Every step consumes the previous result, so the ordering is fixed:
// inversion first, then the mirrored-x correction, then composition with the
// reference scanner transform.
//
// When a reference image is supplied, the loaded matrix is taken to map the
// input onto the reference grid rather than into scanner space. Composing
// with the reference's own scanner transform turns it into a direct
// voxel-to-scanner mapping, which must replace the existing header transform
// rather than compose with it, so replace is forced on.
func Compose(opts Options, in, ref *volume.Volume) (*affine.Matrix, bool, error) {
	T := opts.Transform
	replace := opts.Replace

	if opts.Inverse {
		if T == nil {
			return nil, false, missingTransform("-inverse")
		}
		inv, err := affine.Invert(*T)
		if err != nil {
			return nil, false, fmt.Errorf("inverting supplied transform: %w", err)
		}
		T = &inv
	}

	if ref != nil {
		if T == nil {
			return nil, false, missingTransform("-reference")
		}
		if opts.FlipX {
			c := FlipXCorrection(*T,
				ref.Nx, ref.Vox[0],
				in.Nx, in.Vox[0],
				opts.Inverse)
			T = &c
		}
		m := affine.Mul(ref.Transform, *T)
		T = &m
		replace = true
	}

	if replace && T == nil {
		return nil, false, missingTransform("-replace")
	}
	return T, replace, nil
}

// FlipXCorrection conjugates T with the reflections that convert a
// mirrored-x transform (x increasing right to left, as produced by some
// third-party registration tools) into this tool's convention. Each
// correction negates x and re-anchors the origin at the far edge of the
// respective grid. When the transform was inverted its direction reverses,
// so the two corrections swap roles.
func FlipXCorrection(T affine.Matrix, refDim int, refVox float64, origDim int, origVox float64, inverse bool) affine.Matrix {
	rRef := affine.Identity().
		WithAt(0, 0, -1).
		WithAt(0, 3, float64(refDim-1)*refVox)
	rOrig := affine.Identity().
		WithAt(0, 0, -1).
		WithAt(0, 3, float64(origDim-1)*origVox)

	if inverse {
		rRef, rOrig = rOrig, rRef
	}

	// Right-to-left application: original-frame correction first, then the
	// transform, then the reference-frame correction.
	return affine.Mul(rRef, affine.Mul(T, rOrig))
}

// ApplyToHeader returns the new header transform. With replace the supplied
// transform is adopted directly; otherwise it composes with the existing
// mapping (existing applied first). A nil transform leaves the header
// unchanged.
func ApplyToHeader(T *affine.Matrix, replace bool, existing affine.Matrix) affine.Matrix {
	if T == nil {
		return existing
	}
	if replace {
		return *T
	}
	return affine.Mul(*T, existing)
}
