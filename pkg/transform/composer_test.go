package transform

import (
	"errors"
	"math"
	"testing"

	"voltransform/pkg/affine"
	"voltransform/pkg/volume"
)

func matricesEqual(t *testing.T, got, want affine.Matrix, tol float64) {
	t.Helper()
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("matrices differ at entry %d: got %g, want %g\ngot:\n%vwant:\n%v",
				i, got[i], want[i], got, want)
		}
	}
}

// testVolume returns a header-only volume with the given x extent and
// scanner transform; the composer never touches voxel data.
func testVolume(nx int, vox float64, m affine.Matrix) *volume.Volume {
	v := volume.New(nx, 2, 2)
	v.Vox[0] = vox
	v.Transform = m
	return v
}

var sampleT = affine.Matrix{
	1, 0, 0, 4,
	0, 1, 0, -2,
	0, 0, 1, 7,
	0, 0, 0, 1,
}

func TestComposeMissingTransform(t *testing.T) {
	in := testVolume(10, 1, affine.Identity())

	cases := []struct {
		name   string
		opts   Options
		ref    *volume.Volume
		option string
	}{
		{"Inverse", Options{Inverse: true}, nil, "-inverse"},
		{"Replace", Options{Replace: true}, nil, "-replace"},
		{"Reference", Options{}, testVolume(8, 1, affine.Identity()), "-reference"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := Compose(c.opts, in, c.ref)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Option != c.option {
				t.Errorf("error names option %q, want %q", verr.Option, c.option)
			}
		})
	}
}

func TestComposePassThrough(t *testing.T) {
	in := testVolume(10, 1, affine.Identity())

	T, replace, err := Compose(Options{Transform: &sampleT}, in, nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if replace {
		t.Error("replace unexpectedly set")
	}
	matricesEqual(t, *T, sampleT, 0)
}

func TestComposeNoTransform(t *testing.T) {
	in := testVolume(10, 1, affine.Identity())
	T, replace, err := Compose(Options{}, in, nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if T != nil || replace {
		t.Errorf("got (T=%v, replace=%v), want unset transform", T, replace)
	}
}

func TestComposeInverse(t *testing.T) {
	in := testVolume(10, 1, affine.Identity())

	T, _, err := Compose(Options{Transform: &sampleT, Inverse: true}, in, nil)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	matricesEqual(t, affine.Mul(sampleT, *T), affine.Identity(), 1e-9)
}

func TestComposeInverseSingular(t *testing.T) {
	singular := affine.Matrix{} // all zeros
	in := testVolume(10, 1, affine.Identity())
	_, _, err := Compose(Options{Transform: &singular, Inverse: true}, in, nil)
	if !errors.Is(err, affine.ErrSingular) {
		t.Fatalf("expected ErrSingular, got %v", err)
	}
}

func TestComposeReferenceForcesReplace(t *testing.T) {
	refScanner := affine.Matrix{
		2, 0, 0, 1,
		0, 2, 0, 2,
		0, 0, 2, 3,
		0, 0, 0, 1,
	}
	in := testVolume(10, 1, affine.Identity())
	ref := testVolume(8, 1, refScanner)

	T, replace, err := Compose(Options{Transform: &sampleT}, in, ref)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !replace {
		t.Error("reference did not force replace")
	}
	matricesEqual(t, *T, affine.Mul(refScanner, sampleT), 1e-12)
}

func TestFlipXCorrection(t *testing.T) {
	const (
		refDim  = 64
		refVox  = 2.0
		origDim = 128
		origVox = 1.5
	)

	t.Run("IdentityTransform", func(t *testing.T) {
		// Conjugating the identity gives R_ref * R_orig: the reflections
		// cancel and only the anchor offsets remain.
		got := FlipXCorrection(affine.Identity(), refDim, refVox, origDim, origVox, false)
		lRef := float64(refDim-1) * refVox
		lOrig := float64(origDim-1) * origVox
		want := affine.Identity().WithAt(0, 3, lRef-lOrig)
		matricesEqual(t, got, want, 1e-12)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		// The correction of T and the inverse-swapped correction of T⁻¹
		// must be mutual inverses.
		fwd := FlipXCorrection(sampleT, refDim, refVox, origDim, origVox, false)
		invT, err := affine.Invert(sampleT)
		if err != nil {
			t.Fatalf("Invert failed: %v", err)
		}
		back := FlipXCorrection(invT, refDim, refVox, origDim, origVox, true)
		matricesEqual(t, affine.Mul(fwd, back), affine.Identity(), 1e-9)
	})

	t.Run("SwapChangesResult", func(t *testing.T) {
		a := FlipXCorrection(sampleT, refDim, refVox, origDim, origVox, false)
		b := FlipXCorrection(sampleT, refDim, refVox, origDim, origVox, true)
		same := true
		for i := range a {
			if math.Abs(a[i]-b[i]) > 1e-12 {
				same = false
			}
		}
		if same {
			t.Error("swapping correction roles had no effect on an asymmetric geometry")
		}
	})
}

func TestComposeFlipX(t *testing.T) {
	refScanner := affine.Identity().WithAt(0, 3, 5)
	in := testVolume(128, 1.5, affine.Identity())
	ref := testVolume(64, 2.0, refScanner)

	T, replace, err := Compose(Options{Transform: &sampleT, FlipX: true}, in, ref)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !replace {
		t.Error("reference did not force replace")
	}
	corrected := FlipXCorrection(sampleT, 64, 2.0, 128, 1.5, false)
	matricesEqual(t, *T, affine.Mul(refScanner, corrected), 1e-12)
}

func TestApplyToHeader(t *testing.T) {
	orig := affine.Matrix{
		1, 0, 0, 10,
		0, 1, 0, 20,
		0, 0, 1, 30,
		0, 0, 0, 1,
	}

	t.Run("NilLeavesUnchanged", func(t *testing.T) {
		matricesEqual(t, ApplyToHeader(nil, false, orig), orig, 0)
		matricesEqual(t, ApplyToHeader(nil, true, orig), orig, 0)
	})

	t.Run("Replace", func(t *testing.T) {
		matricesEqual(t, ApplyToHeader(&sampleT, true, orig), sampleT, 0)
	})

	t.Run("Compose", func(t *testing.T) {
		matricesEqual(t, ApplyToHeader(&sampleT, false, orig), affine.Mul(sampleT, orig), 0)
	})

	t.Run("ComposeAssociative", func(t *testing.T) {
		// Composing twice equals a single composition with the product.
		a := affine.Identity().WithAt(0, 3, 1).WithAt(1, 1, 2)
		b := affine.Identity().WithAt(2, 3, -4).WithAt(0, 0, 0.5)

		twice := ApplyToHeader(&b, false, ApplyToHeader(&a, false, orig))
		product := affine.Mul(b, a)
		once := ApplyToHeader(&product, false, orig)
		matricesEqual(t, twice, once, 1e-12)
	})
}

func TestParseOversample(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		got, err := ParseOversample("2,3,1")
		if err != nil {
			t.Fatalf("ParseOversample failed: %v", err)
		}
		if *got != [3]int{2, 3, 1} {
			t.Errorf("got %v, want [2 3 1]", *got)
		}
	})

	t.Run("Spaces", func(t *testing.T) {
		got, err := ParseOversample("2, 2, 2")
		if err != nil {
			t.Fatalf("ParseOversample failed: %v", err)
		}
		if *got != [3]int{2, 2, 2} {
			t.Errorf("got %v, want [2 2 2]", *got)
		}
	})

	for _, bad := range []string{"2,2", "1,2,3,4", "0,1,1", "-1,1,1", "a,b,c", ""} {
		t.Run("Invalid_"+bad, func(t *testing.T) {
			_, err := ParseOversample(bad)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ParseOversample(%q): expected ValidationError, got %v", bad, err)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Run("InverseNeedsTransform", func(t *testing.T) {
		o := Options{Inverse: true}
		var verr *ValidationError
		if err := o.Validate(); !errors.As(err, &verr) || verr.Option != "-inverse" {
			t.Fatalf("expected -inverse validation error, got %v", err)
		}
	})

	t.Run("BadOversample", func(t *testing.T) {
		o := Options{Oversample: &[3]int{1, 0, 1}}
		if err := o.Validate(); err == nil {
			t.Fatal("expected error for zero oversample factor")
		}
	})

	t.Run("Valid", func(t *testing.T) {
		o := Options{Transform: &sampleT, Inverse: true, Oversample: &[3]int{1, 2, 3}}
		if err := o.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
