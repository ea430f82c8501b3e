package transform

import (
	"fmt"
	"strconv"
	"strings"

	"voltransform/pkg/affine"
	"voltransform/pkg/interp"
	"voltransform/pkg/volume"
)

// ValidationError reports an invalid or inconsistent option combination.
// All such failures surface before any voxel data is read, so a rejected run
// never produces partial output.
type ValidationError struct {
	Option string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("option '%s': %s", e.Option, e.Reason)
}

// Options is the validated, immutable run configuration. It is constructed
// once from command-line flags (merged with file defaults) and threaded
// explicitly into the composer and the reslicing engine.
type Options struct {
	// Transform is the loaded 4x4 matrix, or nil when none was supplied.
	Transform *affine.Matrix

	// Replace substitutes the header transform instead of composing with it.
	Replace bool

	// Inverse inverts the supplied transform before use.
	Inverse bool

	// FlipX corrects for a mirrored-x coordinate convention. Only meaningful
	// together with a reference image.
	FlipX bool

	// Interp selects the resampling kernel.
	Interp interp.Method

	// Oversample holds explicit per-axis oversampling factors, or nil to
	// derive them from the voxel size ratio.
	Oversample *[3]int

	// DataType is the output voxel datatype, or 0 to keep the input's.
	DataType volume.DataType

	// Workers is the reslicing worker count; 0 means one per CPU.
	Workers int
}

// Validate checks the option combination eagerly, before any image is
// opened. Cross-image requirements (reference needs a transform, replace
// needs a transform) are enforced again by Compose; this catches everything
// knowable from the flags alone.
func (o *Options) Validate() error {
	if o.Inverse && o.Transform == nil {
		return missingTransform("-inverse")
	}
	if o.Oversample != nil {
		for _, f := range o.Oversample {
			if f < 1 {
				return &ValidationError{
					Option: "-oversample",
					Reason: fmt.Sprintf("factors must be greater than zero, got %d", f),
				}
			}
		}
	}
	if o.Workers < 0 {
		return &ValidationError{Option: "-cores", Reason: "worker count must not be negative"}
	}
	return nil
}

// ParseOversample parses the -oversample argument, a comma-separated triple
// of positive integers such as "2,2,1".
func ParseOversample(s string) (*[3]int, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return nil, &ValidationError{
			Option: "-oversample",
			Reason: fmt.Sprintf("expected a vector of 3 values, got %d", len(fields)),
		}
	}
	var out [3]int
	for a, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, &ValidationError{
				Option: "-oversample",
				Reason: fmt.Sprintf("invalid integer %q", f),
			}
		}
		if v < 1 {
			return nil, &ValidationError{
				Option: "-oversample",
				Reason: fmt.Sprintf("factors must be greater than zero, got %d", v),
			}
		}
		out[a] = v
	}
	return &out, nil
}

func missingTransform(option string) error {
	return &ValidationError{
		Option: option,
		Reason: "no transform provided (specify using '-transform' option)",
	}
}
