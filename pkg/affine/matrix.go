// Package affine implements the 4x4 affine transform algebra used to relate
// voxel-index space to scanner (world) space. All transforms in this domain
// are exactly 4x4 with a fixed bottom row of (0,0,0,1), so the package
// provides a dedicated fixed-size value type rather than pulling in a general
// linear-algebra dependency for the hot path.
package affine

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrSingular is returned when inversion is requested on a non-invertible
// matrix. There is no degraded fallback: a singular transform is fatal.
var ErrSingular = errors.New("affine: matrix is singular")

// pivotTol is the smallest pivot magnitude accepted during elimination.
const pivotTol = 1e-12

// Matrix is an immutable 4x4 affine transform stored row-major.
// Operations return new values; a Matrix is never mutated after construction.
type Matrix [16]float64

// Identity returns the 4x4 identity transform.
func Identity() Matrix {
	return Matrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// At returns the entry at row r, column c.
func (m Matrix) At(r, c int) float64 { return m[4*r+c] }

// WithAt returns a copy of m with the entry at row r, column c replaced.
func (m Matrix) WithAt(r, c int, v float64) Matrix {
	m[4*r+c] = v
	return m
}

// Mul returns the composition a*b. Application order is right to left:
// (a*b) applied to v equals a applied to (b applied to v).
func Mul(a, b Matrix) Matrix {
	var out Matrix
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				sum += a[4*r+k] * b[4*k+c]
			}
			out[4*r+c] = sum
		}
	}
	return out
}

// Apply maps the point (x, y, z) through m, treating it as a homogeneous
// coordinate with w=1.
func (m Matrix) Apply(x, y, z float64) (float64, float64, float64) {
	return m[0]*x + m[1]*y + m[2]*z + m[3],
		m[4]*x + m[5]*y + m[6]*z + m[7],
		m[8]*x + m[9]*y + m[10]*z + m[11]
}

// Invert returns the inverse of a, computed by Gauss-Jordan elimination with
// partial pivoting on the full 4x4. It returns ErrSingular when a pivot
// collapses below tolerance.
func Invert(a Matrix) (Matrix, error) {
	// Augment a with the identity and reduce in place.
	var aug [4][8]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			aug[r][c] = a[4*r+c]
		}
		aug[r][4+r] = 1
	}

	for col := 0; col < 4; col++ {
		// Partial pivoting: bring the largest remaining entry into position.
		pivot := col
		for r := col + 1; r < 4; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(aug[pivot][col]) < pivotTol {
			return Matrix{}, fmt.Errorf("invert: zero pivot in column %d: %w", col, ErrSingular)
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		inv := 1 / aug[col][col]
		for c := 0; c < 8; c++ {
			aug[col][c] *= inv
		}
		for r := 0; r < 4; r++ {
			if r == col {
				continue
			}
			f := aug[r][col]
			if f == 0 {
				continue
			}
			for c := 0; c < 8; c++ {
				aug[r][c] -= f * aug[col][c]
			}
		}
	}

	var out Matrix
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[4*r+c] = aug[r][4+c]
		}
	}
	return out, nil
}

// Load parses a transform from an ASCII file of exactly 4 lines, each with 4
// whitespace-separated floating-point values, row-major. Any other shape is
// rejected.
func Load(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Matrix{}, fmt.Errorf("loading transform: %w", err)
	}

	var rows [][]float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Matrix{}, fmt.Errorf("transform matrix supplied in file %q: invalid value %q", path, f)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}

	if len(rows) != 4 {
		return Matrix{}, fmt.Errorf("transform matrix supplied in file %q is not 4x4 (got %d rows)", path, len(rows))
	}
	var m Matrix
	for r, row := range rows {
		if len(row) != 4 {
			return Matrix{}, fmt.Errorf("transform matrix supplied in file %q is not 4x4 (row %d has %d values)", path, r+1, len(row))
		}
		copy(m[4*r:4*r+4], row)
	}
	return m, nil
}

// Save writes m to an ASCII file in the same 4x4 row-major layout Load reads.
func (m Matrix) Save(path string) error {
	if err := os.WriteFile(path, []byte(m.String()), 0644); err != nil {
		return fmt.Errorf("saving transform: %w", err)
	}
	return nil
}

// String formats m as 4 lines of 4 values, the on-disk transform format.
func (m Matrix) String() string {
	var sb strings.Builder
	for r := 0; r < 4; r++ {
		fmt.Fprintf(&sb, "%g %g %g %g\n", m[4*r], m[4*r+1], m[4*r+2], m[4*r+3])
	}
	return sb.String()
}
