// Package visualization exports 2D slices of a volume as grayscale images,
// mainly for visual inspection of reslicing results.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"voltransform/pkg/volume"
)

// Viewer extracts and saves 2D slices from a 3D volume.
type Viewer struct {
	vol *volume.Volume

	// lo and hi are the intensity bounds used to map voxel values onto the
	// 16-bit grayscale range.
	lo, hi float64
}

// NewViewer creates a viewer for vol. The intensity window is fixed at
// construction from the volume's min and max values.
func NewViewer(vol *volume.Volume) *Viewer {
	v := &Viewer{vol: vol, lo: 0, hi: 1}
	if len(vol.Data) > 0 {
		lo, hi := float64(vol.Data[0]), float64(vol.Data[0])
		for _, x := range vol.Data {
			f := float64(x)
			if f < lo {
				lo = f
			}
			if f > hi {
				hi = f
			}
		}
		v.lo, v.hi = lo, hi
	}
	return v
}

func (v *Viewer) gray(val float32) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{Y: 0}
	}
	f := (float64(val) - v.lo) / (v.hi - v.lo)
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return color.Gray16{Y: uint16(f * 65535)}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	vol := v.vol
	var img *image.Gray16

	switch axis {
	case "x", "X":
		if position >= vol.Nx {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Nx)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Nz, vol.Ny))
		for j := 0; j < vol.Ny; j++ {
			for k := 0; k < vol.Nz; k++ {
				img.SetGray16(k, j, v.gray(vol.At(position, j, k)))
			}
		}

	case "y", "Y":
		if position >= vol.Ny {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Ny)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Nx, vol.Nz))
		for k := 0; k < vol.Nz; k++ {
			for i := 0; i < vol.Nx; i++ {
				img.SetGray16(i, k, v.gray(vol.At(i, position, k)))
			}
		}

	case "z", "Z":
		if position >= vol.Nz {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Nz)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Nx, vol.Ny))
		for j := 0; j < vol.Ny; j++ {
			for i := 0; i < vol.Nx; i++ {
				img.SetGray16(i, j, v.gray(vol.At(i, j, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Nx
	case "y", "Y":
		maxPos = v.vol.Ny
	case "z", "Z":
		maxPos = v.vol.Nz
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
