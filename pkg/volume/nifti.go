// NIfTI-1 single-file (.nii) reading and writing, following the official
// header definition at
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"voltransform/pkg/affine"
)

// header is the 348-byte NIfTI-1 header, field for field.
type header struct {
	SizeOfHdr    int32
	DataTypeName [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte

	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	DataType      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     int8
	XYZTUnits     int8
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	Glmax         int32
	Glmin         int32

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte

	Magic [4]byte
}

const (
	headerSize   = 348
	dataOffset   = 352 // header + 4 empty extension bytes
	niftiUnitsMM = 2
	xformScanner = 1
)

var magicSingleFile = [4]byte{'n', '+', '1', 0}

// Read loads a NIfTI-1 single-file image. The sform is adopted as the
// voxel-index to scanner-space transform; data is decoded to float32 with
// scl_slope/scl_inter applied.
func Read(path string) (*Volume, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image %q: %w", path, err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("image %q: file shorter than NIfTI-1 header (%d bytes)", path, len(raw))
	}

	// Byte order is inferred from dim[0], which must land in [1, 7].
	var h header
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, fmt.Errorf("image %q: parsing header: %w", path, err)
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		order = binary.BigEndian
		h = header{}
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return nil, fmt.Errorf("image %q: parsing header: %w", path, err)
		}
		if h.Dim[0] < 1 || h.Dim[0] > 7 {
			return nil, fmt.Errorf("image %q: cannot infer byte order from dim[0]", path)
		}
	}

	if err := h.validate(path); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"image":     path,
		"dim":       h.Dim[1:4],
		"datatype":  DataType(h.DataType),
		"byteOrder": order.String(),
	}).Debug("read NIfTI-1 header")

	v := New(int(h.Dim[1]), dimOrOne(h.Dim, 2), dimOrOne(h.Dim, 3))
	for a := 0; a < 3; a++ {
		if p := float64(h.PixDim[a+1]); p > 0 {
			v.Vox[a] = p
		}
	}
	v.DType = DataType(h.DataType)
	v.Descrip = cString(h.Descrip[:])
	v.Transform = h.transform()

	// Compare as float first: a garbage vox_offset may not even fit an int.
	if float64(h.VoxOffset) > float64(len(raw)) {
		return nil, fmt.Errorf("image %q: vox_offset %g beyond end of file (%d bytes)", path, h.VoxOffset, len(raw))
	}
	offset := int(h.VoxOffset)
	if offset < headerSize {
		offset = dataOffset
	}
	if offset > len(raw) {
		return nil, fmt.Errorf("image %q: truncated voxel data: file ends before data offset %d", path, offset)
	}
	if err := decodeVoxels(v, raw[offset:], order, h); err != nil {
		return nil, fmt.Errorf("image %q: %w", path, err)
	}
	return v, nil
}

func dimOrOne(dim [8]int16, i int) int {
	if int(dim[0]) >= i && dim[i] > 0 {
		return int(dim[i])
	}
	return 1
}

func (h *header) validate(path string) error {
	if h.SizeOfHdr != headerSize {
		return fmt.Errorf("image %q: invalid header size %d (want %d)", path, h.SizeOfHdr, headerSize)
	}
	if h.Magic != magicSingleFile {
		return fmt.Errorf("image %q: invalid file magic %q (only single-file n+1 images are supported)", path, h.Magic[:3])
	}
	if !DataType(h.DataType).valid() {
		return fmt.Errorf("image %q: unsupported datatype code %d", path, h.DataType)
	}
	for i := 1; i <= 3 && i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 1 {
			return fmt.Errorf("image %q: non-positive dimension dim[%d]=%d", path, i, h.Dim[i])
		}
	}
	// Trailing dimensions beyond the third must be singleton: volumes are
	// processed one at a time.
	for i := 4; i <= int(h.Dim[0]) && i < 8; i++ {
		if h.Dim[i] > 1 {
			return fmt.Errorf("image %q: %d-dimensional image not supported (dim[%d]=%d)", path, h.Dim[0], i, h.Dim[i])
		}
	}
	return nil
}

// transform returns the voxel-index to scanner-space mapping. The sform is
// used when set; otherwise the grid spacing alone defines the mapping.
func (h *header) transform() affine.Matrix {
	if h.SFormCode > 0 {
		m := affine.Identity()
		for c := 0; c < 4; c++ {
			m = m.WithAt(0, c, float64(h.SRowX[c]))
			m = m.WithAt(1, c, float64(h.SRowY[c]))
			m = m.WithAt(2, c, float64(h.SRowZ[c]))
		}
		return m
	}
	m := affine.Identity()
	for a := 0; a < 3; a++ {
		if p := float64(h.PixDim[a+1]); p > 0 {
			m = m.WithAt(a, a, p)
		}
	}
	return m
}

func decodeVoxels(v *Volume, raw []byte, order binary.ByteOrder, h header) error {
	n := v.NVox()
	need := n * int(h.BitPix) / 8
	if len(raw) < need {
		return fmt.Errorf("truncated voxel data: have %d bytes, need %d", len(raw), need)
	}
	buf := bytes.NewReader(raw[:need])

	switch DataType(h.DataType) {
	case Uint8:
		tmp := make([]uint8, n)
		if err := binary.Read(buf, order, tmp); err != nil {
			return err
		}
		for i, x := range tmp {
			v.Data[i] = float32(x)
		}
	case Int16:
		tmp := make([]int16, n)
		if err := binary.Read(buf, order, tmp); err != nil {
			return err
		}
		for i, x := range tmp {
			v.Data[i] = float32(x)
		}
	case Int32:
		tmp := make([]int32, n)
		if err := binary.Read(buf, order, tmp); err != nil {
			return err
		}
		for i, x := range tmp {
			v.Data[i] = float32(x)
		}
	case Float32:
		if err := binary.Read(buf, order, v.Data); err != nil {
			return err
		}
	case Float64:
		tmp := make([]float64, n)
		if err := binary.Read(buf, order, tmp); err != nil {
			return err
		}
		for i, x := range tmp {
			v.Data[i] = float32(x)
		}
	}

	// Intensity scaling. A zero slope means "no scaling" per the standard.
	slope, inter := h.SclSlope, h.SclInter
	if slope != 0 && (slope != 1 || inter != 0) {
		for i := range v.Data {
			v.Data[i] = slope*v.Data[i] + inter
		}
	}
	return nil
}

// Write stores v as a little-endian NIfTI-1 single-file image with the given
// on-disk datatype. The file is written to a temporary name in the target
// directory and renamed into place only once fully written, so a failed run
// never leaves a partial output behind.
func Write(path string, v *Volume, dtype DataType) error {
	if err := v.validate(); err != nil {
		return fmt.Errorf("writing image %q: %w", path, err)
	}
	if !dtype.valid() {
		return fmt.Errorf("writing image %q: unsupported datatype %s", path, dtype)
	}
	// Header dimensions are int16; anything larger would truncate silently.
	if v.Nx > math.MaxInt16 || v.Ny > math.MaxInt16 || v.Nz > math.MaxInt16 {
		return fmt.Errorf("writing image %q: dimensions %dx%dx%d exceed the NIfTI-1 limit of %d voxels per axis",
			path, v.Nx, v.Ny, v.Nz, math.MaxInt16)
	}

	h := header{
		SizeOfHdr: headerSize,
		Regular:   'r',
		DataType:  int16(dtype),
		BitPix:    dtype.BitPix(),
		VoxOffset: dataOffset,
		SclSlope:  1,
		XYZTUnits: niftiUnitsMM,
		QFormCode: 0,
		SFormCode: xformScanner,
		Magic:     magicSingleFile,
	}
	h.Dim[0] = 3
	h.Dim[1], h.Dim[2], h.Dim[3] = int16(v.Nx), int16(v.Ny), int16(v.Nz)
	for i := 4; i < 8; i++ {
		h.Dim[i] = 1
	}
	h.PixDim[0] = 1
	for a := 0; a < 3; a++ {
		h.PixDim[a+1] = float32(v.Vox[a])
	}
	for c := 0; c < 4; c++ {
		h.SRowX[c] = float32(v.Transform.At(0, c))
		h.SRowY[c] = float32(v.Transform.At(1, c))
		h.SRowZ[c] = float32(v.Transform.At(2, c))
	}
	copy(h.Descrip[:], v.Descrip)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("writing image %q: encoding header: %w", path, err)
	}
	buf.Write([]byte{0, 0, 0, 0}) // no extensions
	if err := encodeVoxels(&buf, v, dtype); err != nil {
		return fmt.Errorf("writing image %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".voltransform-*")
	if err != nil {
		return fmt.Errorf("writing image %q: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing image %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing image %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing image %q: %w", path, err)
	}

	log.WithFields(log.Fields{
		"image":    path,
		"dim":      [3]int{v.Nx, v.Ny, v.Nz},
		"datatype": dtype,
	}).Debug("wrote NIfTI-1 image")
	return nil
}

func encodeVoxels(buf *bytes.Buffer, v *Volume, dtype DataType) error {
	switch dtype {
	case Uint8:
		tmp := make([]uint8, len(v.Data))
		for i, x := range v.Data {
			tmp[i] = uint8(clampRound(float64(x), 0, math.MaxUint8))
		}
		return binary.Write(buf, binary.LittleEndian, tmp)
	case Int16:
		tmp := make([]int16, len(v.Data))
		for i, x := range v.Data {
			tmp[i] = int16(clampRound(float64(x), math.MinInt16, math.MaxInt16))
		}
		return binary.Write(buf, binary.LittleEndian, tmp)
	case Int32:
		tmp := make([]int32, len(v.Data))
		for i, x := range v.Data {
			tmp[i] = int32(clampRound(float64(x), math.MinInt32, math.MaxInt32))
		}
		return binary.Write(buf, binary.LittleEndian, tmp)
	case Float32:
		return binary.Write(buf, binary.LittleEndian, v.Data)
	case Float64:
		tmp := make([]float64, len(v.Data))
		for i, x := range v.Data {
			tmp[i] = float64(x)
		}
		return binary.Write(buf, binary.LittleEndian, tmp)
	}
	return fmt.Errorf("unsupported datatype %s", dtype)
}

func clampRound(x, lo, hi float64) float64 {
	x = math.Round(x)
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
