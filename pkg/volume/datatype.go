package volume

import "fmt"

// DataType identifies an on-disk voxel datatype. The numeric values are the
// NIfTI-1 DT_* codes.
type DataType int16

const (
	Uint8   DataType = 2
	Int16   DataType = 4
	Int32   DataType = 8
	Float32 DataType = 16
	Float64 DataType = 64
)

var dataTypeNames = map[DataType]string{
	Uint8:   "uint8",
	Int16:   "int16",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

// ParseDataType resolves a datatype specifier from the command line.
func ParseDataType(spec string) (DataType, error) {
	for dt, name := range dataTypeNames {
		if name == spec {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("unknown datatype specifier %q (valid: uint8, int16, int32, float32, float64)", spec)
}

func (dt DataType) String() string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", int16(dt))
}

// BitPix returns the number of bits per voxel for dt.
func (dt DataType) BitPix() int16 {
	switch dt {
	case Uint8:
		return 8
	case Int16:
		return 16
	case Int32, Float32:
		return 32
	case Float64:
		return 64
	}
	return 0
}

func (dt DataType) valid() bool {
	_, ok := dataTypeNames[dt]
	return ok
}
