package nifti

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Datatype is a NIfTI-1 datatype code
type Datatype int16

const (
	Uint8   Datatype = 2
	Int16   Datatype = 4
	Int32   Datatype = 8
	Float32 Datatype = 16
	Float64 Datatype = 64
	Int8    Datatype = 256
	Uint16  Datatype = 512
	Uint32  Datatype = 768
	Int64   Datatype = 1024
	Uint64  Datatype = 1280
)

var datatypeNames = map[Datatype]string{
	Uint8:   "uint8",
	Int16:   "int16",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
	Int8:    "int8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Int64:   "int64",
	Uint64:  "uint64",
}

func (d Datatype) String() string {
	if name, ok := datatypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", int16(d))
}

// Size returns the number of bytes per voxel, or 0 for unsupported types
func (d Datatype) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

// ParseDatatype maps a name such as "float32" to its datatype code
func ParseDatatype(name string) (Datatype, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d, n := range datatypeNames {
		if n == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown datatype %q", name)
}

// decodeVoxels converts raw voxel bytes to float64 values
func decodeVoxels(dst []float64, src []byte, dt Datatype, order binary.ByteOrder) {
	size := dt.Size()
	for i := range dst {
		b := src[i*size : (i+1)*size]
		switch dt {
		case Uint8:
			dst[i] = float64(b[0])
		case Int8:
			dst[i] = float64(int8(b[0]))
		case Int16:
			dst[i] = float64(int16(order.Uint16(b)))
		case Uint16:
			dst[i] = float64(order.Uint16(b))
		case Int32:
			dst[i] = float64(int32(order.Uint32(b)))
		case Uint32:
			dst[i] = float64(order.Uint32(b))
		case Int64:
			dst[i] = float64(int64(order.Uint64(b)))
		case Uint64:
			dst[i] = float64(order.Uint64(b))
		case Float32:
			dst[i] = float64(math.Float32frombits(order.Uint32(b)))
		case Float64:
			dst[i] = math.Float64frombits(order.Uint64(b))
		}
	}
}

// encodeVoxels converts float64 values to raw voxel bytes. Integer types
// are rounded to nearest and clamped to the representable range.
func encodeVoxels(dst []byte, src []float64, dt Datatype, order binary.ByteOrder) {
	size := dt.Size()
	for i, v := range src {
		b := dst[i*size : (i+1)*size]
		switch dt {
		case Uint8:
			b[0] = uint8(clampRound(v, 0, math.MaxUint8))
		case Int8:
			b[0] = byte(int8(clampRound(v, math.MinInt8, math.MaxInt8)))
		case Int16:
			order.PutUint16(b, uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
		case Uint16:
			order.PutUint16(b, uint16(clampRound(v, 0, math.MaxUint16)))
		case Int32:
			order.PutUint32(b, uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
		case Uint32:
			order.PutUint32(b, uint32(clampRound(v, 0, math.MaxUint32)))
		case Int64:
			order.PutUint64(b, uint64(int64(clampRound(v, math.MinInt64, maxInt64Float))))
		case Uint64:
			order.PutUint64(b, uint64(clampRound(v, 0, maxUint64Float)))
		case Float32:
			order.PutUint32(b, math.Float32bits(float32(v)))
		case Float64:
			order.PutUint64(b, math.Float64bits(v))
		}
	}
}

// Largest float64 values that still convert to the integer type without overflow
var (
	maxInt64Float  = math.Nextafter(math.MaxInt64, 0)
	maxUint64Float = math.Nextafter(math.MaxUint64, 0)
)

func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
