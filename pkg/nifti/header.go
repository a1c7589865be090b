// Package nifti reads and writes single-file NIfTI-1 images (.nii and .nii.gz).
//
// Voxel data is always exposed as float64 with the header's scl_slope and
// scl_inter applied. Header fields and any extension bytes are kept so that
// metadata can be carried from one image to another unchanged.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// HeaderSize is the size in bytes of a NIfTI-1 header
const HeaderSize = 348

const (
	// maxVoxOffset bounds the extension block a header may declare
	maxVoxOffset = 1 << 24

	// maxVoxels keeps voxel counts and byte sizes representable as int
	maxVoxels = math.MaxInt / 8
)

var (
	magicSingle = [4]byte{'n', '+', '1', 0}
	magicPair   = [4]byte{'n', 'i', '1', 0}
)

// Header1 is the on-disk layout of a NIfTI-1 header. Field order and sizes
// match nifti1.h so the struct can be decoded with encoding/binary.
type Header1 struct {
	SizeofHdr    int32
	DataType     [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte

	// Dim[0] is the number of dimensions, Dim[1:] their extents
	Dim [8]int16

	IntentP1   float32
	IntentP2   float32
	IntentP3   float32
	IntentCode int16
	Datatype   int16
	Bitpix     int16
	SliceStart int16

	// Pixdim[0] is qfac, Pixdim[1:] the voxel spacing per axis
	Pixdim [8]float32

	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte

	QformCode int16
	SformCode int16
	QuaternB  float32
	QuaternC  float32
	QuaternD  float32
	QOffsetX  float32
	QOffsetY  float32
	QOffsetZ  float32
	SrowX     [4]float32
	SrowY     [4]float32
	SrowZ     [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// Header is a decoded NIfTI-1 header together with everything needed to
// write it back out: the byte order of the source file and the raw bytes
// between the header and the voxel data (extension flag and extensions).
type Header struct {
	Header1

	// ByteOrder is the byte order the header was stored in
	ByteOrder binary.ByteOrder

	// Extra holds the bytes between the end of the header and vox_offset
	Extra []byte
}

// NewHeader returns a minimal little-endian single-file header
func NewHeader() *Header {
	h := &Header{ByteOrder: binary.LittleEndian}
	h.SizeofHdr = HeaderSize
	h.Magic = magicSingle
	h.Pixdim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	h.SclSlope = 1
	h.VoxOffset = HeaderSize + 4
	h.Extra = make([]byte, 4)
	return h
}

// Clone returns a deep copy of h
func (h *Header) Clone() *Header {
	c := *h
	c.Extra = append([]byte(nil), h.Extra...)
	return &c
}

// Description returns the descrip field as a string
func (h *Header) Description() string {
	return cString(h.Descrip[:])
}

// SetDescription stores s in the descrip field, truncated to fit
func (h *Header) SetDescription(s string) {
	h.Descrip = [80]byte{}
	copy(h.Descrip[:len(h.Descrip)-1], s)
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// decodeHeader parses the first HeaderSize bytes of an image
func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("short header: %d bytes", len(buf))
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(buf[:4]) == HeaderSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(buf[:4]) == HeaderSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a NIfTI-1 header (sizeof_hdr=%d)", binary.LittleEndian.Uint32(buf[:4]))
	}

	h := &Header{ByteOrder: order}
	if err := binary.Read(bytes.NewReader(buf[:HeaderSize]), order, &h.Header1); err != nil {
		return nil, err
	}

	switch h.Magic {
	case magicSingle:
	case magicPair:
		return nil, fmt.Errorf("two-file NIfTI (.hdr/.img) images are not supported")
	default:
		return nil, fmt.Errorf("bad magic %q", h.Magic[:])
	}

	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return nil, fmt.Errorf("invalid dimension count %d", h.Dim[0])
	}
	for i := 1; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 1 {
			return nil, fmt.Errorf("invalid extent %d on axis %d", h.Dim[i], i)
		}
	}
	off := float64(h.VoxOffset)
	if math.IsNaN(off) || off < HeaderSize || off > maxVoxOffset || off != math.Trunc(off) {
		return nil, fmt.Errorf("invalid vox_offset %v", h.VoxOffset)
	}
	if _, err := h.numVoxels(); err != nil {
		return nil, err
	}
	return h, nil
}

// numVoxels returns the product of the image extents, failing when it
// would not fit in memory addressable by int
func (h *Header) numVoxels() (int, error) {
	shape := h.shape()
	n := 1
	for _, d := range shape {
		if n > maxVoxels/d {
			return 0, fmt.Errorf("image extents %v are too large", shape)
		}
		n *= d
	}
	return n, nil
}

// shape returns the image extents described by the header
func (h *Header) shape() []int {
	n := int(h.Dim[0])
	s := make([]int, n)
	for i := 0; i < n; i++ {
		s[i] = int(h.Dim[i+1])
	}
	return s
}
