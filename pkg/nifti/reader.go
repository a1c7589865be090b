package nifti

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/klauspost/compress/gzip"
)

// Load reads the NIfTI-1 image at path. Gzip-compressed files are
// detected from their content, not their extension.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Decode(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}
	return img, nil
}

// Decode reads a NIfTI-1 image from r
func Decode(r io.Reader) (*Image, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("error opening gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}

	hdr.Extra = make([]byte, int(hdr.VoxOffset)-HeaderSize)
	if _, err := io.ReadFull(src, hdr.Extra); err != nil {
		return nil, fmt.Errorf("error reading header extensions: %w", err)
	}

	dt := Datatype(hdr.Datatype)
	if dt.Size() == 0 {
		return nil, fmt.Errorf("unsupported datatype %v", dt)
	}

	count, err := hdr.numVoxels()
	if err != nil {
		return nil, err
	}
	data, err := readVoxels(src, count, dt, hdr)
	if err != nil {
		return nil, err
	}
	applyScaling(data, hdr.SclSlope, hdr.SclInter)

	return &Image{
		Shape:  hdr.shape(),
		Data:   data,
		Affine: hdr.Affine(),
		Header: hdr,
	}, nil
}

// readVoxels decodes count voxels in fixed-size chunks. The destination
// grows with what has actually been read, so a header that claims more
// voxels than the file holds fails on the short read rather than on a
// huge up-front allocation.
func readVoxels(r io.Reader, count int, dt Datatype, hdr *Header) ([]float64, error) {
	const chunk = 1 << 16
	size := dt.Size()
	raw := make([]byte, chunk*size)
	dst := make([]float64, 0, min(count, chunk))
	for off := 0; off < count; off += chunk {
		n := min(count-off, chunk)
		if _, err := io.ReadFull(r, raw[:n*size]); err != nil {
			return nil, fmt.Errorf("error reading voxel data: %w", err)
		}
		dst = slices.Grow(dst, n)[:off+n]
		decodeVoxels(dst[off:off+n], raw[:n*size], dt, hdr.ByteOrder)
	}
	return dst, nil
}

// applyScaling applies scl_slope and scl_inter. A zero or non-finite slope
// means the data is stored unscaled.
func applyScaling(data []float64, slope, inter float32) {
	s := float64(slope)
	if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return
	}
	b := float64(inter)
	if math.IsNaN(b) || math.IsInf(b, 0) {
		b = 0
	}
	if s == 1 && b == 0 {
		return
	}
	for i, v := range data {
		data[i] = v*s + b
	}
}

func shapeLen(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
