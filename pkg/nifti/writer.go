package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Codec loads and saves NIfTI-1 images with fixed output settings
type Codec struct {
	// Datatype is the on-disk type of saved voxels; zero means Float64
	Datatype Datatype

	// GzipLevel is the compression level used for .gz outputs; zero
	// means the gzip default
	GzipLevel int
}

// Load reads the image at path
func (c Codec) Load(path string) (*Image, error) {
	return Load(path)
}

// Save writes img to path, gzip-compressed when path ends in ".gz".
// The file is written under a temporary name in the same directory and
// renamed into place, so an existing file at path is replaced only once
// the new one is complete.
func (c Codec) Save(img *Image, path string) (err error) {
	hdr, err := c.prepareHeader(img)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	var w io.Writer = bw
	var zw *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		level := c.GzipLevel
		if level == 0 {
			level = gzip.DefaultCompression
		}
		zw, err = gzip.NewWriterLevel(bw, level)
		if err != nil {
			return fmt.Errorf("error creating gzip writer: %w", err)
		}
		w = zw
	}

	if err = Encode(w, hdr, img.Data); err != nil {
		return err
	}
	if zw != nil {
		if err = zw.Close(); err != nil {
			return fmt.Errorf("error finishing gzip stream: %w", err)
		}
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("error writing output file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("error closing output file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("error moving output into place: %w", err)
	}
	return nil
}

// Save writes img to path with float64 voxels
func Save(img *Image, path string) error {
	return Codec{}.Save(img, path)
}

// prepareHeader derives the header to write from the image's own header:
// dimensions, datatype and layout fields follow the data, everything else
// is carried over unchanged.
func (c Codec) prepareHeader(img *Image) (*Header, error) {
	ndim := len(img.Shape)
	if ndim < 1 || ndim > 7 {
		return nil, fmt.Errorf("cannot save %d-dimensional image", ndim)
	}
	if n := shapeLen(img.Shape); n != len(img.Data) {
		return nil, fmt.Errorf("shape %v needs %d voxels, have %d", img.Shape, n, len(img.Data))
	}

	dt := c.Datatype
	if dt == 0 {
		dt = Float64
	}
	if dt.Size() == 0 {
		return nil, fmt.Errorf("unsupported output datatype %v", dt)
	}

	var hdr *Header
	if img.Header != nil {
		hdr = img.Header.Clone()
	} else {
		hdr = NewHeader()
	}
	if hdr.ByteOrder == nil {
		hdr.ByteOrder = binary.LittleEndian
	}

	hdr.SizeofHdr = HeaderSize
	hdr.Magic = magicSingle
	hdr.Dim = [8]int16{int16(ndim), 1, 1, 1, 1, 1, 1, 1}
	for i, d := range img.Shape {
		if d < 1 || d > 32767 {
			return nil, fmt.Errorf("extent %d on axis %d does not fit a NIfTI-1 header", d, i+1)
		}
		hdr.Dim[i+1] = int16(d)
		if hdr.Pixdim[i+1] == 0 {
			hdr.Pixdim[i+1] = 1
		}
	}
	hdr.Datatype = int16(dt)
	hdr.Bitpix = int16(dt.Size() * 8)
	hdr.SclSlope = 1
	hdr.SclInter = 0

	// vox_offset must be a multiple of 16 and leave room for the
	// extension flag
	extra := hdr.Extra
	if len(extra) < 4 {
		extra = append(extra, make([]byte, 4-len(extra))...)
	}
	if pad := (HeaderSize + len(extra)) % 16; pad != 0 {
		extra = append(extra, make([]byte, 16-pad)...)
	}
	hdr.Extra = extra
	hdr.VoxOffset = float32(HeaderSize + len(extra))

	if img.Affine != nil {
		if err := hdr.SetSform(img.Affine); err != nil {
			return nil, err
		}
	}
	return hdr, nil
}

// Encode writes hdr followed by data converted to the header's datatype.
// The header is written as given; callers are responsible for keeping
// dim, datatype and vox_offset consistent with data.
func Encode(w io.Writer, hdr *Header, data []float64) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, hdr.ByteOrder, &hdr.Header1); err != nil {
		return fmt.Errorf("error encoding header: %w", err)
	}
	buf.Write(hdr.Extra)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	dt := Datatype(hdr.Datatype)
	size := dt.Size()
	if size == 0 {
		return fmt.Errorf("unsupported datatype %v", dt)
	}

	const chunk = 1 << 16
	raw := make([]byte, chunk*size)
	for off := 0; off < len(data); off += chunk {
		n := len(data) - off
		if n > chunk {
			n = chunk
		}
		encodeVoxels(raw[:n*size], data[off:off+n], dt, hdr.ByteOrder)
		if _, err := w.Write(raw[:n*size]); err != nil {
			return fmt.Errorf("error writing voxel data: %w", err)
		}
	}
	return nil
}
