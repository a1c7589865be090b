package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"mricat4d/internal/models"
)

// newTestImage builds an image whose voxel values are a ramp starting at offset
func newTestImage(shape models.Shape, offset float64) *Image {
	data := make([]float64, shape.NumElements())
	for i := range data {
		data[i] = offset + float64(i)*0.5
	}
	return &Image{
		Shape: shape,
		Data:  data,
		Affine: mat.NewDense(4, 4, []float64{
			2, 0, 0, -10,
			0, 1.5, 0, 20.25,
			0, 0, -3, 7,
			0, 0, 0, 1,
		}),
	}
}

func TestHeaderLayoutSize(t *testing.T) {
	assert.Equal(t, HeaderSize, binary.Size(Header1{}))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"vol.nii", "vol.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			img := newTestImage(models.Shape{3, 4, 5}, -3)
			img.Header = NewHeader()
			img.Header.SetDescription("round trip")

			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Save(img, path))

			got, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, img.Shape, got.Shape)
			if diff := cmp.Diff(img.Data, got.Data); diff != "" {
				t.Errorf("voxel data mismatch (-want +got):\n%s", diff)
			}
			assert.True(t, mat.EqualApprox(img.Affine, got.Affine, 1e-9), "affine mismatch:\n%v", mat.Formatted(got.Affine))
			assert.Equal(t, "round trip", got.Header.Description())
			assert.Equal(t, int16(Float64), got.Header.Datatype)
			assert.Equal(t, int16(64), got.Header.Bitpix)
			assert.Equal(t, int16(XformAlignedAnat), got.Header.SformCode)
		})
	}
}

func TestSaveGzipDetectedByContent(t *testing.T) {
	dir := t.TempDir()
	gz := filepath.Join(dir, "vol.nii.gz")
	require.NoError(t, Save(newTestImage(models.Shape{2, 2, 2}, 0), gz))

	raw, err := os.ReadFile(gz)
	require.NoError(t, err)
	require.Equal(t, []byte{0x1f, 0x8b}, raw[:2])

	// A compressed file with a plain .nii name still loads
	renamed := filepath.Join(dir, "vol.nii")
	require.NoError(t, os.Rename(gz, renamed))
	got, err := Load(renamed)
	require.NoError(t, err)
	assert.Equal(t, models.Shape{2, 2, 2}, got.Shape)
}

func TestCodecFloat32Output(t *testing.T) {
	img := newTestImage(models.Shape{4, 3, 2}, 1)
	path := filepath.Join(t.TempDir(), "f32.nii")

	require.NoError(t, Codec{Datatype: Float32}.Save(img, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int16(Float32), got.Header.Datatype)
	assert.Equal(t, int16(32), got.Header.Bitpix)
	assert.Equal(t, img.Data, got.Data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(352+4*len(img.Data)), info.Size())
}

func TestDecodeAppliesScaling(t *testing.T) {
	img := &Image{Shape: models.Shape{3, 1, 1}, Data: []float64{1, 2, 3}}
	hdr, err := Codec{Datatype: Int16}.prepareHeader(img)
	require.NoError(t, err)
	hdr.SclSlope = 2
	hdr.SclInter = 1

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, hdr, img.Data))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 5, 7}, got.Data)
}

func TestDecodeIgnoresZeroSlope(t *testing.T) {
	img := &Image{Shape: models.Shape{2, 1, 1}, Data: []float64{4, 5}}
	hdr, err := Codec{Datatype: Uint8}.prepareHeader(img)
	require.NoError(t, err)
	hdr.SclSlope = 0
	hdr.SclInter = 100

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, hdr, img.Data))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, got.Data)
}

func TestDatatypesRoundTrip(t *testing.T) {
	data := []float64{0, 1, 2, 100, 127}
	for _, dt := range []Datatype{Uint8, Int8, Int16, Uint16, Int32, Uint32, Int64, Uint64, Float32, Float64} {
		t.Run(dt.String(), func(t *testing.T) {
			img := &Image{Shape: models.Shape{5, 1, 1}, Data: data}
			hdr, err := Codec{Datatype: dt}.prepareHeader(img)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, hdr, data))
			assert.Equal(t, 352+dt.Size()*len(data), buf.Len())

			got, err := Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, data, got.Data)
		})
	}
}

func TestEncodeClampsIntegers(t *testing.T) {
	dst := make([]byte, 4)
	encodeVoxels(dst, []float64{300, -5, 2.6, math.NaN()}, Uint8, binary.LittleEndian)
	assert.Equal(t, []byte{255, 0, 3, 0}, dst)
}

func TestBigEndianRoundTrip(t *testing.T) {
	img := newTestImage(models.Shape{2, 3, 4}, 10)
	img.Header = NewHeader()
	img.Header.ByteOrder = binary.BigEndian

	path := filepath.Join(t.TempDir(), "be.nii")
	require.NoError(t, Save(img, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(HeaderSize), binary.BigEndian.Uint32(raw[:4]))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, got.Header.ByteOrder)
	assert.Equal(t, img.Data, got.Data)
}

func TestExtensionsPreserved(t *testing.T) {
	ext := make([]byte, 20)
	ext[0] = 1 // extension flag
	binary.LittleEndian.PutUint32(ext[4:8], 16)
	binary.LittleEndian.PutUint32(ext[8:12], 6)
	copy(ext[12:], "comment!")

	img := newTestImage(models.Shape{2, 2, 2}, 0)
	img.Header = NewHeader()
	img.Header.Extra = ext

	path := filepath.Join(t.TempDir(), "ext.nii")
	require.NoError(t, Save(img, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ext, got.Header.Extra)
	assert.Equal(t, float32(368), got.Header.VoxOffset)
	assert.Equal(t, img.Data, got.Data)
}

func TestQformAffine(t *testing.T) {
	h := NewHeader()
	h.QformCode = XformScannerAnat
	h.Pixdim = [8]float32{1, 2, 3, 4, 1, 1, 1, 1}
	h.QOffsetX, h.QOffsetY, h.QOffsetZ = 10, 20, 30

	want := mat.NewDense(4, 4, []float64{
		2, 0, 0, 10,
		0, 3, 0, 20,
		0, 0, 4, 30,
		0, 0, 0, 1,
	})
	assert.True(t, mat.EqualApprox(want, h.Affine(), 1e-9))

	// qfac of -1 flips the third axis
	h.Pixdim[0] = -1
	want.Set(2, 2, -4)
	assert.True(t, mat.EqualApprox(want, h.Affine(), 1e-9))

	// 90 degrees about z
	h.Pixdim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	h.QuaternD = float32(math.Sqrt2 / 2)
	h.QOffsetX, h.QOffsetY, h.QOffsetZ = 0, 0, 0
	rot := mat.NewDense(4, 4, []float64{
		0, -1, 0, 0,
		1, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	assert.True(t, mat.EqualApprox(rot, h.Affine(), 1e-6), "got:\n%v", mat.Formatted(h.Affine()))
}

func TestBaseAffine(t *testing.T) {
	h := NewHeader()
	h.Dim = [8]int16{3, 3, 5, 7, 1, 1, 1, 1}
	h.Pixdim = [8]float32{1, 2, 2, 2, 1, 1, 1, 1}

	want := mat.NewDense(4, 4, []float64{
		-2, 0, 0, 2,
		0, 2, 0, -4,
		0, 0, 2, -6,
		0, 0, 0, 1,
	})
	assert.True(t, mat.EqualApprox(want, h.Affine(), 1e-9), "got:\n%v", mat.Formatted(h.Affine()))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.nii"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLoadRejectsMalformedFiles(t *testing.T) {
	valid := func() []byte {
		var buf bytes.Buffer
		img := newTestImage(models.Shape{2, 2, 2}, 0)
		hdr, err := Codec{}.prepareHeader(img)
		require.NoError(t, err)
		require.NoError(t, Encode(&buf, hdr, img.Data))
		return buf.Bytes()
	}

	voxOffset := func(v float32) func() []byte {
		return func() []byte {
			b := valid()
			binary.LittleEndian.PutUint32(b[108:112], math.Float32bits(v))
			return b
		}
	}

	cases := map[string]func() []byte{
		"garbage": func() []byte { return []byte("definitely not an image") },
		"pair magic": func() []byte {
			b := valid()
			copy(b[344:348], "ni1\x00")
			return b
		},
		"bad dim count": func() []byte {
			b := valid()
			binary.LittleEndian.PutUint16(b[40:42], 9)
			return b
		},
		"truncated data": func() []byte {
			b := valid()
			return b[:len(b)-8]
		},
		"unsupported datatype": func() []byte {
			b := valid()
			binary.LittleEndian.PutUint16(b[70:72], 128)
			return b
		},
		"nan vox_offset":        voxOffset(float32(math.NaN())),
		"infinite vox_offset":   voxOffset(float32(math.Inf(1))),
		"huge vox_offset":       voxOffset(1e12),
		"fractional vox_offset": voxOffset(352.5),
		"small vox_offset":      voxOffset(100),
		"overflowing extents": func() []byte {
			b := valid()
			binary.LittleEndian.PutUint16(b[40:42], 7)
			for i := 1; i <= 7; i++ {
				binary.LittleEndian.PutUint16(b[40+2*i:42+2*i], 32767)
			}
			return b
		},
		"extents larger than file": func() []byte {
			b := valid()
			for i := 1; i <= 3; i++ {
				binary.LittleEndian.PutUint16(b[40+2*i:42+2*i], 32767)
			}
			return b
		},
	}

	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.nii")
			require.NoError(t, os.WriteFile(path, build(), 0644))

			_, err := Load(path)
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, path, fe.Path)
		})
	}
}

func TestImageVolumeSharesData(t *testing.T) {
	img := newTestImage(models.Shape{2, 2, 2}, 1)
	vol := img.Volume()
	assert.Equal(t, img.Shape, vol.Shape)

	vol.Data[3] = -7
	assert.Equal(t, -7.0, img.Data[3])
}

func TestSaveReplacesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.nii")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	require.NoError(t, Save(newTestImage(models.Shape{2, 2, 1}, 0), path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.Shape{2, 2, 1}, got.Shape)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files left behind")
}

func TestSaveFailureLeavesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.nii")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	img := &Image{Shape: models.Shape{2, 2, 2}, Data: []float64{1, 2, 3}}
	require.Error(t, Save(img, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(raw))
}

func TestSaveMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.nii")
	err := Save(newTestImage(models.Shape{1, 1, 1}, 0), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestParseDatatype(t *testing.T) {
	dt, err := ParseDatatype(" Float32 ")
	require.NoError(t, err)
	assert.Equal(t, Float32, dt)

	_, err = ParseDatatype("complex64")
	assert.Error(t, err)
}
