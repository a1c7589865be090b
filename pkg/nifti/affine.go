package nifti

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Transform codes for qform_code and sform_code
const (
	XformUnknown     = 0
	XformScannerAnat = 1
	XformAlignedAnat = 2
)

// Affine returns the voxel-to-world transform described by the header.
// The sform is used when set, then the qform, and finally a centred
// scaling built from pixdim.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.SformCode > XformUnknown:
		return h.sformAffine()
	case h.QformCode > XformUnknown:
		return h.qformAffine()
	}
	return h.baseAffine()
}

func (h *Header) sformAffine() *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	for j := 0; j < 4; j++ {
		a.Set(0, j, float64(h.SrowX[j]))
		a.Set(1, j, float64(h.SrowY[j]))
		a.Set(2, j, float64(h.SrowZ[j]))
	}
	a.Set(3, 3, 1)
	return a
}

func (h *Header) qformAffine() *mat.Dense {
	b := float64(h.QuaternB)
	c := float64(h.QuaternC)
	d := float64(h.QuaternD)

	// Quaternion rotations are stored without the real part
	a2 := 1 - (b*b + c*c + d*d)
	a := 0.0
	if a2 > 0 {
		a = math.Sqrt(a2)
	}

	rot := mat.NewDense(3, 3, []float64{
		a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c),
		2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b),
		2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b,
	})

	qfac := float64(h.Pixdim[0])
	if qfac != -1 {
		qfac = 1
	}
	zooms := mat.NewDiagDense(3, []float64{
		zoom(h.Pixdim[1]),
		zoom(h.Pixdim[2]),
		zoom(h.Pixdim[3]) * qfac,
	})

	var m mat.Dense
	m.Mul(rot, zooms)

	out := mat.NewDense(4, 4, nil)
	out.Slice(0, 3, 0, 3).(*mat.Dense).Copy(&m)
	out.Set(0, 3, float64(h.QOffsetX))
	out.Set(1, 3, float64(h.QOffsetY))
	out.Set(2, 3, float64(h.QOffsetZ))
	out.Set(3, 3, 1)
	return out
}

// baseAffine centres the volume on the origin with a left-right flip, the
// convention used when no transform is stored.
func (h *Header) baseAffine() *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		n := 1.0
		if int(h.Dim[0]) > i {
			n = float64(h.Dim[i+1])
		}
		z := zoom(h.Pixdim[i+1])
		scale := z
		if i == 0 {
			scale = -z
		}
		out.Set(i, i, scale)
		out.Set(i, 3, -scale*(n-1)/2)
	}
	out.Set(3, 3, 1)
	return out
}

// SetSform stores a as the header's sform. An unknown sform code is
// upgraded to aligned so that readers honour the transform.
func (h *Header) SetSform(a mat.Matrix) error {
	r, c := a.Dims()
	if r != 4 || c != 4 {
		return fmt.Errorf("affine must be 4x4, got %dx%d", r, c)
	}
	for j := 0; j < 4; j++ {
		h.SrowX[j] = float32(a.At(0, j))
		h.SrowY[j] = float32(a.At(1, j))
		h.SrowZ[j] = float32(a.At(2, j))
	}
	if h.SformCode == XformUnknown {
		h.SformCode = XformAlignedAnat
	}
	return nil
}

func zoom(p float32) float64 {
	if p == 0 {
		return 1
	}
	return math.Abs(float64(p))
}
