package nifti

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"mricat4d/internal/models"
)

// Image is a decoded NIfTI image
type Image struct {
	// Shape is the extent along each axis, first axis first
	Shape models.Shape

	// Data holds scaled voxel values with the first axis varying fastest
	Data []float64

	// Affine maps voxel indices to world coordinates
	Affine *mat.Dense

	// Header is the header the image was read with, or the header to
	// base the written file on
	Header *Header
}

// Volume returns the image data as a models.Volume. The data is shared.
func (img *Image) Volume() *models.Volume {
	return &models.Volume{Shape: img.Shape, Data: img.Data}
}

// FormatError reports a file that could not be decoded as NIfTI-1
type FormatError struct {
	// Path is the file being read
	Path string

	// Err describes what was wrong with it
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("nifti: %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
