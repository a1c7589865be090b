package concatenation

import (
	"errors"
	"fmt"

	"mricat4d/internal/models"
)

// ErrNotThreeDimensional is wrapped by a ReferenceLoadError when the first
// image is not a 3D volume
var ErrNotThreeDimensional = errors.New("image is not three-dimensional")

// ReferenceLoadError reports that the first volume, which fixes the
// reference geometry, could not be loaded
type ReferenceLoadError struct {
	Path string
	Err  error
}

func (e *ReferenceLoadError) Error() string {
	return fmt.Sprintf("error loading first file %s: %v", e.Path, e.Err)
}

func (e *ReferenceLoadError) Unwrap() error { return e.Err }

// FileNotFoundError reports a manifest entry that does not exist
type FileNotFoundError struct {
	Path string
	Err  error
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("NIfTI file not found at %s", e.Path)
}

func (e *FileNotFoundError) Unwrap() error { return e.Err }

// ShapeMismatchError reports a volume whose shape differs from the reference
type ShapeMismatchError struct {
	Path     string
	Actual   models.Shape
	Expected models.Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch! %s has shape %v, but expected %v", e.Path, e.Actual, e.Expected)
}

// LoadError reports a volume the codec failed to read
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("error loading %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// StackError reports volumes that cannot be stacked together. Shapes are
// validated while loading, so this indicates a broken invariant.
type StackError struct {
	Index    int
	Actual   models.Shape
	Expected models.Shape
	Msg      string
}

func (e *StackError) Error() string {
	if e.Msg != "" {
		return "error stacking volumes: " + e.Msg
	}
	return fmt.Sprintf("error stacking volumes: volume %d has shape %v, expected %v", e.Index, e.Actual, e.Expected)
}

// DirectoryCreateError reports a failure to create the output directory
type DirectoryCreateError struct {
	Dir string
	Err error
}

func (e *DirectoryCreateError) Error() string {
	return fmt.Sprintf("error creating output directory %s: %v", e.Dir, e.Err)
}

func (e *DirectoryCreateError) Unwrap() error { return e.Err }

// SaveError reports a failure to write the 4D image
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("error saving NIfTI file to %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }
