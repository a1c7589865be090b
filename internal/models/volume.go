package models

import (
	"fmt"
	"strings"
)

// Shape holds the extent of a volume along each axis, first axis first
type Shape []int

// Equal reports whether two shapes have the same rank and extents
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// NumElements returns the number of voxels described by the shape
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Squeeze drops trailing singleton axes beyond the first three, so a
// (64, 64, 32, 1) image compares equal to a (64, 64, 32) one
func (s Shape) Squeeze() Shape {
	end := len(s)
	for end > 3 && s[end-1] == 1 {
		end--
	}
	out := make(Shape, end)
	copy(out, s[:end])
	return out
}

// Append returns a new shape with n added as a trailing axis
func (s Shape) Append(n int) Shape {
	out := make(Shape, len(s)+1)
	copy(out, s)
	out[len(s)] = n
	return out
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Volume represents a loaded 3D image
type Volume struct {
	// Shape is the extent of the volume along each axis
	Shape Shape

	// Data holds the voxel intensities with the first axis varying
	// fastest: index = x + nx*(y + ny*z)
	Data []float64
}

// Index returns the offset of voxel (x, y, z) in Data
func (v *Volume) Index(x, y, z int) int {
	return x + v.Shape[0]*(y+v.Shape[1]*z)
}

// At returns the intensity at voxel (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Volume4D is a stack of 3D frames sharing one spatial shape
type Volume4D struct {
	// Shape is the spatial shape followed by the number of frames
	Shape Shape

	// Data holds all frames back to back; frame t occupies
	// Data[t*FrameLen() : (t+1)*FrameLen()]
	Data []float64
}

// NumFrames returns the length of the trailing axis
func (v *Volume4D) NumFrames() int {
	if len(v.Shape) == 0 {
		return 0
	}
	return v.Shape[len(v.Shape)-1]
}

// FrameShape returns the spatial shape shared by every frame
func (v *Volume4D) FrameShape() Shape {
	if len(v.Shape) == 0 {
		return nil
	}
	return v.Shape[:len(v.Shape)-1]
}

// FrameLen returns the number of voxels in a single frame
func (v *Volume4D) FrameLen() int {
	return v.FrameShape().NumElements()
}

// Frame returns frame t as a Volume. The returned data aliases the stack.
func (v *Volume4D) Frame(t int) (*Volume, error) {
	if t < 0 || t >= v.NumFrames() {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", t, v.NumFrames())
	}
	n := v.FrameLen()
	return &Volume{
		Shape: v.FrameShape(),
		Data:  v.Data[t*n : (t+1)*n : (t+1)*n],
	}, nil
}
