// Package visualization renders preview images of a stacked 4D volume.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"mricat4d/internal/models"
)

// Viewer extracts 2D slices from the frames of a 4D volume
type Viewer struct {
	// volume holds the stacked frames
	volume *models.Volume4D

	// dimensions of a single frame
	width  int
	height int
	depth  int

	// low and high bound the intensity window shared by every frame, so
	// previews of different frames are directly comparable
	low  float64
	high float64
}

// NewViewer creates a viewer over a 4D volume
func NewViewer(volume *models.Volume4D) (*Viewer, error) {
	if len(volume.Shape) != 4 {
		return nil, fmt.Errorf("viewer needs a 4D volume, got shape %v", volume.Shape)
	}
	if len(volume.Data) != volume.Shape.NumElements() {
		return nil, fmt.Errorf("volume data has %d voxels, shape %v needs %d",
			len(volume.Data), volume.Shape, volume.Shape.NumElements())
	}

	v := &Viewer{
		volume: volume,
		width:  volume.Shape[0],
		height: volume.Shape[1],
		depth:  volume.Shape[2],
	}
	v.low, v.high = intensityWindow(volume.Data)
	return v, nil
}

// intensityWindow returns the range of the finite values in data, or a
// zero-width window when there are none
func intensityWindow(data []float64) (low, high float64) {
	found := false
	for _, x := range data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		if !found {
			low, high, found = x, x, true
			continue
		}
		low = math.Min(low, x)
		high = math.Max(high, x)
	}
	return low, high
}

// gray maps an intensity onto the 16-bit range of the viewer's window
func (v *Viewer) gray(value float64) color.Gray16 {
	span := v.high - v.low
	if !(span > 0) || math.IsNaN(value) {
		return color.Gray16{}
	}
	t := (value - v.low) / span
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, t*65535)))}
}

// ExtractSlice extracts a 2D slice of one frame along the specified axis
func (v *Viewer) ExtractSlice(axis string, position, frame int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	vol, err := v.volume.Frame(frame)
	if err != nil {
		return nil, err
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}

		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.gray(vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.gray(vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.gray(vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	return file.Close()
}

// SaveFramePreviews saves the middle slice along axis of every frame to
// outputDir as frame_000.jpg, frame_001.jpg, ... and returns the number of
// images written
func (v *Viewer) SaveFramePreviews(axis string, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	var middle int
	switch axis {
	case "x", "X":
		middle = v.width / 2
	case "y", "Y":
		middle = v.height / 2
	case "z", "Z":
		middle = v.depth / 2
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for frame := 0; frame < v.volume.NumFrames(); frame++ {
		img, err := v.ExtractSlice(axis, middle, frame)
		if err != nil {
			return frame, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("frame_%03d.jpg", frame))
		if err := v.SaveSlice(img, filename); err != nil {
			return frame, err
		}
	}

	return v.volume.NumFrames(), nil
}
