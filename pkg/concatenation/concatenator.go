// Package concatenation stacks a list of 3D volumes into a single 4D image.
//
// The first volume is loaded on its own and fixes the reference shape,
// affine and header. The remaining volumes are loaded concurrently by a
// bounded pool of workers, checked against the reference shape, and
// stacked along a new trailing axis in manifest order. Nothing is written
// unless every volume loads and matches.
package concatenation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"mricat4d/internal/models"
	"mricat4d/pkg/config"
	"mricat4d/pkg/manifest"
	"mricat4d/pkg/nifti"
)

// Codec reads and writes volumetric images
type Codec interface {
	Load(path string) (*nifti.Image, error)
	Save(img *nifti.Image, path string) error
}

// Params holds the concatenation parameters
type Params struct {
	// ManifestPath is the text file listing the input volumes, one per line
	ManifestPath string

	// OutputFile is the path of the 4D image to write
	OutputFile string

	// NumCores is the number of volumes loaded concurrently. Negative
	// values count back from the number of CPUs (-1 uses all of them).
	NumCores int

	// RelativeToManifest resolves relative manifest entries against the
	// manifest's directory
	RelativeToManifest bool
}

// reference is the state fixed by the first volume
type reference struct {
	volume *models.Volume
	affine *mat.Dense
	header *nifti.Header
	shape  models.Shape
}

// Concatenator runs the load, validate, stack and save pipeline
type Concatenator struct {
	params *Params
	codec  Codec
	logger *log.Logger

	// output is the stacked volume once Process succeeds
	output *models.Volume4D
}

// NewConcatenator creates a concatenator. A nil logger discards progress
// messages.
func NewConcatenator(params *Params, codec Codec, logger *log.Logger) *Concatenator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Concatenator{
		params: params,
		codec:  codec,
		logger: logger,
	}
}

// Process runs the complete pipeline. Cancelling ctx stops loads that have
// not started yet; loads already in flight run to completion.
func (c *Concatenator) Process(ctx context.Context) error {
	c.logger.Printf("Reading image list from: %s", c.params.ManifestPath)
	paths, err := manifest.Read(c.params.ManifestPath)
	if err != nil {
		return err
	}
	if c.params.RelativeToManifest {
		paths = manifest.ResolveRelative(paths, c.params.ManifestPath)
	}

	workers, err := config.ResolveConcurrency(c.params.NumCores)
	if err != nil {
		return err
	}
	c.logger.Printf("Found %d images to concatenate. Using %d core(s).", len(paths), workers)

	ref, err := c.establishReference(paths[0])
	if err != nil {
		return err
	}
	c.logger.Printf("Reference 3D shape set to: %v", ref.shape)

	volumes := []*models.Volume{ref.volume}
	if remaining := paths[1:]; len(remaining) > 0 {
		c.logger.Printf("Loading remaining %d images in parallel...", len(remaining))
		loaded, err := c.loadAll(ctx, remaining, ref.shape, workers)
		if err != nil {
			return err
		}
		volumes = append(volumes, loaded...)
	}

	return c.stackAndSave(volumes, ref.affine, ref.header, c.params.OutputFile)
}

// GetVolumeData returns the stacked 4D volume, or nil before a successful
// Process
func (c *Concatenator) GetVolumeData() *models.Volume4D {
	return c.output
}

// establishReference loads the first volume. Its data is kept for the
// stack; its shape, affine and header become the reference for the run.
func (c *Concatenator) establishReference(path string) (*reference, error) {
	img, err := c.codec.Load(path)
	if err != nil {
		return nil, &ReferenceLoadError{Path: path, Err: err}
	}

	shape := img.Shape.Squeeze()
	if len(shape) != 3 {
		return nil, &ReferenceLoadError{
			Path: path,
			Err:  fmt.Errorf("%w: shape %v", ErrNotThreeDimensional, img.Shape),
		}
	}

	vol := img.Volume()
	vol.Shape = shape
	return &reference{
		volume: vol,
		affine: img.Affine,
		header: img.Header,
		shape:  shape,
	}, nil
}

// loadAll loads paths with at most workers loads in flight and returns the
// volumes in the order of paths. The first failure cancels loads that have
// not started and is returned as is.
func (c *Concatenator) loadAll(ctx context.Context, paths []string, shape models.Shape, workers int) ([]*models.Volume, error) {
	results := make([]*models.Volume, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var completed atomic.Int64
	total := int64(len(paths))
	reportEvery := total / 10
	if reportEvery < 1 {
		reportEvery = 1
	}

	for i, path := range paths {
		i, path := i, path // per-iteration copies (go 1.21 loop semantics)
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			vol, err := c.loadVolume(path, shape)
			if err != nil {
				return err
			}
			results[i] = vol

			done := completed.Add(1)
			if done%reportEvery == 0 || done == total {
				c.logger.Printf("Loaded %d/%d volumes (%.1f%%)", done, total, float64(done)/float64(total)*100)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Scheduling stops without an error when the caller cancels before
	// any task has run
	for i, vol := range results {
		if vol == nil {
			return nil, fmt.Errorf("load of %s did not run: %w", paths[i], context.Canceled)
		}
	}
	return results, nil
}

// loadVolume loads a single volume and checks it against the reference shape
func (c *Concatenator) loadVolume(path string, expected models.Shape) (*models.Volume, error) {
	img, err := c.codec.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &FileNotFoundError{Path: path, Err: err}
		}
		return nil, &LoadError{Path: path, Err: err}
	}

	shape := img.Shape.Squeeze()
	if !shape.Equal(expected) {
		return nil, &ShapeMismatchError{Path: path, Actual: img.Shape, Expected: expected}
	}
	vol := img.Volume()
	vol.Shape = shape
	return vol, nil
}

// stackAndSave stacks volumes along a new trailing axis and writes the
// result with the reference affine and header
func (c *Concatenator) stackAndSave(volumes []*models.Volume, affine *mat.Dense, header *nifti.Header, outputFile string) error {
	out, err := Stack(volumes)
	if err != nil {
		return err
	}
	c.logger.Printf("Final 4D data shape: %v", out.Shape)
	if len(out.Data) > 0 {
		c.logger.Printf("Intensity range: [%g, %g], mean %.4g",
			floats.Min(out.Data), floats.Max(out.Data), stat.Mean(out.Data, nil))
	}

	dir := filepath.Dir(outputFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &DirectoryCreateError{Dir: dir, Err: err}
	}

	img := &nifti.Image{
		Shape:  out.Shape,
		Data:   out.Data,
		Affine: affine,
		Header: header,
	}
	if err := c.codec.Save(img, outputFile); err != nil {
		return &SaveError{Path: outputFile, Err: err}
	}

	c.output = out
	c.logger.Printf("Successfully concatenated and saved to: %s", outputFile)
	return nil
}

// Stack copies volumes, which must all share one shape, into a 4D volume
// whose trailing axis follows the order of volumes
func Stack(volumes []*models.Volume) (*models.Volume4D, error) {
	if len(volumes) == 0 {
		return nil, &StackError{Msg: "need at least one volume"}
	}

	shape := volumes[0].Shape
	frameLen := shape.NumElements()
	for i, v := range volumes {
		if v == nil {
			return nil, &StackError{Index: i, Msg: fmt.Sprintf("volume %d is missing", i)}
		}
		if !v.Shape.Equal(shape) {
			return nil, &StackError{Index: i, Actual: v.Shape, Expected: shape}
		}
		if len(v.Data) != frameLen {
			return nil, &StackError{
				Index: i,
				Msg:   fmt.Sprintf("volume %d has %d voxels, shape %v needs %d", i, len(v.Data), shape, frameLen),
			}
		}
	}

	out := &models.Volume4D{
		Shape: shape.Append(len(volumes)),
		Data:  make([]float64, frameLen*len(volumes)),
	}
	for t, v := range volumes {
		copy(out.Data[t*frameLen:(t+1)*frameLen], v.Data)
	}
	return out, nil
}
