// Command mricat4d concatenates 3D NIfTI images into a single 4D image,
// loading the inputs in parallel.
//
// Usage:
//
//	mricat4d [flags] <input_paths_file> <output_file>
//
// input_paths_file lists one 3D image per line; the order of the lines is
// the order of the frames in output_file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mricat4d/pkg/concatenation"
	"mricat4d/pkg/config"
	"mricat4d/pkg/nifti"
	"mricat4d/pkg/visualization"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code: 0 on
// success, 1 when concatenation fails and 2 for usage errors
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("mricat4d", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "mricat4d.yaml", "YAML configuration file (defaults are used if it does not exist)")
	nJobs := flags.Int("n_jobs", config.AllCores, "Number of CPU cores to use. -1 means all available")
	datatype := flags.String("datatype", "float64", "Output voxel type: float64 or float32")
	previewDir := flags.String("preview-dir", "", "Directory to save one JPEG preview per output frame")
	previewAxis := flags.String("preview-axis", "z", "Axis the preview slices are cut across: x, y or z")
	relative := flags.Bool("relative-to-manifest", false, "Resolve relative paths against the manifest's directory")
	quiet := flags.Bool("quiet", false, "Suppress progress output")
	initConfig := flags.Bool("init-config", false, "Write a default configuration file to -config and exit")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Concatenate 3D NIfTI files into a 4D file in parallel.\n\n")
		fmt.Fprintf(stderr, "Usage: mricat4d [flags] <input_paths_file> <output_file>\n\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Default configuration written to: %s\n", *configPath)
		return 0
	}
	if flags.NArg() != 2 {
		flags.Usage()
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Flags given on the command line win over the config file
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n_jobs":
			cfg.Processing.Concurrency = *nJobs
		case "datatype":
			cfg.Output.Datatype = *datatype
		case "preview-dir":
			cfg.Output.PreviewDir = *previewDir
		case "preview-axis":
			cfg.Output.PreviewAxis = *previewAxis
		case "relative-to-manifest":
			cfg.Processing.RelativeToManifest = *relative
		case "quiet":
			cfg.Output.Verbose = !*quiet
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	logger := log.New(io.Discard, "", 0)
	if cfg.Output.Verbose {
		logger = log.New(stdout, "", 0)
	}

	dt, err := cfg.OutputDatatype()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	codec := nifti.Codec{Datatype: dt, GzipLevel: cfg.Output.GzipLevel}

	params := &concatenation.Params{
		ManifestPath:       flags.Arg(0),
		OutputFile:         flags.Arg(1),
		NumCores:           cfg.Processing.Concurrency,
		RelativeToManifest: cfg.Processing.RelativeToManifest,
	}

	logger.Println("--- Parallel NIfTI Concatenation ---")
	startTime := time.Now()
	concatenator := concatenation.NewConcatenator(params, codec, logger)
	if err := concatenator.Process(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger.Printf("Completed in %.2f seconds", time.Since(startTime).Seconds())

	// Previews are a convenience; the output is already written
	if cfg.Output.PreviewDir != "" {
		viewer, err := visualization.NewViewer(concatenator.GetVolumeData())
		if err == nil {
			var n int
			n, err = viewer.SaveFramePreviews(cfg.Output.PreviewAxis, cfg.Output.PreviewDir)
			logger.Printf("Saved %d preview image(s) to: %s", n, cfg.Output.PreviewDir)
		}
		if err != nil {
			fmt.Fprintf(stderr, "Warning: failed to save previews: %v\n", err)
		}
	}

	return 0
}
