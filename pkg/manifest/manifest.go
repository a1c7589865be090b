// Package manifest reads the list of volumes to concatenate.
// A manifest is a UTF-8 text file with one path per line; blank lines are
// ignored and there is no comment or quoting syntax.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when the manifest file does not exist
	ErrNotFound = errors.New("manifest not found")

	// ErrEmpty is returned when the manifest holds no paths
	ErrEmpty = errors.New("manifest contains no file paths")
)

// Read returns the paths listed in the manifest at path, in file order.
// Whitespace around each line is trimmed and blank lines are dropped.
func Read(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("error opening manifest: %w", err)
	}
	defer f.Close()

	paths, err := Parse(f)
	if err != nil {
		if errors.Is(err, ErrEmpty) {
			return nil, fmt.Errorf("%w: %s", ErrEmpty, path)
		}
		return nil, fmt.Errorf("error reading manifest %s: %w", path, err)
	}
	return paths, nil
}

// Parse reads manifest lines from r
func Parse(r io.Reader) ([]string, error) {
	var paths []string

	scanner := bufio.NewScanner(r)
	// Paths can be long on deep directory trees
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		return nil, ErrEmpty
	}
	return paths, nil
}

// ResolveRelative rewrites relative entries so they are relative to the
// directory holding the manifest rather than the working directory.
// Absolute entries are returned unchanged.
func ResolveRelative(paths []string, manifestPath string) []string {
	base := filepath.Dir(manifestPath)
	out := make([]string, len(paths))
	for i, p := range paths {
		if filepath.IsAbs(p) {
			out[i] = p
			continue
		}
		out[i] = filepath.Join(base, p)
	}
	return out
}
