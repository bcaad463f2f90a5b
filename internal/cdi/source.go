package cdi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Source produces spec documents for a refresh pass.
//
// Implementations must be safe to call from a goroutine other than the one
// that configured them. A non-nil error from Load marks the whole source as
// unreadable; per-document problems belong in Scan.Errors instead.
type Source interface {
	// ID returns a stable identifier. It is also the class key under which
	// source-level load failures are recorded.
	ID() string

	// Load reads every spec document of the source.
	Load(ctx context.Context) (*Scan, error)
}

// Scan is the outcome of loading one source.
type Scan struct {
	// Specs are the successfully parsed documents in source order.
	Specs []*SpecFile
	// Errors are documents that could not be read or parsed.
	Errors []*SpecFileError
}

// SpecFileError is a document that could not be read or parsed.
type SpecFileError struct {
	Path string
	Err  error
}

func (e *SpecFileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *SpecFileError) Unwrap() error {
	return e.Err
}

// specExtensions lists the file extensions DirSource picks up.
var specExtensions = []string{".json", ".yaml", ".yml"}

// DirSource reads spec documents from a single directory.
// Subdirectories are not descended into and files are read in lexical order.
type DirSource struct {
	dir string
}

// NewDirSource creates a source for the given directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: filepath.Clean(dir)}
}

// ID returns the directory path.
func (s *DirSource) ID() string {
	return s.dir
}

// Dir returns the directory the source reads.
func (s *DirSource) Dir() string {
	return s.dir
}

// Load parses every spec file in the directory.
// A missing or unreadable directory is a source-level failure.
func (s *DirSource) Load(ctx context.Context) (*Scan, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	scan := &Scan{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !isSpecFile(entry.Name()) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			// Files removed between ReadDir and ReadFile are simply gone.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			scan.Errors = append(scan.Errors, &SpecFileError{Path: path, Err: err})
			continue
		}

		spec, err := ParseSpec(data)
		if err != nil {
			scan.Errors = append(scan.Errors, &SpecFileError{Path: path, Err: err})
			continue
		}
		scan.Specs = append(scan.Specs, &SpecFile{Path: path, Spec: spec})
	}
	return scan, nil
}

func isSpecFile(name string) bool {
	return slices.Contains(specExtensions, strings.ToLower(filepath.Ext(name)))
}
