package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout maps documents and their derived artifacts onto the filesystem.
// All stored paths are relative to BaseDir so the tree can be relocated.
type Layout struct {
	BaseDir string
}

// NewLayout validates the base directory, creating it if needed.
func NewLayout(baseDir string) (Layout, error) {
	if baseDir == "" {
		return Layout{}, fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return Layout{}, fmt.Errorf("resolving base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Layout{}, fmt.Errorf("creating base directory: %w", err)
	}
	return Layout{BaseDir: abs}, nil
}

// DocumentPath is the download target for a file name.
func (l Layout) DocumentPath(name string) string {
	return filepath.Join(l.BaseDir, name)
}

// ConversionDir is the per-document artifact folder, named by the stem.
func (l Layout) ConversionDir(name string) string {
	return filepath.Join(l.BaseDir, stem(name))
}

// TextPath is where the extracted plain text for name lands.
func (l Layout) TextPath(name string) string {
	s := stem(name)
	return filepath.Join(l.BaseDir, s, s+".txt")
}

// ImagesDir holds the rendered page images for name.
func (l Layout) ImagesDir(name string) string {
	return filepath.Join(l.BaseDir, stem(name), "images")
}

// ExtractionDir holds model outputs for name.
func (l Layout) ExtractionDir(name string) string {
	return filepath.Join(l.BaseDir, stem(name), "extraction")
}

// ReportPath is the consolidated extraction report for name.
func (l Layout) ReportPath(name string) string {
	return filepath.Join(l.ExtractionDir(name), "extracted_data.json")
}

// MakeRelative rewrites p relative to BaseDir for storage. Paths outside the
// base directory are returned unchanged.
func (l Layout) MakeRelative(p string) string {
	if p == "" {
		return ""
	}
	rel, err := filepath.Rel(l.BaseDir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return rel
}

// Resolve turns a stored path back into an absolute one.
func (l Layout) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.BaseDir, p)
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
