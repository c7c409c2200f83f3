package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the medshelf home directory.
	DefaultDirName = ".medshelf"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// CacheDirName holds the user-editable JSON caches.
	CacheDirName = "cache"

	// ProfilesDirName holds patient profile files.
	ProfilesDirName = "profiles"
)

// Dir represents the medshelf home directory structure.
type Dir struct {
	path   string
	output string
}

// New creates a new Dir with the given home path and output root.
// If path is empty, uses the default (~/.medshelf). If output is empty,
// artifacts land under {home}/output.
func New(path, output string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}
	if output == "" {
		output = filepath.Join(path, "output")
	}
	return &Dir{path: path, output: output}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// OutputPath returns the artifact output root.
func (d *Dir) OutputPath() string {
	return d.output
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// CachePath returns the path to a named JSON cache file.
func (d *Dir) CachePath(name string) string {
	return filepath.Join(d.path, CacheDirName, name+".json")
}

// ProfilesDir returns the directory containing profile files.
func (d *Dir) ProfilesDir() string {
	return filepath.Join(d.path, ProfilesDirName)
}

// LogsDir returns the directory for run logs.
func (d *Dir) LogsDir() string {
	return filepath.Join(d.output, "logs")
}

// DocumentDir returns the per-document artifact directory for a PDF stem.
func (d *Dir) DocumentDir(docStem string) string {
	return filepath.Join(d.output, docStem)
}

// PageImagePath returns the path for a rendered page image.
// Page numbers are 1-indexed.
func (d *Dir) PageImagePath(docStem string, pageNum int) string {
	return filepath.Join(d.DocumentDir(docStem), fmt.Sprintf("%s.%03d.jpg", docStem, pageNum))
}

// PageExtractionPath returns the path for a page's raw extraction JSON.
func (d *Dir) PageExtractionPath(docStem string, pageNum int) string {
	return filepath.Join(d.DocumentDir(docStem), fmt.Sprintf("%s.%03d.json", docStem, pageNum))
}

// TranscriptPath returns the path for a page's transcript artifact.
func (d *Dir) TranscriptPath(docStem string, pageNum int) string {
	return filepath.Join(d.DocumentDir(docStem), fmt.Sprintf("%s.%03d.md", docStem, pageNum))
}

// SummaryPath returns the path for a document's clinical summary.
func (d *Dir) SummaryPath(docStem string) string {
	return filepath.Join(d.DocumentDir(docStem), docStem+".summary.md")
}

// CSVPath returns the path for a document's records CSV.
func (d *Dir) CSVPath(docStem string) string {
	return filepath.Join(d.DocumentDir(docStem), docStem+".csv")
}

// MergedCSVPath returns the path for the cross-document merged CSV.
func (d *Dir) MergedCSVPath() string {
	return filepath.Join(d.output, "all.csv")
}

// EnsureExists creates the home directory tree if it doesn't exist.
func (d *Dir) EnsureExists() error {
	for _, p := range []string{d.path, d.output, filepath.Join(d.path, CacheDirName), d.ProfilesDir()} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", p, err)
		}
	}
	return nil
}

// EnsureDocumentDir creates the artifact directory for a document.
func (d *Dir) EnsureDocumentDir(docStem string) error {
	return os.MkdirAll(d.DocumentDir(docStem), 0o755)
}
