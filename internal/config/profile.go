package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a per-patient processing profile. Demographics feed the
// extraction prompts as patient context; paths and overrides scope a run to
// one patient's documents.
type Profile struct {
	Name string `yaml:"name"`

	Paths struct {
		Input          string `yaml:"input_path"`
		Output         string `yaml:"output_path"`
		InputFileRegex string `yaml:"input_file_regex"`
	} `yaml:"paths"`

	// Optional overrides
	Model   string `yaml:"model"`
	Workers int    `yaml:"workers"`

	// Demographics (for extraction context)
	FullName    string `yaml:"full_name"`
	BirthDate   string `yaml:"birth_date"` // YYYY-MM-DD
	Gender      string `yaml:"gender"`
	Nationality string `yaml:"nationality"`
	Locale      string `yaml:"locale"` // e.g. "pt-PT"
}

// LoadProfile reads a profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &p, nil
}

// ListProfiles returns available profile names in a directory. Files
// starting with "_" are templates and are skipped.
func ListProfiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profiles dir: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// PatientContext renders the demographics into prompt context. Returns ""
// when no demographics are set.
func (p *Profile) PatientContext() string {
	var lines []string
	if p.FullName != "" {
		lines = append(lines, "- Name: "+p.FullName)
	}
	if p.BirthDate != "" {
		lines = append(lines, "- Birth date: "+p.BirthDate)
	}
	if p.Gender != "" {
		lines = append(lines, "- Gender: "+p.Gender)
	}
	if p.Nationality != "" {
		lines = append(lines, "- Nationality: "+p.Nationality)
	}
	if p.Locale != "" {
		lines = append(lines, "- Locale: "+p.Locale)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Patient context:\n" + strings.Join(lines, "\n")
}
