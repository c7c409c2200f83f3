package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Prompt keys used across the pipeline.
const (
	KeyExtractionSystem    = "extraction_system"
	KeyExtractionUser      = "extraction_user"
	KeyTranscriptionSystem = "transcription_system"
	KeyTranscriptionUser   = "transcription_user"
	KeyClassificationSys   = "classification_system"
	KeyClassificationUser  = "classification_user"
	KeyVotingSystem        = "voting_system"
	KeyConfidenceSystem    = "confidence_scoring_system"
	KeySummarizeSystem     = "summarization_system"
	KeySummarizeFresh      = "summarization_fresh"
	KeySummarizeIncr       = "summarization_incremental"
	KeyExamSummary         = "exam_summary"
	KeyStandardization     = "standardization_system"
)

// Entry is a registered prompt with metadata for change detection.
type Entry struct {
	Key        string
	Text       string
	Hash       string
	Variables  []string
	IsOverride bool
}

// Registry resolves prompt templates.
// Resolution order: user override file ({overrideDir}/{key}.tmpl) > embedded default.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	overrideDir string
	logger      *slog.Logger
}

// NewRegistry loads embedded prompts and any overrides from overrideDir.
// Pass "" to disable overrides.
func NewRegistry(overrideDir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		entries:     make(map[string]Entry),
		overrideDir: overrideDir,
		logger:      logger,
	}

	err := fs.WalkDir(templatesFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := templatesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded prompt %s: %w", path, err)
		}
		key := strings.TrimSuffix(filepath.Base(path), ".tmpl")
		r.register(key, string(data), false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if overrideDir != "" {
		if err := r.loadOverrides(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) register(key, text string, override bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := Entry{
		Key:        key,
		Text:       text,
		Hash:       HashText(text),
		Variables:  ExtractVariables(text),
		IsOverride: override,
	}
	r.entries[key] = entry
	r.logger.Debug("registered prompt", "key", key, "vars", entry.Variables, "override", override)
}

func (r *Registry) loadOverrides() error {
	entries, err := os.ReadDir(r.overrideDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read prompt override dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmpl") {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".tmpl")
		if _, known := r.Get(key); !known {
			r.logger.Warn("ignoring override for unknown prompt", "key", key)
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.overrideDir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read prompt override %s: %w", e.Name(), err)
		}
		r.register(key, string(data), true)
	}
	return nil
}

// Get returns the entry for a key.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Render resolves a prompt and executes it with the given data.
func (r *Registry) Render(key string, data any) (string, error) {
	entry, ok := r.Get(key)
	if !ok {
		return "", fmt.Errorf("prompt not found: %s", key)
	}

	tmpl, err := template.New(key).Option("missingkey=error").Parse(entry.Text)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt %s: %w", key, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", key, err)
	}
	return buf.String(), nil
}

// Keys returns all registered prompt keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}
