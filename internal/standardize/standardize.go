// Package standardize maps raw exam names from extraction to standardized
// categories and names, backed by a user-editable JSON cache so manual
// overrides survive across runs.
package standardize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackzampolin/medshelf/internal/cache"
	"github.com/jackzampolin/medshelf/internal/exam"
	"github.com/jackzampolin/medshelf/internal/prompts"
	"github.com/jackzampolin/medshelf/internal/providers"
)

const standardizeTemperature = 0.1

// Mapping is the standardization result for one raw exam name.
type Mapping struct {
	ExamType         exam.Type `json:"exam_type"`
	StandardizedName string    `json:"standardized_name"`

	// Degraded marks mappings that fell back to defaults because the LLM
	// call failed or didn't cover the name. Defaults never enter the store,
	// so a later call or run retries the name.
	Degraded bool `json:"-"`
}

// Standardizer resolves raw exam names through the cache, batching only the
// uncached names into a single LLM call.
type Standardizer struct {
	client   providers.LLMClient
	registry *prompts.Registry
	model    string
	store    cache.Store
	logger   *slog.Logger
}

// New creates a Standardizer.
func New(client providers.LLMClient, registry *prompts.Registry, model string, store cache.Store, logger *slog.Logger) *Standardizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Standardizer{
		client:   client,
		registry: registry,
		model:    model,
		store:    store,
		logger:   logger,
	}
}

// CacheKey normalizes a raw name for cache lookup.
func CacheKey(rawName string) string {
	return strings.ToLower(strings.TrimSpace(rawName))
}

// Standardize maps every raw name to its classification. Cached names never
// hit the LLM; a run with all names cached makes zero calls.
func (s *Standardizer) Standardize(ctx context.Context, rawNames []string) map[string]Mapping {
	result := make(map[string]Mapping, len(rawNames))
	if len(rawNames) == 0 {
		return result
	}

	seen := make(map[string]bool)
	var uncached []string
	for _, name := range rawNames {
		key := CacheKey(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := s.cachedMapping(key); !ok {
			uncached = append(uncached, name)
		}
	}
	sort.Strings(uncached)

	if len(uncached) > 0 {
		s.logger.Info("standardizing uncached exam names", "count", len(uncached))
		s.resolveUncached(ctx, uncached)
	}

	for _, name := range rawNames {
		if m, ok := s.cachedMapping(CacheKey(name)); ok {
			result[name] = m
		} else {
			result[name] = Mapping{ExamType: exam.TypeOther, StandardizedName: name, Degraded: true}
		}
	}
	return result
}

func (s *Standardizer) cachedMapping(key string) (Mapping, bool) {
	raw, ok := s.store.Get(key)
	if !ok {
		return Mapping{}, false
	}
	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		s.logger.Warn("corrupt standardization cache entry", "key", key, "error", err)
		return Mapping{}, false
	}
	if !exam.ValidType(m.ExamType) {
		m.ExamType = exam.TypeOther
	}
	return m, true
}

// resolveUncached makes one batch LLM call for the given names and fills
// the cache. Only genuine LLM results ever enter the store: on call failure
// or a name the response didn't cover, nothing is written, so the caller
// synthesizes a degraded default and a later call retries the name.
func (s *Standardizer) resolveUncached(ctx context.Context, names []string) {
	mappings, err := s.classify(ctx, names)
	if err != nil {
		s.logger.Error("exam standardization failed, using defaults", "error", err)
		return
	}

	for _, name := range names {
		m, ok := mappings[name]
		if !ok {
			s.logger.Warn("no mapping returned for exam name, using raw name", "name", name)
			continue
		}
		s.putMapping(name, m)
	}

	if err := s.store.Flush(); err != nil {
		s.logger.Warn("failed to flush standardization cache", "error", err)
	}
}

func (s *Standardizer) putMapping(rawName string, m Mapping) {
	if !exam.ValidType(m.ExamType) {
		m.ExamType = exam.TypeOther
	}
	if m.StandardizedName == "" {
		m.StandardizedName = rawName
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.store.Put(CacheKey(rawName), encoded)
}

func (s *Standardizer) classify(ctx context.Context, names []string) (map[string]Mapping, error) {
	systemPrompt, err := s.registry.Render(prompts.KeyStandardization, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to render standardization prompt: %w", err)
	}

	namesJSON, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode exam names: %w", err)
	}
	userPrompt := fmt.Sprintf("Classify these exam names:\n\n%s\n\nReturn a JSON object mapping each raw name to its classification.", namesJSON)

	result, err := s.client.Chat(ctx, &providers.ChatRequest{
		Model:       s.model,
		Temperature: providers.Temp(standardizeTemperature),
		MaxTokens:   4000,
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, err
	}

	parsed, err := providers.ParseStructuredJSON(result.Content)
	if err != nil {
		return nil, fmt.Errorf("unparseable standardization response: %w", err)
	}

	var raw map[string]struct {
		ExamType         string `json:"exam_type"`
		StandardizedName string `json:"standardized_name"`
	}
	if err := json.Unmarshal(parsed, &raw); err != nil {
		return nil, fmt.Errorf("unexpected standardization response shape: %w", err)
	}

	mappings := make(map[string]Mapping, len(raw))
	for name, entry := range raw {
		m := Mapping{ExamType: exam.Type(entry.ExamType), StandardizedName: entry.StandardizedName}
		if !exam.ValidType(m.ExamType) {
			m.ExamType = exam.TypeOther
		}
		if m.StandardizedName == "" {
			m.StandardizedName = name
		}
		mappings[name] = m
	}
	return mappings, nil
}

// Apply rewrites records in place with their standardized names and types.
func Apply(records []exam.Record, mappings map[string]Mapping) {
	for i := range records {
		m, ok := mappings[records[i].ExamNameRaw]
		if !ok {
			continue
		}
		records[i].ExamType = m.ExamType
		records[i].ExamNameStandardized = m.StandardizedName
	}
}
