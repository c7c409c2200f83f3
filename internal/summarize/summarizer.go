package summarize

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/jackzampolin/medshelf/internal/cache"
	"github.com/jackzampolin/medshelf/internal/exam"
	"github.com/jackzampolin/medshelf/internal/prompts"
	"github.com/jackzampolin/medshelf/internal/providers"
)

const (
	summaryTemperature   = 0.1
	examSummaryMaxTokens = 2000

	// DefaultMaxInputTokens bounds the content sent on a single
	// summarization call.
	DefaultMaxInputTokens = 24000

	// DefaultIncrementalOverhead reserves room for the running summary
	// injected into every non-first chunk's prompt.
	DefaultIncrementalOverhead = 4000
)

// Config controls the chunk planner's budgets.
type Config struct {
	MaxInputTokens      int
	IncrementalOverhead int
}

// ChunkBudget is the per-chunk content allowance.
func (c Config) ChunkBudget() int {
	maxInput := c.MaxInputTokens
	if maxInput <= 0 {
		maxInput = DefaultMaxInputTokens
	}
	overhead := c.IncrementalOverhead
	if overhead <= 0 {
		overhead = DefaultIncrementalOverhead
	}
	budget := maxInput - overhead
	if budget < 1 {
		budget = 1
	}
	return budget
}

// Summarizer folds exam records into document summaries and produces cached
// per-exam summaries.
type Summarizer struct {
	client    providers.LLMClient
	registry  *prompts.Registry
	model     string
	cfg       Config
	examCache cache.Store
	logger    *slog.Logger
}

// New creates a Summarizer. examCache holds per-exam summaries keyed by
// transcription content hash; pass a MemoryStore in tests.
func New(client providers.LLMClient, registry *prompts.Registry, model string, cfg Config, examCache cache.Store, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		client:    client,
		registry:  registry,
		model:     model,
		cfg:       cfg,
		examCache: examCache,
		logger:    logger,
	}
}

// SummarizeDocument folds all records with non-empty transcriptions into one
// clinical summary. Chunks are processed strictly in order; a failed or
// empty chunk call stops the fold and returns the last good running summary.
func (s *Summarizer) SummarizeDocument(ctx context.Context, docStem string, records []exam.Record) string {
	content := make([]exam.Record, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Transcription) != "" {
			content = append(content, r)
		}
	}
	if len(content) == 0 {
		return ""
	}

	chunks := PlanChunks(content, s.cfg.ChunkBudget())
	s.logger.Debug("planned summary chunks", "doc", docStem, "records", len(content), "chunks", len(chunks))

	systemPrompt, err := s.registry.Render(prompts.KeySummarizeSystem, nil)
	if err != nil {
		s.logger.Error("failed to render summarization prompt", "doc", docStem, "error", err)
		return ""
	}

	summary := ""
	for i, chunk := range chunks {
		userPrompt, err := s.renderChunkPrompt(i, summary, chunk)
		if err != nil {
			s.logger.Error("failed to render chunk prompt", "doc", docStem, "chunk", i, "error", err)
			return summary
		}

		result, err := s.client.Chat(ctx, &providers.ChatRequest{
			Model:       s.model,
			Temperature: providers.Temp(summaryTemperature),
			Messages: []providers.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
		})
		if err != nil {
			s.logger.Error("summary chunk call failed, keeping last good summary",
				"doc", docStem, "chunk", i, "error", err)
			return summary
		}

		next := strings.TrimSpace(result.Content)
		if next == "" {
			s.logger.Error("summary chunk call returned empty output, keeping last good summary",
				"doc", docStem, "chunk", i)
			return summary
		}

		// The fold replaces the running summary wholesale.
		summary = next
	}

	return summary
}

func (s *Summarizer) renderChunkPrompt(index int, running string, chunk []exam.Record) (string, error) {
	if index == 0 {
		return s.registry.Render(prompts.KeySummarizeFresh, map[string]any{
			"ExamCount":      len(chunk),
			"ExamList":       renderExamList(chunk),
			"Transcriptions": renderTranscriptions(chunk),
		})
	}
	return s.registry.Render(prompts.KeySummarizeIncr, map[string]any{
		"ExistingSummary":   running,
		"NewExamCount":      len(chunk),
		"NewExamList":       renderExamList(chunk),
		"NewTranscriptions": renderTranscriptions(chunk),
	})
}

// SummarizeExam returns an aggressive findings-only summary for one exam
// transcription. Results are cached by content hash so identical
// transcriptions are summarized once across runs; failures return "".
func (s *Summarizer) SummarizeExam(ctx context.Context, r exam.Record) string {
	transcription := strings.TrimSpace(r.Transcription)
	if transcription == "" {
		return ""
	}

	key := contentHash(r.Transcription)
	if raw, ok := s.examCache.Get(key); ok {
		var cached string
		if err := json.Unmarshal(raw, &cached); err == nil {
			s.logger.Debug("using cached exam summary", "hash", key[:8])
			return cached
		}
	}

	userPrompt, err := s.registry.Render(prompts.KeyExamSummary, map[string]string{
		"ExamType":      examTypeLabel(r),
		"ExamName":      r.DisplayName(),
		"Transcription": r.Transcription,
	})
	if err != nil {
		s.logger.Error("failed to render exam summary prompt", "error", err)
		return ""
	}
	systemPrompt, err := s.registry.Render(prompts.KeySummarizeSystem, nil)
	if err != nil {
		s.logger.Error("failed to render summarization prompt", "error", err)
		return ""
	}

	result, err := s.client.Chat(ctx, &providers.ChatRequest{
		Model:       s.model,
		Temperature: providers.Temp(summaryTemperature),
		MaxTokens:   examSummaryMaxTokens,
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		s.logger.Error("exam summarization failed", "exam", r.DisplayName(), "error", err)
		return ""
	}

	summary := strings.TrimSpace(result.Content)
	if summary == "" {
		return ""
	}

	encoded, err := json.Marshal(summary)
	if err == nil {
		s.examCache.Put(key, encoded)
		if err := s.examCache.Flush(); err != nil {
			s.logger.Warn("failed to flush summarization cache", "error", err)
		}
	}
	return summary
}

func contentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
