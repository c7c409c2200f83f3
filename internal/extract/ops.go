// Package extract builds the vision-model operations that read scanned
// medical report pages: structured page extraction, verbatim transcription,
// and whole-document classification.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/medshelf/internal/consensus"
	"github.com/jackzampolin/medshelf/internal/exam"
	"github.com/jackzampolin/medshelf/internal/prompts"
	"github.com/jackzampolin/medshelf/internal/providers"
)

// Default temperatures for single attempts. Repeated consensus attempts get
// the runner's sampling temperature instead.
const (
	extractionTemperature     = 0.3
	transcriptionTemperature  = 0.1
	classificationTemperature = 0.1
	validationMinLength       = 20
)

const maxExtractionTokens = 16384

// Extractor builds page-level vision operations.
type Extractor struct {
	client   providers.LLMClient
	registry *prompts.Registry
	model    string
	logger   *slog.Logger
}

// New creates an Extractor using the given vision model.
func New(client providers.LLMClient, registry *prompts.Registry, model string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client:   client,
		registry: registry,
		model:    model,
		logger:   logger,
	}
}

// PageOp returns the structured extraction operation for one page image.
// Candidates are normalized before comparison so formatting noise doesn't
// defeat the unanimity check.
func (e *Extractor) PageOp(image []byte, sourceFile string, profileContext string) consensus.Op {
	return consensus.Op{
		Name:       "extract_page",
		Structured: true,
		Invoke: func(ctx context.Context, temperature *float64) (consensus.Result, error) {
			if temperature == nil {
				temperature = providers.Temp(extractionTemperature)
			}

			systemPrompt, err := e.registry.Render(prompts.KeyExtractionSystem, map[string]string{
				"PatientContext": profileContext,
			})
			if err != nil {
				return consensus.Result{}, fmt.Errorf("failed to render extraction prompt: %w", err)
			}
			userPrompt, err := e.registry.Render(prompts.KeyExtractionUser, nil)
			if err != nil {
				return consensus.Result{}, fmt.Errorf("failed to render extraction prompt: %w", err)
			}

			result, err := e.client.Chat(ctx, &providers.ChatRequest{
				Model:       e.model,
				Temperature: temperature,
				MaxTokens:   maxExtractionTokens,
				Messages: []providers.Message{
					{Role: "system", Content: systemPrompt},
					{Role: "user", Content: userPrompt, Images: [][]byte{image}},
				},
				ResponseFormat: &providers.ResponseFormat{
					Type:       "json_schema",
					JSONSchema: pageExtractionSchema,
				},
			})
			if err != nil {
				return consensus.Result{}, fmt.Errorf("page extraction failed for %s: %w", sourceFile, err)
			}
			if len(result.ParsedJSON) == 0 {
				return consensus.Result{}, fmt.Errorf("page extraction returned no parseable JSON for %s", sourceFile)
			}

			page, err := exam.DecodePageExtraction(result.ParsedJSON, sourceFile)
			if err != nil {
				return consensus.Result{}, fmt.Errorf("failed to decode page extraction: %w", err)
			}
			e.logQuality(page, sourceFile)

			normalized, err := json.Marshal(page)
			if err != nil {
				return consensus.Result{}, fmt.Errorf("failed to normalize page extraction: %w", err)
			}
			return consensus.Result{Text: string(normalized), JSON: normalized}, nil
		},
	}
}

// logQuality flags pages where extraction looks incomplete.
func (e *Extractor) logQuality(page *exam.PageExtraction, sourceFile string) {
	if len(page.Exams) == 0 {
		if page.PageHasExamData != nil && !*page.PageHasExamData {
			e.logger.Debug("page confirmed to have no exam data", "source", sourceFile)
		} else {
			e.logger.Warn("extraction returned 0 exams, image should be reviewed", "source", sourceFile)
		}
		return
	}

	short := 0
	for _, ex := range page.Exams {
		if len(strings.TrimSpace(ex.Transcription)) < 50 {
			short++
		}
	}
	if short > 0 {
		e.logger.Warn("extraction quality issue: very short transcriptions",
			"source", sourceFile, "short", short, "total", len(page.Exams))
	}
}

// TranscribeOp returns the verbatim transcription operation for one page
// image. The output is plain text; fences and a legacy JSON wrapper are
// stripped.
func (e *Extractor) TranscribeOp(image []byte, sourceFile string) consensus.Op {
	return consensus.Op{
		Name: "transcribe_page",
		Invoke: func(ctx context.Context, temperature *float64) (consensus.Result, error) {
			if temperature == nil {
				temperature = providers.Temp(transcriptionTemperature)
			}

			systemPrompt, err := e.registry.Render(prompts.KeyTranscriptionSystem, nil)
			if err != nil {
				return consensus.Result{}, fmt.Errorf("failed to render transcription prompt: %w", err)
			}
			userPrompt, err := e.registry.Render(prompts.KeyTranscriptionUser, nil)
			if err != nil {
				return consensus.Result{}, fmt.Errorf("failed to render transcription prompt: %w", err)
			}

			result, err := e.client.Chat(ctx, &providers.ChatRequest{
				Model:       e.model,
				Temperature: temperature,
				MaxTokens:   maxExtractionTokens,
				Messages: []providers.Message{
					{Role: "system", Content: systemPrompt},
					{Role: "user", Content: userPrompt, Images: [][]byte{image}},
				},
			})
			if err != nil {
				return consensus.Result{}, fmt.Errorf("page transcription failed for %s: %w", sourceFile, err)
			}

			return consensus.Result{Text: CleanTranscription(result.Content)}, nil
		},
	}
}

// CleanTranscription strips markdown fences and unwraps the legacy
// {"transcription": ...} JSON shape some models still emit.
func CleanTranscription(content string) string {
	content = strings.TrimSpace(content)

	if stripped := providers.StripCodeFences(content); stripped != "" {
		content = stripped
	}

	if strings.HasPrefix(content, "{") {
		var wrapper struct {
			Transcription *string `json:"transcription"`
		}
		if err := json.Unmarshal([]byte(content), &wrapper); err == nil && wrapper.Transcription != nil {
			return *wrapper.Transcription
		}
	}

	return content
}

// ClassifyDocument decides whether a document contains medical content worth
// transcribing, looking at all of its page images at once. Failures never
// propagate: the fallback classification keeps the document in the pipeline.
func (e *Extractor) ClassifyDocument(ctx context.Context, images [][]byte, profileContext string) *exam.Classification {
	systemPrompt, err := e.registry.Render(prompts.KeyClassificationSys, map[string]string{
		"PatientContext": profileContext,
	})
	if err != nil {
		e.logger.Error("failed to render classification prompt", "error", err)
		return exam.DefaultClassification()
	}
	userPrompt, err := e.registry.Render(prompts.KeyClassificationUser, nil)
	if err != nil {
		e.logger.Error("failed to render classification prompt", "error", err)
		return exam.DefaultClassification()
	}

	result, err := e.client.Chat(ctx, &providers.ChatRequest{
		Model:       e.model,
		Temperature: providers.Temp(classificationTemperature),
		MaxTokens:   1024,
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt, Images: images},
		},
		ResponseFormat: &providers.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: classificationSchema,
		},
	})
	if err != nil {
		e.logger.Error("document classification failed", "error", err)
		return exam.DefaultClassification()
	}
	if len(result.ParsedJSON) == 0 {
		e.logger.Warn("classification returned no parseable JSON")
		return exam.DefaultClassification()
	}

	var c exam.Classification
	if err := json.Unmarshal(result.ParsedJSON, &c); err != nil {
		e.logger.Error("classification decode failed", "error", err)
		return exam.DefaultClassification()
	}
	c.ExamDate = exam.NormalizeDate(c.ExamDate)
	return &c
}

// ValidateTranscription checks whether a transcription is usable. It returns
// false with reason "empty" for trivially short text and "refusal" when the
// validation model judges the text to be a refusal to transcribe. Validation
// call failures count as valid so a flaky checker can't block the pipeline.
func (e *Extractor) ValidateTranscription(ctx context.Context, validationModel, transcription string) (bool, string) {
	if len(strings.TrimSpace(transcription)) < validationMinLength {
		return false, "empty"
	}

	prompt := `You are checking if the following text is a refusal to transcribe medical content.

A refusal would be text where the model says it cannot or will not transcribe the medical document, mentions privacy concerns, or declines to process the request.

Text to check:
` + transcription + `

Is this a refusal to transcribe medical content? Reply with only "yes" or "no".`

	result, err := e.client.Chat(ctx, &providers.ChatRequest{
		Model:       validationModel,
		Temperature: providers.Temp(0),
		MaxTokens:   10,
		Messages: []providers.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		e.logger.Warn("failed to check for refusal", "error", err)
		return true, "ok"
	}

	if strings.Contains(strings.ToLower(strings.TrimSpace(result.Content)), "yes") {
		return false, "refusal"
	}
	return true, "ok"
}
