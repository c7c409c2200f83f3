package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/medshelf/internal/prompts"
	"github.com/jackzampolin/medshelf/internal/providers"
)

// neutralConfidence is used when scoring fails.
const neutralConfidence = 0.5

// Score is a transcription confidence assessment.
type Score struct {
	Value float64

	// Degraded is true when the scoring call failed or returned an
	// unparseable response and Value fell back to neutral.
	Degraded bool
}

// ScoreConfidence compares a merged transcription against the original
// attempts it was derived from. Identical originals score 1.0 without an
// LLM call. Scoring failures return the neutral score, never an error.
func (r *Runner) ScoreConfidence(ctx context.Context, merged string, originals []string) Score {
	if len(originals) == 0 {
		return Score{Value: neutralConfidence, Degraded: true}
	}

	identical := true
	for _, o := range originals[1:] {
		if o != originals[0] {
			identical = false
			break
		}
	}
	if identical {
		return Score{Value: 1.0}
	}

	systemPrompt, err := r.registry.Render(prompts.KeyConfidenceSystem, nil)
	if err != nil {
		r.logger.Error("failed to render confidence prompt", "error", err)
		return Score{Value: neutralConfidence, Degraded: true}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Final Merged Transcription:\n%s\n\n", merged)
	for i, orig := range originals {
		fmt.Fprintf(&sb, "## Original Transcription %d:\n%s\n\n", i+1, orig)
	}

	result, err := r.client.Chat(ctx, &providers.ChatRequest{
		Model:       r.votingModel,
		Temperature: providers.Temp(votingTemperature),
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		r.logger.Error("confidence scoring call failed", "error", err)
		return Score{Value: neutralConfidence, Degraded: true}
	}

	parsed, err := providers.ParseStructuredJSON(result.Content)
	if err != nil {
		r.logger.Warn("could not parse confidence response", "error", err)
		return Score{Value: neutralConfidence, Degraded: true}
	}

	var payload struct {
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(parsed, &payload); err != nil || payload.Confidence == nil {
		r.logger.Warn("confidence response missing confidence field")
		return Score{Value: neutralConfidence, Degraded: true}
	}

	value := *payload.Confidence
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	return Score{Value: value}
}
