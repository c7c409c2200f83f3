// Package consensus runs LLM operations multiple times and selects the
// most consistent result via a voting call, following the self-consistency
// sampling approach.
package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/medshelf/internal/prompts"
	"github.com/jackzampolin/medshelf/internal/providers"
)

const (
	// SamplingTemperature is injected into repeated attempts when the
	// operation doesn't pin its own temperature. Fixed for i.i.d. sampling.
	SamplingTemperature = 0.5

	// votingTemperature keeps the voting call near-deterministic.
	votingTemperature = 0.1
)

// Result is a single attempt's output. JSON is set for structured operations.
type Result struct {
	Text string
	JSON json.RawMessage
}

// payload returns the comparable/votable representation of the result.
func (r Result) payload(structured bool) string {
	if structured {
		return string(r.JSON)
	}
	return r.Text
}

// Op is a repeatable LLM operation.
type Op struct {
	// Name identifies the operation in logs.
	Name string

	// Structured marks operations whose output is JSON. The voted winner
	// is re-parsed as JSON before being accepted.
	Structured bool

	// Temperature pins the sampling temperature for attempts. When nil the
	// runner injects SamplingTemperature for repeated attempts.
	Temperature *float64

	// Invoke performs one attempt at the given temperature.
	Invoke func(ctx context.Context, temperature *float64) (Result, error)
}

// Outcome is the result of a consensus round.
type Outcome struct {
	Best       Result
	Candidates []Result

	// Unanimous is true when all attempts produced identical output and
	// no voting call was made.
	Unanimous bool

	// Voted is true when an LLM voting call selected the winner.
	Voted bool

	// Degraded is true when voting failed (call error or unparseable
	// winner) and the first candidate was used instead.
	Degraded bool
}

// Runner executes consensus rounds.
type Runner struct {
	client      providers.LLMClient
	votingModel string
	registry    *prompts.Registry
	logger      *slog.Logger
}

// NewRunner creates a consensus runner. The client and model are used only
// for voting calls; attempts go through the operation's own Invoke.
func NewRunner(client providers.LLMClient, votingModel string, registry *prompts.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client:      client,
		votingModel: votingModel,
		registry:    registry,
		logger:      logger,
	}
}

// Run executes op n times concurrently and returns the most consistent
// result. A single failed attempt fails the whole round. With n <= 1 the
// operation runs once and is returned directly.
func (r *Runner) Run(ctx context.Context, op Op, n int) (*Outcome, error) {
	if n <= 1 {
		result, err := op.Invoke(ctx, op.Temperature)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op.Name, err)
		}
		return &Outcome{Best: result, Candidates: []Result{result}, Unanimous: true}, nil
	}

	temp := op.Temperature
	if temp == nil {
		temp = providers.Temp(SamplingTemperature)
	}

	candidates, err := r.collect(ctx, op, n, temp)
	if err != nil {
		return nil, err
	}

	// All identical: no voting needed.
	first := candidates[0].payload(op.Structured)
	unanimous := true
	for _, c := range candidates[1:] {
		if c.payload(op.Structured) != first {
			unanimous = false
			break
		}
	}
	if unanimous {
		r.logger.Debug("consensus unanimous", "op", op.Name, "n", n)
		return &Outcome{Best: candidates[0], Candidates: candidates, Unanimous: true}, nil
	}

	return r.vote(ctx, op, candidates)
}

// collect runs n attempts concurrently, gathering results in completion
// order. The first error cancels the remaining attempts and fails the round.
func (r *Runner) collect(ctx context.Context, op Op, n int, temp *float64) ([]Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type attempt struct {
		result Result
		err    error
	}
	ch := make(chan attempt, n)

	for i := 0; i < n; i++ {
		go func() {
			result, err := op.Invoke(ctx, temp)
			ch <- attempt{result: result, err: err}
		}()
	}

	candidates := make([]Result, 0, n)
	var firstErr error
	for i := 0; i < n; i++ {
		a := <-ch
		if a.err != nil {
			if firstErr == nil {
				firstErr = a.err
				cancel()
			}
			continue
		}
		candidates = append(candidates, a.result)
	}

	if firstErr != nil {
		return nil, fmt.Errorf("%s attempt failed: %w", op.Name, firstErr)
	}
	return candidates, nil
}

// vote asks the voting model to pick the best candidate. Voting failures
// degrade to the first candidate rather than failing the round.
func (r *Runner) vote(ctx context.Context, op Op, candidates []Result) (*Outcome, error) {
	systemPrompt, err := r.registry.Render(prompts.KeyVotingSystem, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to render voting prompt: %w", err)
	}

	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "--- Output %d ---\n%s\n\n", i+1, c.payload(op.Structured))
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
		r.logger.Error("consensus voting call failed", "op", op.Name, "error", err)
		return &Outcome{Best: candidates[0], Candidates: candidates, Degraded: true}, nil
	}

	voted := strings.TrimSpace(result.Content)

	if op.Structured {
		parsed, perr := providers.ParseStructuredJSON(voted)
		if perr != nil {
			r.logger.Error("failed to parse voted result as JSON", "op", op.Name, "error", perr)
			return &Outcome{Best: candidates[0], Candidates: candidates, Degraded: true}, nil
		}
		return &Outcome{
			Best:       Result{Text: voted, JSON: parsed},
			Candidates: candidates,
			Voted:      true,
		}, nil
	}

	return &Outcome{
		Best:       Result{Text: voted},
		Candidates: candidates,
		Voted:      true,
	}, nil
}
