// Package summarize produces document-level clinical summaries by folding
// token-budgeted chunks of exam records through an LLM, plus cached per-exam
// summaries.
package summarize

import (
	"github.com/jackzampolin/medshelf/internal/exam"
)

// EstimateTokens is a coarse length-based token estimate (chars / 4). It is
// a safety margin, not a tokenizer; the budget constants are calibrated
// against this exact heuristic.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// recordCost is the estimated token cost of one record as it will appear in
// a rendered chunk prompt: its exam-list entry plus its transcription block.
func recordCost(index int, r exam.Record) int {
	return EstimateTokens(examListEntry(index, r)) + EstimateTokens(transcriptionBlock(index, r))
}

// PlanChunks partitions records into contiguous chunks whose estimated
// rendered cost fits chunkBudget. Order is preserved and nothing is dropped:
// a single record whose cost alone exceeds the budget becomes its own chunk.
func PlanChunks(records []exam.Record, chunkBudget int) [][]exam.Record {
	var chunks [][]exam.Record
	var current []exam.Record
	currentCost := 0

	for i, r := range records {
		cost := recordCost(i+1, r)

		if currentCost+cost > chunkBudget && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			currentCost = 0
		}

		// Oversized singleton: the record starts (and will close) its own
		// chunk rather than being truncated or dropped.
		current = append(current, r)
		currentCost += cost
	}

	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
