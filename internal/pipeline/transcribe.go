package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jackzampolin/medshelf/internal/exam"
)

// TranscribeDocument produces verbatim page transcripts for one PDF without
// structured extraction, standardization or summarization. Each page runs
// under the same self-consistency protocol as full processing.
func (p *Pipeline) TranscribeDocument(ctx context.Context, pdfPath string) error {
	stem := docStem(pdfPath)
	sourceFile := filepath.Base(pdfPath)
	logger := p.logger.With("document", stem)

	if err := p.home.EnsureDocumentDir(stem); err != nil {
		return err
	}

	pageCount, err := p.renderer.PageCount(pdfPath)
	if err != nil {
		return err
	}
	if pageCount == 0 {
		return fmt.Errorf("document %s has no pages", stem)
	}
	logger.Info("transcribing document", "pages", pageCount)

	imagePaths, err := p.renderPages(ctx, pdfPath, stem, pageCount)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, p.maxWorkers())
	var wg sync.WaitGroup
	failed := make([]bool, len(imagePaths))

	for i, imagePath := range imagePaths {
		wg.Add(1)
		go func(i int, imagePath string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pageNum := i + 1
			if err := p.transcribePage(ctx, imagePath, stem, sourceFile, pageNum); err != nil {
				logger.Error("page transcription failed", "page", pageNum, "error", err)
				failed[i] = true
			}
		}(i, imagePath)
	}
	wg.Wait()

	failures := 0
	for _, f := range failed {
		if f {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d pages failed to transcribe", failures, pageCount)
	}
	logger.Info("transcription complete", "pages", pageCount)
	return nil
}

// transcribePage transcribes one page image and writes its transcript.
func (p *Pipeline) transcribePage(ctx context.Context, imagePath, stem, sourceFile string, pageNum int) error {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read page image: %w", err)
	}

	n := p.cfg.Pipeline.NExtractions
	outcome, err := p.runner.Run(ctx, p.extractor.TranscribeOp(image, sourceFile), n)
	if err != nil {
		return err
	}

	record := exam.Record{
		Transcription: outcome.Best.Text,
		PageNumber:    pageNum,
		SourceFile:    sourceFile,
	}
	if n > 1 {
		originals := make([]string, len(outcome.Candidates))
		for i, c := range outcome.Candidates {
			originals[i] = c.Text
		}
		score := p.runner.ScoreConfidence(ctx, outcome.Best.Text, originals)
		record.Confidence = &score.Value
		record.ConfidenceDegraded = score.Degraded
	}

	if model := p.cfg.Models.Validation; model != "" && strings.TrimSpace(record.Transcription) != "" {
		if valid, reason := p.extractor.ValidateTranscription(ctx, model, record.Transcription); !valid {
			p.logger.Warn("transcription failed validation",
				"document", stem, "page", pageNum, "reason", reason)
		}
	}

	return writeTranscript(p.home.TranscriptPath(stem, pageNum), []exam.Record{record})
}
