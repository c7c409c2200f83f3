package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jackzampolin/medshelf/internal/config"
	"github.com/jackzampolin/medshelf/internal/consensus"
	"github.com/jackzampolin/medshelf/internal/exam"
	"github.com/jackzampolin/medshelf/internal/extract"
	"github.com/jackzampolin/medshelf/internal/home"
	"github.com/jackzampolin/medshelf/internal/standardize"
	"github.com/jackzampolin/medshelf/internal/summarize"
)

// defaultInputFileRegex matches PDFs when no pattern is configured.
const defaultInputFileRegex = `(?i)\.pdf$`

// Options wires the pipeline's collaborators.
type Options struct {
	Home           *home.Dir
	Config         *config.Config
	Renderer       PageRenderer
	Extractor      *extract.Extractor
	Runner         *consensus.Runner
	Standardizer   *standardize.Standardizer
	Summarizer     *summarize.Summarizer
	ProfileContext string
	Logger         *slog.Logger
}

// Pipeline drives a document from PDF to records, transcripts, summary and
// CSV. Pages fan out across a bounded worker pool; everything after the
// per-page extractions runs single-threaded over the assembled record set.
type Pipeline struct {
	home           *home.Dir
	cfg            *config.Config
	renderer       PageRenderer
	extractor      *extract.Extractor
	runner         *consensus.Runner
	standardizer   *standardize.Standardizer
	summarizer     *summarize.Summarizer
	profileContext string
	logger         *slog.Logger
}

// New creates a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		home:           opts.Home,
		cfg:            opts.Config,
		renderer:       opts.Renderer,
		extractor:      opts.Extractor,
		runner:         opts.Runner,
		standardizer:   opts.Standardizer,
		summarizer:     opts.Summarizer,
		profileContext: opts.ProfileContext,
		logger:         logger,
	}
}

// FindDocuments returns the PDFs in dir matching pattern, sorted by name.
// An empty pattern matches any PDF.
func FindDocuments(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = defaultInputFileRegex
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid input file regex %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		if !re.MatchString(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Run processes every matching document in the configured input directory,
// then merges all per-document CSVs. Documents whose CSV already exists are
// skipped but still included in the merge.
func (p *Pipeline) Run(ctx context.Context) error {
	docs, err := FindDocuments(p.cfg.Paths.Input, p.cfg.Paths.InputFileRegex)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		p.logger.Info("no documents found", "input", p.cfg.Paths.Input)
		return nil
	}
	p.logger.Info("processing documents", "count", len(docs))

	var csvPaths []string
	processed, skipped, failed := 0, 0, 0
	typeCounts := make(map[exam.Type]int)
	for _, pdfPath := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}

		stem := docStem(pdfPath)
		csvPath := p.home.CSVPath(stem)
		if _, err := os.Stat(csvPath); err == nil {
			p.logger.Info("skipping already processed document", "document", stem)
			csvPaths = append(csvPaths, csvPath)
			skipped++
			continue
		}

		records, err := p.ProcessDocument(ctx, pdfPath)
		if err != nil {
			p.logger.Error("document processing failed", "document", stem, "error", err)
			failed++
			continue
		}
		processed++
		for _, r := range records {
			typeCounts[r.ExamType]++
		}
		if _, err := os.Stat(csvPath); err == nil {
			csvPaths = append(csvPaths, csvPath)
		}
	}

	p.logger.Info("run complete",
		"processed", processed, "skipped", skipped, "failed", failed)
	for examType, count := range typeCounts {
		p.logger.Info("extracted records", "exam_type", string(examType), "count", count)
	}

	if len(csvPaths) == 0 {
		return nil
	}
	if err := mergeCSVs(csvPaths, p.home.MergedCSVPath()); err != nil {
		return fmt.Errorf("failed to merge CSVs: %w", err)
	}
	p.logger.Info("merged records", "documents", len(csvPaths), "output", p.home.MergedCSVPath())
	return nil
}

// ProcessDocument runs the full pipeline for one PDF: render pages, extract
// each page under self-consistency, correct dates, standardize exam names,
// summarize, and persist all artifacts. A nil record slice with a nil error
// means the document was classified as not a medical exam.
func (p *Pipeline) ProcessDocument(ctx context.Context, pdfPath string) ([]exam.Record, error) {
	stem := docStem(pdfPath)
	sourceFile := filepath.Base(pdfPath)
	logger := p.logger.With("document", stem)

	if err := p.home.EnsureDocumentDir(stem); err != nil {
		return nil, err
	}

	pageCount, err := p.renderer.PageCount(pdfPath)
	if err != nil {
		return nil, err
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("document %s has no pages", stem)
	}
	logger.Info("processing document", "pages", pageCount)

	imagePaths, err := p.renderPages(ctx, pdfPath, stem, pageCount)
	if err != nil {
		return nil, err
	}

	firstPage, err := os.ReadFile(imagePaths[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read page image: %w", err)
	}
	classification := p.extractor.ClassifyDocument(ctx, [][]byte{firstPage}, p.profileContext)
	if !classification.IsExam {
		logger.Info("document is not a medical exam, skipping",
			"name", classification.ExamNameRaw)
		return nil, nil
	}

	pages := p.extractPages(ctx, imagePaths, stem, sourceFile)

	records := p.assembleRecords(pages, sourceFile)
	p.correctDates(records, pages, sourceFile, logger)
	p.validateRecords(ctx, records, logger)

	mappings := p.standardizer.Standardize(ctx, rawNames(records))
	standardize.Apply(records, mappings)

	for i := range records {
		records[i].Summary = p.summarizer.SummarizeExam(ctx, records[i])
	}
	summary := p.summarizer.SummarizeDocument(ctx, stem, records)

	if err := p.persistDocument(stem, pages, records, summary); err != nil {
		return nil, err
	}
	logger.Info("document complete", "records", len(records))
	return records, nil
}

// renderPages rasterizes all pages with bounded concurrency and returns the
// image paths in page order.
func (p *Pipeline) renderPages(ctx context.Context, pdfPath, stem string, pageCount int) ([]string, error) {
	paths := make([]string, pageCount)
	errs := make([]error, pageCount)
	sem := make(chan struct{}, p.maxWorkers())
	var wg sync.WaitGroup

	for i := 0; i < pageCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pageNum := i + 1
			dest := p.home.PageImagePath(stem, pageNum)
			if err := p.renderer.RenderPage(ctx, pdfPath, pageNum, dest); err != nil {
				errs[i] = err
				return
			}
			paths[i] = dest
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// pageResult is one page's extraction plus its agreement confidence.
type pageResult struct {
	pageNum    int
	extraction *exam.PageExtraction
	confidence consensus.Score
	scored     bool
}

// extractPages runs self-consistency extraction on every page with bounded
// concurrency. Failed pages are logged and dropped; one unreadable page must
// not lose the rest of the document.
func (p *Pipeline) extractPages(ctx context.Context, imagePaths []string, stem, sourceFile string) []pageResult {
	results := make([]*pageResult, len(imagePaths))
	sem := make(chan struct{}, p.maxWorkers())
	var wg sync.WaitGroup

	for i, imagePath := range imagePaths {
		wg.Add(1)
		go func(i int, imagePath string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pageNum := i + 1
			res, err := p.extractPage(ctx, imagePath, pageNum, sourceFile)
			if err != nil {
				p.logger.Error("page extraction failed",
					"document", stem, "page", pageNum, "error", err)
				return
			}
			results[i] = res
		}(i, imagePath)
	}
	wg.Wait()

	var pages []pageResult
	for _, r := range results {
		if r != nil {
			pages = append(pages, *r)
		}
	}
	return pages
}

// extractPage runs one page through the consensus runner and scores the
// candidates' agreement when more than one extraction ran.
func (p *Pipeline) extractPage(ctx context.Context, imagePath string, pageNum int, sourceFile string) (*pageResult, error) {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read page image: %w", err)
	}

	n := p.cfg.Pipeline.NExtractions
	outcome, err := p.runner.Run(ctx, p.extractor.PageOp(image, sourceFile, p.profileContext), n)
	if err != nil {
		return nil, err
	}

	extraction, err := exam.DecodePageExtraction(outcome.Best.JSON, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to decode winning extraction: %w", err)
	}

	res := &pageResult{pageNum: pageNum, extraction: extraction}
	if n > 1 {
		originals := make([]string, len(outcome.Candidates))
		for i, c := range outcome.Candidates {
			originals[i] = c.Text
		}
		res.confidence = p.runner.ScoreConfidence(ctx, outcome.Best.Text, originals)
		res.scored = true
	}
	return res, nil
}

// assembleRecords flattens page extractions into the document's record set,
// stamping page numbers, source file and confidence.
func (p *Pipeline) assembleRecords(pages []pageResult, sourceFile string) []exam.Record {
	var records []exam.Record
	for _, page := range pages {
		for _, r := range page.extraction.Exams {
			r.PageNumber = page.pageNum
			r.SourceFile = sourceFile
			if page.scored {
				v := page.confidence.Value
				r.Confidence = &v
				r.ConfidenceDegraded = page.confidence.Degraded
			}
			records = append(records, r)
		}
	}
	return records
}

// correctDates fills missing exam dates from the document's report date and
// the source filename, then overwrites every record with the majority date
// so the whole document carries one date.
func (p *Pipeline) correctDates(records []exam.Record, pages []pageResult, sourceFile string, logger *slog.Logger) {
	reportDate := ""
	for _, page := range pages {
		if page.extraction.ReportDate != "" {
			reportDate = page.extraction.ReportDate
			break
		}
	}
	filenameDate := exam.DateFromFilename(sourceFile)

	for i := range records {
		if records[i].ExamDate == "" {
			records[i].ExamDate = reportDate
		}
		if records[i].ExamDate == "" {
			records[i].ExamDate = filenameDate
		}
	}

	if voted := voteExamDate(records); voted != "" {
		for i := range records {
			if records[i].ExamDate != voted {
				logger.Debug("correcting exam date",
					"page", records[i].PageNumber,
					"from", records[i].ExamDate, "to", voted)
			}
			records[i].ExamDate = voted
		}
	}
}

// voteExamDate returns the most frequent non-empty exam date. Ties go to the
// date seen earliest in record order.
func voteExamDate(records []exam.Record) string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, r := range records {
		if r.ExamDate == "" {
			continue
		}
		if _, ok := firstSeen[r.ExamDate]; !ok {
			firstSeen[r.ExamDate] = i
		}
		counts[r.ExamDate]++
	}

	best := ""
	for date, count := range counts {
		if best == "" {
			best = date
			continue
		}
		if count > counts[best] || (count == counts[best] && firstSeen[date] < firstSeen[best]) {
			best = date
		}
	}
	return best
}

// validateRecords runs the transcription refusal check over every non-empty
// transcription. Failures are advisory; records are flagged in the log, not
// dropped.
func (p *Pipeline) validateRecords(ctx context.Context, records []exam.Record, logger *slog.Logger) {
	model := p.cfg.Models.Validation
	if model == "" {
		return
	}
	for _, r := range records {
		if strings.TrimSpace(r.Transcription) == "" {
			continue
		}
		if valid, reason := p.extractor.ValidateTranscription(ctx, model, r.Transcription); !valid {
			logger.Warn("transcription failed validation",
				"page", r.PageNumber, "reason", reason)
		}
	}
}

// persistDocument writes all artifacts for a processed document. The CSV is
// written last so its presence always means a complete artifact set.
func (p *Pipeline) persistDocument(stem string, pages []pageResult, records []exam.Record, summary string) error {
	byPage := make(map[int][]exam.Record)
	for _, r := range records {
		byPage[r.PageNumber] = append(byPage[r.PageNumber], r)
	}

	for _, page := range pages {
		if err := writePageExtraction(p.home.PageExtractionPath(stem, page.pageNum), page.extraction); err != nil {
			return err
		}
		if err := writeTranscript(p.home.TranscriptPath(stem, page.pageNum), byPage[page.pageNum]); err != nil {
			return err
		}
	}
	if err := writeSummary(p.home.SummaryPath(stem), summary); err != nil {
		return err
	}
	return writeRecordsCSV(p.home.CSVPath(stem), records)
}

func (p *Pipeline) maxWorkers() int {
	if p.cfg.Pipeline.MaxWorkers > 0 {
		return p.cfg.Pipeline.MaxWorkers
	}
	return 1
}

func rawNames(records []exam.Record) []string {
	var names []string
	for _, r := range records {
		if r.ExamNameRaw != "" {
			names = append(names, r.ExamNameRaw)
		}
	}
	return names
}

func docStem(pdfPath string) string {
	base := filepath.Base(pdfPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
