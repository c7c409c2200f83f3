package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/medshelf/internal/exam"
)

// csvHeader is the column order for per-document and merged record CSVs.
var csvHeader = []string{
	"exam_date",
	"exam_type",
	"exam_name_raw",
	"exam_name_standardized",
	"transcription",
	"summary",
	"source_file",
	"page_number",
	"transcription_confidence",
}

// writePageExtraction persists the raw structured extraction for one page.
// These sidecars are the pipeline's audit trail: the CSV holds the corrected
// records, the sidecar holds what the model actually said.
func writePageExtraction(path string, page *exam.PageExtraction) error {
	data, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode page extraction: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// transcriptFrontmatter is the YAML header on a page transcript file.
type transcriptFrontmatter struct {
	ExamDate             string    `yaml:"exam_date,omitempty"`
	ExamNameRaw          string    `yaml:"exam_name_raw,omitempty"`
	ExamNameStandardized string    `yaml:"exam_name_standardized,omitempty"`
	ExamType             exam.Type `yaml:"exam_type,omitempty"`
	PageNumber           int       `yaml:"page_number"`
	SourceFile           string    `yaml:"source_file"`
	Confidence           *float64  `yaml:"transcription_confidence,omitempty"`
}

// writeTranscript persists a page's records as a markdown file with YAML
// frontmatter. Pages with several exams get their transcriptions joined by a
// horizontal rule.
func writeTranscript(path string, records []exam.Record) error {
	if len(records) == 0 {
		return nil
	}

	fm := transcriptFrontmatter{
		ExamDate:             records[0].ExamDate,
		ExamNameRaw:          records[0].ExamNameRaw,
		ExamNameStandardized: records[0].ExamNameStandardized,
		ExamType:             records[0].ExamType,
		PageNumber:           records[0].PageNumber,
		SourceFile:           records[0].SourceFile,
		Confidence:           records[0].Confidence,
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("failed to encode transcript frontmatter: %w", err)
	}

	bodies := make([]string, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Transcription) != "" {
			bodies = append(bodies, strings.TrimSpace(r.Transcription))
		}
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString(strings.Join(bodies, "\n\n---\n\n"))
	b.WriteString("\n")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// writeSummary persists the document-level clinical summary.
func writeSummary(path, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(text)+"\n"), 0o644)
}

// writeRecordsCSV persists a document's records. The CSV existing is also
// the marker that the document has been processed.
func writeRecordsCSV(path string, records []exam.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range records {
		// An empty cell means the page was never scored (n==1 run); a scored
		// 0.00 is real disagreement and must survive the round trip.
		confidence := ""
		if r.Confidence != nil {
			confidence = strconv.FormatFloat(*r.Confidence, 'f', 2, 64)
		}
		row := []string{
			r.ExamDate,
			string(r.ExamType),
			r.ExamNameRaw,
			r.ExamNameStandardized,
			r.Transcription,
			r.Summary,
			r.SourceFile,
			strconv.Itoa(r.PageNumber),
			confidence,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// mergeCSVs combines per-document CSVs into one file sorted by exam date,
// newest first. Rows keep their relative order within equal dates.
func mergeCSVs(paths []string, outPath string) error {
	var rows [][]string
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open CSV %s: %w", p, err)
		}
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		all, err := r.ReadAll()
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to read CSV %s: %w", p, err)
		}
		if len(all) > 1 {
			rows = append(rows, all[1:]...)
		}
	}

	// ISO dates sort lexicographically; empty dates sink to the bottom.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i][0] > rows[j][0]
	})

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create merged CSV: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write merged CSV header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write merged CSV rows: %w", err)
	}
	return nil
}
