package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/medshelf/internal/cache"
	"github.com/jackzampolin/medshelf/internal/config"
	"github.com/jackzampolin/medshelf/internal/consensus"
	"github.com/jackzampolin/medshelf/internal/exam"
	"github.com/jackzampolin/medshelf/internal/extract"
	"github.com/jackzampolin/medshelf/internal/home"
	"github.com/jackzampolin/medshelf/internal/prompts"
	"github.com/jackzampolin/medshelf/internal/providers"
	"github.com/jackzampolin/medshelf/internal/standardize"
	"github.com/jackzampolin/medshelf/internal/summarize"
)

// fakeRenderer produces placeholder page images without poppler.
type fakeRenderer struct {
	pages int
}

func (f *fakeRenderer) PageCount(string) (int, error) { return f.pages, nil }

func (f *fakeRenderer) RenderPage(_ context.Context, _ string, pageNum int, destPath string) error {
	return os.WriteFile(destPath, []byte("fake-jpeg-page"), 0o644)
}

func newTestPipeline(t *testing.T, client *providers.MockClient, pages int) (*Pipeline, *home.Dir, string) {
	t.Helper()

	root := t.TempDir()
	inputDir := filepath.Join(root, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}

	h, err := home.New(filepath.Join(root, "home"), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatal(err)
	}

	registry, err := prompts.NewRegistry("", nil)
	if err != nil {
		t.Fatalf("failed to build prompt registry: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Paths.Input = inputDir
	cfg.Pipeline.MaxWorkers = 1
	cfg.Pipeline.NExtractions = 1
	cfg.Models.Validation = "" // skip refusal checks in tests

	p := New(Options{
		Home:         h,
		Config:       cfg,
		Renderer:     &fakeRenderer{pages: pages},
		Extractor:    extract.New(client, registry, "test-model", nil),
		Runner:       consensus.NewRunner(client, "test-model", registry, nil),
		Standardizer: standardize.New(client, registry, "test-model", cache.NewMemoryStore(), nil),
		Summarizer:   summarize.New(client, registry, "test-model", summarize.Config{}, cache.NewMemoryStore(), nil),
		Logger:       nil,
	})
	return p, h, inputDir
}

// enqueueHappyPath loads the mock with the calls a one-page document makes:
// classification, page extraction, standardization, one exam summary per
// exam, and the document summary.
func enqueueHappyPath(client *providers.MockClient) {
	client.Enqueue(
		`{"is_exam": true, "exam_name_raw": "EDA"}`,
		`{
			"report_date": "2024-11-20",
			"exams": [
				{"exam_name_raw": "EDA", "transcription": "Endoscopia digestiva alta sem alterações."},
				{"exam_name_raw": "Ecografia Abdominal", "exam_date": "2024-10-01", "transcription": "Fígado de dimensões normais."}
			]
		}`,
		`{
			"EDA": {"exam_type": "endoscopy", "standardized_name": "Upper GI Endoscopy"},
			"Ecografia Abdominal": {"exam_type": "ultrasound", "standardized_name": "Abdominal Ultrasound"}
		}`,
		"Normal upper endoscopy.",
		"Normal abdominal ultrasound.",
		"Both exams within normal limits.",
	)
}

func TestProcessDocument(t *testing.T) {
	client := providers.NewMockClient()
	enqueueHappyPath(client)
	p, h, inputDir := newTestPipeline(t, client, 1)

	pdfPath := filepath.Join(inputDir, "exames_silva.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := p.ProcessDocument(context.Background(), pdfPath)
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	// The date vote unifies the document: the tie between the inherited
	// report date and the second exam's own date resolves to the date seen
	// first in record order.
	for i, r := range records {
		if r.ExamDate != "2024-11-20" {
			t.Errorf("record %d date = %q, want 2024-11-20", i, r.ExamDate)
		}
		if r.PageNumber != 1 || r.SourceFile != "exames_silva.pdf" {
			t.Errorf("record %d provenance: %+v", i, r)
		}
	}

	if records[0].ExamType != exam.TypeEndoscopy || records[0].ExamNameStandardized != "Upper GI Endoscopy" {
		t.Errorf("record 0 not standardized: %+v", records[0])
	}
	if records[0].Summary != "Normal upper endoscopy." {
		t.Errorf("record 0 summary = %q", records[0].Summary)
	}

	for _, path := range []string{
		h.PageExtractionPath("exames_silva", 1),
		h.TranscriptPath("exames_silva", 1),
		h.SummaryPath("exames_silva"),
		h.CSVPath("exames_silva"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing artifact %s: %v", path, err)
		}
	}

	transcript, err := os.ReadFile(h.TranscriptPath("exames_silva", 1))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(transcript), "---\n") {
		t.Error("transcript missing YAML frontmatter")
	}
	if !strings.Contains(string(transcript), "Endoscopia digestiva alta") {
		t.Error("transcript missing transcription body")
	}

	if client.RequestCount() != 6 {
		t.Errorf("LLM calls = %d, want 6", client.RequestCount())
	}
}

func TestProcessDocumentNotAnExam(t *testing.T) {
	client := providers.NewMockClient()
	client.Enqueue(`{"is_exam": false, "exam_name_raw": "Invoice"}`)
	p, h, inputDir := newTestPipeline(t, client, 1)

	pdfPath := filepath.Join(inputDir, "fatura.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := p.ProcessDocument(context.Background(), pdfPath)
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}
	if records != nil {
		t.Errorf("non-exam document should yield no records, got %d", len(records))
	}
	if _, err := os.Stat(h.CSVPath("fatura")); err == nil {
		t.Error("non-exam document should not produce a CSV")
	}
	if client.RequestCount() != 1 {
		t.Errorf("LLM calls = %d, want 1 (classification only)", client.RequestCount())
	}
}

func TestRunSkipsProcessedDocuments(t *testing.T) {
	client := providers.NewMockClient()
	enqueueHappyPath(client)
	p, h, inputDir := newTestPipeline(t, client, 1)

	pdfPath := filepath.Join(inputDir, "exames.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := os.Stat(h.MergedCSVPath()); err != nil {
		t.Fatalf("merged CSV not written: %v", err)
	}
	calls := client.RequestCount()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if client.RequestCount() != calls {
		t.Errorf("second run made %d extra LLM calls, want 0", client.RequestCount()-calls)
	}
}

func TestTranscribeDocument(t *testing.T) {
	client := providers.NewMockClient()
	client.Enqueue("Texto integral da página um.")
	p, h, inputDir := newTestPipeline(t, client, 1)

	pdfPath := filepath.Join(inputDir, "relatorio.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.TranscribeDocument(context.Background(), pdfPath); err != nil {
		t.Fatalf("TranscribeDocument failed: %v", err)
	}
	if client.RequestCount() != 1 {
		t.Errorf("LLM calls = %d, want 1", client.RequestCount())
	}

	transcript, err := os.ReadFile(h.TranscriptPath("relatorio", 1))
	if err != nil {
		t.Fatalf("transcript not written: %v", err)
	}
	if !strings.Contains(string(transcript), "Texto integral da página um.") {
		t.Error("transcript missing transcription body")
	}
	if !strings.Contains(string(transcript), "source_file: relatorio.pdf") {
		t.Error("transcript missing source file frontmatter")
	}
}

func TestTranscribeDocumentUnanimousConfidence(t *testing.T) {
	client := providers.NewMockClient()
	client.Enqueue("Mesmo texto.", "Mesmo texto.")
	p, h, inputDir := newTestPipeline(t, client, 1)
	p.cfg.Pipeline.NExtractions = 2

	pdfPath := filepath.Join(inputDir, "consenso.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.TranscribeDocument(context.Background(), pdfPath); err != nil {
		t.Fatalf("TranscribeDocument failed: %v", err)
	}

	// Two identical attempts: no voting call, no confidence call.
	if client.RequestCount() != 2 {
		t.Errorf("LLM calls = %d, want 2", client.RequestCount())
	}

	transcript, err := os.ReadFile(h.TranscriptPath("consenso", 1))
	if err != nil {
		t.Fatalf("transcript not written: %v", err)
	}
	if !strings.Contains(string(transcript), "transcription_confidence: 1") {
		t.Errorf("transcript missing unanimous confidence:\n%s", transcript)
	}
}

func TestVoteExamDate(t *testing.T) {
	tests := []struct {
		name  string
		dates []string
		want  string
	}{
		{"majority wins", []string{"2024-01-01", "2024-02-02", "2024-01-01"}, "2024-01-01"},
		{"tie goes to earliest seen", []string{"2024-02-02", "2024-01-01"}, "2024-02-02"},
		{"empty dates ignored", []string{"", "2024-03-03", ""}, "2024-03-03"},
		{"all empty", []string{"", ""}, ""},
		{"no records", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []exam.Record
			for _, d := range tt.dates {
				records = append(records, exam.Record{ExamDate: d})
			}
			if got := voteExamDate(records); got != tt.want {
				t.Errorf("voteExamDate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindDocuments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_exames.pdf", "a_exames.PDF", "notes.txt", "ignore.pdf.bak"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := FindDocuments(dir, "")
	if err != nil {
		t.Fatalf("FindDocuments failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("docs = %v, want 2 PDFs", docs)
	}
	if filepath.Base(docs[0]) != "a_exames.PDF" || filepath.Base(docs[1]) != "b_exames.pdf" {
		t.Errorf("docs not sorted: %v", docs)
	}

	filtered, err := FindDocuments(dir, `^b_`)
	if err != nil {
		t.Fatalf("FindDocuments with pattern failed: %v", err)
	}
	if len(filtered) != 1 || filepath.Base(filtered[0]) != "b_exames.pdf" {
		t.Errorf("filtered docs = %v", filtered)
	}

	if _, err := FindDocuments(dir, `[`); err == nil {
		t.Error("invalid regex should fail")
	}
}

func TestMergeCSVsSortsByDateDescending(t *testing.T) {
	dir := t.TempDir()

	a := filepath.Join(dir, "a.csv")
	if err := writeRecordsCSV(a, []exam.Record{
		{ExamDate: "2023-05-01", ExamNameRaw: "Old", Transcription: "t", SourceFile: "a.pdf", PageNumber: 1},
		{ExamDate: "2025-01-15", ExamNameRaw: "New", Transcription: "t", SourceFile: "a.pdf", PageNumber: 2},
	}); err != nil {
		t.Fatal(err)
	}
	b := filepath.Join(dir, "b.csv")
	if err := writeRecordsCSV(b, []exam.Record{
		{ExamDate: "2024-07-10", ExamNameRaw: "Mid", Transcription: "t", SourceFile: "b.pdf", PageNumber: 1},
		{ExamNameRaw: "Undated", Transcription: "t", SourceFile: "b.pdf", PageNumber: 2},
	}); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "all.csv")
	if err := mergeCSVs([]string{a, b}, out); err != nil {
		t.Fatalf("mergeCSVs failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	if len(rows) != 5 {
		t.Fatalf("rows = %d, want header + 4", len(rows))
	}
	wantOrder := []string{"New", "Mid", "Old", "Undated"}
	for i, want := range wantOrder {
		if rows[i+1][2] != want {
			t.Errorf("row %d = %q, want %q", i+1, rows[i+1][2], want)
		}
	}
}

func TestWriteRecordsCSVColumns(t *testing.T) {
	scored := 0.875
	zero := 0.0
	path := filepath.Join(t.TempDir(), "doc.csv")
	err := writeRecordsCSV(path, []exam.Record{
		{
			ExamDate:             "2024-11-20",
			ExamType:             exam.TypeImaging,
			ExamNameRaw:          "RX Tórax",
			ExamNameStandardized: "Chest X-ray",
			Transcription:        "Sem alterações pleuroparenquimatosas.",
			Summary:              "Normal chest film.",
			SourceFile:           "doc.pdf",
			PageNumber:           3,
			Confidence:           &scored,
		},
		{ExamNameRaw: "USG Abdome", SourceFile: "doc.pdf", PageNumber: 4, Confidence: &zero},
		{ExamNameRaw: "EDA", SourceFile: "doc.pdf", PageNumber: 5},
	})
	if err != nil {
		t.Fatalf("writeRecordsCSV failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}
	if len(rows[0]) != len(csvHeader) || rows[0][0] != "exam_date" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	want := []string{"2024-11-20", "imaging", "RX Tórax", "Chest X-ray",
		"Sem alterações pleuroparenquimatosas.", "Normal chest film.", "doc.pdf", "3", "0.88"}
	for i, w := range want {
		if rows[1][i] != w {
			t.Errorf("column %d = %q, want %q", i, rows[1][i], w)
		}
	}
	// A scored zero renders as 0.00; only an unscored page leaves the cell empty.
	if got := rows[2][8]; got != "0.00" {
		t.Errorf("zero-score confidence cell = %q, want %q", got, "0.00")
	}
	if got := rows[3][8]; got != "" {
		t.Errorf("unscored confidence cell = %q, want empty", got)
	}
}
