package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/jackzampolin/medshelf/internal/prompts"
	"github.com/jackzampolin/medshelf/internal/providers"
)

func newTestExtractor(t *testing.T, client *providers.MockClient) *Extractor {
	t.Helper()
	registry, err := prompts.NewRegistry("", nil)
	if err != nil {
		t.Fatalf("failed to build prompt registry: %v", err)
	}
	return New(client, registry, "test-vision", nil)
}

func TestPageOp(t *testing.T) {
	client := providers.NewMockClient()
	client.Enqueue(`{
		"report_date": "20/11/2024",
		"facility_name": "Hospital Santo António",
		"page_has_exam_data": true,
		"exams": [
			{"exam_date": "0000-00-00", "exam_name_raw": "Radiografia do Tórax", "transcription": "  sem alterações agudas  "}
		]
	}`)

	e := newTestExtractor(t, client)
	op := e.PageOp([]byte("img"), "scan.pdf", "")

	if !op.Structured {
		t.Error("page extraction op should be structured")
	}
	result, err := op.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if len(result.JSON) == 0 {
		t.Fatal("no JSON result")
	}

	// Dates normalized, transcription trimmed, source file stamped.
	for _, want := range []string{`"2024-11-20"`, `"sem alterações agudas"`, `"scan.pdf"`} {
		if !strings.Contains(string(result.JSON), want) {
			t.Errorf("normalized JSON missing %s: %s", want, result.JSON)
		}
	}
	if strings.Contains(string(result.JSON), "0000-00-00") {
		t.Error("placeholder date should have been cleared")
	}

	// Request carried the image and the schema.
	req := client.Requests()[0]
	if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
		t.Error("extraction should request structured output")
	}
	if len(req.Messages) != 2 || len(req.Messages[1].Images) != 1 {
		t.Error("extraction should send one user message with one image")
	}
	if req.Temperature == nil || *req.Temperature != extractionTemperature {
		t.Errorf("default temperature = %v, want %v", req.Temperature, extractionTemperature)
	}
}

func TestPageOpHonorsInjectedTemperature(t *testing.T) {
	client := providers.NewMockClient()
	client.Enqueue(`{"exams": []}`)

	e := newTestExtractor(t, client)
	op := e.PageOp([]byte("img"), "scan.pdf", "")

	if _, err := op.Invoke(context.Background(), providers.Temp(0.5)); err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	req := client.Requests()[0]
	if req.Temperature == nil || *req.Temperature != 0.5 {
		t.Errorf("injected temperature not honored: %v", req.Temperature)
	}
}

func TestTranscribeOp(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"plain text", "HEMOGRAMA\nHb 14.1 g/dL", "HEMOGRAMA\nHb 14.1 g/dL"},
		{"fenced", "```\nHEMOGRAMA\n```", "HEMOGRAMA"},
		{"legacy json wrapper", `{"transcription": "linha um"}`, "linha um"},
		{"json without transcription key", `{"other": "x"}`, `{"other": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := providers.NewMockClient()
			client.Enqueue(tt.response)
			e := newTestExtractor(t, client)

			result, err := e.TranscribeOp([]byte("img"), "scan.pdf").Invoke(context.Background(), nil)
			if err != nil {
				t.Fatalf("invoke failed: %v", err)
			}
			if result.Text != tt.want {
				t.Errorf("got %q, want %q", result.Text, tt.want)
			}
		})
	}
}

func TestClassifyDocument(t *testing.T) {
	t.Run("successful classification", func(t *testing.T) {
		client := providers.NewMockClient()
		client.Enqueue(`{"is_exam": true, "exam_name_raw": "Colonoscopia", "exam_date": "15/03/2023", "facility_name": "SYNLAB"}`)
		e := newTestExtractor(t, client)

		c := e.ClassifyDocument(context.Background(), [][]byte{[]byte("p1"), []byte("p2")}, "")
		if !c.IsExam || c.Degraded {
			t.Errorf("unexpected classification: %+v", c)
		}
		if c.ExamDate != "2023-03-15" {
			t.Errorf("date not normalized: %s", c.ExamDate)
		}

		req := client.Requests()[0]
		if len(req.Messages[1].Images) != 2 {
			t.Error("all page images should be sent")
		}
	})

	t.Run("failure defaults to exam", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ShouldFail = true
		e := newTestExtractor(t, client)

		c := e.ClassifyDocument(context.Background(), [][]byte{[]byte("p1")}, "")
		if !c.IsExam {
			t.Error("failed classification must default to is_exam=true")
		}
		if !c.Degraded {
			t.Error("fallback classification must be marked degraded")
		}
	})
}

func TestValidateTranscription(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		client := providers.NewMockClient()
		e := newTestExtractor(t, client)

		ok, reason := e.ValidateTranscription(context.Background(), "check-model", "  hi  ")
		if ok || reason != "empty" {
			t.Errorf("got (%v, %q), want (false, empty)", ok, reason)
		}
		if client.RequestCount() != 0 {
			t.Error("short text should not hit the LLM")
		}
	})

	t.Run("refusal detected", func(t *testing.T) {
		client := providers.NewMockClient()
		client.Enqueue("Yes")
		e := newTestExtractor(t, client)

		ok, reason := e.ValidateTranscription(context.Background(), "check-model", "I cannot transcribe medical documents due to privacy concerns.")
		if ok || reason != "refusal" {
			t.Errorf("got (%v, %q), want (false, refusal)", ok, reason)
		}
	})

	t.Run("checker failure treated as valid", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ShouldFail = true
		e := newTestExtractor(t, client)

		ok, reason := e.ValidateTranscription(context.Background(), "check-model", "HEMOGRAMA completo com valores de referência")
		if !ok || reason != "ok" {
			t.Errorf("got (%v, %q), want (true, ok)", ok, reason)
		}
	})
}

