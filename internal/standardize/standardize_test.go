package standardize

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jackzampolin/medshelf/internal/cache"
	"github.com/jackzampolin/medshelf/internal/exam"
	"github.com/jackzampolin/medshelf/internal/prompts"
	"github.com/jackzampolin/medshelf/internal/providers"
)

func newTestStandardizer(t *testing.T, client *providers.MockClient, store cache.Store) *Standardizer {
	t.Helper()
	registry, err := prompts.NewRegistry("", nil)
	if err != nil {
		t.Fatalf("failed to build prompt registry: %v", err)
	}
	return New(client, registry, "test-model", store, nil)
}

func TestStandardizeCachedNamesSkipLLM(t *testing.T) {
	store := cache.NewMemoryStore()
	store.Put("radiografia do tórax", json.RawMessage(`{"exam_type":"imaging","standardized_name":"Chest X-ray"}`))

	client := providers.NewMockClient()
	s := newTestStandardizer(t, client, store)

	result := s.Standardize(context.Background(), []string{"Radiografia do Tórax", "  radiografia do tórax "})
	if client.RequestCount() != 0 {
		t.Errorf("LLM calls = %d, want 0 for fully cached input", client.RequestCount())
	}
	m := result["Radiografia do Tórax"]
	if m.ExamType != exam.TypeImaging || m.StandardizedName != "Chest X-ray" {
		t.Errorf("unexpected mapping: %+v", m)
	}
	if m.Degraded {
		t.Error("cached mapping should not be degraded")
	}
}

func TestStandardizeBatchesUncached(t *testing.T) {
	store := cache.NewMemoryStore()
	client := providers.NewMockClient()
	client.Enqueue(`{
		"EDA": {"exam_type": "endoscopy", "standardized_name": "Upper GI Endoscopy"},
		"Eletrocardiograma": {"exam_type": "other", "standardized_name": "ECG"}
	}`)
	s := newTestStandardizer(t, client, store)

	result := s.Standardize(context.Background(), []string{"EDA", "Eletrocardiograma", "EDA"})
	if client.RequestCount() != 1 {
		t.Errorf("LLM calls = %d, want 1 batch call", client.RequestCount())
	}
	if result["EDA"].ExamType != exam.TypeEndoscopy {
		t.Errorf("EDA mapping: %+v", result["EDA"])
	}
	if result["Eletrocardiograma"].StandardizedName != "ECG" {
		t.Errorf("ECG mapping: %+v", result["Eletrocardiograma"])
	}

	// The batch prompt carries the uncached names.
	userPrompt := client.Requests()[0].Messages[1].Content
	if !strings.Contains(userPrompt, "EDA") || !strings.Contains(userPrompt, "Eletrocardiograma") {
		t.Error("batch prompt missing uncached names")
	}

	// Results are cached and flushed for the next run.
	if store.FlushCount == 0 {
		t.Error("cache not flushed after successful batch")
	}
	if _, ok := store.Get("eda"); !ok {
		t.Error("mapping not written to cache under normalized key")
	}
}

func TestStandardizeFailureDefaults(t *testing.T) {
	store := cache.NewMemoryStore()
	client := providers.NewMockClient()
	client.ShouldFail = true
	s := newTestStandardizer(t, client, store)

	result := s.Standardize(context.Background(), []string{"Misteriosa"})
	m := result["Misteriosa"]
	if m.ExamType != exam.TypeOther || m.StandardizedName != "Misteriosa" {
		t.Errorf("failed standardization should default to raw name: %+v", m)
	}
	if !m.Degraded {
		t.Error("failure-path default should report Degraded=true")
	}
	if store.FlushCount != 0 {
		t.Error("defaults after a failed call should not be flushed")
	}
	if store.Len() != 0 {
		t.Errorf("failure-path defaults should not enter the store, got %d entries", store.Len())
	}
}

func TestStandardizeFailedDefaultsNotPersistedByLaterFlush(t *testing.T) {
	store := cache.NewMemoryStore()
	client := providers.NewMockClient()
	client.ShouldFail = true
	s := newTestStandardizer(t, client, store)

	first := s.Standardize(context.Background(), []string{"Misteriosa"})
	if !first["Misteriosa"].Degraded {
		t.Error("failed batch should yield a degraded mapping")
	}

	// A later successful batch flushes the store; the earlier default must
	// not ride along, or it would be cached forever and never retried.
	client.ShouldFail = false
	client.Enqueue(`{"EDA": {"exam_type": "endoscopy", "standardized_name": "Upper GI Endoscopy"}}`)
	second := s.Standardize(context.Background(), []string{"EDA"})
	if second["EDA"].ExamType != exam.TypeEndoscopy {
		t.Fatalf("EDA mapping: %+v", second["EDA"])
	}
	if store.FlushCount != 1 {
		t.Errorf("flushes = %d, want 1", store.FlushCount)
	}
	if _, ok := store.Get("misteriosa"); ok {
		t.Error("degraded default is in the store at flush time and would persist")
	}

	// The name is still uncached, so the next call retries it.
	client.Enqueue(`{"Misteriosa": {"exam_type": "imaging", "standardized_name": "Mystery Scan"}}`)
	third := s.Standardize(context.Background(), []string{"Misteriosa"})
	if third["Misteriosa"].ExamType != exam.TypeImaging || third["Misteriosa"].Degraded {
		t.Errorf("retried name should resolve cleanly: %+v", third["Misteriosa"])
	}
}

func TestStandardizeMissingNameDefaults(t *testing.T) {
	store := cache.NewMemoryStore()
	client := providers.NewMockClient()
	client.Enqueue(`{"Known": {"exam_type": "imaging", "standardized_name": "Known Exam"}}`)
	s := newTestStandardizer(t, client, store)

	result := s.Standardize(context.Background(), []string{"Known", "Forgotten"})
	if result["Known"].ExamType != exam.TypeImaging {
		t.Errorf("Known mapping: %+v", result["Known"])
	}
	forgotten := result["Forgotten"]
	if forgotten.ExamType != exam.TypeOther || forgotten.StandardizedName != "Forgotten" {
		t.Errorf("Forgotten mapping: %+v", forgotten)
	}
	if !forgotten.Degraded {
		t.Error("uncovered name should report Degraded=true")
	}
	if _, ok := store.Get("forgotten"); ok {
		t.Error("uncovered name should not be cached")
	}
}

func TestStandardizeInvalidTypeCoerced(t *testing.T) {
	store := cache.NewMemoryStore()
	client := providers.NewMockClient()
	client.Enqueue(`{"X": {"exam_type": "radiology", "standardized_name": "X Exam"}}`)
	s := newTestStandardizer(t, client, store)

	result := s.Standardize(context.Background(), []string{"X"})
	if result["X"].ExamType != exam.TypeOther {
		t.Errorf("invalid exam type should coerce to other: %+v", result["X"])
	}
}

func TestApply(t *testing.T) {
	records := []exam.Record{
		{ExamNameRaw: "Ecografia Abdominal"},
		{ExamNameRaw: "Unmapped"},
	}
	Apply(records, map[string]Mapping{
		"Ecografia Abdominal": {ExamType: exam.TypeUltrasound, StandardizedName: "Abdominal Ultrasound"},
	})

	if records[0].ExamType != exam.TypeUltrasound || records[0].ExamNameStandardized != "Abdominal Ultrasound" {
		t.Errorf("record not enriched: %+v", records[0])
	}
	if records[1].ExamNameStandardized != "" {
		t.Error("unmapped record should be left alone")
	}
}
