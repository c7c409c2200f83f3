package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRegistryEmbedded(t *testing.T) {
	r, err := NewRegistry("", nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	required := []string{
		KeyExtractionSystem,
		KeyExtractionUser,
		KeyTranscriptionSystem,
		KeyTranscriptionUser,
		KeyClassificationSys,
		KeyClassificationUser,
		KeyVotingSystem,
		KeyConfidenceSystem,
		KeySummarizeSystem,
		KeySummarizeFresh,
		KeySummarizeIncr,
		KeyExamSummary,
		KeyStandardization,
	}
	for _, key := range required {
		entry, ok := r.Get(key)
		if !ok {
			t.Errorf("missing embedded prompt: %s", key)
			continue
		}
		if entry.Hash == "" {
			t.Errorf("prompt %s has no hash", key)
		}
	}
}

func TestVotingPromptJudgesContentOnly(t *testing.T) {
	r, err := NewRegistry("", nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	out, err := r.Render(KeyVotingSystem, nil)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	// The vote must not be swayed by cosmetic differences between candidates.
	for _, want := range []string{"formatting", "whitespace", "substantive content"} {
		if !strings.Contains(out, want) {
			t.Errorf("voting prompt missing %q instruction:\n%s", want, out)
		}
	}
}

func TestRegistryRender(t *testing.T) {
	r, err := NewRegistry("", nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	out, err := r.Render(KeyExamSummary, map[string]string{
		"ExamType":      "imaging",
		"ExamName":      "Chest X-ray",
		"Transcription": "no acute findings",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "Chest X-ray") || !strings.Contains(out, "no acute findings") {
		t.Errorf("rendered prompt missing substitutions: %s", out)
	}

	if _, err := r.Render("nonexistent", nil); err == nil {
		t.Error("expected error for unknown prompt")
	}
}

func TestRegistryOverride(t *testing.T) {
	dir := t.TempDir()
	override := "custom voting instructions {{.Unused}}"
	overridePath := filepath.Join(dir, KeyVotingSystem+".tmpl")
	if err := os.WriteFile(overridePath, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	// Unknown keys are ignored
	if err := os.WriteFile(filepath.Join(dir, "bogus.tmpl"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewRegistry(dir, nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	entry, ok := r.Get(KeyVotingSystem)
	if !ok {
		t.Fatal("voting prompt missing")
	}
	if !entry.IsOverride {
		t.Error("override not applied")
	}
	if entry.Text != override {
		t.Errorf("override text mismatch: %q", entry.Text)
	}
	if _, ok := r.Get("bogus"); ok {
		t.Error("unknown override should not be registered")
	}
}

func TestExtractVariables(t *testing.T) {
	vars := ExtractVariables("Hello {{.Name}}, {{ .Count }} items, {{.Name}} again, {{.Profile.Age}}")
	want := []string{"Count", "Name", "Profile.Age"}
	if len(vars) != len(want) {
		t.Fatalf("got %v, want %v", vars, want)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("got %v, want %v", vars, want)
			break
		}
	}
}

func TestHashText(t *testing.T) {
	h1 := HashText("abc")
	h2 := HashText("abc")
	h3 := HashText("abd")
	if h1 != h2 {
		t.Error("hash not deterministic")
	}
	if h1 == h3 {
		t.Error("different texts should hash differently")
	}
	if len(h1) != 64 {
		t.Errorf("unexpected hash length: %d", len(h1))
	}
}
