package exam

import (
	"encoding/json"
	"strings"
)

// Type is the standardized exam category.
type Type string

const (
	TypeImaging    Type = "imaging"
	TypeUltrasound Type = "ultrasound"
	TypeEndoscopy  Type = "endoscopy"
	TypeOther      Type = "other"
)

// ValidType reports whether t is one of the known categories.
func ValidType(t Type) bool {
	switch t {
	case TypeImaging, TypeUltrasound, TypeEndoscopy, TypeOther:
		return true
	}
	return false
}

// Record is one extracted exam: typically one page's worth of transcribed
// content, though a single page can yield several.
//
// A Record is created during page extraction, then enriched in place by
// standardization (ExamType, ExamNameStandardized), the document-level date
// vote (ExamDate), and summarization (Summary). Records are never deleted;
// they are the atomic unit of output.
type Record struct {
	ExamDate             string   `json:"exam_date,omitempty" yaml:"exam_date,omitempty"`
	ExamNameRaw          string   `json:"exam_name_raw" yaml:"exam_name_raw"`
	ExamNameStandardized string   `json:"exam_name_standardized,omitempty" yaml:"exam_name_standardized,omitempty"`
	ExamType             Type     `json:"exam_type,omitempty" yaml:"exam_type,omitempty"`
	Transcription        string   `json:"transcription" yaml:"transcription"`
	Summary              string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	PageNumber           int      `json:"page_number" yaml:"page_number"`
	SourceFile           string   `json:"source_file" yaml:"source_file"`
	Confidence           *float64 `json:"transcription_confidence,omitempty" yaml:"transcription_confidence,omitempty"`
	ConfidenceDegraded   bool     `json:"confidence_degraded,omitempty" yaml:"confidence_degraded,omitempty"`
	PhysicianName        string   `json:"physician_name,omitempty" yaml:"physician_name,omitempty"`
	FacilityName         string   `json:"facility_name,omitempty" yaml:"facility_name,omitempty"`
	Department           string   `json:"department,omitempty" yaml:"department,omitempty"`
}

// DisplayName returns the standardized name, falling back to the raw name.
func (r *Record) DisplayName() string {
	if r.ExamNameStandardized != "" {
		return r.ExamNameStandardized
	}
	return r.ExamNameRaw
}

// PageExtraction is the structured result of extracting one page image.
type PageExtraction struct {
	ReportDate      string   `json:"report_date,omitempty"`
	FacilityName    string   `json:"facility_name,omitempty"`
	PageHasExamData *bool    `json:"page_has_exam_data,omitempty"`
	Exams           []Record `json:"exams"`
	SourceFile      string   `json:"source_file,omitempty"`
}

// Normalize cleans up model output in place: date formats are coerced to
// YYYY-MM-DD and nil exam entries are dropped.
func (p *PageExtraction) Normalize() {
	p.ReportDate = NormalizeDate(p.ReportDate)
	exams := p.Exams[:0]
	for _, e := range p.Exams {
		e.ExamDate = NormalizeDate(e.ExamDate)
		e.Transcription = strings.TrimSpace(e.Transcription)
		exams = append(exams, e)
	}
	p.Exams = exams
}

// HasContent reports whether the page yielded any non-empty transcription.
func (p *PageExtraction) HasContent() bool {
	for _, e := range p.Exams {
		if strings.TrimSpace(e.Transcription) != "" {
			return true
		}
	}
	return false
}

// Classification is the result of deciding whether a document is a medical
// exam at all, plus whatever header metadata was legible.
//
// Degraded is set when the classifier call failed and IsExam defaulted to
// true so that medical content is never silently skipped. Callers can use it
// to tell a genuine positive from a defaulted one.
type Classification struct {
	IsExam        bool   `json:"is_exam"`
	ExamNameRaw   string `json:"exam_name_raw,omitempty"`
	ExamDate      string `json:"exam_date,omitempty"`
	FacilityName  string `json:"facility_name,omitempty"`
	PhysicianName string `json:"physician_name,omitempty"`
	Department    string `json:"department,omitempty"`
	Degraded      bool   `json:"-"`
}

// DefaultClassification is the fallback used when classification fails.
func DefaultClassification() *Classification {
	return &Classification{IsExam: true, Degraded: true}
}

// DecodePageExtraction parses extraction JSON into a PageExtraction and
// normalizes it. Unknown fields are ignored; a missing exams array decodes
// to an empty slice.
func DecodePageExtraction(raw json.RawMessage, sourceFile string) (*PageExtraction, error) {
	var p PageExtraction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.Exams == nil {
		p.Exams = []Record{}
	}
	p.SourceFile = sourceFile
	p.Normalize()
	return &p, nil
}
