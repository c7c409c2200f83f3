package summarize

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/medshelf/internal/exam"
)

// examListEntry renders one itemized exam-list line. The same text feeds
// both the prompt and the planner's cost estimate, so costs track what is
// actually sent.
func examListEntry(index int, r exam.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d. %s (%s", index, r.DisplayName(), examTypeLabel(r))
	if r.ExamDate != "" {
		fmt.Fprintf(&sb, ", %s", r.ExamDate)
	}
	fmt.Fprintf(&sb, ", page %d)", r.PageNumber)
	return sb.String()
}

// transcriptionBlock renders one exam's transcription with its header
// anchor. The header repeats the list entry's name and page so the model can
// cross-reference.
func transcriptionBlock(index int, r exam.Record) string {
	return fmt.Sprintf("### Exam %d: %s (page %d)\n%s", index, r.DisplayName(), r.PageNumber, r.Transcription)
}

func examTypeLabel(r exam.Record) string {
	if r.ExamType != "" {
		return string(r.ExamType)
	}
	return string(exam.TypeOther)
}

// renderExamList renders the itemized list for a chunk, in input order.
func renderExamList(records []exam.Record) string {
	lines := make([]string, 0, len(records))
	for i, r := range records {
		lines = append(lines, examListEntry(i+1, r))
	}
	return strings.Join(lines, "\n")
}

// renderTranscriptions renders the concatenated transcription blocks for a
// chunk, in input order.
func renderTranscriptions(records []exam.Record) string {
	blocks := make([]string, 0, len(records))
	for i, r := range records {
		blocks = append(blocks, transcriptionBlock(i+1, r))
	}
	return strings.Join(blocks, "\n\n")
}
