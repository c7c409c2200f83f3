package exam

import "regexp"

var (
	isoDatePattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dmyDatePattern   = regexp.MustCompile(`^(\d{2})[/-](\d{2})[/-](\d{4})$`)
	isoInNamePattern = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	underscoreInName = regexp.MustCompile(`(\d{4})_(\d{2})_(\d{2})`)
	compactInName    = regexp.MustCompile(`(\d{4})(\d{2})(\d{2})`)
)

// NormalizeDate coerces common date spellings to YYYY-MM-DD.
// Handles DD/MM/YYYY and DD-MM-YYYY; returns "" for anything it cannot
// normalize, including the model's "0000-00-00" placeholder.
func NormalizeDate(s string) string {
	if s == "" || s == "0000-00-00" {
		return ""
	}
	if isoDatePattern.MatchString(s) {
		return s
	}
	if m := dmyDatePattern.FindStringSubmatch(s); m != nil {
		return m[3] + "-" + m[2] + "-" + m[1]
	}
	return ""
}

// DateFromFilename extracts a YYYY-MM-DD date embedded in a filename.
// Recognizes YYYY-MM-DD, YYYY_MM_DD and YYYYMMDD. Returns "" if none found.
func DateFromFilename(name string) string {
	if m := isoInNamePattern.FindStringSubmatch(name); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3]
	}
	if m := underscoreInName.FindStringSubmatch(name); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3]
	}
	if m := compactInName.FindStringSubmatch(name); m != nil {
		return m[1] + "-" + m[2] + "-" + m[3]
	}
	return ""
}
