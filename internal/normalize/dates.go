package normalize

import (
	"regexp"
	"strings"
	"time"
)

var (
	isoInText     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	writtenInText = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})`)
	dottedInText  = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
)

// InferISODate extracts an ISO (YYYY-MM-DD) start date from free-form date
// text. It returns an empty string when nothing parseable is found; a date
// is never fabricated.
func InferISODate(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if m := isoInText.FindString(text); m != "" {
		if _, err := time.Parse("2006-01-02", m); err == nil {
			return m
		}
	}

	if m := writtenInText.FindStringSubmatch(text); m != nil {
		composed := m[1] + " " + m[2] + ", " + m[3]
		if t, err := time.Parse("January 2, 2006", composed); err == nil {
			return t.Format("2006-01-02")
		}
	}

	// Dotted dates are day.month.year.
	if m := dottedInText.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("2.1.2006", m[1]+"."+m[2]+"."+m[3]); err == nil {
			return t.Format("2006-01-02")
		}
	}

	return ""
}
