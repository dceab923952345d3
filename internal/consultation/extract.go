package consultation

import (
	"regexp"
	"strings"
	"sync"
)

// Label lists, highest priority first.
var (
	MedicineLabels   = []string{"medicine", "medicines", "drug"}
	TestsLabels      = []string{"tests", "investigation", "diagnostics"}
	WarningLabels    = []string{"warning", "caution", "contraindication"}
	HomeRemedyLabels = []string{"home remedy", "home treatment", "self care"}
	AdultDoseLabels  = []string{"adult dose", "dose (adult)", "dosage (adult)"}
	ChildDoseLabels  = []string{"child dose", "dose (child)", "dosage (child)"}
)

// Extract returns the value of the first label, in priority order, that
// appears in text as "label: value" or "label - value". A match at the
// start of a line is preferred over one inside a line. Labels are matched
// literally and without regard to case. The result is empty when no label
// matches.
func Extract(text string, labels []string) string {
	if text == "" {
		return ""
	}
	for _, label := range labels {
		p := patternFor(label)
		if m := p.lineStart.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := p.inline.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

type labelPattern struct {
	lineStart *regexp.Regexp
	inline    *regexp.Regexp
}

// patterns caches the compiled expressions per label.
var patterns sync.Map

func patternFor(label string) labelPattern {
	if p, ok := patterns.Load(label); ok {
		return p.(labelPattern)
	}
	q := regexp.QuoteMeta(label)
	p, _ := patterns.LoadOrStore(label, labelPattern{
		lineStart: regexp.MustCompile(`(?im)^` + q + `\s*[:\-]\s*(.+)$`),
		inline:    regexp.MustCompile(`(?i)` + q + `\s*[:\-]\s*(.+?)(?:\n|$)`),
	})
	return p.(labelPattern)
}
