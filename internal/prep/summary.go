package prep

import (
	"fmt"
	"strings"
)

type redFlag struct {
	keyword string
	message string
}

var redFlags = []redFlag{
	{"chest pain", "Chest pain with shortness of breath or sweating"},
	{"shortness of breath", "Shortness of breath at rest or worsening"},
	{"suicidal", "Suicidal thoughts or self-harm"},
	{"stroke", "Sudden weakness, facial droop, speech trouble"},
	{"severe abdominal pain", "Severe abdominal pain with persistent vomiting"},
	{"fever", "High fever or confusion"},
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func SymptomSummary(ans IntakeAnswers) string {
	if len(ans.Symptoms) == 0 {
		return "No symptoms recorded"
	}
	lines := make([]string, 0, len(ans.Symptoms))
	for _, s := range ans.Symptoms {
		assoc := "none"
		if len(s.Associated) > 0 {
			assoc = strings.Join(s.Associated, ", ")
		}
		lines = append(lines, fmt.Sprintf("- %s; onset %s; severity %s; progression %s; associated %s",
			s.Description, orUnknown(s.OnsetDate), orUnknown(s.Severity), orUnknown(s.Progression), assoc))
	}
	return strings.Join(lines, "\n")
}

func Timeline(ans IntakeAnswers) string {
	if len(ans.Symptoms) == 0 {
		return "No timeline available"
	}
	lines := make([]string, 0, len(ans.Symptoms))
	for _, s := range ans.Symptoms {
		lines = append(lines, fmt.Sprintf("%s: %s", orUnknown(s.OnsetDate), s.Description))
	}
	return strings.Join(lines, "\n")
}

func TestHistory(ans IntakeAnswers) string {
	if len(ans.Tests) == 0 {
		return "No tests recorded"
	}
	lines := make([]string, 0, len(ans.Tests))
	for _, t := range ans.Tests {
		result := t.Result
		if strings.TrimSpace(result) == "" {
			result = "pending"
		}
		lines = append(lines, fmt.Sprintf("- %s on %s: %s", t.Name, orUnknown(t.DatePerformed), result))
	}
	return strings.Join(lines, "\n")
}

// RedFlags returns the warning for every keyword found in the symptom
// descriptions, in table order.
func RedFlags(ans IntakeAnswers) []string {
	descs := make([]string, 0, len(ans.Symptoms))
	for _, s := range ans.Symptoms {
		descs = append(descs, strings.ToLower(s.Description))
	}
	blob := strings.Join(descs, " ")

	var alerts []string
	for _, f := range redFlags {
		if strings.Contains(blob, f.keyword) {
			alerts = append(alerts, f.message)
		}
	}
	return alerts
}
