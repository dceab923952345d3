package prep

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

var sample = IntakeAnswers{
	Patient: PatientInfo{Name: "Asha", Age: 42, Sex: "F"},
	Symptoms: []Symptom{
		{Description: "Chest pain", OnsetDate: "2024-02-10", Severity: "moderate", Associated: []string{"sweating", "nausea"}},
		{Description: "Fever"},
	},
	Medications: []string{"Aspirin"},
	Tests:       []TestRecord{{Name: "ECG", DatePerformed: "2024-02-11", Result: "normal"}, {Name: "Troponin"}},
}

func TestSymptomSummary(t *testing.T) {
	got := SymptomSummary(sample)
	want := "- Chest pain; onset 2024-02-10; severity moderate; progression unknown; associated sweating, nausea\n" +
		"- Fever; onset unknown; severity unknown; progression unknown; associated none"
	if got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}
	if SymptomSummary(IntakeAnswers{}) != "No symptoms recorded" {
		t.Error("expected empty summary text")
	}
	if Timeline(IntakeAnswers{}) != "No timeline available" {
		t.Error("expected empty timeline text")
	}
}

func TestTestHistory(t *testing.T) {
	got := TestHistory(sample)
	want := "- ECG on 2024-02-11: normal\n- Troponin on unknown: pending"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if TestHistory(IntakeAnswers{}) != "No tests recorded" {
		t.Error("expected empty history text")
	}
}

func TestRedFlags(t *testing.T) {
	got := RedFlags(sample)
	want := []string{"Chest pain with shortness of breath or sweating", "High fever or confusion"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if flags := RedFlags(IntakeAnswers{Symptoms: []Symptom{{Description: "mild cough"}}}); len(flags) != 0 {
		t.Errorf("expected no flags, got %v", flags)
	}
}

func TestParseList(t *testing.T) {
	got := ParseList(" a, ,b ,c,")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("unexpected list %v", got)
	}
	if ParseList("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestLoadAnswers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.json")
	os.WriteFile(path, []byte(`{"patient":{"name":"Asha","age":42},"symptoms":[{"description":"fever","onset_date":"yesterday"}],"tests":[{"name":"CBC","date_performed":"today"}]}`), 0o644)

	ans, err := LoadAnswers(path)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Patient.Age != 42 || ans.Symptoms[0].OnsetDate != "yesterday" || ans.Tests[0].DatePerformed != "today" {
		t.Errorf("unexpected answers %+v", ans)
	}

	os.WriteFile(path, []byte(`{"patient":{"age":3}}`), 0o644)
	if _, err := LoadAnswers(path); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestInteractive(t *testing.T) {
	input := strings.Join([]string{
		"Asha",
		"forty", "42",
		"headache, fever",
		"2024-01-01", "mild", "worse", "nausea",
		"", "", "", "",
		"", "Metformin", "penicillin",
		"y", "CBC", "2024-01-02", "",
		"n",
		"bring old reports",
	}, "\n") + "\n"
	var out bytes.Buffer

	ans, err := Interactive(strings.NewReader(input), &out)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Patient.Age != 42 || len(ans.Symptoms) != 2 {
		t.Fatalf("unexpected answers %+v", ans)
	}
	if ans.Symptoms[0].Associated[0] != "nausea" || ans.Symptoms[1].OnsetDate != "" {
		t.Errorf("unexpected symptoms %+v", ans.Symptoms)
	}
	if ans.Conditions != nil || ans.Medications[0] != "Metformin" || ans.Allergies[0] != "penicillin" {
		t.Errorf("unexpected lists %+v", ans)
	}
	if len(ans.Tests) != 1 || ans.Tests[0].Name != "CBC" || ans.Notes != "bring old reports" {
		t.Errorf("unexpected tests or notes %+v", ans)
	}
	if !strings.Contains(out.String(), "Please enter a whole number.") {
		t.Error("expected age retry prompt")
	}
}

func TestInteractive_EOF(t *testing.T) {
	if _, err := Interactive(strings.NewReader("Asha\n"), &bytes.Buffer{}); err == nil {
		t.Error("expected error on truncated input")
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	s := NewSheet(dir, "", filepath.Join(dir, "missing.png"))
	s.now = func() time.Time { return time.Date(2024, 2, 12, 8, 30, 0, 0, time.UTC) }

	path, err := s.Build(sample)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if filepath.Base(path) != "prep_20240212_083000_000000.pdf" {
		t.Errorf("unexpected name %s", path)
	}
	data, _ := os.ReadFile(path)
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Error("output is not a PDF")
	}
}

func TestBuild_SameSecond(t *testing.T) {
	s := NewSheet(t.TempDir(), "Clinic", "")
	base := time.Date(2024, 2, 12, 8, 30, 0, 0, time.UTC)

	var paths []string
	for _, us := range []int{1, 2} {
		ts := base.Add(time.Duration(us) * time.Microsecond)
		s.now = func() time.Time { return ts }
		path, err := s.Build(sample)
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	if paths[0] == paths[1] {
		t.Fatalf("builds in the same second share %s", paths[0])
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing sheet: %v", err)
		}
	}
}
