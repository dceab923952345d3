// Package prep builds a one-page visit preparation sheet from a patient's
// intake answers: symptom summary, timeline, test history and red flags.
package prep

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type PatientInfo struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	Sex  string `json:"sex,omitempty"`
}

type Symptom struct {
	Description string   `json:"description"`
	OnsetDate   string   `json:"onset_date,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Progression string   `json:"progression,omitempty"`
	Associated  []string `json:"associated,omitempty"`
}

type TestRecord struct {
	Name          string `json:"name"`
	DatePerformed string `json:"date_performed,omitempty"`
	Result        string `json:"result,omitempty"`
}

type IntakeAnswers struct {
	Patient     PatientInfo  `json:"patient"`
	Symptoms    []Symptom    `json:"symptoms"`
	Conditions  []string     `json:"conditions"`
	Medications []string     `json:"medications"`
	Allergies   []string     `json:"allergies"`
	Tests       []TestRecord `json:"tests"`
	Notes       string       `json:"notes,omitempty"`
}

// LoadAnswers reads intake answers from a JSON file.
func LoadAnswers(path string) (IntakeAnswers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IntakeAnswers{}, err
	}
	var ans IntakeAnswers
	if err := json.Unmarshal(data, &ans); err != nil {
		return IntakeAnswers{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if strings.TrimSpace(ans.Patient.Name) == "" {
		return IntakeAnswers{}, errors.New("patient name is required")
	}
	return ans, nil
}

// ParseList splits a comma-separated answer, dropping blanks.
func ParseList(text string) []string {
	var out []string
	for _, t := range strings.Split(text, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// Interactive asks for the intake answers one question at a time.
func Interactive(in io.Reader, out io.Writer) (IntakeAnswers, error) {
	p := &prompter{in: bufio.NewScanner(in), out: out}
	var ans IntakeAnswers

	name, err := p.ask("Patient name: ")
	if err != nil {
		return ans, err
	}
	ans.Patient.Name = name

	for {
		a, err := p.ask("Age: ")
		if err != nil {
			return ans, err
		}
		age, convErr := strconv.Atoi(a)
		if convErr == nil && age >= 0 {
			ans.Patient.Age = age
			break
		}
		fmt.Fprintln(out, "Please enter a whole number.")
	}

	list, err := p.ask("Main symptoms (comma-separated): ")
	if err != nil {
		return ans, err
	}
	for _, d := range ParseList(list) {
		s := Symptom{Description: d}
		if s.OnsetDate, err = p.ask(fmt.Sprintf("Onset for '%s' (YYYY-MM-DD or text): ", d)); err != nil {
			return ans, err
		}
		if s.Severity, err = p.ask(fmt.Sprintf("Severity for '%s': ", d)); err != nil {
			return ans, err
		}
		if s.Progression, err = p.ask(fmt.Sprintf("Progression for '%s': ", d)); err != nil {
			return ans, err
		}
		assoc, err := p.ask(fmt.Sprintf("Associated with '%s' (comma-separated): ", d))
		if err != nil {
			return ans, err
		}
		s.Associated = ParseList(assoc)
		ans.Symptoms = append(ans.Symptoms, s)
	}

	for _, f := range []struct {
		q   string
		dst *[]string
	}{
		{"Known conditions (comma-separated): ", &ans.Conditions},
		{"Medications (comma-separated): ", &ans.Medications},
		{"Allergies (comma-separated): ", &ans.Allergies},
	} {
		v, err := p.ask(f.q)
		if err != nil {
			return ans, err
		}
		*f.dst = ParseList(v)
	}

	for {
		add, err := p.ask("Add a test? (y/n): ")
		if err != nil {
			return ans, err
		}
		if strings.ToLower(add) != "y" {
			break
		}
		var t TestRecord
		if t.Name, err = p.ask("Test name: "); err != nil {
			return ans, err
		}
		if t.DatePerformed, err = p.ask("Date performed: "); err != nil {
			return ans, err
		}
		if t.Result, err = p.ask("Result: "); err != nil {
			return ans, err
		}
		ans.Tests = append(ans.Tests, t)
	}

	if ans.Notes, err = p.ask("Additional notes: "); err != nil {
		return ans, err
	}
	return ans, nil
}
