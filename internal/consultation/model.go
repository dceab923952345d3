package consultation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source tells where the fields of a consultation came from.
type Source string

const (
	SourceCatalog   Source = "catalog"   // curated disease table
	SourceRetrieval Source = "retrieval" // extracted from document passages
)

// AdultAge is the first age that receives the adult dose.
const AdultAge = 18

type Patient struct {
	Name     string `json:"name"`
	Age      int    `json:"age"`
	Gender   string `json:"gender"`
	Symptoms string `json:"symptoms"`
	Disease  string `json:"disease"`
	Severity string `json:"severity"`
	Duration string `json:"duration"`
}

// CatalogRow is one disease of the reference table.
type CatalogRow struct {
	Disease   string `json:"disease"`
	Medicine  string `json:"medicine"`
	AdultDose string `json:"adult_dose"`
	ChildDose string `json:"child_dose"`
	Tests     string `json:"tests"`
	Warnings  string `json:"warnings"`
	HomeCare  string `json:"home_care"`
}

// Record is the outcome of a consultation. It is built once and never
// modified.
type Record struct {
	Date        time.Time `json:"date"`
	PatientName string    `json:"patient_name"`
	Disease     string    `json:"disease"`
	Medicine    string    `json:"medicine"`
	Dose        string    `json:"dose"`
	Tests       string    `json:"tests"`
	Warning     string    `json:"warning"`
	HomeRemedy  string    `json:"home_remedy"`
	Source      Source    `json:"source"`
}

// Fields returns the label/value pairs shown in reports and exports.
func (r Record) Fields() [][2]string {
	return [][2]string{
		{"Disease", r.Disease},
		{"Medicines", r.Medicine},
		{"Dose", r.Dose},
		{"Recommended Tests", r.Tests},
		{"Home Care", r.HomeRemedy},
		{"Warnings", r.Warning},
	}
}

// SelectDose picks the adult dose from AdultAge on; below it the child dose
// when there is one.
func SelectDose(age int, adult, child string) string {
	if age >= AdultAge || child == "" {
		return adult
	}
	return child
}

// ValidationError reports a malformed consult request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConsultRequest is the inbound consult payload. Age may arrive as a JSON
// number or as a numeric string.
type ConsultRequest struct {
	Name     string          `json:"name"`
	Age      json.RawMessage `json:"age"`
	Gender   string          `json:"gender"`
	Symptoms string          `json:"symptoms"`
	Disease  string          `json:"disease"`
	Severity string          `json:"severity"`
	Duration string          `json:"duration"`
}

// Patient validates the request and builds the patient it describes.
func (req ConsultRequest) Patient() (Patient, error) {
	age, err := parseAge(req.Age)
	if err != nil {
		return Patient{}, err
	}
	return Patient{
		Name:     req.Name,
		Age:      age,
		Gender:   req.Gender,
		Symptoms: req.Symptoms,
		Disease:  req.Disease,
		Severity: req.Severity,
		Duration: req.Duration,
	}, nil
}

func parseAge(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, &ValidationError{Field: "age", Reason: "not a string"}
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return 0, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ValidationError{Field: "age", Reason: fmt.Sprintf("%q is not a number", s)}
	}
	if f < 0 {
		return 0, &ValidationError{Field: "age", Reason: "must not be negative"}
	}
	if f != float64(int(f)) {
		return 0, &ValidationError{Field: "age", Reason: "must be a whole number"}
	}
	return int(f), nil
}
