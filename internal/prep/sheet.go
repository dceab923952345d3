package prep

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const defaultBrand = "Smart Prep"

// Sheet renders prep sheets into a directory.
type Sheet struct {
	Dir   string
	Brand string
	Logo  string

	now func() time.Time
}

func NewSheet(dir, brand, logo string) *Sheet {
	return &Sheet{Dir: dir, Brand: brand, Logo: logo, now: time.Now}
}

// Build writes prep_<timestamp>.pdf and returns its path. A logo that
// cannot be loaded is skipped.
func (s *Sheet) Build(ans IntakeAnswers) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	brand := s.Brand
	if strings.TrimSpace(brand) == "" {
		brand = defaultBrand
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if s.Logo != "" {
		opts := gofpdf.ImageOptions{ReadDpi: true}
		pdf.RegisterImageOptions(s.Logo, opts)
		if pdf.Ok() {
			pdf.ImageOptions(s.Logo, 170, 10, 25, 0, false, opts, 0, "")
		} else {
			pdf.ClearError()
		}
	}

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(brand+" - Visit Prep"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	line := fmt.Sprintf("Patient: %s  |  Age: %s", ans.Patient.Name, strconv.Itoa(ans.Patient.Age))
	if ans.Patient.Sex != "" {
		line += "  |  Sex: " + ans.Patient.Sex
	}
	pdf.CellFormat(0, 7, tr(line), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	section := func(title, body string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr(body), "", "L", false)
		pdf.Ln(2)
	}

	section("Symptom Summary", SymptomSummary(ans))
	section("Timeline", Timeline(ans))
	section("Test History", TestHistory(ans))
	section("Conditions", listOrNone(ans.Conditions))
	section("Medications", listOrNone(ans.Medications))
	section("Allergies", listOrNone(ans.Allergies))

	if flags := RedFlags(ans); len(flags) > 0 {
		pdf.SetTextColor(180, 20, 20)
		section("Red Flags", "- "+strings.Join(flags, "\n- "))
		pdf.SetTextColor(0, 0, 0)
	}
	if strings.TrimSpace(ans.Notes) != "" {
		section("Notes", ans.Notes)
	}

	path := filepath.Join(s.Dir, sheetName(s.now()))
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("write prep sheet: %w", err)
	}
	return path, nil
}

// sheetName carries microseconds so builds within one second do not
// overwrite each other.
func sheetName(t time.Time) string {
	return fmt.Sprintf("prep_%s_%06d.pdf", t.Format("20060102_150405"), t.Nanosecond()/1000)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "None reported"
	}
	return strings.Join(items, ", ")
}
