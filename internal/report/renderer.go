// Package report renders consultations as PDF documents, exports the
// consultation log for doctors and delivers finished reports.
package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"health-assistant/internal/consultation"
)

var (
	// ErrRender marks a report that could not be written. The consultation
	// it belongs to is unaffected.
	ErrRender = errors.New("report rendering failed")
	// ErrNoReport is returned by Latest when no report exists yet.
	ErrNoReport = fmt.Errorf("no report found: %w", fs.ErrNotExist)
)

const reportPrefix = "consult_"

// Renderer writes consultation reports into a storage directory.
type Renderer struct {
	dir      string
	fontPath string
	logger   zerolog.Logger

	now func() time.Time
}

// NewRenderer looks up the first usable TTF font in fontPaths. Without one
// reports fall back to the built-in Helvetica font.
func NewRenderer(dir string, fontPaths []string, logger zerolog.Logger) *Renderer {
	logger = logger.With().Str("component", "report.renderer").Logger()
	font := FindFont(fontPaths)
	if font == "" {
		logger.Warn().Strs("paths", fontPaths).Msg("no TTF font found, using core fonts")
	} else {
		logger.Debug().Str("font", font).Msg("using TTF font")
	}
	return &Renderer{dir: dir, fontPath: font, logger: logger, now: time.Now}
}

// Render writes the report for one consultation and returns its path.
// Empty fields are rendered blank.
func (r *Renderer) Render(p consultation.Patient, rec consultation.Record) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}

	doc, err := newDocument(r.fontPath)
	if err != nil {
		r.logger.Warn().Err(err).Msg("TTF font unusable, using core fonts")
		doc = newCoreDocument()
	}

	date := rec.Date
	if date.IsZero() {
		date = r.now()
	}

	doc.Title("Patient Health Report")
	doc.Subtitle("Generated " + date.Format("02 Jan 2006 15:04"))

	doc.Heading("Patient")
	doc.Row("Name", p.Name)
	doc.Row("Age", strconv.Itoa(p.Age))
	doc.Row("Gender", p.Gender)
	if p.Severity != "" {
		doc.Row("Severity", p.Severity)
	}
	if p.Duration != "" {
		doc.Row("Duration", p.Duration)
	}
	doc.Row("Symptoms", p.Symptoms)

	doc.Heading("Assessment")
	for _, f := range rec.Fields() {
		if f[0] == "Warnings" {
			continue
		}
		doc.Row(f[0], f[1])
	}
	doc.Row("Based on", sourceLabel(rec.Source))

	if rec.Warning != "" {
		doc.Alert("Warning signs - seek care immediately if present", rec.Warning)
	}
	doc.Paragraph("This report is generated automatically from reference material and is not a substitute for a medical examination.")

	path := filepath.Join(r.dir, reportName(r.now()))
	if err := doc.Save(path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	r.logger.Info().Str("pdf", path).Msg("report written")
	return path, nil
}

// Latest returns the newest report in the storage directory.
func (r *Renderer) Latest() (string, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, reportPrefix+"*.pdf"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoReport
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches[0], nil
}

// reportName sorts lexically in creation order.
func reportName(t time.Time) string {
	return fmt.Sprintf("%s%s_%06d.pdf", reportPrefix, t.Format("20060102_150405"), t.Nanosecond()/1000)
}

func sourceLabel(s consultation.Source) string {
	switch s {
	case consultation.SourceCatalog:
		return "Disease reference table"
	case consultation.SourceRetrieval:
		return "Reference documents and general guidance"
	default:
		return string(s)
	}
}
