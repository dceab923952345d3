package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"health-assistant/internal/consultation"
)

var ErrNoConsultations = errors.New("no consultations logged")

const (
	exportXLSX  = "doctor_report.xlsx"
	exportPDF   = "doctor_report.pdf"
	exportSheet = "Consultations"
)

var exportColumns = []string{"date", "patient_name", "disease", "medicine", "dose", "tests", "warning", "home_remedy", "source"}

// ConsultationLister is the read side of the consultation log.
type ConsultationLister interface {
	ListConsultations(ctx context.Context) ([]consultation.Record, error)
}

// Exporter summarizes the whole consultation log as a spreadsheet and a
// PDF for the doctor.
type Exporter struct {
	dir      string
	fontPath string
	log      ConsultationLister
	logger   zerolog.Logger
}

func NewExporter(dir string, fontPaths []string, log ConsultationLister, logger zerolog.Logger) *Exporter {
	return &Exporter{
		dir:      dir,
		fontPath: FindFont(fontPaths),
		log:      log,
		logger:   logger.With().Str("component", "report.exporter").Logger(),
	}
}

// Export writes both files and returns their paths. It returns
// ErrNoConsultations when the log is empty.
func (e *Exporter) Export(ctx context.Context) (xlsxPath, pdfPath string, err error) {
	recs, err := e.log.ListConsultations(ctx)
	if err != nil {
		return "", "", fmt.Errorf("list consultations: %w", err)
	}
	if len(recs) == 0 {
		return "", "", ErrNoConsultations
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", "", err
	}

	xlsxPath = filepath.Join(e.dir, exportXLSX)
	if err := writeWorkbook(xlsxPath, recs); err != nil {
		return "", "", fmt.Errorf("write workbook: %w", err)
	}
	pdfPath = filepath.Join(e.dir, exportPDF)
	if err := e.writePDF(pdfPath, recs); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrRender, err)
	}

	e.logger.Info().Int("consultations", len(recs)).Str("xlsx", xlsxPath).Str("pdf", pdfPath).Msg("doctor report exported")
	return xlsxPath, pdfPath, nil
}

func exportRow(r consultation.Record) []any {
	return []any{
		r.Date.Format(time.RFC3339),
		r.PatientName,
		r.Disease,
		r.Medicine,
		r.Dose,
		r.Tests,
		r.Warning,
		r.HomeRemedy,
		string(r.Source),
	}
}

func writeWorkbook(path string, recs []consultation.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return err
	}
	header := make([]any, len(exportColumns))
	for i, c := range exportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, _ := excelize.ColumnNumberToName(len(exportColumns))
	if err := f.SetCellStyle(exportSheet, "A1", last+"1", bold); err != nil {
		return err
	}

	for i, r := range recs {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := exportRow(r)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(exportSheet, "A", last, 22); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func (e *Exporter) writePDF(path string, recs []consultation.Record) error {
	doc, err := newDocument(e.fontPath)
	if err != nil {
		doc = newCoreDocument()
	}
	doc.Title("Doctor Prescription Report")
	doc.Subtitle(fmt.Sprintf("%d consultations", len(recs)))
	for i, r := range recs {
		doc.Heading(fmt.Sprintf("%d. %s", i+1, r.PatientName))
		values := exportRow(r)
		for j, col := range exportColumns {
			if col == "patient_name" {
				continue
			}
			doc.Row(strings.ToUpper(col), fmt.Sprint(values[j]))
		}
	}
	return doc.Save(path)
}
