package report

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"health-assistant/internal/consultation"
)

var (
	testPatient = consultation.Patient{Name: "Jane", Age: 25, Gender: "F", Symptoms: "fever", Disease: "Dengue Fever"}
	testRecord  = consultation.Record{
		Date:        time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		PatientName: "Jane",
		Disease:     "Dengue Fever",
		Medicine:    "Paracetamol",
		Dose:        "500mg",
		Tests:       "CBC",
		Warning:     "Bleeding",
		HomeRemedy:  "Fluids",
		Source:      consultation.SourceCatalog,
	}
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	// no font paths: core fonts keep the output independent of the host
	return NewRenderer(t.TempDir(), nil, zerolog.Nop())
}

func isPDF(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Errorf("%s is not a PDF", path)
	}
}

func TestRender(t *testing.T) {
	r := newTestRenderer(t)
	path, err := r.Render(testPatient, testRecord)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "consult_") {
		t.Errorf("unexpected file name %s", path)
	}
	isPDF(t, path)
}

func TestRender_EmptyFields(t *testing.T) {
	r := newTestRenderer(t)
	if _, err := r.Render(consultation.Patient{}, consultation.Record{}); err != nil {
		t.Fatalf("empty fields must render: %v", err)
	}
}

func TestRender_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	os.WriteFile(file, nil, 0o644)
	r := NewRenderer(filepath.Join(file, "reports"), nil, zerolog.Nop())

	_, err := r.Render(testPatient, testRecord)
	if !errors.Is(err, ErrRender) {
		t.Errorf("expected ErrRender, got %v", err)
	}
}

func TestRender_BadFontFallsBack(t *testing.T) {
	font := filepath.Join(t.TempDir(), "broken.ttf")
	os.WriteFile(font, []byte("not a font"), 0o644)
	r := NewRenderer(t.TempDir(), []string{font}, zerolog.Nop())

	path, err := r.Render(testPatient, testRecord)
	if err != nil {
		t.Fatalf("expected core font fallback, got %v", err)
	}
	isPDF(t, path)
}

func TestLatest(t *testing.T) {
	r := newTestRenderer(t)
	if _, err := r.Latest(); !errors.Is(err, ErrNoReport) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNoReport, got %v", err)
	}

	times := []time.Time{
		time.Date(2024, 3, 1, 10, 0, 0, 5000, time.UTC),
		time.Date(2024, 3, 1, 10, 0, 0, 9000, time.UTC),
		time.Date(2024, 3, 1, 9, 59, 59, 0, time.UTC),
	}
	var paths []string
	for _, ts := range times {
		ts := ts
		r.now = func() time.Time { return ts }
		p, err := r.Render(testPatient, testRecord)
		if err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	latest, err := r.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if latest != paths[1] {
		t.Errorf("expected %s, got %s", paths[1], latest)
	}
}

func TestReportName(t *testing.T) {
	got := reportName(time.Date(2024, 3, 1, 10, 0, 5, 123456789, time.UTC))
	if got != "consult_20240301_100005_123456.pdf" {
		t.Errorf("unexpected name %s", got)
	}
}

type listStub struct {
	recs []consultation.Record
	err  error
}

func (l listStub) ListConsultations(context.Context) ([]consultation.Record, error) {
	return l.recs, l.err
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	second := testRecord
	second.PatientName = "Raj"
	second.Source = consultation.SourceRetrieval
	e := NewExporter(dir, nil, listStub{recs: []consultation.Record{testRecord, second}}, zerolog.Nop())

	xlsxPath, pdfPath, err := e.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	isPDF(t, pdfPath)

	f, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if rows[0][1] != "patient_name" || rows[2][1] != "Raj" || rows[2][8] != "retrieval" {
		t.Errorf("unexpected workbook contents %v", rows)
	}
}

func TestExport_Empty(t *testing.T) {
	e := NewExporter(t.TempDir(), nil, listStub{}, zerolog.Nop())
	if _, _, err := e.Export(context.Background()); !errors.Is(err, ErrNoConsultations) {
		t.Errorf("expected ErrNoConsultations, got %v", err)
	}
}

type tgStub struct {
	messages []string
	docs     []string
	err      error
}

func (s *tgStub) SendMessage(_ context.Context, _ int64, text string) error {
	s.messages = append(s.messages, text)
	return s.err
}

func (s *tgStub) SendDocument(_ context.Context, _ int64, data []byte, name string) error {
	s.docs = append(s.docs, name)
	return s.err
}

func TestDeliver(t *testing.T) {
	path, err := newTestRenderer(t).Render(testPatient, testRecord)
	if err != nil {
		t.Fatal(err)
	}
	tg := &tgStub{}
	d := NewDeliverer(tg, 7, zerolog.Nop())
	if err := d.Deliver(context.Background(), testPatient, testRecord, path); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(tg.messages) != 1 || !strings.Contains(tg.messages[0], "Dengue Fever") {
		t.Errorf("unexpected summary %v", tg.messages)
	}
	if len(tg.docs) != 1 || tg.docs[0] != filepath.Base(path) {
		t.Errorf("unexpected documents %v", tg.docs)
	}

	tg = &tgStub{err: errors.New("blocked by user")}
	if err := NewDeliverer(tg, 7, zerolog.Nop()).Deliver(context.Background(), testPatient, testRecord, path); err == nil {
		t.Error("expected delivery error")
	}
}
