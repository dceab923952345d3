package consultation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func newTestRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(svc, zerolog.Nop()))
	return r
}

func TestHandler_Consult(t *testing.T) {
	repo := &memRepo{}
	engine := newTestEngine([]CatalogRow{{Disease: "Dengue Fever", AdultDose: "Paracetamol 500mg", Tests: "CBC"}}, nil)
	router := newTestRouter(NewService(engine, repo, &fakeRenderer{}, nil, zerolog.Nop()))

	body := `{"name":"Jane","age":25,"symptoms":"fever","disease":"Dengue Fever"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/consult", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Reply Record `json:"reply"`
		PDF   string `json:"pdf"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply.Disease != "Dengue Fever" || resp.Reply.Dose != "Paracetamol 500mg" || resp.Reply.Tests != "CBC" {
		t.Errorf("unexpected reply %+v", resp.Reply)
	}
	if resp.Reply.Source != SourceCatalog || resp.PDF == "" {
		t.Errorf("expected catalog source and pdf path, got %+v", resp)
	}
}

func TestHandler_ConsultValidation(t *testing.T) {
	router := newTestRouter(NewService(newTestEngine(nil, nil), &memRepo{}, &fakeRenderer{}, nil, zerolog.Nop()))

	for _, body := range []string{`{"age":"old"}`, `not json`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/consult", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
		var resp map[string]string
		json.NewDecoder(rec.Body).Decode(&resp)
		if resp["error"] == "" {
			t.Errorf("body %s: expected error message", body)
		}
	}
}

func TestHandler_ConsultRenderFailure(t *testing.T) {
	repo := &memRepo{}
	router := newTestRouter(NewService(newTestEngine(nil, nil), repo, &fakeRenderer{err: errors.New("no font")}, nil, zerolog.Nop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/consult", strings.NewReader(`{"name":"A","symptoms":"fever"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["pdf"] != "" || resp["pdf_error"] != "no font" {
		t.Errorf("unexpected response %v", resp)
	}
	if len(repo.records) != 1 {
		t.Error("expected record to be saved")
	}
}

func TestHandler_ConsultPersistenceFailure(t *testing.T) {
	router := newTestRouter(NewService(newTestEngine(nil, nil), &memRepo{err: errors.New("disk")}, &fakeRenderer{}, nil, zerolog.Nop()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/consult", strings.NewReader(`{"name":"A"}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

type dirRenderer struct{ path string }

func (d dirRenderer) Render(Patient, Record) (string, error) { return d.path, nil }

func (d dirRenderer) Latest() (string, error) {
	if d.path == "" {
		return "", fmt.Errorf("no report found: %w", fs.ErrNotExist)
	}
	return d.path, nil
}

func TestHandler_DownloadReport(t *testing.T) {
	rec := httptest.NewRecorder()
	router := newTestRouter(NewService(newTestEngine(nil, nil), &memRepo{}, dirRenderer{}, nil, zerolog.Nop()))
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download-report", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "No report found") {
		t.Errorf("expected 404 with message, got %d %s", rec.Code, rec.Body.String())
	}

	path := filepath.Join(t.TempDir(), "consult_20240301_100000_000000.pdf")
	os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644)
	rec = httptest.NewRecorder()
	router = newTestRouter(NewService(newTestEngine(nil, nil), &memRepo{}, dirRenderer{path: path}, nil, zerolog.Nop()))
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download-report", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "consult_20240301_100000_000000.pdf") {
		t.Errorf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	if rec.Body.String() != "%PDF-1.4 test" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}
