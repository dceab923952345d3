package consultation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type Handler struct {
	svc    Service
	logger zerolog.Logger
}

func NewHandler(svc Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "consultation.handler").Logger()}
}

type consultResponse struct {
	Reply    Record `json:"reply"`
	PDF      string `json:"pdf"`
	PDFError string `json:"pdf_error,omitempty"`
}

func (h *Handler) Consult(w http.ResponseWriter, r *http.Request) {
	var req ConsultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patient, err := req.Patient()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.svc.Consult(r.Context(), patient)
	if err != nil {
		h.logger.Error().Err(err).Msg("/consult failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := consultResponse{Reply: out.Record, PDF: out.PDF}
	if out.RenderErr != nil {
		resp.PDFError = out.RenderErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	path, err := h.svc.LatestReport()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "No report found")
			return
		}
		h.logger.Error().Err(err).Msg("locating latest report")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/consult", h.Consult)
	r.Get("/download-report", h.DownloadReport)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
