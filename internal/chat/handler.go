package chat

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"health-assistant/internal/retrieval"
)

const sessionCookie = "sid"

// Indexer rebuilds the document index.
type Indexer interface {
	Ingest(ctx context.Context) (retrieval.Stats, error)
}

type Handler struct {
	svc     *Service
	indexer Indexer
	logger  zerolog.Logger

	// AfterIngest runs after every successful rebuild.
	AfterIngest func()
}

func NewHandler(svc *Service, indexer Indexer, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, indexer: indexer, logger: logger.With().Str("component", "chat.handler").Logger()}
}

func (h *Handler) GetAnswer(w http.ResponseWriter, r *http.Request) {
	question := readQuestion(r)
	if strings.TrimSpace(question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	sid := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		sid = c.Value
	}
	if sid == "" {
		sid = uuid.NewString()
	}

	ans, err := h.svc.Ask(r.Context(), sid, question)
	if err != nil {
		h.logger.Error().Err(err).Str("session", sid).Msg("answering failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"answer": "Error: " + err.Error()})
		return
	}

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sid, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	writeJSON(w, http.StatusOK, ans)
}

func readQuestion(r *http.Request) string {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body struct {
			Question string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return ""
		}
		return body.Question
	}
	return r.FormValue("question")
}

type ingestResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Mode      string `json:"mode,omitempty"`
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	stats, err := h.indexer.Ingest(r.Context())
	if err != nil && !errors.Is(err, retrieval.ErrNoDocuments) {
		h.logger.Error().Err(err).Msg("ingest failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	if h.AfterIngest != nil {
		h.AfterIngest()
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		Status:    "ok",
		Documents: stats.Documents,
		Chunks:    stats.Chunks,
		Mode:      stats.Mode,
	})
}

// RegisterRoutes mounts the question endpoint. The ingest endpoint is
// mounted separately so it can sit behind its own guard.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/get_answer", h.GetAnswer)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
