package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"health-assistant/internal/agent"
	"health-assistant/internal/retrieval"
)

type stubRetriever struct {
	res   retrieval.Result
	calls int
}

func (s *stubRetriever) Search(context.Context, string, int) retrieval.Result {
	s.calls++
	return s.res
}

type stubLLM struct {
	reply string
	err   error
	seen  []agent.Message
}

func (s *stubLLM) Chat(_ context.Context, msgs []agent.Message) (string, error) {
	s.seen = msgs
	return s.reply, s.err
}

func (s *stubLLM) Embed(context.Context, []string) ([][]float32, error) { return nil, errors.New("unused") }

func (s *stubLLM) EmbedModel() string { return "" }

func newTestService(t *testing.T, r retrieval.Retriever, llm agent.Client) (*Service, *versionStub) {
	t.Helper()
	gdb := openTestDB(t)
	v := &versionStub{v: 100}
	return NewService(NewSQLiteCache(gdb, v), NewHistory(gdb), r, llm, zerolog.Nop()), v
}

func TestAsk_TemplateWithoutLLM(t *testing.T) {
	long := strings.Repeat("x", 1000)
	r := &stubRetriever{res: retrieval.Result{Passages: []retrieval.Passage{{Content: long}, {Content: "Dengue: rest"}}}}
	svc, _ := newTestService(t, r, nil)

	ans, err := svc.Ask(context.Background(), "s1", "what about dengue?")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Cached {
		t.Error("first answer must not be cached")
	}
	if !strings.HasPrefix(ans.Text, "Doctor-Patient Conversation\n") {
		t.Errorf("unexpected template %q", ans.Text[:40])
	}
	if !strings.Contains(ans.Text, "Context:\n"+strings.Repeat("x", 800)+"\n\nDengue: rest") {
		t.Error("expected passages truncated to 800 characters and joined by blank lines")
	}
}

func TestAsk_CacheHitSkipsWork(t *testing.T) {
	r := &stubRetriever{}
	svc, v := newTestService(t, r, nil)
	ctx := context.Background()

	first, _ := svc.Ask(ctx, "s1", "Q")
	second, err := svc.Ask(ctx, "s2", "Q")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.Text != first.Text {
		t.Errorf("expected cached repeat, got %+v", second)
	}
	if r.calls != 1 {
		t.Errorf("expected a single retrieval, got %d", r.calls)
	}
	if turns, _ := svc.history.Turns(ctx, "s2"); len(turns) != 0 {
		t.Errorf("cache hits must not append history, got %d turns", len(turns))
	}

	v.v = 200
	third, _ := svc.Ask(ctx, "s1", "Q")
	if third.Cached || r.calls != 2 {
		t.Errorf("expected rebuild to force a fresh answer, got %+v calls=%d", third, r.calls)
	}
}

// rebuildingRetriever simulates an index rebuild that finishes while a
// question is being answered from the old corpus.
type rebuildingRetriever struct {
	versions *versionStub
	next     float64
}

func (r *rebuildingRetriever) Search(context.Context, string, int) retrieval.Result {
	res := retrieval.Result{Passages: []retrieval.Passage{{Content: "old corpus"}}}
	r.versions.v = r.next
	return res
}

func TestAsk_RebuildDuringAnswerIsNotCached(t *testing.T) {
	r := &rebuildingRetriever{next: 200}
	svc, v := newTestService(t, r, nil)
	r.versions = v
	ctx := context.Background()

	first, err := svc.Ask(ctx, "s1", "Q")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(first.Text, "old corpus") {
		t.Fatalf("unexpected answer %q", first.Text)
	}

	second, err := svc.Ask(ctx, "s1", "Q")
	if err != nil {
		t.Fatal(err)
	}
	if second.Cached {
		t.Error("answer built before the rebuild must not be served for the new index")
	}
}

func TestAsk_LLMWithHistory(t *testing.T) {
	r := &stubRetriever{res: retrieval.Result{Passages: []retrieval.Passage{{Content: "Fluids help."}}}}
	llm := &stubLLM{reply: "Drink water."}
	svc, _ := newTestService(t, r, llm)
	ctx := context.Background()

	svc.Ask(ctx, "s1", "first question")
	ans, err := svc.Ask(ctx, "s1", "second question")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Drink water." {
		t.Errorf("unexpected answer %q", ans.Text)
	}

	// system, passages, user, assistant, new question
	if len(llm.seen) != 5 {
		t.Fatalf("expected 5 messages, got %d: %+v", len(llm.seen), llm.seen)
	}
	if llm.seen[2].Content != "first question" || llm.seen[3].Role != "assistant" {
		t.Errorf("history not replayed in order: %+v", llm.seen)
	}
	if !strings.Contains(llm.seen[1].Content, "Fluids help.") {
		t.Error("expected passages in the prompt")
	}
}

func TestAsk_LLMFailureFallsBack(t *testing.T) {
	r := &stubRetriever{res: retrieval.Result{Err: errors.New("index offline")}}
	svc, _ := newTestService(t, r, &stubLLM{err: errors.New("rate limited")})

	ans, err := svc.Ask(context.Background(), "s1", "Q")
	if err != nil {
		t.Fatalf("collaborator failures must not surface: %v", err)
	}
	if !strings.HasPrefix(ans.Text, "Doctor-Patient Conversation") {
		t.Errorf("expected template fallback, got %q", ans.Text)
	}
}

type stubIndexer struct {
	stats retrieval.Stats
	err   error
}

func (s stubIndexer) Ingest(context.Context) (retrieval.Stats, error) { return s.stats, s.err }

func newChatRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, h)
	r.Post("/ingest", h.Ingest)
	return r
}

func TestHandler_GetAnswer(t *testing.T) {
	svc, _ := newTestService(t, &stubRetriever{}, nil)
	router := newChatRouter(NewHandler(svc, stubIndexer{}, zerolog.Nop()))

	form := url.Values{"question": {"is rest good?"}}
	req := httptest.NewRequest(http.MethodPost, "/get_answer", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sid string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			sid = c.Value
		}
	}
	if sid == "" {
		t.Fatal("expected a session cookie")
	}

	req = httptest.NewRequest(http.MethodPost, "/get_answer", strings.NewReader(`{"question":"is rest good?"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"cached":true`) {
		t.Errorf("expected cached answer, got %s", rec.Body.String())
	}
	if turns, _ := svc.history.Turns(context.Background(), sid); len(turns) != 2 {
		t.Errorf("expected 2 turns for the session, got %d", len(turns))
	}
}

func TestHandler_GetAnswerEmptyQuestion(t *testing.T) {
	svc, _ := newTestService(t, &stubRetriever{}, nil)
	router := newChatRouter(NewHandler(svc, stubIndexer{}, zerolog.Nop()))

	req := httptest.NewRequest(http.MethodPost, "/get_answer", strings.NewReader(`{"question":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Ingest(t *testing.T) {
	svc, _ := newTestService(t, &stubRetriever{}, nil)

	reloaded := 0
	h := NewHandler(svc, stubIndexer{stats: retrieval.Stats{Documents: 2, Chunks: 9, Mode: "lexical"}}, zerolog.Nop())
	h.AfterIngest = func() { reloaded++ }
	rec := httptest.NewRecorder()
	newChatRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"chunks":9`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if reloaded != 1 {
		t.Error("expected AfterIngest hook to run")
	}

	h = NewHandler(svc, stubIndexer{err: retrieval.ErrNoDocuments}, zerolog.Nop())
	rec = httptest.NewRecorder()
	newChatRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"documents":0`) {
		t.Errorf("empty corpus should report zero documents, got %d %s", rec.Code, rec.Body.String())
	}

	h = NewHandler(svc, stubIndexer{err: errors.New("disk full")}, zerolog.Nop())
	rec = httptest.NewRecorder()
	newChatRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", nil))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), `"status":"error"`) {
		t.Errorf("expected error status, got %d %s", rec.Code, rec.Body.String())
	}
}
