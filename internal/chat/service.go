package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"health-assistant/internal/agent"
	"health-assistant/internal/retrieval"
)

const (
	contextPassages   = 3
	passagePreviewLen = 800
)

const systemPrompt = `You are a careful health assistant. Answer the patient's question using the reference passages provided.
If the passages do not cover the question, say so and give general, conservative advice.
Always recommend seeing a doctor for severe, persistent or worsening symptoms. Do not invent dosages.`

// Answer is the reply to one question.
type Answer struct {
	Text   string `json:"answer"`
	Cached bool   `json:"cached"`
}

// Service answers questions. llm may be nil, in which case answers are
// assembled from the retrieved passages alone.
type Service struct {
	cache     Cache
	history   *History
	retriever retrieval.Retriever
	llm       agent.Client
	logger    zerolog.Logger

	RetrievalTimeout time.Duration
	LLMTimeout       time.Duration
}

func NewService(cache Cache, history *History, retriever retrieval.Retriever, llm agent.Client, logger zerolog.Logger) *Service {
	if retriever == nil {
		retriever = retrieval.Nop{}
	}
	return &Service{
		cache:            cache,
		history:          history,
		retriever:        retriever,
		llm:              llm,
		logger:           logger.With().Str("component", "chat.service").Logger(),
		RetrievalTimeout: 10 * time.Second,
		LLMTimeout:       30 * time.Second,
	}
}

// Ask returns a cached answer when one is valid for the current index.
// Otherwise it answers from the index, records both turns in the session
// and caches the answer under the index version it was built from. Only
// store failures are returned as errors.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (Answer, error) {
	version := s.cache.Version()
	if text, ok, err := s.cache.Get(ctx, question); err != nil {
		s.logger.Warn().Err(err).Msg("cache lookup failed, answering fresh")
	} else if ok {
		return Answer{Text: text, Cached: true}, nil
	}

	turns, err := s.history.Turns(ctx, sessionID)
	if err != nil {
		return Answer{}, err
	}

	res := s.search(ctx, question)
	text := s.compose(ctx, question, turns, res)

	if err := s.history.Append(ctx, sessionID,
		Turn{Role: RoleUser, Content: question},
		Turn{Role: RoleBot, Content: text},
	); err != nil {
		return Answer{}, err
	}
	if err := s.cache.Put(ctx, question, text, version); err != nil {
		return Answer{}, err
	}
	return Answer{Text: text}, nil
}

func (s *Service) search(ctx context.Context, question string) retrieval.Result {
	if s.RetrievalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RetrievalTimeout)
		defer cancel()
	}
	res := s.retriever.Search(ctx, question, contextPassages)
	if res.Status() == retrieval.StatusError {
		s.logger.Warn().Err(res.Err).Msg("retrieval failed, answering without context")
	}
	return res
}

func (s *Service) compose(ctx context.Context, question string, turns []Turn, res retrieval.Result) string {
	if s.llm != nil {
		text, err := s.complete(ctx, question, turns, res)
		if err == nil {
			return text
		}
		s.logger.Warn().Err(err).Msg("chat completion failed, using passage template")
	}
	return Template(res)
}

func (s *Service) complete(ctx context.Context, question string, turns []Turn, res retrieval.Result) (string, error) {
	if s.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.LLMTimeout)
		defer cancel()
	}

	msgs := make([]agent.Message, 0, len(turns)+3)
	msgs = append(msgs, agent.Message{Role: "system", Content: systemPrompt})
	if res.Status() == retrieval.StatusOK {
		msgs = append(msgs, agent.Message{Role: "system", Content: "Reference passages:\n\n" + res.Join(0)})
	}
	for _, t := range turns {
		role := "user"
		if t.Role == RoleBot {
			role = "assistant"
		}
		msgs = append(msgs, agent.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, agent.Message{Role: "user", Content: question})

	text, err := s.llm.Chat(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return text, nil
}

// Template is the answer given without a language model: a short
// consultation checklist followed by the retrieved passages.
func Template(res retrieval.Result) string {
	var b strings.Builder
	b.WriteString("Doctor-Patient Conversation\n")
	b.WriteString("Questions: symptoms, duration, severity, red flags\n")
	b.WriteString("Advice: hydration, rest, monitoring\n")
	b.WriteString("Medicines: from guidelines if appropriate\n\n")
	b.WriteString("Context:\n")
	b.WriteString(res.Join(passagePreviewLen))
	return b.String()
}
