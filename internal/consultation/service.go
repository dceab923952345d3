package consultation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"health-assistant/internal/retrieval"
)

const (
	defaultQuery  = "general health"
	retrievalTopK = 3

	feverMedicine    = "Paracetamol, ORS for hydration"
	feverTests       = "CBC, Platelet count, NS1 antigen"
	feverDisease     = "Dengue Fever"
	defaultHomeCare  = "Drink plenty of fluids; Paracetamol only (NO NSAIDs)"
	defaultWarnings  = "Bleeding; Severe abdominal pain; Persistent vomiting"
	supportiveMarker = "supportive"
)

// Matcher looks a disease up in the reference table.
type Matcher interface {
	Match(name string) (CatalogRow, bool)
}

// Engine turns a patient into a consultation record. The catalog is
// authoritative; when it has no entry the engine mines retrieved passages
// and fills gaps with fixed defaults.
type Engine struct {
	catalog   Matcher
	retriever retrieval.Retriever
	timeout   time.Duration
	logger    zerolog.Logger

	// Now stamps records; tests replace it.
	Now func() time.Time
}

// NewEngine returns an engine. A nil retriever is replaced by retrieval.Nop
// and a non-positive timeout disables the per-search deadline.
func NewEngine(catalog Matcher, retriever retrieval.Retriever, timeout time.Duration, logger zerolog.Logger) *Engine {
	if retriever == nil {
		retriever = retrieval.Nop{}
	}
	return &Engine{
		catalog:   catalog,
		retriever: retriever,
		timeout:   timeout,
		logger:    logger.With().Str("component", "consultation.engine").Logger(),
		Now:       time.Now,
	}
}

// Resolve never fails: retrieval problems only leave the extracted fields
// empty for the defaults to fill.
func (e *Engine) Resolve(ctx context.Context, p Patient) Record {
	if row, ok := e.catalog.Match(p.Disease); ok {
		return Record{
			Date:        e.Now(),
			PatientName: p.Name,
			Disease:     row.Disease,
			Medicine:    row.Medicine,
			Dose:        SelectDose(p.Age, row.AdultDose, row.ChildDose),
			Tests:       row.Tests,
			Warning:     row.Warnings,
			HomeRemedy:  row.HomeCare,
			Source:      SourceCatalog,
		}
	}

	merged := e.retrieve(ctx, p)

	medicine := Extract(merged, MedicineLabels)
	tests := Extract(merged, TestsLabels)
	warning := Extract(merged, WarningLabels)
	home := Extract(merged, HomeRemedyLabels)
	dose := SelectDose(p.Age, Extract(merged, AdultDoseLabels), Extract(merged, ChildDoseLabels))

	fever := strings.Contains(strings.ToLower(p.Symptoms), "fever")
	if fever {
		if medicine == "" || strings.Contains(strings.ToLower(medicine), supportiveMarker) {
			medicine = feverMedicine
		}
		if tests == "" {
			tests = feverTests
		}
	}
	if home == "" {
		home = defaultHomeCare
	}
	if warning == "" {
		warning = defaultWarnings
	}

	disease := p.Disease
	if disease == "" && fever {
		disease = feverDisease
	}

	return Record{
		Date:        e.Now(),
		PatientName: p.Name,
		Disease:     disease,
		Medicine:    medicine,
		Dose:        dose,
		Tests:       tests,
		Warning:     warning,
		HomeRemedy:  home,
		Source:      SourceRetrieval,
	}
}

func (e *Engine) retrieve(ctx context.Context, p Patient) string {
	query := strings.TrimSpace(p.Disease + " " + p.Symptoms)
	if query == "" {
		query = defaultQuery
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res := e.retriever.Search(ctx, query, retrievalTopK)
	switch res.Status() {
	case retrieval.StatusError:
		e.logger.Warn().Err(res.Err).Str("query", query).Msg("retrieval failed, using defaults")
		return ""
	case retrieval.StatusEmpty:
		e.logger.Debug().Str("query", query).Msg("retrieval returned no passages")
		return ""
	}
	return res.Join(0)
}

// Renderer writes a consultation report and finds the newest one.
type Renderer interface {
	Render(p Patient, r Record) (string, error)
	Latest() (string, error)
}

// Deliverer forwards a finished report to the doctor.
type Deliverer interface {
	Deliver(ctx context.Context, p Patient, r Record, pdfPath string) error
}

// Outcome is what a consult produced. RenderErr is set when the record was
// saved but its report could not be written.
type Outcome struct {
	Record    Record
	PDF       string
	RenderErr error
}

type Service interface {
	Consult(ctx context.Context, p Patient) (Outcome, error)
	LatestReport() (string, error)
}

type service struct {
	engine    *Engine
	repo      Repository
	renderer  Renderer
	deliverer Deliverer
	logger    zerolog.Logger
}

// NewService wires the engine to its sinks. deliverer may be nil.
func NewService(engine *Engine, repo Repository, renderer Renderer, deliverer Deliverer, logger zerolog.Logger) Service {
	return &service{
		engine:    engine,
		repo:      repo,
		renderer:  renderer,
		deliverer: deliverer,
		logger:    logger.With().Str("component", "consultation.service").Logger(),
	}
}

// Consult saves the patient, resolves and saves the record, then renders
// the report. Only persistence errors are returned.
func (s *service) Consult(ctx context.Context, p Patient) (Outcome, error) {
	if err := s.repo.SavePatient(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("save patient: %w", err)
	}

	rec := s.engine.Resolve(ctx, p)
	if err := s.repo.SaveConsultation(ctx, rec); err != nil {
		return Outcome{}, fmt.Errorf("save consultation: %w", err)
	}
	s.logger.Info().
		Str("patient", p.Name).
		Str("disease", rec.Disease).
		Str("source", string(rec.Source)).
		Msg("consultation recorded")

	out := Outcome{Record: rec}
	path, err := s.renderer.Render(p, rec)
	if err != nil {
		s.logger.Error().Err(err).Msg("report rendering failed")
		out.RenderErr = err
		return out, nil
	}
	out.PDF = path

	if s.deliverer != nil {
		if err := s.deliverer.Deliver(ctx, p, rec, path); err != nil {
			s.logger.Warn().Err(err).Str("pdf", path).Msg("report delivery failed")
		}
	}
	return out, nil
}

func (s *service) LatestReport() (string, error) {
	return s.renderer.Latest()
}
