// Package app builds the assistant's components once from configuration
// and exposes them to the HTTP server and the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"health-assistant/internal/agent"
	"health-assistant/internal/chat"
	"health-assistant/internal/config"
	"health-assistant/internal/consultation"
	"health-assistant/internal/platform/db"
	"health-assistant/internal/platform/middleware"
	"health-assistant/internal/platform/telegram"
	"health-assistant/internal/report"
	"health-assistant/internal/retrieval"
)

var errIndexUnavailable = errors.New("document index is unavailable")

// App holds every long-lived component. Build it with New and release it
// with Close.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	LLM           agent.Client
	Index         *retrieval.Index
	Retriever     retrieval.Retriever
	Ingester      chat.Indexer
	Catalog       *consultation.Catalog
	Repository    consultation.Repository
	Renderer      *report.Renderer
	Consultations consultation.Service
	Chat          *chat.Service
	Exporter      *report.Exporter

	closers []func() error
}

// New wires the components in dependency order. Optional services that
// cannot be reached (the document index, Redis) are logged and replaced by
// local fallbacks. Stores the service cannot run without return an error.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	a.LLM = agent.NewOpenAIClient(agent.Config{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		EmbedModel: cfg.OpenAIEmbedModel,
		Timeout:    cfg.LLMTimeout,
	})
	if a.LLM == nil {
		logger.Info().Msg("OPENAI_API_KEY not set, running in local-only mode")
	}

	a.initRetrieval()

	a.Catalog = consultation.NewCatalog(cfg.CatalogPath, cfg.DataPath, logger)

	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	a.Repository = repo

	a.Renderer = report.NewRenderer(cfg.StoragePath, cfg.FontPaths, logger)

	var deliverer consultation.Deliverer
	if cfg.TelegramToken != "" {
		deliverer = report.NewDeliverer(telegram.NewClient(cfg.TelegramToken), cfg.DoctorChatID, logger)
	}
	engine := consultation.NewEngine(a.Catalog, a.Retriever, cfg.RetrievalTimeout, logger)
	a.Consultations = consultation.NewService(engine, a.Repository, a.Renderer, deliverer, logger)

	historyDB, err := db.OpenSQLite(cfg.HistoryDB, logger, chat.Models...)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	a.closers = append(a.closers, func() error { return db.CloseGorm(historyDB) })

	var versions retrieval.VersionSource = retrieval.Nop{}
	if a.Index != nil {
		versions = a.Index
	}
	cache := a.openCache(ctx, historyDB, versions)

	a.Chat = chat.NewService(cache, chat.NewHistory(historyDB), a.Retriever, a.LLM, logger)
	a.Chat.RetrievalTimeout = cfg.RetrievalTimeout
	a.Chat.LLMTimeout = cfg.LLMTimeout

	a.Exporter = report.NewExporter(cfg.OutputPath, cfg.FontPaths, a.Repository, logger)
	return nil
}

func (a *App) initRetrieval() {
	a.Retriever = retrieval.Nop{}
	a.Ingester = unavailableIndex{}

	indexDB, err := db.OpenSQLite(a.Config.IndexPath, a.Logger, retrieval.Models...)
	if err != nil {
		a.Logger.Warn().Err(err).Str("path", a.Config.IndexPath).Msg("document index unavailable, retrieval disabled")
		return
	}
	a.closers = append(a.closers, func() error { return db.CloseGorm(indexDB) })

	idx, err := retrieval.NewIndex(indexDB, a.LLM, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("document index unreadable, retrieval disabled")
		return
	}
	a.Index = idx
	a.Retriever = idx
	a.Ingester = retrieval.NewIngester(a.Config.DataPath, idx, a.LLM, a.Logger)
}

func (a *App) openRepository(ctx context.Context) (consultation.Repository, error) {
	if a.Config.DatabaseURL == "" {
		repo, err := consultation.NewFileRepository(a.Config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("consultation log: %w", err)
		}
		return repo, nil
	}

	if err := db.Migrate(a.Config.MigrationsPath, a.Config.DatabaseURL, a.Logger); err != nil {
		return nil, err
	}
	conn, err := db.OpenPostgres(ctx, a.Config.DatabaseURL, a.Logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)
	return consultation.NewPostgresRepository(conn), nil
}

func (a *App) openCache(ctx context.Context, historyDB *gorm.DB, versions retrieval.VersionSource) chat.Cache {
	if a.Config.RedisURL != "" {
		cache, rdb, err := chat.NewRedisCache(ctx, a.Config.RedisURL, versions, a.Config.CacheTTL)
		if err == nil {
			a.closers = append(a.closers, rdb.Close)
			a.Logger.Info().Msg("answer cache backed by redis")
			return cache
		}
		a.Logger.Warn().Err(err).Msg("redis unavailable, caching answers in sqlite")
	}
	return chat.NewSQLiteCache(historyDB, versions)
}

// Router mounts every HTTP endpoint.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(a.Logger))
	r.Use(middleware.Logger(a.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.Config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	consultation.RegisterRoutes(r, consultation.NewHandler(a.Consultations, a.Logger))

	chatHandler := chat.NewHandler(a.Chat, a.Ingester, a.Logger)
	chatHandler.AfterIngest = func() { a.Catalog.Reload() }
	chat.RegisterRoutes(r, chatHandler)

	r.Group(func(r chi.Router) {
		if a.Config.IngestJWTSecret != "" {
			r.Use(middleware.RequireAdmin([]byte(a.Config.IngestJWTSecret), a.Logger))
		}
		r.Post("/ingest", chatHandler.Ingest)
	})
	return r
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type unavailableIndex struct{}

func (unavailableIndex) Ingest(context.Context) (retrieval.Stats, error) {
	return retrieval.Stats{}, errIndexUnavailable
}
