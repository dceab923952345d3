package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	DataPath         string        `mapstructure:"DATA_PATH"`
	StoragePath      string        `mapstructure:"STORAGE_PATH"`
	IndexPath        string        `mapstructure:"INDEX_PATH"`
	HistoryDB        string        `mapstructure:"HISTORY_DB"`
	CatalogPath      string        `mapstructure:"CATALOG_PATH"`
	OutputPath       string        `mapstructure:"OUTPUT_PATH"`
	OpenAIAPIKey     string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel      string        `mapstructure:"OPENAI_MODEL"`
	OpenAIEmbedModel string        `mapstructure:"OPENAI_EMBED_MODEL"`
	LLMTimeout       time.Duration `mapstructure:"LLM_TIMEOUT"`
	RetrievalTimeout time.Duration `mapstructure:"RETRIEVAL_TIMEOUT"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	MigrationsPath   string        `mapstructure:"MIGRATIONS_PATH"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	CacheTTL         time.Duration `mapstructure:"CACHE_TTL"`
	TelegramToken    string        `mapstructure:"TELEGRAM_BOT_TOKEN"`
	DoctorChatID     int64         `mapstructure:"DOCTOR_CHAT_ID"`
	IngestJWTSecret  string        `mapstructure:"INGEST_JWT_SECRET"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	FontPaths        []string      `mapstructure:"FONT_PATHS"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATA_PATH", "STORAGE_PATH", "INDEX_PATH", "HISTORY_DB", "CATALOG_PATH", "OUTPUT_PATH",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "OPENAI_EMBED_MODEL",
	"LLM_TIMEOUT", "RETRIEVAL_TIMEOUT",
	"DATABASE_URL", "MIGRATIONS_PATH", "REDIS_URL", "CACHE_TTL",
	"TELEGRAM_BOT_TOKEN", "DOCTOR_CHAT_ID",
	"INGEST_JWT_SECRET", "CORS_ORIGINS", "FONT_PATHS",
}

// Load reads configuration from an optional .env file and the environment.
// None of the external services are required: without OPENAI_API_KEY the
// assistant runs in local-only retrieval mode, without DATABASE_URL the
// logs are written as JSON files under STORAGE_PATH.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_PATH", "./Data")
	v.SetDefault("STORAGE_PATH", "./storage")
	v.SetDefault("INDEX_PATH", "./vectorstore/index.db")
	v.SetDefault("OUTPUT_PATH", "./output")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_EMBED_MODEL", "text-embedding-3-small")
	v.SetDefault("LLM_TIMEOUT", "30s")
	v.SetDefault("RETRIEVAL_TIMEOUT", "10s")
	v.SetDefault("MIGRATIONS_PATH", "./migrations")
	v.SetDefault("CACHE_TTL", "168h")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("FONT_PATHS", strings.Join(DefaultFontPaths, ","))

	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.FontPaths = splitList(v.GetString("FONT_PATHS"))

	if cfg.HistoryDB == "" {
		cfg.HistoryDB = filepath.Join(cfg.StoragePath, "history.sqlite")
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = filepath.Join(cfg.DataPath, "100_unique_diseases.csv")
	}

	return cfg, nil
}

// DefaultFontPaths are the places a Unicode TTF font is looked for when
// rendering reports.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// HasLLM reports whether an external language model credential is configured.
func (c *Config) HasLLM() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}

// Validate checks values that would otherwise fail late at request time.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive, got %s", c.LLMTimeout)
	}
	if c.RetrievalTimeout <= 0 {
		return fmt.Errorf("RETRIEVAL_TIMEOUT must be positive, got %s", c.RetrievalTimeout)
	}
	if c.TelegramToken != "" && c.DoctorChatID == 0 {
		return fmt.Errorf("DOCTOR_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
