package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"health-assistant/internal/app"
	"health-assistant/internal/config"
	"health-assistant/internal/platform/middleware"
	"health-assistant/internal/prep"
	"health-assistant/internal/report"
	"health-assistant/internal/retrieval"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "health-assistant",
		Short:        "Smart health assistant: document Q&A, consultations and reports",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(prepCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

// withApp builds the application for a single command and closes it after.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
			return err
		}
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the document index from DATA_PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				stats, err := a.Ingester.Ingest(cmd.Context())
				if errors.Is(err, retrieval.ErrNoDocuments) {
					fmt.Fprintf(cmd.OutOrStdout(), "No documents found under %s\n", a.Config.DataPath)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents into %d chunks (%s)\n", stats.Documents, stats.Chunks, stats.Mode)
				return nil
			})
		},
	}
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			return withApp(cmd.Context(), func(a *app.App) error {
				ans, err := a.Chat.Ask(cmd.Context(), session, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
				if ans.Cached {
					fmt.Fprintln(cmd.ErrOrStderr(), "(cached)")
				}
				return nil
			})
		},
	}
	cmd.Flags().String("session", "cli", "Conversation session id")
	return cmd
}

func prepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prep",
		Short: "Build a visit preparation sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			answersPath, _ := cmd.Flags().GetString("answers")
			brand, _ := cmd.Flags().GetString("brand")
			logo, _ := cmd.Flags().GetString("logo")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			var answers prep.IntakeAnswers
			if answersPath != "" {
				answers, err = prep.LoadAnswers(answersPath)
			} else {
				answers, err = prep.Interactive(cmd.InOrStdin(), cmd.OutOrStdout())
			}
			if err != nil {
				return err
			}

			path, err := prep.NewSheet(cfg.OutputPath, brand, logo).Build(answers)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Prep sheet written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().String("answers", "", "JSON file with intake answers (prompts on stdin when empty)")
	cmd.Flags().String("brand", "", "Brand name printed in the title")
	cmd.Flags().String("logo", "", "Logo image drawn in the top-right corner")
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export all logged consultations as xlsx and pdf",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				xlsxPath, pdfPath, err := a.Exporter.Export(cmd.Context())
				if errors.Is(err, report.ErrNoConsultations) {
					fmt.Fprintln(cmd.OutOrStdout(), "No consultations logged yet")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", xlsxPath, pdfPath)
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for POST /ingest",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.IngestJWTSecret == "" {
				return errors.New("INGEST_JWT_SECRET is not set")
			}
			token, err := middleware.IssueToken([]byte(cfg.IngestJWTSecret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "admin", "Token subject")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
