package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/assistant/internal/adapter/llm"
	"github.com/xiaot623/gogo/assistant/internal/auth"
	"github.com/xiaot623/gogo/assistant/internal/config"
	"github.com/xiaot623/gogo/assistant/internal/observability"
	"github.com/xiaot623/gogo/assistant/internal/policy"
	"github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/service"
	"github.com/xiaot623/gogo/assistant/internal/tools"
	"github.com/xiaot623/gogo/assistant/internal/tracing"
	httptransport "github.com/xiaot623/gogo/assistant/internal/transport/http"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	observability.SetupLogging(cfg.LogLevel, cfg.LogPretty)
	log.Info().
		Int("port", cfg.HTTPPort).
		Str("database_driver", cfg.DatabaseDriver).
		Str("model", cfg.LLMModel).
		Bool("mock", cfg.MockMode()).
		Msg("starting assistant")

	// Initialize store
	db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	// Observability
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	tracer, shutdownTracing, err := tracing.NewExporter(ctx, tracing.ExportConfig{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to flush traces")
		}
	}()
	recorder := tracing.NewRecorder(db, tracing.WithMetrics(metrics), tracing.WithTracer(tracer))

	// Model and tools
	generator := llm.NewGenerator(cfg.MockMode(), cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, nil)
	registry := tools.NewRegistry(cfg.ToolTimeout)
	if err := tools.RegisterBuiltins(registry, tools.GoogleEndpoints{PeopleURL: cfg.PeopleAPIURL, GmailURL: cfg.GmailAPIURL}, nil); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Auth
	sessions := auth.NewSessionManager(cfg.JWTSecret, cfg.SessionTTL)
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is not set, authenticated routes will reject every request")
	}
	provider := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	var (
		authenticator *auth.Authenticator
		refresher     auth.TokenRefresher
	)
	if provider.Configured() {
		authenticator = auth.NewAuthenticator(provider, db, sessions)
		refresher = provider
	} else {
		log.Warn().Msg("Google OAuth is not configured, login is disabled")
	}
	resolver := auth.NewCredentialResolver(db, refresher, auth.ProviderGoogle)

	// Service and transport
	svc := service.New(db, generator, registry, policyEngine, resolver, recorder, metrics, cfg)
	h := httptransport.NewHandler(svc, httptransport.Options{
		Authenticator: authenticator,
		Sessions:      sessions,
		Metrics:       metrics,
		Gatherer:      reg,
		CookieSecure:  cfg.CookieSecure,
		AllowOrigin:   originChecker(cfg.CORSOrigins),
	})
	server := httptransport.NewServer(h, metrics, cfg.CORSOrigins)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down assistant")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		recorder.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("assistant stopped")
	return nil
}

// originChecker accepts WebSocket upgrades from the configured CORS origins.
func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(origins, "*") {
			return true
		}
		return slices.Contains(origins, origin)
	}
}
