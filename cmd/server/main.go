package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alanmaizon/taskplan/internal/api"
	"github.com/alanmaizon/taskplan/internal/config"
	"github.com/alanmaizon/taskplan/internal/llm"
	"github.com/alanmaizon/taskplan/internal/middleware"
	"github.com/alanmaizon/taskplan/internal/planner"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	configureLogging(cfg.Log)

	registry := llm.NewRegistry(llm.Credentials{
		DeepSeekAPIKey:    cfg.Providers.DeepSeek.APIKey,
		SiliconFlowAPIKey: cfg.Providers.SiliconFlow.APIKey,
	})
	warnOnMissingCredential(registry, cfg.Planner.Provider)

	generator := planner.NewGenerator(
		registry,
		llm.NewChatClient(llm.ClientOptions{
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.MaxRetries,
		}),
		planner.WithStrictSchema(cfg.Planner.StrictSchema),
	)

	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging())
	router.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))

	api.RegisterRoutes(router, api.Dependencies{
		Generator: generator,
		Registry:  registry,
		Planner:   cfg.Planner,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("provider", cfg.Planner.Provider).
			Bool("strict_schema", cfg.Planner.StrictSchema).
			Bool("query_defaults", cfg.Planner.QueryDefaults).
			Msg("task plan service online")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

func configureLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func warnOnMissingCredential(registry *llm.Registry, configured string) {
	selector, err := llm.ParseSelector(configured)
	if err != nil {
		log.Warn().Str("provider", configured).Msg("configured provider is not supported, every generation will fail")
		return
	}
	for _, provider := range registry.Providers() {
		if provider.Name == string(selector) && !provider.Configured {
			log.Warn().Str("provider", provider.Name).Msg("no api key configured for the active provider")
		}
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"X-Request-Id",
		},
		ExposeHeaders: []string{"X-Request-Id"},
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
