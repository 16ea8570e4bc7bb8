package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/lagom/internal/config"
	"github.com/danmuck/lagom/internal/coordinator"
	"github.com/danmuck/lagom/internal/enrich"
	"github.com/danmuck/lagom/internal/handshake"
	"github.com/danmuck/lagom/internal/logging"
	"github.com/danmuck/lagom/internal/observability"
	"github.com/danmuck/lagom/internal/server"
	"github.com/danmuck/lagom/internal/store"
)

const envOpenAIKey = "OPENAI_API_KEY"

func main() {
	configPath := flag.String("config", "cmd/lagomd/config.toml", "lagomd config path")
	envFile := flag.String("env", ".env", "dotenv file with secrets")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "lagomd: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lagomd: %v\n", err)
		os.Exit(1)
	}
	observability.InitLoggerWith("lagomd", observability.LogOptions{File: cfg.LogFile})
	log.Info().Str("path", *configPath).Str("store", cfg.Store.Backend).Msg("loaded lagomd config")

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("lagomd stopped")
		os.Exit(1)
	}
}

func run(cfg serviceConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Fixture != "" {
		fixture, err := config.LoadFixture(cfg.Fixture)
		if err != nil {
			return err
		}
		if err := config.Seed(ctx, st, fixture); err != nil {
			return fmt.Errorf("seed fixture: %w", err)
		}
		log.Info().
			Str("path", cfg.Fixture).
			Int("participants", len(fixture.Participants)).
			Int("relationships", len(fixture.Relationships)).
			Msg("fixture_seeded")
	}

	engine, err := handshake.NewEngine(cfg.Engine, st)
	if err != nil {
		return err
	}
	renderer, err := buildRenderer(cfg, os.Getenv(envOpenAIKey))
	if err != nil {
		return err
	}
	coord := coordinator.New(engine, st, st, renderer, cfg.Coordinator)

	maintenance, err := coordinator.NewMaintenance(st, cfg.Maintenance)
	if err != nil {
		return err
	}
	maintenance.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		maintenance.Stop(stopCtx)
	}()

	return server.Appear(cfg.Server, coord, st).Serve(ctx)
}

// buildRenderer returns nil when enrichment is disabled.
func buildRenderer(cfg serviceConfig, apiKey string) (enrich.Renderer, error) {
	switch cfg.EnrichBackend {
	case enrichNone:
		return nil, nil
	case enrichOpenAI:
		openaiCfg := cfg.OpenAI
		openaiCfg.APIKey = strings.TrimSpace(apiKey)
		r, err := enrich.NewOpenAI(openaiCfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envOpenAIKey, err)
		}
		return r, nil
	default:
		return enrich.Static{}, nil
	}
}
