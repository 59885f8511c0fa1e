package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/expensecore/expense-engine/aiadapter"
	"github.com/expensecore/expense-engine/auth"
	"github.com/expensecore/expense-engine/config"
	"github.com/expensecore/expense-engine/fingerprint"
	"github.com/expensecore/expense-engine/hashindex"
	"github.com/expensecore/expense-engine/httpapi"
	"github.com/expensecore/expense-engine/learning"
	"github.com/expensecore/expense-engine/logger"
	"github.com/expensecore/expense-engine/matching"
	"github.com/expensecore/expense-engine/metering"
	"github.com/expensecore/expense-engine/observability"
	"github.com/expensecore/expense-engine/redisclient"
	"github.com/expensecore/expense-engine/store"
	"github.com/expensecore/expense-engine/tierrouter"
	"github.com/expensecore/expense-engine/vectorindex"
	"github.com/expensecore/expense-engine/vendoralias"
)

// zerologWarner adapts zerolog.Logger to learning.Logger's narrow Warn seam.
type zerologWarner struct{ log zerolog.Logger }

func (w zerologWarner) Warn(msg string, args ...any) {
	w.log.Warn().Fields(args).Msg(msg)
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("expense engine starting")

	ctx := context.Background()

	pgPool, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database pool init failed")
	}
	pool := store.WithRetry(pgPool)

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — continuing without hash-index cache")
		rc = nil
	} else if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — continuing without hash-index cache")
		rc = nil
	} else {
		log.Info().Msg("redis connected")
	}

	ai := aiadapter.New(aiadapter.Config{
		APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		Model:   getEnvDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		Timeout: cfg.AITimeout,
	})

	embedder := aiadapter.NewEmbeddingClient(aiadapter.EmbeddingConfig{
		APIKey: os.Getenv("OPENAI_API_KEY"),
		Model:  getEnvDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
	})

	hashRepo := hashindex.NewPGRepo(pool)
	var rawRedis *redis.Client
	if rc != nil {
		rawRedis = rc.Raw()
	}
	hashes := hashindex.New(hashRepo, rawRedis, log)

	aliasRepo := vendoralias.NewPGRepo(pool)
	aliases := vendoralias.New(aliasRepo, cfg.VendorConfirmThreshold)

	vectorRepo := vectorindex.NewPGRepo(pool)
	vectors := vectorindex.New(vectorRepo, embedder, cfg.NormalizationMaxChars, log)

	costEngine := metering.NewCostEngine(metering.CostRates{
		Tier2UnitCost: cfg.Tier2CostPerCall,
		Tier3UnitCost: cfg.Tier3CostPerCall,
	})
	meteringRepo := metering.NewPGRepo(pool)
	meter := metering.New(meteringRepo, costEngine, 10000)

	router := tierrouter.New(hashes, httpapi.NewAliasFinder(aliases), vectors, ai, meter, cfg.EmbedSimilarityThreshold, log)

	fingerprintRepo := fingerprint.NewPGRepo(pool)
	fp := fingerprint.New(fingerprintRepo, ai, log)

	learn := learning.New(aliases, vectors, zerologWarner{log: log})

	matchCfg := matching.Config{
		MinConfidence:  cfg.MinConfidence,
		AmbiguousGap:   cfg.AmbiguousGap,
		AmountExact:    decimal.NewFromFloat(cfg.AmountExact),
		AmountNear:     decimal.NewFromFloat(cfg.AmountNear),
		FuzzyThreshold: cfg.FuzzyThreshold,
		DateWindowDays: cfg.DateWindowDays,
	}
	matchRepo := matching.NewPGRepo(pool)
	matcher := matching.New(matchRepo, aliases, learn, matchCfg)

	authRepo := auth.NewPGRepo(pool)
	authResolver := auth.New(authRepo)

	metrics := observability.NewMetrics(log)
	traceExporter := observability.NewLogExporter(log)
	tracer := observability.NewTracer(log, traceExporter, sampleRateFor(cfg))

	deps := &httpapi.Deps{
		Config:      cfg,
		Logger:      log,
		TierRouter:  router,
		Matching:    matcher,
		Fingerprint: fp,
		Meter:       meter,
		Aliases:     aliases,
		Vectors:     vectors,
		Learning:    learn,
		Auth:        authResolver,
		Metrics:     metrics,
		Tracer:      tracer,
		Ready: func(ctx context.Context) error {
			_, err := pool.Exec(ctx, "SELECT 1")
			return err
		},
	}

	r := httpapi.NewRouter(deps)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("expense engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	tracer.Shutdown()
	meter.Close()
	if dropped := meter.Dropped(); dropped > 0 {
		log.Warn().Int64("dropped", dropped).Msg("usage log entries dropped over lifetime")
	}
	pgPool.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("expense engine stopped gracefully")
	}
}

func sampleRateFor(cfg *config.Config) float64 {
	if cfg.IsProduction() {
		return 0.1
	}
	return 1.0
}

func getEnvDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
