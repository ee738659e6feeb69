package app

import (
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"

	"github.com/grimfell/raid-awards/external/warcraftlogs"
	"github.com/grimfell/raid-awards/internal/config"
	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/domain/player"
	cacherepo "github.com/grimfell/raid-awards/internal/infrastructure/repository/cache"
	"github.com/grimfell/raid-awards/internal/infrastructure/repository/memory"
	"github.com/grimfell/raid-awards/internal/infrastructure/repository/postgres"
	"github.com/grimfell/raid-awards/internal/interfaces/httpapi"
	"github.com/grimfell/raid-awards/internal/platform/cache"
	idgen "github.com/grimfell/raid-awards/internal/platform/id"
	"github.com/grimfell/raid-awards/internal/platform/logging"
	"github.com/grimfell/raid-awards/internal/platform/resilience"
	"github.com/grimfell/raid-awards/internal/usecase"
)

// NewHTTPServer wires repositories, services and the router into one
// server. The returned cleanup closes the database handle when one was
// opened; it is safe to call after shutdown.
func NewHTTPServer(cfg config.Config, logger *logging.Logger) (*http.Server, func() error, error) {
	if logger == nil {
		logger = logging.Default()
	}

	// Raw fight batches live in memory only; a batch is rebuilt from
	// report ingestion, not recovered from storage.
	batchRepo := memory.NewBatchRepository(nil)
	playerRepo := memory.NewPlayerRepository(nil)

	var runRepo award.RunRepository = memory.NewRunRepository()
	cleanup := func() error { return nil }

	runCacheTTL := cfg.CacheTTL
	if !cfg.CacheEnabled {
		runCacheTTL = -1
	}

	if cfg.DBURL != "" {
		db, err := openDB(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		runRepo = postgres.NewAwardRunRepository(db)
		if cfg.CacheEnabled {
			runRepo = cacherepo.NewRunRepository(runRepo, cache.NewStore(runCacheTTL))
		}
		cleanup = db.Close
		logger.Info("award runs persisted to postgres", "db", dbNameFromURL(cfg.DBURL))
	} else {
		logger.Info("award runs persisted in memory", "reason", "DB_URL empty")
	}

	pipeline := usecase.NewPipelineService(
		batchRepo,
		runRepo,
		idgen.NewRandomGenerator(),
		logger,
		usecase.NewAggregationService(cfg.AwardsAggregationWorkers),
		usecase.NewNormalizationService(),
		usecase.NewScoringService(),
		usecase.NewSignificanceService(),
		usecase.NewRankingService(),
		pipelineDefaults(cfg),
		cache.NewStore(runCacheTTL),
	)

	var ingestion *usecase.IngestionService
	if cfg.WarcraftLogsEnabled {
		provider := warcraftlogs.NewClient(warcraftlogs.ClientConfig{
			APIURL:       cfg.WarcraftLogsAPIURL,
			TokenURL:     cfg.WarcraftLogsTokenURL,
			ClientID:     cfg.WarcraftLogsClientID,
			ClientSecret: cfg.WarcraftLogsClientSecret,
			Timeout:      cfg.WarcraftLogsTimeout,
			MaxRetries:   cfg.WarcraftLogsMaxRetries,
			Logger:       logger,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				Enabled:          cfg.WarcraftLogsCircuitEnabled,
				FailureThreshold: cfg.WarcraftLogsCircuitFailureCount,
				OpenTimeout:      cfg.WarcraftLogsCircuitOpenTimeout,
				HalfOpenMaxReq:   cfg.WarcraftLogsCircuitHalfOpenMax,
			},
		})
		ingestion = usecase.NewIngestionService(provider, batchRepo, playerRepo, logger)
	} else {
		logger.Info("report ingestion disabled", "reason", "WARCRAFT_LOGS_ENABLED=false")
	}

	handler := httpapi.NewHandler(pipeline, ingestion, cfg.AwardsRunnerUpCount, logger)
	router := httpapi.NewRouter(handler, logger, cfg.CORSAllowedOrigins, cfg.InternalJobToken)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if server.Addr == "" {
		_ = cleanup()
		return nil, nil, fmt.Errorf("http server addr cannot be empty")
	}

	return server, cleanup, nil
}

func openDB(cfg config.Config) (*sqlx.DB, error) {
	dsn := normalizeDBURL(cfg.DBURL, cfg.DBDisablePreparedBinary)
	return otelsqlx.Open("postgres", dsn,
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithDBName(dbNameFromURL(cfg.DBURL)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
}

func pipelineDefaults(cfg config.Config) usecase.PipelineConfig {
	weights := make(map[player.Role]float64, len(cfg.AwardsRoleWeights))
	for name, weight := range cfg.AwardsRoleWeights {
		role, err := player.ParseRole(name)
		if err != nil {
			// config.Load already rejects unknown roles.
			continue
		}
		weights[role] = weight
	}

	return usecase.PipelineConfig{
		BaseFightDurationSec: cfg.AwardsBaseFightDuration,
		ReferenceRaidSize:    cfg.AwardsReferenceRaidSize,
		RoleWeights:          weights,
		MinSampleSize:        cfg.AwardsMinSampleSize,
		ConfidenceZThreshold: cfg.AwardsConfidenceZThreshold,
		RunnerUpCount:        cfg.AwardsRunnerUpCount,
		ArtifactSpreadRatio:  cfg.AwardsArtifactSpreadRatio,
	}
}
