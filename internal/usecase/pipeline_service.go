package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/domain/encounter"
	"github.com/grimfell/raid-awards/internal/platform/cache"
	"github.com/grimfell/raid-awards/internal/platform/id"
	"github.com/grimfell/raid-awards/internal/platform/logging"
	"github.com/grimfell/raid-awards/internal/platform/resilience"
)

const latestRunCachePrefix = "run:latest:"

// PipelineService runs the full scoring pipeline over the stored fight
// batch: aggregate, normalize, score, filter, rank. Per-fight and
// per-player problems land in the run diagnostics; only a structurally
// unusable batch aborts a run. Identical batches always produce
// identical results.
type PipelineService struct {
	batchRepo     encounter.BatchRepository
	runRepo       award.RunRepository
	idGenerator   id.Generator
	logger        *logging.Logger
	aggregation   *AggregationService
	normalization *NormalizationService
	scoring       *ScoringService
	significance  *SignificanceService
	ranking       *RankingService
	defaults      PipelineConfig
	computeFlight resilience.SingleFlight
	runCache      *cache.Store
	now           func() time.Time
}

func NewPipelineService(
	batchRepo encounter.BatchRepository,
	runRepo award.RunRepository,
	idGenerator id.Generator,
	logger *logging.Logger,
	aggregation *AggregationService,
	normalization *NormalizationService,
	scoring *ScoringService,
	significance *SignificanceService,
	ranking *RankingService,
	defaults PipelineConfig,
	runCache *cache.Store,
) *PipelineService {
	if logger == nil {
		logger = logging.Default()
	}
	if runCache == nil {
		runCache = cache.NewStore(time.Minute)
	}
	return &PipelineService{
		batchRepo:     batchRepo,
		runRepo:       runRepo,
		idGenerator:   idGenerator,
		logger:        logger,
		aggregation:   aggregation,
		normalization: normalization,
		scoring:       scoring,
		significance:  significance,
		ranking:       ranking,
		defaults:      normalizeConfig(defaults),
		runCache:      runCache,
		now:           time.Now,
	}
}

// Compute executes one pipeline run over the given window. Concurrent
// calls for the same window collapse into a single execution.
func (s *PipelineService) Compute(ctx context.Context, window award.Window, overrides *PipelineConfig) (award.Run, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.PipelineService.Compute")
	defer span.End()

	if err := window.Validate(); err != nil {
		return award.Run{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	cfg := s.defaults
	if overrides != nil {
		cfg = normalizeConfig(mergeOverrides(s.defaults, *overrides))
	}

	value, err, _ := s.computeFlight.Do("compute:"+window.Key(), func() (any, error) {
		return s.computeOnce(ctx, window, cfg)
	})
	if err != nil {
		return award.Run{}, err
	}

	run, ok := value.(award.Run)
	if !ok {
		return award.Run{}, fmt.Errorf("unexpected compute result type %T", value)
	}
	return run, nil
}

func (s *PipelineService) computeOnce(ctx context.Context, window award.Window, cfg PipelineConfig) (award.Run, error) {
	started := s.now().UTC()

	fights, err := s.batchRepo.ListFights(ctx)
	if err != nil {
		return award.Run{}, fmt.Errorf("list fight batch: %w", err)
	}

	inWindow := make([]encounter.Fight, 0, len(fights))
	for _, fight := range fights {
		if window.Contains(fight.StartedAt) {
			inWindow = append(inWindow, fight)
		}
	}

	rows, diagnostics, err := s.aggregation.AggregateBatch(ctx, inWindow)
	if err != nil {
		return award.Run{}, fmt.Errorf("aggregate batch: %w", err)
	}

	normalized, normDiags := s.normalization.NormalizeBatch(ctx, inWindow, rows, cfg)
	diagnostics = append(diagnostics, normDiags...)

	scored := s.scoring.ScoreBatch(ctx, normalized, cfg)

	// Each category's filter+rank step only needs its own candidate
	// pool, so categories fan out; results re-assemble in catalog order.
	type categoryOutcome struct {
		result      award.Result
		diagnostics []award.Diagnostic
	}

	catalog := award.Catalog()
	workers := pool.NewWithResults[categoryOutcome]().WithMaxGoroutines(len(catalog))
	for _, spec := range catalog {
		spec := spec
		workers.Go(func() categoryOutcome {
			fightScores := scored.Scores[spec.Category]
			entries := s.ranking.AggregateEntries(spec, fightScores, scored.Participation)
			kept, diags := s.significance.Filter(ctx, spec.Category, entries, fightScores, cfg)
			return categoryOutcome{
				result:      s.ranking.Rank(ctx, spec, window, kept),
				diagnostics: diags,
			}
		})
	}

	outcomes := workers.Wait()
	outcomeByCategory := make(map[award.Category]categoryOutcome, len(outcomes))
	for _, outcome := range outcomes {
		outcomeByCategory[outcome.result.Category] = outcome
	}

	results := make([]award.Result, 0, len(catalog))
	for _, spec := range catalog {
		outcome := outcomeByCategory[spec.Category]
		results = append(results, outcome.result)
		diagnostics = append(diagnostics, outcome.diagnostics...)
	}

	runID, err := s.idGenerator.NewID()
	if err != nil {
		return award.Run{}, fmt.Errorf("generate run id: %w", err)
	}

	run := award.Run{
		ID:          runID,
		Window:      window,
		ComputedAt:  started,
		Results:     results,
		Diagnostics: diagnostics,
	}

	if err := s.runRepo.SaveRun(ctx, run); err != nil {
		return award.Run{}, fmt.Errorf("save award run: %w", err)
	}
	s.runCache.Set(ctx, latestRunCachePrefix+window.Key(), run)

	s.logger.InfoContext(ctx, "award pipeline run completed",
		"run_id", run.ID,
		"window", window.Key(),
		"fights", len(inWindow),
		"players", len(scored.Participation),
		"diagnostics", len(diagnostics),
		"duration_ms", s.now().UTC().Sub(started).Milliseconds(),
	)

	return run, nil
}

// LatestRun returns the most recent persisted run for a window.
func (s *PipelineService) LatestRun(ctx context.Context, window award.Window) (award.Run, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.PipelineService.LatestRun")
	defer span.End()

	if err := window.Validate(); err != nil {
		return award.Run{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	value, err := s.runCache.GetOrLoad(ctx, latestRunCachePrefix+window.Key(), func(ctx context.Context) (any, error) {
		run, found, err := s.runRepo.GetLatestByWindow(ctx, window.Key())
		if err != nil {
			return nil, fmt.Errorf("load latest run: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("%w: no run computed for window %s", ErrNotFound, window.Key())
		}
		return run, nil
	})
	if err != nil {
		return award.Run{}, err
	}

	run, ok := value.(award.Run)
	if !ok {
		return award.Run{}, fmt.Errorf("unexpected cached run type %T", value)
	}
	return run, nil
}

// RunByID returns one persisted run, diagnostics included.
func (s *PipelineService) RunByID(ctx context.Context, runID string) (award.Run, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.PipelineService.RunByID")
	defer span.End()

	if runID == "" {
		return award.Run{}, fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	run, found, err := s.runRepo.GetRun(ctx, runID)
	if err != nil {
		return award.Run{}, fmt.Errorf("load run: %w", err)
	}
	if !found {
		return award.Run{}, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return run, nil
}
