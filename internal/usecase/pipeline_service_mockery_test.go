package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/grimfell/raid-awards/internal/domain/award"
	awardmock "github.com/grimfell/raid-awards/internal/mocks/domain/award"
	"github.com/grimfell/raid-awards/internal/platform/cache"
)

func newMockedPipeline(runRepo award.RunRepository) *PipelineService {
	night := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	return NewPipelineService(
		&stubBatchRepo{fights: raidNight(night, 6)},
		runRepo,
		&sequenceIDGenerator{},
		nil,
		NewAggregationService(4),
		NewNormalizationService(),
		NewScoringService(),
		NewSignificanceService(),
		NewRankingService(),
		DefaultPipelineConfig(),
		cache.NewStore(time.Minute),
	)
}

func TestCompute_PersistsRunUsingMockery(t *testing.T) {
	t.Parallel()

	runRepo := awardmock.NewRunRepository(t)
	pipeline := newMockedPipeline(runRepo)

	runRepo.
		On("SaveRun", mock.Anything, mock.MatchedBy(func(run award.Run) bool {
			return run.Window.Key() == "season" && len(run.Results) == len(award.Catalog())
		})).
		Return(nil).
		Once()

	run, err := pipeline.Compute(context.Background(), award.SeasonWindow(), nil)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if run.ID == "" {
		t.Fatal("expected a run id")
	}
}

func TestCompute_SaveFailureAbortsRunUsingMockery(t *testing.T) {
	t.Parallel()

	runRepo := awardmock.NewRunRepository(t)
	pipeline := newMockedPipeline(runRepo)

	saveErr := errors.New("connection reset")
	runRepo.
		On("SaveRun", mock.Anything, mock.Anything).
		Return(saveErr).
		Once()

	if _, err := pipeline.Compute(context.Background(), award.SeasonWindow(), nil); !errors.Is(err, saveErr) {
		t.Fatalf("err = %v, want wrapped save error", err)
	}
}

func TestRunByID_RepositoryErrorUsingMockery(t *testing.T) {
	t.Parallel()

	runRepo := awardmock.NewRunRepository(t)
	pipeline := newMockedPipeline(runRepo)

	repoErr := errors.New("scan failed")
	runRepo.
		On("GetRun", mock.Anything, "run-1").
		Return(award.Run{}, false, repoErr).
		Once()

	if _, err := pipeline.RunByID(context.Background(), "run-1"); !errors.Is(err, repoErr) {
		t.Fatalf("err = %v, want wrapped repository error", err)
	}
}
