package cache

import (
	"context"
	"testing"
	"time"

	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/infrastructure/repository/memory"
	basecache "github.com/grimfell/raid-awards/internal/platform/cache"
)

type countingRunRepository struct {
	next       award.RunRepository
	getCalls   int
	latestCall int
}

func (r *countingRunRepository) SaveRun(ctx context.Context, run award.Run) error {
	return r.next.SaveRun(ctx, run)
}

func (r *countingRunRepository) GetRun(ctx context.Context, runID string) (award.Run, bool, error) {
	r.getCalls++
	return r.next.GetRun(ctx, runID)
}

func (r *countingRunRepository) GetLatestByWindow(ctx context.Context, windowKey string) (award.Run, bool, error) {
	r.latestCall++
	return r.next.GetLatestByWindow(ctx, windowKey)
}

func TestRunRepository_ReadThroughCaching(t *testing.T) {
	ctx := context.Background()
	counting := &countingRunRepository{next: memory.NewRunRepository()}
	repo := NewRunRepository(counting, basecache.NewStore(time.Minute))

	season := award.SeasonWindow()
	if err := repo.SaveRun(ctx, award.Run{ID: "r1", Window: season}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	for i := 0; i < 3; i++ {
		run, found, err := repo.GetRun(ctx, "r1")
		if err != nil || !found || run.ID != "r1" {
			t.Fatalf("GetRun: run=%+v found=%v err=%v", run, found, err)
		}
	}
	if counting.getCalls != 0 {
		t.Fatalf("GetRun hit the next repository %d times, want 0 after save populated the cache", counting.getCalls)
	}

	for i := 0; i < 3; i++ {
		run, found, err := repo.GetLatestByWindow(ctx, season.Key())
		if err != nil || !found || run.ID != "r1" {
			t.Fatalf("GetLatestByWindow: run=%+v found=%v err=%v", run, found, err)
		}
	}
	if counting.latestCall != 0 {
		t.Fatalf("GetLatestByWindow hit the next repository %d times, want 0 after save populated the cache", counting.latestCall)
	}
}

func TestRunRepository_SaveRefreshesWindowKey(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(memory.NewRunRepository(), basecache.NewStore(time.Minute))

	season := award.SeasonWindow()
	if err := repo.SaveRun(ctx, award.Run{ID: "r1", Window: season}); err != nil {
		t.Fatalf("SaveRun(r1): %v", err)
	}
	if err := repo.SaveRun(ctx, award.Run{ID: "r2", Window: season}); err != nil {
		t.Fatalf("SaveRun(r2): %v", err)
	}

	latest, found, err := repo.GetLatestByWindow(ctx, season.Key())
	if err != nil || !found {
		t.Fatalf("GetLatestByWindow: found=%v err=%v", found, err)
	}
	if latest.ID != "r2" {
		t.Fatalf("latest season run = %s, want r2", latest.ID)
	}
}

func TestRunRepository_MissesPassThrough(t *testing.T) {
	ctx := context.Background()
	counting := &countingRunRepository{next: memory.NewRunRepository()}
	repo := NewRunRepository(counting, basecache.NewStore(time.Minute))

	if _, found, err := repo.GetRun(ctx, "nope"); err != nil || found {
		t.Fatalf("GetRun miss: found=%v err=%v", found, err)
	}
	if counting.getCalls != 1 {
		t.Fatalf("GetRun miss hit the next repository %d times, want 1", counting.getCalls)
	}
}
