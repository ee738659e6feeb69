package cache

import (
	"context"

	"github.com/grimfell/raid-awards/internal/domain/award"
	basecache "github.com/grimfell/raid-awards/internal/platform/cache"
)

// RunRepository decorates a RunRepository with read-through caching.
// Saves write through to the next repository and refresh both lookup
// keys, so reads after a save never serve a stale run.
type RunRepository struct {
	next  award.RunRepository
	cache *basecache.Store
}

func NewRunRepository(next award.RunRepository, cache *basecache.Store) *RunRepository {
	return &RunRepository{next: next, cache: cache}
}

func (r *RunRepository) SaveRun(ctx context.Context, run award.Run) error {
	if err := r.next.SaveRun(ctx, run); err != nil {
		return err
	}

	cached := cachedRun{value: run, exists: true}
	r.cache.Set(ctx, runIDKey(run.ID), cached)
	r.cache.Set(ctx, runWindowKey(run.Window.Key()), cached)
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, runID string) (award.Run, bool, error) {
	v, err := r.cache.GetOrLoad(ctx, runIDKey(runID), func(ctx context.Context) (any, error) {
		run, exists, err := r.next.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		return cachedRun{value: run, exists: exists}, nil
	})
	if err != nil {
		return award.Run{}, false, err
	}

	cached, _ := v.(cachedRun)
	return cached.value, cached.exists, nil
}

func (r *RunRepository) GetLatestByWindow(ctx context.Context, windowKey string) (award.Run, bool, error) {
	v, err := r.cache.GetOrLoad(ctx, runWindowKey(windowKey), func(ctx context.Context) (any, error) {
		run, exists, err := r.next.GetLatestByWindow(ctx, windowKey)
		if err != nil {
			return nil, err
		}
		return cachedRun{value: run, exists: exists}, nil
	})
	if err != nil {
		return award.Run{}, false, err
	}

	cached, _ := v.(cachedRun)
	return cached.value, cached.exists, nil
}

type cachedRun struct {
	value  award.Run
	exists bool
}

func runIDKey(runID string) string {
	return "award-run:id:" + runID
}

func runWindowKey(windowKey string) string {
	return "award-run:window:" + windowKey
}
