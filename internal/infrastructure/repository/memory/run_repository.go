package memory

import (
	"context"
	"sync"

	"github.com/grimfell/raid-awards/internal/domain/award"
)

// RunRepository keeps completed award runs in memory, newest last.
type RunRepository struct {
	mu   sync.RWMutex
	runs []award.Run
}

func NewRunRepository() *RunRepository {
	return &RunRepository{}
}

func (r *RunRepository) SaveRun(_ context.Context, run award.Run) error {
	r.mu.Lock()
	r.runs = append(r.runs, run)
	r.mu.Unlock()
	return nil
}

func (r *RunRepository) GetRun(_ context.Context, runID string) (award.Run, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, run := range r.runs {
		if run.ID == runID {
			return run, true, nil
		}
	}
	return award.Run{}, false, nil
}

func (r *RunRepository) GetLatestByWindow(_ context.Context, windowKey string) (award.Run, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].Window.Key() == windowKey {
			return r.runs[i], true, nil
		}
	}
	return award.Run{}, false, nil
}
