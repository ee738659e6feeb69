package memory

import (
	"context"
	"sync"

	"github.com/grimfell/raid-awards/internal/domain/encounter"
)

// BatchRepository holds the current fight batch in memory. Ingestion
// replaces it wholesale; reads get copies so the stored fights stay
// immutable.
type BatchRepository struct {
	mu     sync.RWMutex
	fights []encounter.Fight
}

func NewBatchRepository(fights []encounter.Fight) *BatchRepository {
	return &BatchRepository{fights: fights}
}

func (r *BatchRepository) ReplaceBatch(_ context.Context, fights []encounter.Fight) error {
	replacement := make([]encounter.Fight, len(fights))
	copy(replacement, fights)

	r.mu.Lock()
	r.fights = replacement
	r.mu.Unlock()
	return nil
}

func (r *BatchRepository) ListFights(_ context.Context) ([]encounter.Fight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]encounter.Fight, len(r.fights))
	copy(out, r.fights)
	return out, nil
}
