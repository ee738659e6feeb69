package encounter

import "context"

// BatchRepository holds the ingested fight batch the pipeline scores.
// The batch is replaced wholesale on each ingestion; fights are never
// mutated in place.
type BatchRepository interface {
	ReplaceBatch(ctx context.Context, fights []Fight) error
	ListFights(ctx context.Context) ([]Fight, error)
}
