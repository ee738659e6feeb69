package award

import "context"

// RunRepository stores completed pipeline runs. Only computed results
// are persisted; raw fetched fight data never is.
type RunRepository interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, bool, error)
	GetLatestByWindow(ctx context.Context, windowKey string) (Run, bool, error)
}
