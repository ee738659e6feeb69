package player

import "context"

// Repository resolves the guild roster backing a log batch.
type Repository interface {
	List(ctx context.Context) ([]Player, error)
	GetByIDs(ctx context.Context, playerIDs []string) ([]Player, error)
}
