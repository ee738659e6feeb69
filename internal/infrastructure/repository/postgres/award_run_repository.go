package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/grimfell/raid-awards/internal/domain/award"
	qb "github.com/grimfell/raid-awards/internal/platform/querybuilder"
)

// AwardRunRepository persists computed award runs. Raw fetched fight
// data never touches the database; only pipeline output does.
type AwardRunRepository struct {
	db *sqlx.DB
}

func NewAwardRunRepository(db *sqlx.DB) *AwardRunRepository {
	return &AwardRunRepository{db: db}
}

func (r *AwardRunRepository) SaveRun(ctx context.Context, run award.Run) error {
	diagnostics, err := marshalDiagnostics(run.Diagnostics)
	if err != nil {
		return err
	}

	windowKind, windowNight := windowToColumns(run.Window)
	runInsert := awardRunInsertModel{
		ID:          run.ID,
		WindowKind:  windowKind,
		WindowNight: windowNight,
		WindowKey:   run.Window.Key(),
		ComputedAt:  run.ComputedAt,
		Diagnostics: diagnostics,
	}

	runQuery, runArgs, err := qb.InsertModel("award_runs", runInsert, "")
	if err != nil {
		return fmt.Errorf("build insert award run query: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save run tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, runQuery, runArgs...); err != nil {
		return fmt.Errorf("insert award run: %w", err)
	}

	for _, result := range run.Results {
		for _, entry := range result.Entries {
			entryInsert := awardEntryInsertModel{
				RunID:      run.ID,
				Category:   string(result.Category),
				PlayerID:   entry.PlayerID,
				Score:      entry.Score,
				FightCount: entry.FightCount,
				Rank:       entry.Rank,
			}
			entryQuery, entryArgs, err := qb.InsertModel("award_entries", entryInsert, "")
			if err != nil {
				return fmt.Errorf("build insert award entry query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, entryQuery, entryArgs...); err != nil {
				return fmt.Errorf("insert award entry: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save run tx: %w", err)
	}
	return nil
}

func (r *AwardRunRepository) GetRun(ctx context.Context, runID string) (award.Run, bool, error) {
	query, args, err := qb.Select("*").
		From("award_runs").
		Where(qb.Eq("id", runID)).
		ToSQL()
	if err != nil {
		return award.Run{}, false, fmt.Errorf("build get run query: %w", err)
	}

	var row awardRunTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return award.Run{}, false, nil
		}
		return award.Run{}, false, fmt.Errorf("get award run: %w", err)
	}

	run, err := r.hydrateRun(ctx, row)
	if err != nil {
		return award.Run{}, false, err
	}
	return run, true, nil
}

func (r *AwardRunRepository) GetLatestByWindow(ctx context.Context, windowKey string) (award.Run, bool, error) {
	query, args, err := qb.Select("*").
		From("award_runs").
		Where(qb.Eq("window_key", windowKey)).
		OrderBy("computed_at DESC", "created_at DESC").
		Limit(1).
		ToSQL()
	if err != nil {
		return award.Run{}, false, fmt.Errorf("build latest run query: %w", err)
	}

	var row awardRunTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return award.Run{}, false, nil
		}
		return award.Run{}, false, fmt.Errorf("get latest award run: %w", err)
	}

	run, err := r.hydrateRun(ctx, row)
	if err != nil {
		return award.Run{}, false, err
	}
	return run, true, nil
}

func (r *AwardRunRepository) hydrateRun(ctx context.Context, row awardRunTableModel) (award.Run, error) {
	diagnostics, err := unmarshalDiagnostics(row.Diagnostics)
	if err != nil {
		return award.Run{}, err
	}

	query, args, err := qb.Select("*").
		From("award_entries").
		Where(qb.Eq("run_id", row.ID)).
		OrderBy("category", "rank").
		ToSQL()
	if err != nil {
		return award.Run{}, fmt.Errorf("build list entries query: %w", err)
	}

	var entryRows []awardEntryTableModel
	if err := r.db.SelectContext(ctx, &entryRows, query, args...); err != nil {
		return award.Run{}, fmt.Errorf("list award entries: %w", err)
	}

	window := windowFromRow(row)
	entriesByCategory := make(map[award.Category][]award.Entry)
	for _, entryRow := range entryRows {
		category := award.Category(entryRow.Category)
		entriesByCategory[category] = append(entriesByCategory[category], award.Entry{
			PlayerID:   entryRow.PlayerID,
			Score:      entryRow.Score,
			FightCount: entryRow.FightCount,
			Rank:       entryRow.Rank,
		})
	}

	// A run always carries one result per catalog category; categories
	// with no surviving candidates come back with empty entries.
	results := make([]award.Result, 0, len(award.Catalog()))
	for _, spec := range award.Catalog() {
		results = append(results, award.Result{
			Category: spec.Category,
			Window:   window,
			Entries:  entriesByCategory[spec.Category],
		})
	}

	return award.Run{
		ID:          row.ID,
		Window:      window,
		ComputedAt:  row.ComputedAt,
		Results:     results,
		Diagnostics: diagnostics,
	}, nil
}
