package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/grimfell/raid-awards/internal/domain/award"
)

type awardRunTableModel struct {
	ID          string       `db:"id"`
	WindowKind  string       `db:"window_kind"`
	WindowNight sql.NullTime `db:"window_night"`
	WindowKey   string       `db:"window_key"`
	ComputedAt  time.Time    `db:"computed_at"`
	Diagnostics []byte       `db:"diagnostics"`
	CreatedAt   time.Time    `db:"created_at"`
}

type awardRunInsertModel struct {
	ID          string       `db:"id"`
	WindowKind  string       `db:"window_kind"`
	WindowNight sql.NullTime `db:"window_night"`
	WindowKey   string       `db:"window_key"`
	ComputedAt  time.Time    `db:"computed_at"`
	Diagnostics []byte       `db:"diagnostics"`
}

type awardEntryTableModel struct {
	ID         int64   `db:"id"`
	RunID      string  `db:"run_id"`
	Category   string  `db:"category"`
	PlayerID   string  `db:"player_id"`
	Score      float64 `db:"score"`
	FightCount int     `db:"fight_count"`
	Rank       int     `db:"rank"`
}

type awardEntryInsertModel struct {
	RunID      string  `db:"run_id"`
	Category   string  `db:"category"`
	PlayerID   string  `db:"player_id"`
	Score      float64 `db:"score"`
	FightCount int     `db:"fight_count"`
	Rank       int     `db:"rank"`
}

// diagnosticJSON is the JSONB shape diagnostics are stored in.
type diagnosticJSON struct {
	Severity string `json:"severity"`
	Stage    string `json:"stage"`
	FightID  string `json:"fight_id,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

func marshalDiagnostics(diagnostics []award.Diagnostic) ([]byte, error) {
	rows := make([]diagnosticJSON, 0, len(diagnostics))
	for _, d := range diagnostics {
		rows = append(rows, diagnosticJSON{
			Severity: d.Severity,
			Stage:    d.Stage,
			FightID:  d.FightID,
			PlayerID: d.PlayerID,
			Category: string(d.Category),
			Message:  d.Message,
		})
	}
	payload, err := sonic.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal diagnostics: %w", err)
	}
	return payload, nil
}

func unmarshalDiagnostics(payload []byte) ([]award.Diagnostic, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var rows []diagnosticJSON
	if err := sonic.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
	}
	out := make([]award.Diagnostic, 0, len(rows))
	for _, row := range rows {
		out = append(out, award.Diagnostic{
			Severity: row.Severity,
			Stage:    row.Stage,
			FightID:  row.FightID,
			PlayerID: row.PlayerID,
			Category: award.Category(row.Category),
			Message:  row.Message,
		})
	}
	return out, nil
}

func windowFromRow(row awardRunTableModel) award.Window {
	if row.WindowKind == string(award.WindowNight) && row.WindowNight.Valid {
		return award.NightWindow(row.WindowNight.Time)
	}
	return award.SeasonWindow()
}

func windowToColumns(window award.Window) (string, sql.NullTime) {
	if window.Kind == award.WindowNight {
		return string(award.WindowNight), sql.NullTime{Time: window.Night, Valid: true}
	}
	return string(award.WindowSeason), sql.NullTime{}
}
