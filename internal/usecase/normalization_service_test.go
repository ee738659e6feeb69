package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/domain/encounter"
	"github.com/grimfell/raid-awards/internal/domain/metrics"
	"github.com/grimfell/raid-awards/internal/domain/player"
)

func durationFight(id string, encounterID int64, durationSec int, raidSize int) encounter.Fight {
	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	return encounter.Fight{
		ID:          id,
		EncounterID: encounterID,
		StartedAt:   start,
		EndedAt:     start.Add(time.Duration(durationSec) * time.Second),
		RaidSize:    raidSize,
		Outcome:     encounter.OutcomeWipe,
		Roster:      []encounter.Presence{{PlayerID: "p1", Role: player.RoleDPS}},
	}
}

func TestNormalizeBatch_DurationAndSizeAdjustment(t *testing.T) {
	// Median duration for the encounter is 300s; f2 ran 150s at raid
	// size 10 against a reference of 20.
	fights := []encounter.Fight{
		durationFight("f1", 1, 300, 20),
		durationFight("f2", 1, 150, 10),
		durationFight("f3", 1, 600, 20),
	}
	rows := []metrics.FightMetric{
		{FightID: "f2", PlayerID: "p1", Role: player.RoleDPS, DamageDone: 100000, DistanceTraveled: 400, Deaths: 2},
	}

	service := NewNormalizationService()
	normalized, diags := service.NormalizeBatch(context.Background(), fights, rows, DefaultPipelineConfig())
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	if len(normalized) != 1 {
		t.Fatalf("normalized rows = %d, want 1", len(normalized))
	}

	row := normalized[0]
	if row.FightDurationSec != 300 {
		t.Fatalf("duration frame = %v, want batch median 300", row.FightDurationSec)
	}
	// damage * (300/150) * (20/10)
	if row.DamageDone != 400000 {
		t.Fatalf("damage = %v, want 400000", row.DamageDone)
	}
	// distance gets the duration factor only
	if row.DistanceTraveled != 800 {
		t.Fatalf("distance = %v, want 800", row.DistanceTraveled)
	}
	if row.Deaths != 2 {
		t.Fatalf("deaths = %d, want pass-through 2", row.Deaths)
	}
	if row.EncounterID != 1 || row.RaidSize != 10 {
		t.Fatalf("fight attributes not carried: %+v", row)
	}
}

func TestNormalizeBatch_ConfiguredBaseDuration(t *testing.T) {
	fights := []encounter.Fight{durationFight("f1", 1, 120, 20)}
	rows := []metrics.FightMetric{{FightID: "f1", PlayerID: "p1", Role: player.RoleDPS, DamageDone: 1200}}

	cfg := DefaultPipelineConfig()
	cfg.BaseFightDurationSec = 240

	service := NewNormalizationService()
	normalized, _ := service.NormalizeBatch(context.Background(), fights, rows, cfg)
	if len(normalized) != 1 {
		t.Fatalf("normalized rows = %d, want 1", len(normalized))
	}
	if normalized[0].DamageDone != 2400 || normalized[0].FightDurationSec != 240 {
		t.Fatalf("configured base not applied: %+v", normalized[0])
	}
}

func TestNormalizeBatch_DegenerateFightSkippedSoft(t *testing.T) {
	degenerate := durationFight("f-degen", 1, 300, 20)
	degenerate.EndedAt = degenerate.StartedAt
	fights := []encounter.Fight{
		durationFight("f-ok", 1, 300, 20),
		degenerate,
	}
	rows := []metrics.FightMetric{
		{FightID: "f-ok", PlayerID: "p1", Role: player.RoleDPS, DamageDone: 100},
		{FightID: "f-degen", PlayerID: "p1", Role: player.RoleDPS, DamageDone: 100},
		{FightID: "f-degen", PlayerID: "p2", Role: player.RoleHealer, EffectiveHealing: 50},
	}

	service := NewNormalizationService()
	normalized, diags := service.NormalizeBatch(context.Background(), fights, rows, DefaultPipelineConfig())

	if len(normalized) != 1 || normalized[0].FightID != "f-ok" {
		t.Fatalf("only the valid fight should normalize, got %+v", normalized)
	}
	// One diagnostic per skipped fight, not per row.
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	if diags[0].Severity != award.SeverityWarning || diags[0].Stage != "normalize" || diags[0].FightID != "f-degen" {
		t.Fatalf("unexpected diagnostic: %+v", diags[0])
	}
}

func TestNormalizeBatch_UnknownFightRowDropped(t *testing.T) {
	fights := []encounter.Fight{durationFight("f1", 1, 300, 20)}
	rows := []metrics.FightMetric{{FightID: "ghost", PlayerID: "p1", Role: player.RoleDPS}}

	service := NewNormalizationService()
	normalized, diags := service.NormalizeBatch(context.Background(), fights, rows, DefaultPipelineConfig())
	if len(normalized) != 0 {
		t.Fatalf("normalized = %+v, want none", normalized)
	}
	if len(diags) != 1 || diags[0].FightID != "ghost" {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
}
