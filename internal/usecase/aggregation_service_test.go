package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/domain/encounter"
	"github.com/grimfell/raid-awards/internal/domain/player"
)

func magnitude(v float64) *float64 {
	return &v
}

func testFight(id string, events ...encounter.Event) encounter.Fight {
	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	return encounter.Fight{
		ID:          id,
		EncounterID: 3009,
		StartedAt:   start,
		EndedAt:     start.Add(5 * time.Minute),
		RaidSize:    20,
		Outcome:     encounter.OutcomeKill,
		Roster: []encounter.Presence{
			{PlayerID: "p1", Role: player.RoleDPS},
			{PlayerID: "p2", Role: player.RoleHealer},
			{PlayerID: "p3", Role: player.RoleTank},
		},
		Events: events,
	}
}

func TestAggregateBatch_SinglePassCounters(t *testing.T) {
	fight := testFight("f1",
		encounter.Event{Type: encounter.EventDamageDone, SourceID: "p1", Magnitude: magnitude(1500)},
		encounter.Event{Type: encounter.EventDamageDone, SourceID: "p1", Magnitude: magnitude(500)},
		encounter.Event{Type: encounter.EventHealingDone, SourceID: "p2", Magnitude: magnitude(900)},
		encounter.Event{Type: encounter.EventInterrupt, SourceID: "p1", Critical: true},
		encounter.Event{Type: encounter.EventInterruptMissed, SourceID: "p1"},
		encounter.Event{Type: encounter.EventDispel, SourceID: "p2", Critical: true},
		encounter.Event{Type: encounter.EventDeath, SourceID: "p3", Tag: encounter.DeathCauseFire},
		encounter.Event{Type: encounter.EventDeath, SourceID: "p3", Tag: encounter.DeathCauseMechanic, FirstSeen: true, OffsetMS: 42500},
		encounter.Event{Type: encounter.EventSoleSurvivor, SourceID: "p1"},
	)

	service := NewAggregationService(4)
	rows, diags, err := service.AggregateBatch(context.Background(), []encounter.Fight{fight})
	if err != nil {
		t.Fatalf("AggregateBatch error: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	p1 := rows[0]
	if p1.PlayerID != "p1" || p1.Role != player.RoleDPS {
		t.Fatalf("unexpected first row: %+v", p1)
	}
	if p1.DamageDone != 2000 {
		t.Fatalf("p1 damage = %v, want 2000", p1.DamageDone)
	}
	// A critical interrupt folds into the base counter too.
	if p1.InterruptsSucceeded != 1 || p1.CriticalInterrupts != 1 || p1.InterruptOpportunities != 2 {
		t.Fatalf("p1 interrupts = %d/%d over %d, want 1/1 over 2",
			p1.InterruptsSucceeded, p1.CriticalInterrupts, p1.InterruptOpportunities)
	}
	if !p1.SoleSurvivor {
		t.Fatal("p1 should carry the sole-survivor flag")
	}

	p2 := rows[1]
	if p2.EffectiveHealing != 900 || p2.DispelsSucceeded != 1 || p2.CriticalDispels != 1 {
		t.Fatalf("unexpected p2 counters: %+v", p2)
	}

	p3 := rows[2]
	if p3.Deaths != 2 || p3.DeathsByCause[encounter.DeathCauseFire] != 1 {
		t.Fatalf("unexpected p3 deaths: %+v", p3)
	}
	if !p3.HasFirstMechanicDeath || p3.FirstMechanicDeathSec != 42.5 {
		t.Fatalf("p3 first mechanic death = %v (has=%v), want 42.5", p3.FirstMechanicDeathSec, p3.HasFirstMechanicDeath)
	}
}

func TestAggregateBatch_MalformedEventExcludesFightOnly(t *testing.T) {
	good := testFight("f-good",
		encounter.Event{Type: encounter.EventDamageDone, SourceID: "p1", Magnitude: magnitude(100)},
	)
	// Death events never carry a magnitude.
	bad := testFight("f-bad",
		encounter.Event{Type: encounter.EventDamageDone, SourceID: "p1", Magnitude: magnitude(100)},
		encounter.Event{Type: encounter.EventDeath, SourceID: "p2", Magnitude: magnitude(5)},
	)

	service := NewAggregationService(2)
	rows, diags, err := service.AggregateBatch(context.Background(), []encounter.Fight{good, bad})
	if err != nil {
		t.Fatalf("AggregateBatch error: %v", err)
	}

	if len(rows) != 1 || rows[0].FightID != "f-good" {
		t.Fatalf("only the good fight should produce rows, got %+v", rows)
	}
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	if diags[0].Severity != award.SeverityWarning || diags[0].FightID != "f-bad" || diags[0].Stage != "aggregate" {
		t.Fatalf("unexpected diagnostic: %+v", diags[0])
	}
}

func TestAggregateBatch_OffRosterSourceExcludesFight(t *testing.T) {
	fight := testFight("f1",
		encounter.Event{Type: encounter.EventDamageDone, SourceID: "stranger", Magnitude: magnitude(100)},
	)

	service := NewAggregationService(1)
	rows, diags, err := service.AggregateBatch(context.Background(), []encounter.Fight{fight})
	if err != nil {
		t.Fatalf("AggregateBatch error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
	if len(diags) != 1 || diags[0].PlayerID != "stranger" {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
}

func TestAggregateBatch_NoEventsNoRow(t *testing.T) {
	// p2 and p3 never act: absence, not a zero row.
	fight := testFight("f1",
		encounter.Event{Type: encounter.EventConsumable, SourceID: "p1"},
	)

	service := NewAggregationService(1)
	rows, _, err := service.AggregateBatch(context.Background(), []encounter.Fight{fight})
	if err != nil {
		t.Fatalf("AggregateBatch error: %v", err)
	}
	if len(rows) != 1 || rows[0].PlayerID != "p1" || rows[0].ConsumablesUsed != 1 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
