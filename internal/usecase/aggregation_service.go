package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/domain/encounter"
	"github.com/grimfell/raid-awards/internal/domain/metrics"
)

const defaultAggregationWorkers = 8

// AggregationService reduces each fight's event sequence into one
// FightMetric row per participating player. Fights are independent, so
// the reduction fans out across a worker pool; a malformed event aborts
// its own fight only and surfaces as a run diagnostic.
type AggregationService struct {
	maxWorkers int
}

func NewAggregationService(maxWorkers int) *AggregationService {
	if maxWorkers < 1 {
		maxWorkers = defaultAggregationWorkers
	}
	return &AggregationService{maxWorkers: maxWorkers}
}

type fightAggregate struct {
	fightID     string
	rows        []metrics.FightMetric
	diagnostics []award.Diagnostic
}

// AggregateBatch runs the per-fight reduction over every fight in the
// batch. Output row order is deterministic: fights by id, rows by
// player id within a fight.
func (s *AggregationService) AggregateBatch(ctx context.Context, fights []encounter.Fight) ([]metrics.FightMetric, []award.Diagnostic, error) {
	_, span := startUsecaseSpan(ctx, "usecase.AggregationService.AggregateBatch")
	defer span.End()

	if len(fights) == 0 {
		return nil, nil, nil
	}

	workerCount := s.maxWorkers
	if workerCount > len(fights) {
		workerCount = len(fights)
	}

	pool, err := ants.NewPool(workerCount)
	if err != nil {
		return nil, nil, fmt.Errorf("create aggregation worker pool: %w", err)
	}
	defer pool.Release()

	results := make(chan fightAggregate, len(fights))

	var workers sync.WaitGroup
	for _, fight := range fights {
		fight := fight
		workers.Add(1)
		if err := pool.Submit(func() {
			defer workers.Done()
			rows, diags := aggregateFight(fight)
			results <- fightAggregate{fightID: fight.ID, rows: rows, diagnostics: diags}
		}); err != nil {
			workers.Done()
			return nil, nil, fmt.Errorf("submit fight to aggregation pool: %w", err)
		}
	}

	workers.Wait()
	close(results)

	aggregates := make([]fightAggregate, 0, len(fights))
	for agg := range results {
		aggregates = append(aggregates, agg)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		return aggregates[i].fightID < aggregates[j].fightID
	})

	var rows []metrics.FightMetric
	var diagnostics []award.Diagnostic
	for _, agg := range aggregates {
		rows = append(rows, agg.rows...)
		diagnostics = append(diagnostics, agg.diagnostics...)
	}
	return rows, diagnostics, nil
}

// aggregateFight is a single pass over one fight's events. Any
// malformed event voids the whole fight: no rows, one warning.
func aggregateFight(fight encounter.Fight) ([]metrics.FightMetric, []award.Diagnostic) {
	roster := fight.RosterIndex()
	byPlayer := make(map[string]*metrics.FightMetric)

	for idx, event := range fight.Events {
		if err := event.Validate(); err != nil {
			return nil, []award.Diagnostic{{
				Severity: award.SeverityWarning,
				Stage:    "aggregate",
				FightID:  fight.ID,
				PlayerID: event.SourceID,
				Message:  fmt.Sprintf("malformed event at index %d: %v; fight excluded", idx, err),
			}}
		}
		role, onRoster := roster[event.SourceID]
		if !onRoster {
			return nil, []award.Diagnostic{{
				Severity: award.SeverityWarning,
				Stage:    "aggregate",
				FightID:  fight.ID,
				PlayerID: event.SourceID,
				Message:  fmt.Sprintf("malformed event at index %d: source player not on roster; fight excluded", idx),
			}}
		}

		row, ok := byPlayer[event.SourceID]
		if !ok {
			row = &metrics.FightMetric{
				FightID:       fight.ID,
				PlayerID:      event.SourceID,
				Role:          role,
				DeathsByCause: make(map[string]int),
			}
			byPlayer[event.SourceID] = row
		}
		applyEvent(row, event)
	}

	rows := make([]metrics.FightMetric, 0, len(byPlayer))
	for _, row := range byPlayer {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PlayerID < rows[j].PlayerID })
	return rows, nil
}

func applyEvent(row *metrics.FightMetric, event encounter.Event) {
	switch event.Type {
	case encounter.EventDamageDone:
		row.DamageDone += *event.Magnitude
	case encounter.EventHealingDone:
		row.EffectiveHealing += *event.Magnitude
	case encounter.EventOverhealing:
		row.Overhealing += *event.Magnitude
	case encounter.EventAbsorb:
		row.Absorbs += *event.Magnitude
	case encounter.EventDamageMitigated:
		row.DamageMitigated += *event.Magnitude
	case encounter.EventMovement:
		row.DistanceTraveled += *event.Magnitude
	case encounter.EventActiveMitigation:
		row.ActiveMitigationEvents++
	case encounter.EventTankBusterSurvived:
		row.TankBusterSurvivals++
	case encounter.EventDeath:
		row.Deaths++
		if event.Tag != "" {
			row.DeathsByCause[event.Tag]++
		}
		if event.FirstSeen && !row.HasFirstMechanicDeath {
			row.FirstMechanicDeathSec = float64(event.OffsetMS) / 1000
			row.HasFirstMechanicDeath = true
		}
	case encounter.EventInterrupt:
		// A critical interrupt counts in both the base and the critical
		// counter; the category formula weights them separately.
		row.InterruptsSucceeded++
		row.InterruptOpportunities++
		if event.Critical {
			row.CriticalInterrupts++
		}
	case encounter.EventInterruptMissed:
		row.InterruptOpportunities++
	case encounter.EventDispel:
		row.DispelsSucceeded++
		if event.Critical {
			row.CriticalDispels++
		}
	case encounter.EventResurrection:
		row.Resurrections++
	case encounter.EventConsumable:
		row.ConsumablesUsed++
	case encounter.EventSoleSurvivor:
		row.SoleSurvivor = true
	}
}
