package usecase

import (
	"context"
	"sort"

	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/domain/encounter"
	"github.com/grimfell/raid-awards/internal/domain/metrics"
)

// NormalizationService rescales raw fight metrics into a comparable
// frame: volume counters are scaled to a reference duration, and
// raid-size-dependent throughput gets a size coefficient. Per-individual
// counters pass through untouched. Degenerate fights are skipped soft,
// never fatal to the batch.
type NormalizationService struct{}

func NewNormalizationService() *NormalizationService {
	return &NormalizationService{}
}

func (s *NormalizationService) NormalizeBatch(ctx context.Context, fights []encounter.Fight, rows []metrics.FightMetric, cfg PipelineConfig) ([]metrics.Normalized, []award.Diagnostic) {
	_, span := startUsecaseSpan(ctx, "usecase.NormalizationService.NormalizeBatch")
	defer span.End()

	cfg = normalizeConfig(cfg)

	fightByID := make(map[string]encounter.Fight, len(fights))
	for _, fight := range fights {
		fightByID[fight.ID] = fight
	}
	baseByEncounter := baseDurations(fights, cfg.BaseFightDurationSec)

	var out []metrics.Normalized
	var diagnostics []award.Diagnostic
	skippedFights := make(map[string]struct{})

	for _, row := range rows {
		fight, ok := fightByID[row.FightID]
		if !ok {
			diagnostics = append(diagnostics, award.Diagnostic{
				Severity: award.SeverityWarning,
				Stage:    "normalize",
				FightID:  row.FightID,
				PlayerID: row.PlayerID,
				Message:  "metric row references an unknown fight; row dropped",
			})
			continue
		}
		if fight.Degenerate() {
			if _, seen := skippedFights[fight.ID]; !seen {
				skippedFights[fight.ID] = struct{}{}
				diagnostics = append(diagnostics, award.Diagnostic{
					Severity: award.SeverityWarning,
					Stage:    "normalize",
					FightID:  fight.ID,
					Message:  "degenerate fight skipped: zero duration or raid size",
				})
			}
			continue
		}

		base := baseByEncounter[fight.EncounterID]
		if base <= 0 {
			base = fight.DurationSeconds()
		}
		durationFactor := base / fight.DurationSeconds()
		sizeCoefficient := float64(cfg.ReferenceRaidSize) / float64(fight.RaidSize)

		out = append(out, normalizeRow(row, fight, base, durationFactor, sizeCoefficient))
	}

	return out, diagnostics
}

// normalizeRow applies the duration factor to every volume counter and
// the size coefficient only to throughput that scales with raid size
// (damage and healing families). Distance is duration-adjusted but not
// size-adjusted; it is a per-individual volume.
func normalizeRow(row metrics.FightMetric, fight encounter.Fight, base, durationFactor, sizeCoefficient float64) metrics.Normalized {
	return metrics.Normalized{
		FightID:     row.FightID,
		PlayerID:    row.PlayerID,
		EncounterID: fight.EncounterID,
		Role:        row.Role,

		// FightDurationSec is the frame the volume metrics now live in;
		// rate formulas divide by it, not by the wall-clock duration.
		FightDurationSec: base,
		RaidSize:         fight.RaidSize,

		DamageDone:       row.DamageDone * durationFactor * sizeCoefficient,
		EffectiveHealing: row.EffectiveHealing * durationFactor * sizeCoefficient,
		Overhealing:      row.Overhealing * durationFactor * sizeCoefficient,
		Absorbs:          row.Absorbs * durationFactor * sizeCoefficient,
		DamageMitigated:  row.DamageMitigated * durationFactor * sizeCoefficient,
		DistanceTraveled: row.DistanceTraveled * durationFactor,

		ActiveMitigationEvents: row.ActiveMitigationEvents,
		TankBusterSurvivals:    row.TankBusterSurvivals,
		InterruptsSucceeded:    row.InterruptsSucceeded,
		CriticalInterrupts:     row.CriticalInterrupts,
		InterruptOpportunities: row.InterruptOpportunities,
		DispelsSucceeded:       row.DispelsSucceeded,
		CriticalDispels:        row.CriticalDispels,
		Resurrections:          row.Resurrections,
		ConsumablesUsed:        row.ConsumablesUsed,
		Deaths:                 row.Deaths,

		DeathsByCause: row.DeathsByCause,

		SoleSurvivor:          row.SoleSurvivor,
		FirstMechanicDeathSec: row.FirstMechanicDeathSec,
		HasFirstMechanicDeath: row.HasFirstMechanicDeath,
	}
}

// baseDurations resolves the reference duration per encounter: the
// configured constant when set, otherwise the median duration of that
// encounter's non-degenerate fights in the batch.
func baseDurations(fights []encounter.Fight, configured float64) map[int64]float64 {
	out := make(map[int64]float64)
	if configured > 0 {
		for _, fight := range fights {
			out[fight.EncounterID] = configured
		}
		return out
	}

	durations := make(map[int64][]float64)
	for _, fight := range fights {
		if fight.Degenerate() {
			continue
		}
		durations[fight.EncounterID] = append(durations[fight.EncounterID], fight.DurationSeconds())
	}
	for encounterID, values := range durations {
		out[encounterID] = median(values)
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
