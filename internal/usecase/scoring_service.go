package usecase

import (
	"context"

	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/domain/metrics"
)

// FightScore is one (player, fight, category) score produced by the
// award formulas. Ephemeral; recomputed on every run.
type FightScore struct {
	Category award.Category
	FightID  string
	PlayerID string
	Score    float64
}

// ScoredBatch is the scorer output for one window: per-category fight
// scores plus the participation count every per-participation formula
// divides by.
type ScoredBatch struct {
	Scores map[award.Category][]FightScore
	// Participation counts fights a player has a metric row in,
	// qualifying for a given category or not.
	Participation map[string]int
}

// ScoringService applies every catalog formula to every normalized row.
// Formulas read only normalized metrics, never raw counters, so the
// duration and raid-size bias is already gone when they run.
type ScoringService struct{}

func NewScoringService() *ScoringService {
	return &ScoringService{}
}

func (s *ScoringService) ScoreBatch(ctx context.Context, normalized []metrics.Normalized, cfg PipelineConfig) ScoredBatch {
	_, span := startUsecaseSpan(ctx, "usecase.ScoringService.ScoreBatch")
	defer span.End()

	cfg = normalizeConfig(cfg)

	contexts := fightContexts(normalized, cfg)
	out := ScoredBatch{
		Scores:        make(map[award.Category][]FightScore),
		Participation: make(map[string]int),
	}

	seenFight := make(map[string]map[string]struct{})
	for _, row := range normalized {
		if _, ok := seenFight[row.PlayerID]; !ok {
			seenFight[row.PlayerID] = make(map[string]struct{})
		}
		if _, ok := seenFight[row.PlayerID][row.FightID]; !ok {
			seenFight[row.PlayerID][row.FightID] = struct{}{}
			out.Participation[row.PlayerID]++
		}

		fctx := contexts[row.FightID]
		for _, spec := range award.Catalog() {
			score, eligible := award.ScoreFight(spec, row, fctx)
			if !eligible {
				continue
			}
			out.Scores[spec.Category] = append(out.Scores[spec.Category], FightScore{
				Category: spec.Category,
				FightID:  row.FightID,
				PlayerID: row.PlayerID,
				Score:    score,
			})
		}
	}

	return out
}

// fightContexts precomputes the per-fight aggregates guild-relative
// formulas need, currently the raid's mean normalized DPS.
func fightContexts(normalized []metrics.Normalized, cfg PipelineConfig) map[string]award.FightContext {
	type dpsAccumulator struct {
		total float64
		count int
	}

	perFight := make(map[string]*dpsAccumulator)
	for _, row := range normalized {
		if row.FightDurationSec <= 0 {
			continue
		}
		acc, ok := perFight[row.FightID]
		if !ok {
			acc = &dpsAccumulator{}
			perFight[row.FightID] = acc
		}
		acc.total += row.DamageDone / row.FightDurationSec
		acc.count++
	}

	out := make(map[string]award.FightContext, len(perFight))
	for fightID, acc := range perFight {
		fctx := award.FightContext{RoleWeights: cfg.RoleWeights}
		if acc.count > 0 {
			fctx.RaidAverageDPS = acc.total / float64(acc.count)
		}
		out[fightID] = fctx
	}
	return out
}
