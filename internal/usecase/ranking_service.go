package usecase

import (
	"context"
	"sort"

	"github.com/grimfell/raid-awards/internal/domain/award"
)

// RankingService folds per-fight category scores into window aggregates
// and produces the final ranked result for one category.
type RankingService struct{}

func NewRankingService() *RankingService {
	return &RankingService{}
}

// AggregateEntries groups one category's fight scores by player and
// folds them per the category's aggregation kind. Entries come back
// ordered by player id; ranking happens separately after the
// significance filter.
func (s *RankingService) AggregateEntries(spec award.Spec, fightScores []FightScore, participation map[string]int) []award.Entry {
	scoresByPlayer := make(map[string][]float64)
	for _, fs := range fightScores {
		scoresByPlayer[fs.PlayerID] = append(scoresByPlayer[fs.PlayerID], fs.Score)
	}

	entries := make([]award.Entry, 0, len(scoresByPlayer))
	for playerID, scores := range scoresByPlayer {
		entries = append(entries, award.Entry{
			PlayerID:   playerID,
			Score:      award.Aggregate(spec.Aggregation, scores, participation[playerID]),
			FightCount: len(scores),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PlayerID < entries[j].PlayerID })
	return entries
}

// Rank orders the filtered entries per the category direction and
// assigns ranks. An empty candidate pool yields an empty result, which
// is an expected output, not an error.
func (s *RankingService) Rank(ctx context.Context, spec award.Spec, window award.Window, entries []award.Entry) award.Result {
	_, span := startUsecaseSpan(ctx, "usecase.RankingService.Rank")
	defer span.End()

	return award.Result{
		Category: spec.Category,
		Window:   window,
		Entries:  award.RankEntries(entries, spec.Direction),
	}
}
