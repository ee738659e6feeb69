package usecase

import (
	"context"
	"fmt"
	"math"

	"github.com/grimfell/raid-awards/internal/domain/award"
)

// SignificanceService gates category candidates on sample size and
// flags statistical outliers. Outliers are excluded only when their own
// per-fight distribution says the extreme came from a broken
// measurement; a consistently extreme performer is kept and noted.
type SignificanceService struct{}

func NewSignificanceService() *SignificanceService {
	return &SignificanceService{}
}

// Filter returns the entries eligible for ranking. fightScores is the
// candidate pool's per-fight score list for the same category.
func (s *SignificanceService) Filter(ctx context.Context, category award.Category, entries []award.Entry, fightScores []FightScore, cfg PipelineConfig) ([]award.Entry, []award.Diagnostic) {
	_, span := startUsecaseSpan(ctx, "usecase.SignificanceService.Filter")
	defer span.End()

	cfg = normalizeConfig(cfg)

	var diagnostics []award.Diagnostic
	sampled := make([]award.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.FightCount < cfg.MinSampleSize {
			diagnostics = append(diagnostics, award.Diagnostic{
				Severity: award.SeverityInfo,
				Stage:    "significance",
				PlayerID: entry.PlayerID,
				Category: category,
				Message:  fmt.Sprintf("insufficient sample: %d qualifying fights, need %d", entry.FightCount, cfg.MinSampleSize),
			})
			continue
		}
		sampled = append(sampled, entry)
	}

	// Outlier stats run over the sample-gated pool: entries below the
	// sample floor carry too few fights to anchor the distribution.
	mean, stddev := meanStddev(sampled)
	if stddev == 0 {
		return sampled, diagnostics
	}

	scoresByPlayer := make(map[string][]float64)
	for _, fs := range fightScores {
		scoresByPlayer[fs.PlayerID] = append(scoresByPlayer[fs.PlayerID], fs.Score)
	}

	kept := make([]award.Entry, 0, len(sampled))
	for _, entry := range sampled {
		z := (entry.Score - mean) / stddev
		if math.Abs(z) <= cfg.ConfidenceZThreshold {
			kept = append(kept, entry)
			continue
		}

		if isMeasurementArtifact(scoresByPlayer[entry.PlayerID], cfg.ArtifactSpreadRatio) {
			diagnostics = append(diagnostics, award.Diagnostic{
				Severity: award.SeverityWarning,
				Stage:    "significance",
				PlayerID: entry.PlayerID,
				Category: category,
				Message:  fmt.Sprintf("outlier excluded as measurement artifact: z=%.2f, per-fight spread exceeds ratio %.0f", z, cfg.ArtifactSpreadRatio),
			})
			continue
		}

		diagnostics = append(diagnostics, award.Diagnostic{
			Severity: award.SeverityInfo,
			Stage:    "significance",
			PlayerID: entry.PlayerID,
			Category: category,
			Message:  fmt.Sprintf("outlier retained as consistent performance: z=%.2f", z),
		})
		kept = append(kept, entry)
	}

	return kept, diagnostics
}

// isMeasurementArtifact reports whether one player's per-fight scores
// are too internally inconsistent to trust: the best single fight
// dwarfs the median fight by more than spreadRatio. A sustained extreme
// has a high median too and passes.
func isMeasurementArtifact(fightScores []float64, spreadRatio float64) bool {
	if len(fightScores) < 2 {
		return false
	}

	maxAbs := 0.0
	abs := make([]float64, 0, len(fightScores))
	for _, score := range fightScores {
		v := math.Abs(score)
		abs = append(abs, v)
		if v > maxAbs {
			maxAbs = v
		}
	}

	med := median(abs)
	return maxAbs > med*spreadRatio
}

func meanStddev(entries []award.Entry) (float64, float64) {
	if len(entries) == 0 {
		return 0, 0
	}

	total := 0.0
	for _, entry := range entries {
		total += entry.Score
	}
	mean := total / float64(len(entries))

	variance := 0.0
	for _, entry := range entries {
		delta := entry.Score - mean
		variance += delta * delta
	}
	variance /= float64(len(entries))

	return mean, math.Sqrt(variance)
}
