package award

import (
	"sort"

	"github.com/grimfell/raid-awards/internal/domain/encounter"
	"github.com/grimfell/raid-awards/internal/domain/metrics"
	"github.com/grimfell/raid-awards/internal/domain/player"
)

// Per-category formula weights. Exact arithmetic, shared with tests.
const (
	overhealingPenalty       = 0.5
	activeMitigationWeight   = 2.0
	tankBusterSurvivalWeight = 3.0
	dispelWeight             = 1.5
	criticalDispelWeight     = 3.0
	interruptWeight          = 2.0
	criticalInterruptWeight  = 3.0
	fireDeathWeight          = 2.0
	voidDeathWeight          = 2.0
	mechanicDeathWeight      = 3.0
	fallDeathWeight          = 1.0
	chattingDeathWeight      = 1.0
	soleSurvivorScore        = 1.0
	resurrectionScore        = 1.0
	consumableScore          = 1.0
)

// DefaultRoleWeights is the cross-role comparison coefficient table.
func DefaultRoleWeights() map[player.Role]float64 {
	return map[player.Role]float64{
		player.RoleTank:   1.2,
		player.RoleHealer: 1.0,
		player.RoleDPS:    0.8,
	}
}

// FightContext carries fight-level aggregates that guild-relative
// formulas need beyond a single player's metrics.
type FightContext struct {
	// RaidAverageDPS is the mean normalized damage-per-second across
	// the raid for this fight; zero when the fight had no damage.
	RaidAverageDPS float64
	// RoleWeights applies only to categories with RoleWeighted set.
	RoleWeights map[player.Role]float64
}

// ScoreFight applies one category's formula to a player's normalized
// metrics for one fight. The second return is false when the player is
// ineligible for the category in this fight (wrong role, guarded
// division, no qualifying event); ineligible fights produce no score
// entry at all rather than a zero.
func ScoreFight(spec Spec, n metrics.Normalized, fctx FightContext) (float64, bool) {
	if spec.RoleScope != "" && n.Role != spec.RoleScope {
		return 0, false
	}
	if n.FightDurationSec <= 0 {
		return 0, false
	}

	score, ok := rawFightScore(spec.Category, n, fctx)
	if !ok {
		return 0, false
	}

	if spec.RoleWeighted && spec.RoleScope == "" {
		weights := fctx.RoleWeights
		if weights == nil {
			weights = DefaultRoleWeights()
		}
		if weight, exists := weights[n.Role]; exists && weight > 0 {
			score *= weight
		}
	}

	return score, true
}

func rawFightScore(category Category, n metrics.Normalized, fctx FightContext) (float64, bool) {
	switch category {
	case CategoryDamageDealerSupreme:
		score := n.DamageDone / n.FightDurationSec
		if fctx.RaidAverageDPS > 0 {
			score /= fctx.RaidAverageDPS
		}
		return score, true

	case CategoryHealingVirtuoso:
		return (n.EffectiveHealing + n.Absorbs - n.Overhealing*overhealingPenalty) / n.FightDurationSec, true

	case CategoryTankTitan:
		numerator := n.DamageMitigated +
			float64(n.ActiveMitigationEvents)*activeMitigationWeight +
			float64(n.TankBusterSurvivals)*tankBusterSurvivalWeight
		return numerator / n.FightDurationSec, true

	case CategoryDispelChampion:
		if n.DispelsSucceeded == 0 && n.CriticalDispels == 0 {
			return 0, false
		}
		return float64(n.DispelsSucceeded)*dispelWeight + float64(n.CriticalDispels)*criticalDispelWeight, true

	case CategoryInterruptSpecialist:
		// Guarded division: no opportunities means no entry, never a
		// zero-score row.
		if n.InterruptOpportunities == 0 {
			return 0, false
		}
		numerator := float64(n.InterruptsSucceeded)*interruptWeight + float64(n.CriticalInterrupts)*criticalInterruptWeight
		return numerator / float64(n.InterruptOpportunities), true

	case CategoryFloorInspector:
		fire := n.DeathsWithCause(encounter.DeathCauseFire)
		void := n.DeathsWithCause(encounter.DeathCauseVoid)
		mechanic := n.DeathsWithCause(encounter.DeathCauseMechanic)
		if fire == 0 && void == 0 && mechanic == 0 {
			return 0, false
		}
		return float64(fire)*fireDeathWeight + float64(void)*voidDeathWeight + float64(mechanic)*mechanicDeathWeight, true

	case CategoryGravityChallenger:
		falls := n.DeathsWithCause(encounter.DeathCauseFall)
		if falls == 0 {
			return 0, false
		}
		return float64(falls) * fallDeathWeight, true

	case CategoryBattleResurrector:
		if n.Resurrections == 0 {
			return 0, false
		}
		return float64(n.Resurrections) * resurrectionScore, true

	case CategoryPotionHoarder:
		// Lower is better; ranked ascending.
		return float64(n.ConsumablesUsed) * consumableScore, true

	case CategoryMarathonRunner:
		return n.DistanceTraveled, true

	case CategoryLastOneStanding:
		if !n.SoleSurvivor {
			return 0, false
		}
		return soleSurvivorScore, true

	case CategorySpeedrunner:
		if !n.HasFirstMechanicDeath {
			return 0, false
		}
		return n.FirstMechanicDeathSec, true

	case CategorySocialButterfly:
		chatting := n.DeathsWithCause(encounter.DeathCauseChatting)
		if chatting == 0 {
			return 0, false
		}
		return float64(chatting) * chattingDeathWeight, true

	default:
		return 0, false
	}
}

// Aggregate folds per-fight scores into one window score per the
// category's aggregation kind. fightsParticipated counts every fight
// the player appeared in over the window, qualifying or not; it is the
// denominator for per-participation categories.
func Aggregate(aggregation Aggregation, fightScores []float64, fightsParticipated int) float64 {
	if len(fightScores) == 0 {
		return 0
	}

	total := 0.0
	for _, score := range fightScores {
		total += score
	}

	switch aggregation {
	case AggregationSum:
		return total
	case AggregationPerParticipation:
		if fightsParticipated < 1 {
			return 0
		}
		return total / float64(fightsParticipated)
	default:
		return total / float64(len(fightScores))
	}
}

// RankEntries sorts entries by the category direction and assigns
// ranks. Ties break by higher contributing-fight-count, then by
// lexicographic player id, so identical inputs always produce
// identical output order.
func RankEntries(entries []Entry, direction Direction) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			if direction == Ascending {
				return out[i].Score < out[j].Score
			}
			return out[i].Score > out[j].Score
		}
		if out[i].FightCount != out[j].FightCount {
			return out[i].FightCount > out[j].FightCount
		}
		return out[i].PlayerID < out[j].PlayerID
	})

	for idx := range out {
		out[idx].Rank = idx + 1
	}
	return out
}
