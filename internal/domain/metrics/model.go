// Package metrics holds the per-player-per-fight aggregation unit the
// scoring pipeline is built on. A FightMetric row is derived entirely
// from one fight's events and is never mutated once computed.
package metrics

import (
	"github.com/grimfell/raid-awards/internal/domain/player"
)

// FightMetric is the raw counter set for one (player, fight) pair.
// Players with no events in a fight get no row at all; absence, not a
// zero row, so participation denominators stay honest.
type FightMetric struct {
	FightID  string
	PlayerID string
	Role     player.Role

	DamageDone       float64
	EffectiveHealing float64
	Overhealing      float64
	Absorbs          float64
	DamageMitigated  float64
	DistanceTraveled float64

	ActiveMitigationEvents int
	TankBusterSurvivals    int
	InterruptsSucceeded    int
	CriticalInterrupts     int
	InterruptOpportunities int
	DispelsSucceeded       int
	CriticalDispels        int
	Resurrections          int
	ConsumablesUsed        int
	Deaths                 int

	DeathsByCause map[string]int

	SoleSurvivor bool
	// FirstMechanicDeathSec is the offset of this player's first death
	// on a first-seen mechanic; meaningful only when the Has flag is set.
	FirstMechanicDeathSec float64
	HasFirstMechanicDeath bool
}

// Normalized is a FightMetric rescaled for fight duration and raid
// size. Volume counters (damage, healing, absorbs, overhealing,
// mitigation, distance) are duration-adjusted; raid-size coefficients
// apply only to throughput metrics that scale with raid size.
// Per-individual counters pass through untouched.
type Normalized struct {
	FightID     string
	PlayerID    string
	EncounterID int64
	Role        player.Role

	FightDurationSec float64
	RaidSize         int

	DamageDone       float64
	EffectiveHealing float64
	Overhealing      float64
	Absorbs          float64
	DamageMitigated  float64
	DistanceTraveled float64

	ActiveMitigationEvents int
	TankBusterSurvivals    int
	InterruptsSucceeded    int
	CriticalInterrupts     int
	InterruptOpportunities int
	DispelsSucceeded       int
	CriticalDispels        int
	Resurrections          int
	ConsumablesUsed        int
	Deaths                 int

	DeathsByCause map[string]int

	SoleSurvivor          bool
	FirstMechanicDeathSec float64
	HasFirstMechanicDeath bool
}

// DeathsWithCause sums death counters matching any of the given cause tags.
func (n Normalized) DeathsWithCause(causes ...string) int {
	total := 0
	for _, cause := range causes {
		total += n.DeathsByCause[cause]
	}
	return total
}
