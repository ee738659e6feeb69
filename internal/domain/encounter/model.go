package encounter

import (
	"fmt"
	"strings"
	"time"

	"github.com/grimfell/raid-awards/internal/domain/player"
)

const (
	OutcomeKill  = "KILL"
	OutcomeWipe  = "WIPE"
	OutcomeReset = "RESET"
)

// EventType tags one atomic combat-log occurrence within a fight.
type EventType string

const (
	EventDamageDone         EventType = "damage_done"
	EventHealingDone        EventType = "healing_done"
	EventOverhealing        EventType = "overhealing"
	EventAbsorb             EventType = "absorb"
	EventDamageMitigated    EventType = "damage_mitigated"
	EventActiveMitigation   EventType = "active_mitigation"
	EventTankBusterSurvived EventType = "tank_buster_survived"
	EventDeath              EventType = "death"
	EventInterrupt          EventType = "interrupt"
	EventInterruptMissed    EventType = "interrupt_missed"
	EventDispel             EventType = "dispel"
	EventResurrection       EventType = "resurrection"
	EventMovement           EventType = "movement"
	EventConsumable         EventType = "consumable"
	EventSoleSurvivor       EventType = "sole_survivor"
)

// Death-cause tags carried by EventDeath events.
const (
	DeathCauseFire     = "fire"
	DeathCauseVoid     = "void"
	DeathCauseFall     = "fall"
	DeathCauseMechanic = "mechanic"
	DeathCauseChatting = "while-chatting"
)

// magnitudeRequired lists event types whose Magnitude must be present.
// Every other type must carry no magnitude at all.
var magnitudeRequired = map[EventType]struct{}{
	EventDamageDone:      {},
	EventHealingDone:     {},
	EventOverhealing:     {},
	EventAbsorb:          {},
	EventDamageMitigated: {},
	EventMovement:        {},
}

// Event is one combat-log occurrence tied to a fight and a source player.
type Event struct {
	Type     EventType
	OffsetMS int64
	// Magnitude is present only for volume-bearing event types
	// (damage, healing, absorbs, mitigation, movement samples).
	Magnitude *float64
	SourceID  string
	TargetID  string
	// Tag carries the death-cause category for death events.
	Tag string
	// Critical marks critical dispels and critical interrupts.
	Critical bool
	// FirstSeen marks a death on a mechanic the roster had not
	// encountered before this pull; the upstream log service sets it.
	FirstSeen bool
}

// RequiresMagnitude reports whether t is a volume-bearing event type.
func (t EventType) RequiresMagnitude() bool {
	_, ok := magnitudeRequired[t]
	return ok
}

func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.SourceID == "" {
		return fmt.Errorf("event source player id is required")
	}
	if e.OffsetMS < 0 {
		return fmt.Errorf("event offset cannot be negative")
	}
	if e.Type.RequiresMagnitude() {
		if e.Magnitude == nil {
			return fmt.Errorf("event type %s requires a magnitude", e.Type)
		}
		if *e.Magnitude < 0 {
			return fmt.Errorf("event magnitude cannot be negative")
		}
	} else if e.Magnitude != nil {
		return fmt.Errorf("event type %s does not allow a magnitude", e.Type)
	}

	return nil
}

// Presence records one roster slot at pull time: who was in the raid
// and which role they filled for this fight.
type Presence struct {
	PlayerID string
	Role     player.Role
}

// Fight is one recorded boss or trash encounter attempt. Immutable
// after ingestion.
type Fight struct {
	ID          string
	EncounterID int64
	StartedAt   time.Time
	EndedAt     time.Time
	RaidSize    int
	Outcome     string
	Roster      []Presence
	Events      []Event
}

func (f Fight) Duration() time.Duration {
	return f.EndedAt.Sub(f.StartedAt)
}

// DurationSeconds returns the fight length in seconds. Callers must
// not divide by it without checking Degenerate first.
func (f Fight) DurationSeconds() float64 {
	return f.Duration().Seconds()
}

// Degenerate reports whether the fight cannot be normalized: zero or
// negative duration, or a raid size below one.
func (f Fight) Degenerate() bool {
	return f.Duration() <= 0 || f.RaidSize < 1
}

// RosterIndex returns the per-fight role by player id.
func (f Fight) RosterIndex() map[string]player.Role {
	out := make(map[string]player.Role, len(f.Roster))
	for _, p := range f.Roster {
		out[p.PlayerID] = p.Role
	}
	return out
}

func (f Fight) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("fight id is required")
	}
	if f.EncounterID <= 0 {
		return fmt.Errorf("fight encounter id must be greater than zero")
	}
	if f.StartedAt.IsZero() || f.EndedAt.IsZero() {
		return fmt.Errorf("fight start and end timestamps are required")
	}
	if !f.EndedAt.After(f.StartedAt) {
		return fmt.Errorf("fight end must be after start")
	}
	if f.RaidSize < 1 {
		return fmt.Errorf("fight raid size must be at least one")
	}
	if len(f.Roster) == 0 {
		return fmt.Errorf("fight roster is required")
	}
	for _, p := range f.Roster {
		if p.PlayerID == "" {
			return fmt.Errorf("fight roster entry is missing a player id")
		}
		if _, ok := player.AllRoles[p.Role]; !ok {
			return fmt.Errorf("invalid role %q for player %s", p.Role, p.PlayerID)
		}
	}

	return nil
}

func NormalizeOutcome(value string) string {
	outcome := strings.ToUpper(strings.TrimSpace(value))
	if outcome == "" {
		return OutcomeWipe
	}
	return outcome
}

func IsTrackedOutcome(outcome string) bool {
	switch NormalizeOutcome(outcome) {
	case OutcomeKill, OutcomeWipe:
		return true
	default:
		return false
	}
}
