package award

import (
	"fmt"
	"strings"
	"time"

	"github.com/grimfell/raid-awards/internal/domain/player"
)

// Category names one award scoring formula.
type Category string

const (
	CategoryDamageDealerSupreme Category = "damage-dealer-supreme"
	CategoryHealingVirtuoso     Category = "healing-virtuoso"
	CategoryTankTitan           Category = "tank-titan"
	CategoryDispelChampion      Category = "dispel-champion"
	CategoryInterruptSpecialist Category = "interrupt-specialist"
	CategoryFloorInspector      Category = "floor-inspector"
	CategoryGravityChallenger   Category = "gravity-challenger"
	CategoryBattleResurrector   Category = "battle-resurrector"
	CategoryPotionHoarder       Category = "potion-hoarder"
	CategoryMarathonRunner      Category = "marathon-runner"
	CategoryLastOneStanding     Category = "last-one-standing"
	CategorySpeedrunner         Category = "speedrunner"
	CategorySocialButterfly     Category = "social-butterfly"
)

// Direction controls ranking order for a category. Most awards rank
// descending; lower-is-better categories rank ascending.
type Direction string

const (
	Descending Direction = "desc"
	Ascending  Direction = "asc"
)

// Aggregation selects how per-fight scores fold into a window score.
type Aggregation string

const (
	// AggregationMean averages per-fight scores; used for rate awards.
	AggregationMean Aggregation = "mean"
	// AggregationSum totals per-fight scores; used for counting awards.
	AggregationSum Aggregation = "sum"
	// AggregationPerParticipation totals per-fight scores and divides by
	// the number of fights the player participated in, qualifying or
	// not. Used for event-rate awards whose denominator is presence.
	AggregationPerParticipation Aggregation = "per_participation"
)

// Spec pairs a category with its ranking semantics. The scoring
// formula itself lives in rules.go.
type Spec struct {
	Category    Category
	Direction   Direction
	Aggregation Aggregation
	// RoleScope restricts the candidate pool to one role; empty means
	// the category compares across roles.
	RoleScope player.Role
	// RoleWeighted applies the cross-role coefficient table; only
	// meaningful when RoleScope is empty.
	RoleWeighted bool
}

var catalog = []Spec{
	{Category: CategoryDamageDealerSupreme, Direction: Descending, Aggregation: AggregationMean, RoleScope: player.RoleDPS},
	{Category: CategoryHealingVirtuoso, Direction: Descending, Aggregation: AggregationMean, RoleScope: player.RoleHealer},
	{Category: CategoryTankTitan, Direction: Descending, Aggregation: AggregationMean, RoleScope: player.RoleTank},
	{Category: CategoryDispelChampion, Direction: Descending, Aggregation: AggregationPerParticipation},
	{Category: CategoryInterruptSpecialist, Direction: Descending, Aggregation: AggregationMean},
	{Category: CategoryFloorInspector, Direction: Descending, Aggregation: AggregationPerParticipation},
	{Category: CategoryGravityChallenger, Direction: Descending, Aggregation: AggregationPerParticipation},
	{Category: CategoryBattleResurrector, Direction: Descending, Aggregation: AggregationSum},
	{Category: CategoryPotionHoarder, Direction: Ascending, Aggregation: AggregationSum},
	{Category: CategoryMarathonRunner, Direction: Descending, Aggregation: AggregationSum, RoleWeighted: true},
	{Category: CategoryLastOneStanding, Direction: Descending, Aggregation: AggregationSum},
	{Category: CategorySpeedrunner, Direction: Ascending, Aggregation: AggregationMean},
	{Category: CategorySocialButterfly, Direction: Descending, Aggregation: AggregationSum},
}

// Catalog returns every award spec in fixed, reproducible order.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// SpecFor resolves one category's spec.
func SpecFor(category Category) (Spec, bool) {
	for _, spec := range catalog {
		if spec.Category == category {
			return spec, true
		}
	}
	return Spec{}, false
}

func ParseCategory(value string) (Category, error) {
	normalized := Category(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := SpecFor(normalized); !ok {
		return "", fmt.Errorf("unknown award category %q", value)
	}
	return normalized, nil
}

// WindowKind selects the aggregation span.
type WindowKind string

const (
	// WindowNight covers a single raid night (one calendar day, UTC).
	WindowNight WindowKind = "night"
	// WindowSeason covers the full tracked period.
	WindowSeason WindowKind = "season"
)

// Window is the span per-fight scores aggregate over.
type Window struct {
	Kind WindowKind
	// Night anchors a WindowNight window; ignored for WindowSeason.
	Night time.Time
}

func SeasonWindow() Window {
	return Window{Kind: WindowSeason}
}

func NightWindow(night time.Time) Window {
	return Window{Kind: WindowNight, Night: night.UTC().Truncate(24 * time.Hour)}
}

// Contains reports whether a fight starting at the given time falls
// inside the window.
func (w Window) Contains(startedAt time.Time) bool {
	if w.Kind == WindowSeason {
		return true
	}
	day := startedAt.UTC().Truncate(24 * time.Hour)
	return day.Equal(w.Night)
}

// Key returns a stable identifier used for run deduplication and
// persistence lookups.
func (w Window) Key() string {
	if w.Kind == WindowSeason {
		return "season"
	}
	return "night:" + w.Night.Format("2006-01-02")
}

func (w Window) Validate() error {
	switch w.Kind {
	case WindowSeason:
		return nil
	case WindowNight:
		if w.Night.IsZero() {
			return fmt.Errorf("night window requires a date")
		}
		return nil
	default:
		return fmt.Errorf("unknown window kind %q", w.Kind)
	}
}

// Entry is one ranked row in an award result.
type Entry struct {
	PlayerID   string
	Score      float64
	FightCount int
	Rank       int
}

// Result is the ranked outcome for one category over one window.
type Result struct {
	Category Category
	Window   Window
	Entries  []Entry
}

// Winner returns the top-ranked entry when the result is non-empty.
func (r Result) Winner() (Entry, bool) {
	if len(r.Entries) == 0 {
		return Entry{}, false
	}
	return r.Entries[0], true
}

// RunnerUps returns up to n entries ranked directly below the winner.
func (r Result) RunnerUps(n int) []Entry {
	if len(r.Entries) <= 1 || n <= 0 {
		return nil
	}
	end := 1 + n
	if end > len(r.Entries) {
		end = len(r.Entries)
	}
	out := make([]Entry, end-1)
	copy(out, r.Entries[1:end])
	return out
}

// Diagnostic severities.
const (
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Diagnostic records one soft failure or notable decision made during
// a pipeline run. Per-fight and per-player problems never abort the
// batch; they end up here instead.
type Diagnostic struct {
	Severity string
	Stage    string
	FightID  string
	PlayerID string
	Category Category
	Message  string
}

// Run is one complete pipeline execution over a window.
type Run struct {
	ID          string
	Window      Window
	ComputedAt  time.Time
	Results     []Result
	Diagnostics []Diagnostic
}

// ResultFor returns the run's result for one category.
func (r Run) ResultFor(category Category) (Result, bool) {
	for _, result := range r.Results {
		if result.Category == category {
			return result, true
		}
	}
	return Result{}, false
}
