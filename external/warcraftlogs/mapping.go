package warcraftlogs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/grimfell/raid-awards/internal/domain/encounter"
	"github.com/grimfell/raid-awards/internal/domain/player"
	"github.com/grimfell/raid-awards/internal/usecase"
)

type reportVariables struct {
	Code string `json:"code"`
}

type eventsVariables struct {
	Code      string  `json:"code"`
	FightID   int64   `json:"fightID"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

type reportEnvelope struct {
	Data struct {
		ReportData struct {
			Report reportPayload `json:"report"`
		} `json:"reportData"`
	} `json:"data"`
}

type reportPayload struct {
	Code       string        `json:"code"`
	StartTime  float64       `json:"startTime"`
	Fights     []reportFight `json:"fights"`
	MasterData struct {
		Actors []reportActor `json:"actors"`
	} `json:"masterData"`
	PlayerDetails playerDetailsPayload `json:"playerDetails"`
}

type reportFight struct {
	ID              int64   `json:"id"`
	EncounterID     int64   `json:"encounterID"`
	StartTime       float64 `json:"startTime"`
	EndTime         float64 `json:"endTime"`
	Size            int     `json:"size"`
	Kill            *bool   `json:"kill"`
	FriendlyPlayers []int64 `json:"friendlyPlayers"`
}

type reportActor struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	SubType string `json:"subType"`
	Icon    string `json:"icon"`
}

// playerDetailsPayload mirrors the nested JSON scalar the API returns:
// players grouped into role buckets.
type playerDetailsPayload struct {
	Data struct {
		PlayerDetails struct {
			Tanks   []playerDetail `json:"tanks"`
			Healers []playerDetail `json:"healers"`
			DPS     []playerDetail `json:"dps"`
		} `json:"playerDetails"`
	} `json:"data"`
}

type playerDetail struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type eventsEnvelope struct {
	Data struct {
		ReportData struct {
			Report struct {
				Events struct {
					Data              []json.RawMessage `json:"data"`
					NextPageTimestamp *float64          `json:"nextPageTimestamp"`
				} `json:"events"`
			} `json:"report"`
		} `json:"reportData"`
	} `json:"data"`
}

type eventRow struct {
	Type      string   `json:"type"`
	Timestamp float64  `json:"timestamp"`
	Amount    *float64 `json:"amount"`
	Overheal  *float64 `json:"overheal"`
	SourceID  int64    `json:"sourceID"`
	TargetID  int64    `json:"targetID"`
	Cause     string   `json:"cause"`
	Ability   struct {
		Name string `json:"name"`
	} `json:"ability"`
	Critical  bool `json:"criticalHit"`
	FirstSeen bool `json:"isFirstDeath"`
}

type graphQLErrorProbe struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// providerEventTypes maps the log service's event names onto the
// engine's combat event vocabulary. Anything absent here is dropped by
// the mapper rather than ingested as an unknown type.
var providerEventTypes = map[string]encounter.EventType{
	"damage":             encounter.EventDamageDone,
	"heal":               encounter.EventHealingDone,
	"absorbed":           encounter.EventAbsorb,
	"mitigated":          encounter.EventDamageMitigated,
	"activemitigation":   encounter.EventActiveMitigation,
	"tankbustersurvived": encounter.EventTankBusterSurvived,
	"death":              encounter.EventDeath,
	"interrupt":          encounter.EventInterrupt,
	"interruptmissed":    encounter.EventInterruptMissed,
	"dispel":             encounter.EventDispel,
	"resurrect":          encounter.EventResurrection,
	"movement":           encounter.EventMovement,
	"consumable":         encounter.EventConsumable,
	"solesurvivor":       encounter.EventSoleSurvivor,
}

var providerDeathCauses = map[string]string{
	"fire":           encounter.DeathCauseFire,
	"void":           encounter.DeathCauseVoid,
	"fall":           encounter.DeathCauseFall,
	"falling":        encounter.DeathCauseFall,
	"mechanic":       encounter.DeathCauseMechanic,
	"while-chatting": encounter.DeathCauseChatting,
	"afk":            encounter.DeathCauseChatting,
}

func decodeEventRows(raw []json.RawMessage) ([]eventRow, error) {
	rows := make([]eventRow, 0, len(raw))
	for _, payload := range raw {
		var row eventRow
		if err := sonic.Unmarshal(payload, &row); err != nil {
			return nil, fmt.Errorf("decode event row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func indexActors(actors []reportActor) map[int64]reportActor {
	byID := make(map[int64]reportActor, len(actors))
	for _, actor := range actors {
		if actor.ID > 0 {
			byID[actor.ID] = actor
		}
	}
	return byID
}

func indexRoles(details playerDetailsPayload) map[int64]player.Role {
	roles := make(map[int64]player.Role)
	for _, detail := range details.Data.PlayerDetails.Tanks {
		roles[detail.ID] = player.RoleTank
	}
	for _, detail := range details.Data.PlayerDetails.Healers {
		roles[detail.ID] = player.RoleHealer
	}
	for _, detail := range details.Data.PlayerDetails.DPS {
		roles[detail.ID] = player.RoleDPS
	}
	return roles
}

func mapFight(
	report reportPayload,
	fight reportFight,
	actors map[int64]reportActor,
	roles map[int64]player.Role,
	rows []eventRow,
) (usecase.ExternalFight, int) {
	reportStart := time.UnixMilli(int64(report.StartTime)).UTC()
	fightStartMS := report.StartTime + fight.StartTime

	outcome := encounter.OutcomeWipe
	switch {
	case fight.Kill == nil:
		outcome = encounter.OutcomeReset
	case *fight.Kill:
		outcome = encounter.OutcomeKill
	}

	external := usecase.ExternalFight{
		ID:          report.Code + "-" + strconv.FormatInt(fight.ID, 10),
		EncounterID: fight.EncounterID,
		StartedAt:   reportStart.Add(time.Duration(fight.StartTime) * time.Millisecond),
		EndedAt:     reportStart.Add(time.Duration(fight.EndTime) * time.Millisecond),
		RaidSize:    fight.Size,
		Outcome:     outcome,
	}

	for _, actorID := range fight.FriendlyPlayers {
		actor, ok := actors[actorID]
		if !ok {
			continue
		}
		role, ok := roles[actorID]
		if !ok {
			role = player.RoleDPS
		}
		external.Roster = append(external.Roster, usecase.ExternalPresence{
			PlayerID: actorPlayerID(actor),
			Name:     actor.Name,
			Class:    actor.SubType,
			Spec:     actor.Icon,
			Role:     string(role),
		})
	}

	skipped := 0
	for _, row := range rows {
		mapped, ok := mapEventRow(row, fightStartMS, actors)
		if !ok {
			skipped++
			continue
		}
		external.Events = append(external.Events, mapped...)
	}
	return external, skipped
}

// mapEventRow translates one provider event into engine events. A heal
// row with overheal spill fans out into two events so overhealing is
// scored independently of effective healing.
func mapEventRow(row eventRow, fightStartMS float64, actors map[int64]reportActor) ([]usecase.ExternalEvent, bool) {
	eventType, ok := providerEventTypes[strings.ToLower(strings.TrimSpace(row.Type))]
	if !ok {
		return nil, false
	}
	source, ok := actors[row.SourceID]
	if !ok {
		// NPC and pet rows have no award relevance.
		return nil, false
	}

	offsetMS := int64(row.Timestamp - fightStartMS)
	if offsetMS < 0 {
		offsetMS = 0
	}

	target := ""
	if actor, ok := actors[row.TargetID]; ok {
		target = actorPlayerID(actor)
	}

	base := usecase.ExternalEvent{
		Type:      string(eventType),
		OffsetMS:  offsetMS,
		SourceID:  actorPlayerID(source),
		TargetID:  target,
		Critical:  row.Critical,
		FirstSeen: row.FirstSeen,
	}
	if eventType.RequiresMagnitude() {
		if row.Amount == nil {
			return nil, false
		}
		amount := *row.Amount
		base.Magnitude = &amount
	}
	if eventType == encounter.EventDeath {
		base.Tag = normalizeDeathCause(row.Cause)
	}

	events := []usecase.ExternalEvent{base}
	if eventType == encounter.EventHealingDone && row.Overheal != nil && *row.Overheal > 0 {
		overheal := *row.Overheal
		events = append(events, usecase.ExternalEvent{
			Type:      string(encounter.EventOverhealing),
			OffsetMS:  offsetMS,
			Magnitude: &overheal,
			SourceID:  base.SourceID,
			TargetID:  base.TargetID,
		})
	}
	return events, true
}

func normalizeDeathCause(cause string) string {
	if mapped, ok := providerDeathCauses[strings.ToLower(strings.TrimSpace(cause))]; ok {
		return mapped
	}
	return encounter.DeathCauseMechanic
}

func actorPlayerID(actor reportActor) string {
	return strings.ToLower(strings.TrimSpace(actor.Name)) + "-" + strconv.FormatInt(actor.ID, 10)
}
