package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/grimfell/raid-awards/internal/domain/encounter"
	"github.com/grimfell/raid-awards/internal/domain/player"
	"github.com/grimfell/raid-awards/internal/platform/logging"
)

// ReportProvider is the upstream log-service boundary. The transport,
// auth and query mechanics live behind it; the engine only sees
// deserialized report payloads.
type ReportProvider interface {
	FetchReport(ctx context.Context, reportCode string) (ExternalReport, error)
}

type ExternalReport struct {
	Code   string
	Fights []ExternalFight
}

type ExternalFight struct {
	ID          string
	EncounterID int64
	StartedAt   time.Time
	EndedAt     time.Time
	RaidSize    int
	Outcome     string
	Roster      []ExternalPresence
	Events      []ExternalEvent
}

type ExternalPresence struct {
	PlayerID string
	Name     string
	Class    string
	Spec     string
	Role     string
}

type ExternalEvent struct {
	Type      string
	OffsetMS  int64
	Magnitude *float64
	SourceID  string
	TargetID  string
	Tag       string
	Critical  bool
	FirstSeen bool
}

type playerIngestionWriter interface {
	UpsertPlayers(ctx context.Context, players []player.Player) error
}

type IngestResult struct {
	Reports       int `json:"reports"`
	Fights        int `json:"fights"`
	SkippedFights int `json:"skipped_fights"`
	Events        int `json:"events"`
	Players       int `json:"players"`
}

// IngestionService is the batch validation boundary: it fetches report
// payloads, rejects structurally unusable batches outright, and
// replaces the stored fight batch wholesale. Event-level problems are
// not its concern; the aggregator isolates those per fight.
type IngestionService struct {
	provider     ReportProvider
	batchRepo    encounter.BatchRepository
	playerWriter playerIngestionWriter
	logger       *logging.Logger
}

func NewIngestionService(provider ReportProvider, batchRepo encounter.BatchRepository, playerWriter playerIngestionWriter, logger *logging.Logger) *IngestionService {
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestionService{
		provider:     provider,
		batchRepo:    batchRepo,
		playerWriter: playerWriter,
		logger:       logger,
	}
}

// IngestReports fetches every report and replaces the stored batch.
// Reset pulls are skipped; any structural defect fails the whole run
// with ErrIngestion before anything is written.
func (s *IngestionService) IngestReports(ctx context.Context, reportCodes []string) (IngestResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.IngestionService.IngestReports")
	defer span.End()

	codes := make([]string, 0, len(reportCodes))
	for _, code := range reportCodes {
		code = strings.TrimSpace(code)
		if code != "" {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return IngestResult{}, fmt.Errorf("%w: at least one report code is required", ErrInvalidInput)
	}

	var fights []encounter.Fight
	playersByID := make(map[string]player.Player)
	seenFightIDs := make(map[string]struct{})
	result := IngestResult{Reports: len(codes)}

	for _, code := range codes {
		report, err := s.provider.FetchReport(ctx, code)
		if err != nil {
			return IngestResult{}, fmt.Errorf("%w: fetch report %s: %v", ErrDependencyUnavailable, code, err)
		}
		if len(report.Fights) == 0 {
			return IngestResult{}, fmt.Errorf("%w: report %s contains no fights", ErrIngestion, code)
		}

		for _, external := range report.Fights {
			if !encounter.IsTrackedOutcome(external.Outcome) {
				result.SkippedFights++
				continue
			}

			fight, rosterPlayers, err := mapExternalFight(external)
			if err != nil {
				return IngestResult{}, fmt.Errorf("%w: report %s: %v", ErrIngestion, code, err)
			}
			if _, dup := seenFightIDs[fight.ID]; dup {
				return IngestResult{}, fmt.Errorf("%w: duplicate fight id %s", ErrIngestion, fight.ID)
			}
			seenFightIDs[fight.ID] = struct{}{}

			fights = append(fights, fight)
			result.Events += len(fight.Events)
			for _, p := range rosterPlayers {
				playersByID[p.ID] = p
			}
		}
	}

	if len(fights) == 0 {
		return IngestResult{}, fmt.Errorf("%w: no tracked fights in batch", ErrIngestion)
	}

	players := make([]player.Player, 0, len(playersByID))
	for _, p := range playersByID {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	if err := s.playerWriter.UpsertPlayers(ctx, players); err != nil {
		return IngestResult{}, fmt.Errorf("upsert players: %w", err)
	}
	if err := s.batchRepo.ReplaceBatch(ctx, fights); err != nil {
		return IngestResult{}, fmt.Errorf("replace fight batch: %w", err)
	}

	result.Fights = len(fights)
	result.Players = len(players)

	s.logger.InfoContext(ctx, "report batch ingested",
		"reports", result.Reports,
		"fights", result.Fights,
		"skipped_fights", result.SkippedFights,
		"events", result.Events,
		"players", result.Players,
	)
	return result, nil
}

func mapExternalFight(external ExternalFight) (encounter.Fight, []player.Player, error) {
	fight := encounter.Fight{
		ID:          strings.TrimSpace(external.ID),
		EncounterID: external.EncounterID,
		StartedAt:   external.StartedAt,
		EndedAt:     external.EndedAt,
		RaidSize:    external.RaidSize,
		Outcome:     encounter.NormalizeOutcome(external.Outcome),
	}

	players := make([]player.Player, 0, len(external.Roster))
	for _, presence := range external.Roster {
		playerID := strings.TrimSpace(presence.PlayerID)
		role, err := player.ParseRole(presence.Role)
		if err != nil {
			return encounter.Fight{}, nil, fmt.Errorf("fight %s roster: %v", fight.ID, err)
		}
		fight.Roster = append(fight.Roster, encounter.Presence{PlayerID: playerID, Role: role})
		players = append(players, player.Player{
			ID:    playerID,
			Name:  strings.TrimSpace(presence.Name),
			Class: strings.TrimSpace(presence.Class),
			Spec:  strings.TrimSpace(presence.Spec),
		})
	}

	for _, event := range external.Events {
		fight.Events = append(fight.Events, encounter.Event{
			Type:      encounter.EventType(strings.TrimSpace(event.Type)),
			OffsetMS:  event.OffsetMS,
			Magnitude: event.Magnitude,
			SourceID:  strings.TrimSpace(event.SourceID),
			TargetID:  strings.TrimSpace(event.TargetID),
			Tag:       strings.TrimSpace(event.Tag),
			Critical:  event.Critical,
			FirstSeen: event.FirstSeen,
		})
	}

	if err := fight.Validate(); err != nil {
		return encounter.Fight{}, nil, err
	}
	return fight, players, nil
}
