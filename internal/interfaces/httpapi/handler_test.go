package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/grimfell/raid-awards/internal/domain/encounter"
	"github.com/grimfell/raid-awards/internal/domain/player"
	"github.com/grimfell/raid-awards/internal/infrastructure/repository/memory"
	"github.com/grimfell/raid-awards/internal/platform/cache"
	"github.com/grimfell/raid-awards/internal/platform/id"
	"github.com/grimfell/raid-awards/internal/platform/logging"
	"github.com/grimfell/raid-awards/internal/usecase"
)

func seededFights(n int) []encounter.Fight {
	night := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	fights := make([]encounter.Fight, 0, n)
	for i := 0; i < n; i++ {
		start := night.Add(time.Duration(i) * 10 * time.Minute)
		alice := 900000.0
		bob := 600000.0
		fights = append(fights, encounter.Fight{
			ID:          fmt.Sprintf("fight-%d", i+1),
			EncounterID: 2902,
			StartedAt:   start,
			EndedAt:     start.Add(300 * time.Second),
			RaidSize:    20,
			Outcome:     encounter.OutcomeKill,
			Roster: []encounter.Presence{
				{PlayerID: "alice", Role: player.RoleDPS},
				{PlayerID: "bob", Role: player.RoleDPS},
			},
			Events: []encounter.Event{
				{Type: encounter.EventDamageDone, OffsetMS: 1000, Magnitude: &alice, SourceID: "alice"},
				{Type: encounter.EventDamageDone, OffsetMS: 2000, Magnitude: &bob, SourceID: "bob"},
			},
		})
	}
	return fights
}

type routerFixture struct {
	router    http.Handler
	batchRepo *memory.BatchRepository
}

type stubReportProvider struct {
	report usecase.ExternalReport
	err    error
}

func (p *stubReportProvider) FetchReport(_ context.Context, _ string) (usecase.ExternalReport, error) {
	return p.report, p.err
}

func newRouterFixture(fights []encounter.Fight, provider usecase.ReportProvider) routerFixture {
	logger := logging.NewNop()
	batchRepo := memory.NewBatchRepository(fights)
	runRepo := memory.NewRunRepository()
	playerRepo := memory.NewPlayerRepository(nil)

	pipeline := usecase.NewPipelineService(
		batchRepo,
		runRepo,
		id.NewRandomGenerator(),
		logger,
		usecase.NewAggregationService(0),
		usecase.NewNormalizationService(),
		usecase.NewScoringService(),
		usecase.NewSignificanceService(),
		usecase.NewRankingService(),
		usecase.DefaultPipelineConfig(),
		cache.NewStore(time.Minute),
	)

	var ingestion *usecase.IngestionService
	if provider != nil {
		ingestion = usecase.NewIngestionService(provider, batchRepo, playerRepo, logger)
	}

	handler := NewHandler(pipeline, ingestion, 2, logger)
	return routerFixture{
		router:    NewRouter(handler, logger, []string{"*"}, "job-secret"),
		batchRepo: batchRepo,
	}
}

type envelope struct {
	APIVersion string          `json:"apiVersion"`
	Data       json.RawMessage `json:"data"`
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()

	var env envelope
	if err := sonic.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if err := sonic.Unmarshal(env.Data, target); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

func TestRouter_ComputeThenReadAwards(t *testing.T) {
	fixture := newRouterFixture(seededFights(6), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/awards/compute", strings.NewReader(`{}`))
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("compute: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var computed runDTO
	decodeData(t, rec, &computed)
	if computed.ID == "" {
		t.Fatal("expected a run id")
	}
	if len(computed.Results) == 0 {
		t.Fatal("expected results in computed run")
	}

	var damage *resultDTO
	for i := range computed.Results {
		if computed.Results[i].Category == "damage-dealer" {
			damage = &computed.Results[i]
		}
	}
	if damage == nil {
		t.Fatal("expected damage-dealer result")
	}
	if damage.Winner == nil || damage.Winner.PlayerID != "alice" {
		t.Fatalf("expected alice to win damage-dealer, got %+v", damage.Winner)
	}
	if damage.Candidates != 2 {
		t.Fatalf("expected 2 candidates, got %d", damage.Candidates)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/awards", nil)
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get awards: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var latest runDTO
	decodeData(t, rec, &latest)
	if latest.ID != computed.ID {
		t.Fatalf("expected latest run %s, got %s", computed.ID, latest.ID)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/awards/damage-dealer", nil)
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get category: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var detail categoryDetailDTO
	decodeData(t, rec, &detail)
	if len(detail.Entries) != 2 {
		t.Fatalf("expected full standings with 2 entries, got %d", len(detail.Entries))
	}
	if detail.Winner == nil || detail.Winner.PlayerID != "alice" {
		t.Fatalf("unexpected category winner: %+v", detail.Winner)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/runs/"+computed.ID+"/diagnostics", nil)
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get diagnostics: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var diagnostics runDiagnosticsDTO
	decodeData(t, rec, &diagnostics)
	if diagnostics.RunID != computed.ID {
		t.Fatalf("expected diagnostics for run %s, got %s", computed.ID, diagnostics.RunID)
	}
}

func TestRouter_GetAwards_NotFoundBeforeCompute(t *testing.T) {
	fixture := newRouterFixture(nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/awards", nil)
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any compute, got %d", rec.Code)
	}
}

func TestRouter_ComputeAwards_NightWindowRequiresDate(t *testing.T) {
	fixture := newRouterFixture(nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/awards/compute", strings.NewReader(`{"window_kind":"night"}`))
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for night window without date, got %d", rec.Code)
	}
}

func TestRouter_GetAwardCategory_UnknownCategory(t *testing.T) {
	fixture := newRouterFixture(nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/awards/best-dancer", nil)
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d", rec.Code)
	}
}

func TestRouter_IngestReports_TokenGuardAndFlow(t *testing.T) {
	magnitude := 1000.0
	provider := &stubReportProvider{
		report: usecase.ExternalReport{
			Code: "NIGHT1",
			Fights: []usecase.ExternalFight{
				{
					ID:          "NIGHT1-1",
					EncounterID: 2902,
					StartedAt:   time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
					EndedAt:     time.Date(2026, 3, 14, 20, 5, 0, 0, time.UTC),
					RaidSize:    20,
					Outcome:     "KILL",
					Roster: []usecase.ExternalPresence{
						{PlayerID: "alice", Name: "Alice", Class: "Mage", Spec: "Frost", Role: "dps"},
					},
					Events: []usecase.ExternalEvent{
						{Type: "damage_done", OffsetMS: 1000, Magnitude: &magnitude, SourceID: "alice"},
					},
				},
			},
		},
	}
	fixture := newRouterFixture(nil, provider)

	body := `{"report_codes":["NIGHT1"]}`

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/reports/ingest", strings.NewReader(body))
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without job token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/reports/ingest", strings.NewReader(body))
	req.Header.Set("X-Internal-Job-Token", "job-secret")
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with job token, got %d body=%s", rec.Code, rec.Body.String())
	}

	var result usecase.IngestResult
	decodeData(t, rec, &result)
	if result.Fights != 1 || result.Players != 1 {
		t.Fatalf("unexpected ingest result: %+v", result)
	}

	fights, err := fixture.batchRepo.ListFights(context.Background())
	if err != nil {
		t.Fatalf("list fights: %v", err)
	}
	if len(fights) != 1 || fights[0].ID != "NIGHT1-1" {
		t.Fatalf("expected ingested fight in batch, got %+v", fights)
	}
}

func TestParseWindow(t *testing.T) {
	if _, err := parseWindow("season", "2026-03-14"); err == nil {
		t.Fatal("expected error when night is set for season window")
	}
	if _, err := parseWindow("night", ""); err == nil {
		t.Fatal("expected error when night date is missing")
	}
	if _, err := parseWindow("fortnight", ""); err == nil {
		t.Fatal("expected error for unknown window kind")
	}

	window, err := parseWindow("night", "2026-03-14")
	if err != nil {
		t.Fatalf("parse night window: %v", err)
	}
	if window.Key() != "night:2026-03-14" {
		t.Fatalf("unexpected window key %q", window.Key())
	}

	window, err = parseWindow("", "")
	if err != nil {
		t.Fatalf("parse default window: %v", err)
	}
	if window.Key() != "season" {
		t.Fatalf("unexpected default window key %q", window.Key())
	}
}
