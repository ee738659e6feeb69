package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/domain/player"
	"github.com/grimfell/raid-awards/internal/platform/logging"
	"github.com/grimfell/raid-awards/internal/usecase"
)

type Handler struct {
	pipeline      *usecase.PipelineService
	ingestion     *usecase.IngestionService
	runnerUpCount int
	logger        *logging.Logger
	validator     *validator.Validate
}

func NewHandler(
	pipeline *usecase.PipelineService,
	ingestion *usecase.IngestionService,
	runnerUpCount int,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if runnerUpCount < 0 {
		runnerUpCount = 0
	}

	return &Handler{
		pipeline:      pipeline,
		ingestion:     ingestion,
		runnerUpCount: runnerUpCount,
		logger:        logger,
		validator:     validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) IngestReports(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.IngestReports")
	defer span.End()

	if h.ingestion == nil {
		writeError(ctx, w, fmt.Errorf("%w: report ingestion is not configured", usecase.ErrDependencyUnavailable))
		return
	}

	var req ingestReportsRequest
	decoder := sonic.ConfigDefault.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	result, err := h.ingestion.IngestReports(ctx, req.ReportCodes)
	if err != nil {
		h.logger.WarnContext(ctx, "ingest reports failed", "report_codes", req.ReportCodes, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, result)
}

func (h *Handler) ComputeAwards(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ComputeAwards")
	defer span.End()

	var req computeAwardsRequest
	decoder := sonic.ConfigDefault.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	window, err := parseWindow(req.WindowKind, req.Night)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	overrides, err := req.Overrides.toPipelineConfig()
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	run, err := h.pipeline.Compute(ctx, window, overrides)
	if err != nil {
		h.logger.WarnContext(ctx, "compute awards failed", "window", window.Key(), "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, runToDTO(ctx, run, h.resolveRunnerUpCount(overrides)))
}

func (h *Handler) GetAwards(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetAwards")
	defer span.End()

	window, err := parseWindow(r.URL.Query().Get("window"), r.URL.Query().Get("night"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	run, err := h.pipeline.LatestRun(ctx, window)
	if err != nil {
		h.logger.WarnContext(ctx, "get awards failed", "window", window.Key(), "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, runToDTO(ctx, run, h.runnerUpCount))
}

func (h *Handler) GetAwardCategory(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetAwardCategory")
	defer span.End()

	category, err := award.ParseCategory(r.PathValue("category"))
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: %v", usecase.ErrInvalidInput, err))
		return
	}

	window, err := parseWindow(r.URL.Query().Get("window"), r.URL.Query().Get("night"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	run, err := h.pipeline.LatestRun(ctx, window)
	if err != nil {
		h.logger.WarnContext(ctx, "get award category failed", "category", category, "window", window.Key(), "error", err)
		writeError(ctx, w, err)
		return
	}

	result, ok := run.ResultFor(category)
	if !ok {
		writeError(ctx, w, fmt.Errorf("%w: category %s not present in run %s", usecase.ErrNotFound, category, run.ID))
		return
	}

	writeSuccess(ctx, w, http.StatusOK, categoryDetailDTO{
		RunID:     run.ID,
		Category:  string(result.Category),
		Window:    windowToDTO(run.Window),
		Winner:    winnerDTO(result),
		RunnerUps: runnerUpDTOs(result, h.runnerUpCount),
		Entries:   entriesToDTO(result.Entries),
	})
}

func (h *Handler) GetRunDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetRunDiagnostics")
	defer span.End()

	runID := strings.TrimSpace(r.PathValue("runID"))
	run, err := h.pipeline.RunByID(ctx, runID)
	if err != nil {
		h.logger.WarnContext(ctx, "get run diagnostics failed", "run_id", runID, "error", err)
		writeError(ctx, w, err)
		return
	}

	items := make([]diagnosticDTO, 0, len(run.Diagnostics))
	for _, d := range run.Diagnostics {
		items = append(items, diagnosticDTO{
			Severity: d.Severity,
			Stage:    d.Stage,
			FightID:  d.FightID,
			PlayerID: d.PlayerID,
			Category: string(d.Category),
			Message:  d.Message,
		})
	}

	writeSuccess(ctx, w, http.StatusOK, runDiagnosticsDTO{
		RunID:       run.ID,
		Window:      windowToDTO(run.Window),
		Diagnostics: items,
	})
}

func (h *Handler) validateRequest(ctx context.Context, payload any) error {
	ctx, span := startSpan(ctx, "httpapi.Handler.validateRequest")
	defer span.End()

	if err := h.validator.StructCtx(ctx, payload); err != nil {
		return fmt.Errorf("%w: validation failed: %v", usecase.ErrInvalidInput, err)
	}

	return nil
}

// resolveRunnerUpCount prefers a per-request override so a compute call
// sees its award boards shaped the way it asked for.
func (h *Handler) resolveRunnerUpCount(overrides *usecase.PipelineConfig) int {
	if overrides != nil && overrides.RunnerUpCount > 0 {
		return overrides.RunnerUpCount
	}
	return h.runnerUpCount
}

func parseWindow(kind, night string) (award.Window, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	night = strings.TrimSpace(night)

	switch kind {
	case "", string(award.WindowSeason):
		if night != "" {
			return award.Window{}, fmt.Errorf("%w: night is only valid with window=night", usecase.ErrInvalidInput)
		}
		return award.SeasonWindow(), nil
	case string(award.WindowNight):
		if night == "" {
			return award.Window{}, fmt.Errorf("%w: night date is required for window=night", usecase.ErrInvalidInput)
		}
		parsed, err := time.Parse("2006-01-02", night)
		if err != nil {
			return award.Window{}, fmt.Errorf("%w: night must be formatted as YYYY-MM-DD: %v", usecase.ErrInvalidInput, err)
		}
		return award.NightWindow(parsed), nil
	default:
		return award.Window{}, fmt.Errorf("%w: unknown window kind %q", usecase.ErrInvalidInput, kind)
	}
}

type ingestReportsRequest struct {
	ReportCodes []string `json:"report_codes" validate:"required,min=1,dive,required"`
}

type computeAwardsRequest struct {
	WindowKind string                `json:"window_kind" validate:"omitempty,oneof=season night"`
	Night      string                `json:"night" validate:"omitempty,datetime=2006-01-02"`
	Overrides  *pipelineOverridesDTO `json:"overrides"`
}

type pipelineOverridesDTO struct {
	BaseFightDurationSec float64            `json:"base_fight_duration_sec" validate:"omitempty,gte=0"`
	ReferenceRaidSize    int                `json:"reference_raid_size" validate:"omitempty,gte=1"`
	RoleWeights          map[string]float64 `json:"role_weights" validate:"omitempty,dive,gt=0"`
	MinSampleSize        int                `json:"min_sample_size" validate:"omitempty,gte=1"`
	ConfidenceZThreshold float64            `json:"confidence_z_threshold" validate:"omitempty,gt=0"`
	RunnerUpCount        int                `json:"runner_up_count" validate:"omitempty,gte=0"`
	ArtifactSpreadRatio  float64            `json:"artifact_spread_ratio" validate:"omitempty,gt=1"`
}

func (d *pipelineOverridesDTO) toPipelineConfig() (*usecase.PipelineConfig, error) {
	if d == nil {
		return nil, nil
	}

	cfg := usecase.PipelineConfig{
		BaseFightDurationSec: d.BaseFightDurationSec,
		ReferenceRaidSize:    d.ReferenceRaidSize,
		MinSampleSize:        d.MinSampleSize,
		ConfidenceZThreshold: d.ConfidenceZThreshold,
		RunnerUpCount:        d.RunnerUpCount,
		ArtifactSpreadRatio:  d.ArtifactSpreadRatio,
	}
	if len(d.RoleWeights) > 0 {
		cfg.RoleWeights = make(map[player.Role]float64, len(d.RoleWeights))
		for name, weight := range d.RoleWeights {
			role, err := player.ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("%w: role_weights: %v", usecase.ErrInvalidInput, err)
			}
			cfg.RoleWeights[role] = weight
		}
	}
	return &cfg, nil
}

type windowDTO struct {
	Kind  string `json:"kind"`
	Night string `json:"night,omitempty"`
	Key   string `json:"key"`
}

type entryDTO struct {
	PlayerID   string  `json:"player_id"`
	Score      float64 `json:"score"`
	FightCount int     `json:"fight_count"`
	Rank       int     `json:"rank"`
}

type resultDTO struct {
	Category   string     `json:"category"`
	Winner     *entryDTO  `json:"winner,omitempty"`
	RunnerUps  []entryDTO `json:"runner_ups"`
	Candidates int        `json:"candidates"`
}

type runDTO struct {
	ID               string      `json:"id"`
	Window           windowDTO   `json:"window"`
	ComputedAtUTC    string      `json:"computed_at_utc"`
	Results          []resultDTO `json:"results"`
	DiagnosticsCount int         `json:"diagnostics_count"`
}

type categoryDetailDTO struct {
	RunID     string     `json:"run_id"`
	Category  string     `json:"category"`
	Window    windowDTO  `json:"window"`
	Winner    *entryDTO  `json:"winner,omitempty"`
	RunnerUps []entryDTO `json:"runner_ups"`
	Entries   []entryDTO `json:"entries"`
}

type diagnosticDTO struct {
	Severity string `json:"severity"`
	Stage    string `json:"stage"`
	FightID  string `json:"fight_id,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

type runDiagnosticsDTO struct {
	RunID       string          `json:"run_id"`
	Window      windowDTO       `json:"window"`
	Diagnostics []diagnosticDTO `json:"diagnostics"`
}

func windowToDTO(window award.Window) windowDTO {
	dto := windowDTO{
		Kind: string(window.Kind),
		Key:  window.Key(),
	}
	if window.Kind == award.WindowNight {
		dto.Night = window.Night.UTC().Format("2006-01-02")
	}
	return dto
}

func entryToDTO(entry award.Entry) entryDTO {
	return entryDTO{
		PlayerID:   entry.PlayerID,
		Score:      entry.Score,
		FightCount: entry.FightCount,
		Rank:       entry.Rank,
	}
}

func entriesToDTO(entries []award.Entry) []entryDTO {
	items := make([]entryDTO, 0, len(entries))
	for _, entry := range entries {
		items = append(items, entryToDTO(entry))
	}
	return items
}

func winnerDTO(result award.Result) *entryDTO {
	winner, ok := result.Winner()
	if !ok {
		return nil
	}
	dto := entryToDTO(winner)
	return &dto
}

func runnerUpDTOs(result award.Result, n int) []entryDTO {
	return entriesToDTO(result.RunnerUps(n))
}

func runToDTO(ctx context.Context, run award.Run, runnerUpCount int) runDTO {
	ctx, span := startSpan(ctx, "httpapi.runToDTO")
	defer span.End()

	results := make([]resultDTO, 0, len(run.Results))
	for _, result := range run.Results {
		results = append(results, resultDTO{
			Category:   string(result.Category),
			Winner:     winnerDTO(result),
			RunnerUps:  runnerUpDTOs(result, runnerUpCount),
			Candidates: len(result.Entries),
		})
	}

	return runDTO{
		ID:               run.ID,
		Window:           windowToDTO(run.Window),
		ComputedAtUTC:    run.ComputedAt.UTC().Format(time.RFC3339),
		Results:          results,
		DiagnosticsCount: len(run.Diagnostics),
	}
}
