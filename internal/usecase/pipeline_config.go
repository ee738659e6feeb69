package usecase

import (
	"github.com/grimfell/raid-awards/internal/domain/award"
	"github.com/grimfell/raid-awards/internal/domain/player"
)

// PipelineConfig carries the engine knobs threaded through every
// stage. Zero values fall back to defaults in normalizeConfig; there is
// no module-level mutable state.
type PipelineConfig struct {
	// BaseFightDurationSec is the reference duration volume metrics are
	// rescaled to. Zero means use the batch median per encounter.
	BaseFightDurationSec float64
	ReferenceRaidSize    int
	RoleWeights          map[player.Role]float64
	MinSampleSize        int
	ConfidenceZThreshold float64
	RunnerUpCount        int
	// ArtifactSpreadRatio separates measurement artifacts from genuine
	// extremes: an outlier aggregate is dropped only when its best
	// per-fight score exceeds this multiple of its median per-fight
	// score.
	ArtifactSpreadRatio float64
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ReferenceRaidSize:    20,
		RoleWeights:          award.DefaultRoleWeights(),
		MinSampleSize:        5,
		ConfidenceZThreshold: 1.96,
		RunnerUpCount:        2,
		ArtifactSpreadRatio:  10,
	}
}

// mergeOverrides lays per-request overrides over the service's
// configured defaults. A zero-valued override field means "not
// overridden" and keeps the configured value, so a request touching one
// knob never resets the others to package defaults.
func mergeOverrides(base, overrides PipelineConfig) PipelineConfig {
	merged := base
	if overrides.BaseFightDurationSec > 0 {
		merged.BaseFightDurationSec = overrides.BaseFightDurationSec
	}
	if overrides.ReferenceRaidSize >= 1 {
		merged.ReferenceRaidSize = overrides.ReferenceRaidSize
	}
	if len(overrides.RoleWeights) > 0 {
		merged.RoleWeights = overrides.RoleWeights
	}
	if overrides.MinSampleSize >= 1 {
		merged.MinSampleSize = overrides.MinSampleSize
	}
	if overrides.ConfidenceZThreshold > 0 {
		merged.ConfidenceZThreshold = overrides.ConfidenceZThreshold
	}
	if overrides.RunnerUpCount > 0 {
		merged.RunnerUpCount = overrides.RunnerUpCount
	}
	if overrides.ArtifactSpreadRatio > 0 {
		merged.ArtifactSpreadRatio = overrides.ArtifactSpreadRatio
	}
	return merged
}

func normalizeConfig(cfg PipelineConfig) PipelineConfig {
	defaults := DefaultPipelineConfig()
	if cfg.BaseFightDurationSec < 0 {
		cfg.BaseFightDurationSec = 0
	}
	if cfg.ReferenceRaidSize < 1 {
		cfg.ReferenceRaidSize = defaults.ReferenceRaidSize
	}
	if len(cfg.RoleWeights) == 0 {
		cfg.RoleWeights = defaults.RoleWeights
	}
	if cfg.MinSampleSize < 1 {
		cfg.MinSampleSize = defaults.MinSampleSize
	}
	if cfg.ConfidenceZThreshold <= 0 {
		cfg.ConfidenceZThreshold = defaults.ConfidenceZThreshold
	}
	if cfg.RunnerUpCount < 0 {
		cfg.RunnerUpCount = defaults.RunnerUpCount
	}
	if cfg.ArtifactSpreadRatio <= 0 {
		cfg.ArtifactSpreadRatio = defaults.ArtifactSpreadRatio
	}
	return cfg
}
