package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grimfell/raid-awards/internal/platform/logging"
)

// Config stores runtime configuration for the service.
type Config struct {
	AppEnv         string
	ServiceName    string
	ServiceVersion string
	HTTPAddr       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	DBURL                   string
	DBDisablePreparedBinary bool

	CacheEnabled bool
	CacheTTL     time.Duration

	CORSAllowedOrigins []string
	InternalJobToken   string

	PprofEnabled bool
	PprofAddr    string

	UptraceEnabled bool
	UptraceDSN     string

	PyroscopeEnabled           bool
	PyroscopeServerAddress     string
	PyroscopeAppName           string
	PyroscopeAuthToken         string
	PyroscopeBasicAuthUser     string
	PyroscopeBasicAuthPassword string
	PyroscopeUploadRate        time.Duration

	LogLevel logging.Level

	WarcraftLogsEnabled             bool
	WarcraftLogsAPIURL              string
	WarcraftLogsTokenURL            string
	WarcraftLogsClientID            string
	WarcraftLogsClientSecret        string
	WarcraftLogsTimeout             time.Duration
	WarcraftLogsMaxRetries          int
	WarcraftLogsCircuitEnabled      bool
	WarcraftLogsCircuitFailureCount int
	WarcraftLogsCircuitOpenTimeout  time.Duration
	WarcraftLogsCircuitHalfOpenMax  int

	// Award engine knobs. BaseFightDuration zero means use the batch
	// median duration per encounter.
	AwardsReferenceRaidSize    int
	AwardsBaseFightDuration    float64
	AwardsRoleWeights          map[string]float64
	AwardsMinSampleSize        int
	AwardsConfidenceZThreshold float64
	AwardsRunnerUpCount        int
	AwardsArtifactSpreadRatio  float64
	AwardsAggregationWorkers   int
}

func Load() (Config, error) {
	appEnv, err := parseAppEnv(getEnv("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	readTimeout, err := getEnvAsDuration("READ_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	writeTimeout, err := getEnvAsDuration("WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	dbDisablePreparedBinary, err := getEnvAsBool("DB_DISABLE_PREPARED_BINARY", false)
	if err != nil {
		return Config{}, err
	}

	cacheEnabled, err := getEnvAsBool("CACHE_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := getEnvAsDuration("CACHE_TTL", 60*time.Second)
	if err != nil {
		return Config{}, err
	}

	pprofEnabled, err := getEnvAsBool("PPROF_ENABLED", false)
	if err != nil {
		return Config{}, err
	}

	uptraceEnabled, err := getEnvAsBool("UPTRACE_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	uptraceDSN := strings.TrimSpace(getEnv("UPTRACE_DSN", ""))
	if uptraceDSN == "" {
		uptraceDSN = parseUptraceDSNFromOTLPHeaders(getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""))
	}
	if uptraceEnabled && uptraceDSN == "" {
		return Config{}, fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}

	pyroscopeEnabled, err := getEnvAsBool("PYROSCOPE_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	pyroscopeServerAddress := strings.TrimSpace(getEnv("PYROSCOPE_SERVER_ADDRESS", ""))
	if pyroscopeEnabled && pyroscopeServerAddress == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	pyroscopeUploadRate, err := getEnvAsDuration("PYROSCOPE_UPLOAD_RATE", 15*time.Second)
	if err != nil {
		return Config{}, err
	}

	warcraftLogsEnabled, err := getEnvAsBool("WARCRAFTLOGS_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	warcraftLogsClientID := strings.TrimSpace(getEnv("WARCRAFTLOGS_CLIENT_ID", ""))
	warcraftLogsClientSecret := strings.TrimSpace(getEnv("WARCRAFTLOGS_CLIENT_SECRET", ""))
	if warcraftLogsEnabled && (warcraftLogsClientID == "" || warcraftLogsClientSecret == "") {
		return Config{}, fmt.Errorf("WARCRAFTLOGS_CLIENT_ID and WARCRAFTLOGS_CLIENT_SECRET are required when WARCRAFTLOGS_ENABLED=true")
	}
	warcraftLogsTimeout, err := getEnvAsDuration("WARCRAFTLOGS_TIMEOUT", 20*time.Second)
	if err != nil {
		return Config{}, err
	}
	warcraftLogsMaxRetries, err := getEnvAsInt("WARCRAFTLOGS_MAX_RETRIES", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse WARCRAFTLOGS_MAX_RETRIES: %w", err)
	}
	warcraftLogsCircuitEnabled, err := getEnvAsBool("WARCRAFTLOGS_CIRCUIT_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	warcraftLogsCircuitFailureCount, err := getEnvAsInt("WARCRAFTLOGS_CIRCUIT_FAILURE_COUNT", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse WARCRAFTLOGS_CIRCUIT_FAILURE_COUNT: %w", err)
	}
	warcraftLogsCircuitOpenTimeout, err := getEnvAsDuration("WARCRAFTLOGS_CIRCUIT_OPEN_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	warcraftLogsCircuitHalfOpenMax, err := getEnvAsInt("WARCRAFTLOGS_CIRCUIT_HALF_OPEN_MAX_REQ", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse WARCRAFTLOGS_CIRCUIT_HALF_OPEN_MAX_REQ: %w", err)
	}

	awardsReferenceRaidSize, err := getEnvAsInt("AWARDS_REFERENCE_RAID_SIZE", 20)
	if err != nil {
		return Config{}, fmt.Errorf("parse AWARDS_REFERENCE_RAID_SIZE: %w", err)
	}
	if awardsReferenceRaidSize < 1 {
		return Config{}, fmt.Errorf("AWARDS_REFERENCE_RAID_SIZE must be at least one")
	}
	awardsBaseFightDuration, err := getEnvAsFloat("AWARDS_BASE_FIGHT_DURATION", 0)
	if err != nil {
		return Config{}, fmt.Errorf("parse AWARDS_BASE_FIGHT_DURATION: %w", err)
	}
	if awardsBaseFightDuration < 0 {
		return Config{}, fmt.Errorf("AWARDS_BASE_FIGHT_DURATION cannot be negative")
	}
	awardsRoleWeights, err := parseRoleWeights(getEnv("AWARDS_ROLE_WEIGHTS", "tank:1.2,healer:1.0,dps:0.8"))
	if err != nil {
		return Config{}, fmt.Errorf("parse AWARDS_ROLE_WEIGHTS: %w", err)
	}
	awardsMinSampleSize, err := getEnvAsInt("AWARDS_MIN_SAMPLE_SIZE", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse AWARDS_MIN_SAMPLE_SIZE: %w", err)
	}
	if awardsMinSampleSize < 1 {
		return Config{}, fmt.Errorf("AWARDS_MIN_SAMPLE_SIZE must be at least one")
	}
	awardsConfidenceZThreshold, err := getEnvAsFloat("AWARDS_CONFIDENCE_Z_THRESHOLD", 1.96)
	if err != nil {
		return Config{}, fmt.Errorf("parse AWARDS_CONFIDENCE_Z_THRESHOLD: %w", err)
	}
	if awardsConfidenceZThreshold <= 0 {
		return Config{}, fmt.Errorf("AWARDS_CONFIDENCE_Z_THRESHOLD must be positive")
	}
	awardsRunnerUpCount, err := getEnvAsInt("AWARDS_RUNNER_UP_COUNT", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse AWARDS_RUNNER_UP_COUNT: %w", err)
	}
	if awardsRunnerUpCount < 0 {
		return Config{}, fmt.Errorf("AWARDS_RUNNER_UP_COUNT cannot be negative")
	}
	awardsArtifactSpreadRatio, err := getEnvAsFloat("AWARDS_ARTIFACT_SPREAD_RATIO", 10)
	if err != nil {
		return Config{}, fmt.Errorf("parse AWARDS_ARTIFACT_SPREAD_RATIO: %w", err)
	}
	if awardsArtifactSpreadRatio <= 0 {
		return Config{}, fmt.Errorf("AWARDS_ARTIFACT_SPREAD_RATIO must be positive")
	}
	awardsAggregationWorkers, err := getEnvAsInt("AWARDS_MAX_AGGREGATION_WORKERS", 8)
	if err != nil {
		return Config{}, fmt.Errorf("parse AWARDS_MAX_AGGREGATION_WORKERS: %w", err)
	}

	return Config{
		AppEnv:         appEnv,
		ServiceName:    getEnv("SERVICE_NAME", "raid-awards"),
		ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,

		DBURL:                   strings.TrimSpace(getEnv("DB_URL", "")),
		DBDisablePreparedBinary: dbDisablePreparedBinary,

		CacheEnabled: cacheEnabled,
		CacheTTL:     cacheTTL,

		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		InternalJobToken:   strings.TrimSpace(getEnv("INTERNAL_JOB_TOKEN", "")),

		PprofEnabled: pprofEnabled,
		PprofAddr:    getEnv("PPROF_ADDR", "localhost:6060"),

		UptraceEnabled: uptraceEnabled,
		UptraceDSN:     uptraceDSN,

		PyroscopeEnabled:           pyroscopeEnabled,
		PyroscopeServerAddress:     pyroscopeServerAddress,
		PyroscopeAppName:           getEnv("PYROSCOPE_APP_NAME", "raid-awards"),
		PyroscopeAuthToken:         strings.TrimSpace(getEnv("PYROSCOPE_AUTH_TOKEN", "")),
		PyroscopeBasicAuthUser:     strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_USER", "")),
		PyroscopeBasicAuthPassword: strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_PASSWORD", "")),
		PyroscopeUploadRate:        pyroscopeUploadRate,

		LogLevel: parseLogLevel(getEnv("LOG_LEVEL", "info")),

		WarcraftLogsEnabled:             warcraftLogsEnabled,
		WarcraftLogsAPIURL:              getEnv("WARCRAFTLOGS_API_URL", "https://www.warcraftlogs.com/api/v2/client"),
		WarcraftLogsTokenURL:            getEnv("WARCRAFTLOGS_TOKEN_URL", "https://www.warcraftlogs.com/oauth/token"),
		WarcraftLogsClientID:            warcraftLogsClientID,
		WarcraftLogsClientSecret:        warcraftLogsClientSecret,
		WarcraftLogsTimeout:             warcraftLogsTimeout,
		WarcraftLogsMaxRetries:          warcraftLogsMaxRetries,
		WarcraftLogsCircuitEnabled:      warcraftLogsCircuitEnabled,
		WarcraftLogsCircuitFailureCount: warcraftLogsCircuitFailureCount,
		WarcraftLogsCircuitOpenTimeout:  warcraftLogsCircuitOpenTimeout,
		WarcraftLogsCircuitHalfOpenMax:  warcraftLogsCircuitHalfOpenMax,

		AwardsReferenceRaidSize:    awardsReferenceRaidSize,
		AwardsBaseFightDuration:    awardsBaseFightDuration,
		AwardsRoleWeights:          awardsRoleWeights,
		AwardsMinSampleSize:        awardsMinSampleSize,
		AwardsConfidenceZThreshold: awardsConfidenceZThreshold,
		AwardsRunnerUpCount:        awardsRunnerUpCount,
		AwardsArtifactSpreadRatio:  awardsArtifactSpreadRatio,
		AwardsAggregationWorkers:   awardsAggregationWorkers,
	}, nil
}

func parseLogLevel(v string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(getEnv(key, strconv.Itoa(fallback))))
	if err != nil {
		return 0, err
	}
	return value, nil
}

func getEnvAsFloat(key string, fallback float64) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(getEnv(key, strconv.FormatFloat(fallback, 'f', -1, 64))), 64)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func getEnvAsBool(key string, fallback bool) (bool, error) {
	value, err := strconv.ParseBool(strings.TrimSpace(getEnv(key, strconv.FormatBool(fallback))))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(getEnv(key, fallback.String())))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRoleWeights parses "tank:1.2,healer:1.0,dps:0.8".
func parseRoleWeights(raw string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, pair := range splitCSV(raw) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid role weight %q: want role:weight", pair)
		}
		role := strings.ToLower(strings.TrimSpace(parts[0]))
		weight, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for role %s: %w", role, err)
		}
		if weight <= 0 {
			return nil, fmt.Errorf("weight for role %s must be positive", role)
		}
		out[role] = weight
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("role weights cannot be empty")
	}
	return out, nil
}

// parseUptraceDSNFromOTLPHeaders extracts the uptrace-dsn value from an
// OTEL_EXPORTER_OTLP_HEADERS string like "uptrace-dsn=https://...".
func parseUptraceDSNFromOTLPHeaders(raw string) string {
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 && strings.EqualFold(strings.TrimSpace(parts[0]), "uptrace-dsn") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

func parseAppEnv(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case EnvDev, EnvStage, EnvProd:
		return strings.ToLower(strings.TrimSpace(v)), nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}
