package warcraftlogs

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/grimfell/raid-awards/internal/platform/logging"
	"github.com/grimfell/raid-awards/internal/platform/resilience"
	"github.com/grimfell/raid-awards/internal/usecase"
)

const (
	defaultAPIURL   = "https://www.warcraftlogs.com/api/v2/client"
	defaultTokenURL = "https://www.warcraftlogs.com/oauth/token"

	// Tokens are refreshed slightly before the provider expiry to avoid
	// racing an in-flight request against the cutoff.
	tokenExpirySkew  = 30 * time.Second
	maxResponseBytes = 6 << 20
	eventPageLimit   = 10000
)

var errWarcraftLogsTransient = crerr.New("warcraft logs transient failure")

const reportQuery = `query ReportFights($code: String!) {
  reportData {
    report(code: $code) {
      code
      startTime
      fights(killType: Encounters) {
        id
        encounterID
        startTime
        endTime
        size
        kill
        friendlyPlayers
      }
      masterData {
        actors(type: "Player") {
          id
          name
          type
          subType
          icon
        }
      }
      playerDetails(translate: true)
    }
  }
}`

const eventsQuery = `query ReportEvents($code: String!, $fightID: Int!, $startTime: Float!, $endTime: Float!) {
  reportData {
    report(code: $code) {
      events(fightIDs: [$fightID], startTime: $startTime, endTime: $endTime, limit: 10000, translate: true) {
        data
        nextPageTimestamp
      }
    }
  }
}`

type ClientConfig struct {
	HTTPClient     *http.Client
	APIURL         string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Timeout        time.Duration
	MaxRetries     int
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Client pulls raid reports from the Warcraft Logs v2 GraphQL API and
// maps them into the ingestion DTOs. It implements usecase.ReportProvider.
type Client struct {
	httpClient     *http.Client
	apiURL         string
	tokenURL       string
	clientID       string
	clientSecret   string
	maxRetries     int
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
	flight         resilience.SingleFlight

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 20 * time.Second
	}

	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		httpClient:     httpClient,
		apiURL:         apiURL,
		tokenURL:       tokenURL,
		clientID:       strings.TrimSpace(cfg.ClientID),
		clientSecret:   strings.TrimSpace(cfg.ClientSecret),
		maxRetries:     maxInt(cfg.MaxRetries, 0),
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

func (c *Client) FetchReport(ctx context.Context, reportCode string) (usecase.ExternalReport, error) {
	code := strings.TrimSpace(reportCode)
	if code == "" {
		return usecase.ExternalReport{}, fmt.Errorf("report code is required")
	}

	var envelope reportEnvelope
	if err := c.doGraphQL(ctx, "report:"+code, reportQuery, reportVariables{Code: code}, &envelope); err != nil {
		return usecase.ExternalReport{}, fmt.Errorf("fetch report %s: %w", code, err)
	}

	report := envelope.Data.ReportData.Report
	if report.Code == "" {
		return usecase.ExternalReport{}, fmt.Errorf("report %s not found", code)
	}

	actors := indexActors(report.MasterData.Actors)
	roles := indexRoles(report.PlayerDetails)

	external := usecase.ExternalReport{Code: report.Code}
	for _, fight := range report.Fights {
		events, err := c.fetchFightEvents(ctx, code, fight)
		if err != nil {
			return usecase.ExternalReport{}, fmt.Errorf("fetch events report=%s fight=%d: %w", code, fight.ID, err)
		}

		mapped, skipped := mapFight(report, fight, actors, roles, events)
		if skipped > 0 {
			c.logger.DebugContext(ctx, "skipped unmappable combat events",
				"report", code,
				"fight", fight.ID,
				"skipped", skipped,
			)
		}
		external.Fights = append(external.Fights, mapped)
	}

	return external, nil
}

// fetchFightEvents walks the paginated event stream for one fight,
// following nextPageTimestamp until the provider reports the end.
func (c *Client) fetchFightEvents(ctx context.Context, code string, fight reportFight) ([]eventRow, error) {
	var rows []eventRow
	startTime := fight.StartTime
	for page := 0; ; page++ {
		variables := eventsVariables{
			Code:      code,
			FightID:   fight.ID,
			StartTime: startTime,
			EndTime:   fight.EndTime,
		}

		var envelope eventsEnvelope
		key := fmt.Sprintf("events:%s:%d:%.0f", code, fight.ID, startTime)
		if err := c.doGraphQL(ctx, key, eventsQuery, variables, &envelope); err != nil {
			return nil, err
		}

		pageRows, err := decodeEventRows(envelope.Data.ReportData.Report.Events.Data)
		if err != nil {
			return nil, err
		}
		rows = append(rows, pageRows...)

		next := envelope.Data.ReportData.Report.Events.NextPageTimestamp
		if next == nil || *next <= startTime {
			return rows, nil
		}
		startTime = *next
	}
}

func (c *Client) doGraphQL(ctx context.Context, flightKey, query string, variables any, target any) error {
	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "warcraft logs circuit breaker rejected request", "state", c.breaker.State())
			return fmt.Errorf("%w: log service is temporarily unavailable", usecase.ErrDependencyUnavailable)
		}
	}

	body, err := buildGraphQLBody(query, variables)
	if err != nil {
		return err
	}

	out, err, _ := c.flight.Do(flightKey, func() (any, error) {
		raw, reqErr := c.executeRequest(ctx, body)
		if c.circuitEnabled {
			if reqErr != nil && isWarcraftLogsCircuitFailure(reqErr) {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
		}
		return raw, reqErr
	})
	if err != nil {
		return err
	}

	raw, ok := out.([]byte)
	if !ok {
		return fmt.Errorf("unexpected response payload type %T", out)
	}

	var probe graphQLErrorProbe
	if err := sonic.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("decode provider payload: %w", err)
	}
	if len(probe.Errors) > 0 {
		return fmt.Errorf("provider query rejected: %s", probe.Errors[0].Message)
	}

	if err := sonic.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode provider payload: %w", err)
	}
	return nil
}

func (c *Client) executeRequest(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		token, err := c.bearerToken(ctx)
		if err != nil {
			lastErr = err
		} else {
			raw, status, reqErr := c.postGraphQL(ctx, token, body)
			switch {
			case reqErr != nil:
				lastErr = reqErr
			case status == http.StatusUnauthorized:
				// Token revoked upstream; drop the cache and retry with
				// a fresh one.
				c.invalidateToken()
				lastErr = fmt.Errorf("%w: provider status=%d", errWarcraftLogsTransient, status)
			case status >= 200 && status < 300:
				return raw, nil
			case isRetryableStatus(status):
				lastErr = fmt.Errorf("%w: provider status=%d body=%s", errWarcraftLogsTransient, status, abbreviateBody(raw))
			default:
				lastErr = fmt.Errorf("provider status=%d body=%s", status, abbreviateBody(raw))
				c.logger.WarnContext(ctx, "warcraft logs request failed", "error", lastErr)
				return nil, lastErr
			}
		}

		if attempt == c.maxRetries {
			break
		}
		backoff := time.Duration(attempt+1) * time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("provider request failed")
	}
	c.logger.WarnContext(ctx, "warcraft logs request failed", "error", sanitizeSecret(lastErr.Error(), c.clientSecret))
	return nil, lastErr
}

func (c *Client) postGraphQL(ctx context.Context, token string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: send request: %s", errWarcraftLogsTransient, sanitizeSecret(err.Error(), c.clientSecret))
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, 0, fmt.Errorf("%w: read response body: %v", errWarcraftLogsTransient, readErr)
	}
	return raw, resp.StatusCode, nil
}

// bearerToken returns the cached OAuth2 client-credentials token,
// fetching a fresh one when the cache is empty or near expiry.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySkew)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch token: %s", errWarcraftLogsTransient, sanitizeSecret(err.Error(), c.clientSecret))
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if readErr != nil {
		return "", fmt.Errorf("%w: read token response: %v", errWarcraftLogsTransient, readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if isRetryableStatus(resp.StatusCode) {
			return "", fmt.Errorf("%w: token endpoint status=%d", errWarcraftLogsTransient, resp.StatusCode)
		}
		return "", fmt.Errorf("token endpoint status=%d body=%s", resp.StatusCode, abbreviateBody(raw))
	}

	var payload tokenResponse
	if err := sonic.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	expiresIn := payload.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()
}

func buildGraphQLBody(query string, variables any) ([]byte, error) {
	queryJSON, err := sonic.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	variablesJSON, err := sonic.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString(`{"query":`)
	_, _ = buf.Write(queryJSON)
	_, _ = buf.WriteString(`,"variables":`)
	_, _ = buf.Write(variablesJSON)
	_ = buf.WriteByte('}')

	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())
	return body, nil
}

func isWarcraftLogsCircuitFailure(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, errWarcraftLogsTransient)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func sanitizeSecret(value, secret string) string {
	value = strings.TrimSpace(value)
	if secret != "" {
		value = strings.ReplaceAll(value, secret, "REDACTED")
	}
	return value
}

func abbreviateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= 240 {
		return text
	}
	return text[:240] + "..."
}

func maxInt(left, right int) int {
	if left > right {
		return left
	}
	return right
}

var _ usecase.ReportProvider = (*Client)(nil)
