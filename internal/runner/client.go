package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/cursus/internal/common"
	"github.com/ternarybob/cursus/internal/interfaces"
	"github.com/ternarybob/cursus/internal/models"
)

const (
	// DefaultTimeout is the default per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second)
	// applied to status polling so aggressive detail-level restarts
	// cannot hammer the backend.
	DefaultRateLimit = 5
)

// Client talks HTTP to the backend pipeline runner. It implements
// interfaces.PipelineAPI.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit sets a custom rate limit for status polling.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewClient creates a new pipeline backend client. baseURL is the
// orchestrate base, e.g. "http://localhost:8080/orchestrate".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the orchestrate base this client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitRun posts the sanitized request to {base}/run with the commit
// flag mirrored onto the query string.
func (c *Client) SubmitRun(ctx context.Context, req models.JobRequest) (*models.JobHandle, error) {
	body, err := req.ToJSON()
	if err != nil {
		return nil, err
	}

	runURL := common.WithQueryParam(common.JoinPath(c.baseURL, "run"), "commit", strconv.FormatBool(req.Commit()))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, runURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.logger != nil {
		c.logger.Debug().
			Str("url", runURL).
			Str("preset", req.Preset()).
			Msg("Submitting pipeline run")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute submit request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    ExtractErrorMessage(respBody, resp.StatusCode),
			Endpoint:   "/run",
		}
	}

	var parsed struct {
		JobID    string `json:"job_id"`
		JobIDAlt string `json:"jobId"`
		RunID    string `json:"run_id"`
		Poll     string `json:"poll"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", err)
	}

	runID := parsed.JobID
	if runID == "" {
		runID = parsed.JobIDAlt
	}
	if runID == "" {
		runID = parsed.RunID
	}
	if runID == "" {
		return nil, fmt.Errorf("submit response carried no run id")
	}

	handle := &models.JobHandle{
		ID:                 runID,
		BackendPollLocator: parsed.Poll,
	}
	if parsed.Poll != "" {
		handle.PollLocator = common.ResolveLocator(c.baseURL, parsed.Poll)
	} else {
		// Backend gave no locator; fall back to the conventional status path.
		handle.PollLocator = common.WithQueryParam(common.JoinPath(c.baseURL, "status"), "run_id", runID)
	}

	return handle, nil
}

// FetchStatus polls the locator with the detail parameter rewritten to
// the requested level. Rewriting (not appending) is required because the
// caller may change detail level mid-run.
func (c *Client) FetchStatus(ctx context.Context, pollLocator string, detail models.DetailLevel) (models.StatusPayload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	statusURL := common.WithQueryParam(common.ResolveLocator(c.baseURL, pollLocator), "detail", detail.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    ExtractErrorMessage(body, resp.StatusCode),
			Endpoint:   "/status",
		}
	}

	var payload models.StatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	return payload, nil
}

// AbortRun posts a best-effort abort for the run. Callers fire and
// forget; a failure here never blocks local cancellation.
func (c *Client) AbortRun(ctx context.Context, runID string) error {
	abortURL := common.JoinPath(c.baseURL, "abort") + "?" + url.Values{"run_id": {runID}}.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, abortURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create abort request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute abort request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    ExtractErrorMessage(body, resp.StatusCode),
			Endpoint:   "/abort",
		}
	}

	return nil
}

// FetchReport retrieves the final report for a successful run. The
// report shape is opaque to this client.
func (c *Client) FetchReport(ctx context.Context, runID string) (json.RawMessage, error) {
	reportURL := common.JoinPath(c.baseURL, "report") + "?" + url.Values{"run_id": {runID}}.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reportURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create report request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute report request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read report response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    ExtractErrorMessage(body, resp.StatusCode),
			Endpoint:   "/report",
		}
	}

	return json.RawMessage(body), nil
}

var _ interfaces.PipelineAPI = (*Client)(nil)
