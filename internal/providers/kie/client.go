package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/infra"
	"mediaforge/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("kie: api key is required")

// ErrMissingTaskID indicates a 2xx submit response that carried no task id.
var ErrMissingTaskID = errors.New("kie: submit response missing task id")

// DefaultStatusEndpoint is used for models without an entry in the
// status-endpoint table.
const DefaultStatusEndpoint = "/api/v1/jobs/recordInfo"

// Options configures the economy-jobs client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the economy-jobs REST API. One POST
// submits a task; a per-model status endpoint reports progress and carries
// the result URLs once finished.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.kie.ai"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

type submitResponse struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	TaskID  string          `json:"taskId"`
	TaskID2 string          `json:"task_id"`
	Data    json.RawMessage `json:"data"`
}

type submitData struct {
	TaskID  string `json:"taskId"`
	TaskID2 string `json:"task_id"`
}

// Submit posts a generation task and returns the provider task id. The
// upstream response shape is inconsistent across model families, so the id is
// tolerated at taskId, data.taskId, task_id and data.task_id, in that
// priority order.
func (c *Client) Submit(ctx context.Context, endpoint string, body map[string]any) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		return "", err
	}

	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("kie: decode submit response: %w", err)
	}
	var data submitData
	if len(decoded.Data) > 0 {
		_ = json.Unmarshal(decoded.Data, &data)
	}

	for _, id := range []string{decoded.TaskID, data.TaskID, decoded.TaskID2, data.TaskID2} {
		if id = strings.TrimSpace(id); id != "" {
			c.logger.Debug().Str("endpoint", endpoint).Str("task_id", id).Msg("kie: task submitted")
			return id, nil
		}
	}
	return "", ErrMissingTaskID
}

type statusResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		State      string          `json:"state"`
		Status     string          `json:"status"`
		FailMsg    string          `json:"failMsg"`
		ErrorMsg   string          `json:"errorMessage"`
		ResultJSON string          `json:"resultJson"`
		ResultURLs []string        `json:"resultUrls"`
		Response   json.RawMessage `json:"response"`
	} `json:"data"`
	State  string `json:"state"`
	Status string `json:"status"`
}

type resultJSON struct {
	ResultURLs []string `json:"resultUrls"`
}

// Status fetches the task state from the model's status endpoint and collapses
// the provider vocabulary into the normalized three-state model.
func (c *Client) Status(ctx context.Context, statusEndpoint, taskID string) (providers.Poll, error) {
	if !c.HasCredentials() {
		return providers.Poll{}, ErrMissingAPIKey
	}
	if statusEndpoint == "" {
		statusEndpoint = DefaultStatusEndpoint
	}
	endpoint := statusEndpoint + "?taskId=" + url.QueryEscape(taskID)
	raw, err := c.get(ctx, endpoint)
	if err != nil {
		return providers.Poll{}, err
	}

	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return providers.Poll{}, fmt.Errorf("kie: decode status response: %w", err)
	}

	state := firstNonEmpty(decoded.Data.State, decoded.Data.Status, decoded.State, decoded.Status)
	poll := providers.Poll{Status: mapState(state)}
	if poll.Status == providers.StatusFailed {
		poll.Message = firstNonEmpty(decoded.Data.FailMsg, decoded.Data.ErrorMsg, decoded.Msg)
	}
	if poll.Status == providers.StatusCompleted {
		poll.OutputURL = extractResultURL(decoded)
	}
	return poll, nil
}

func extractResultURL(decoded statusResponse) string {
	if len(decoded.Data.ResultURLs) > 0 {
		return decoded.Data.ResultURLs[0]
	}
	if decoded.Data.ResultJSON != "" {
		var result resultJSON
		if err := json.Unmarshal([]byte(decoded.Data.ResultJSON), &result); err == nil && len(result.ResultURLs) > 0 {
			return result.ResultURLs[0]
		}
	}
	if len(decoded.Data.Response) > 0 {
		var result resultJSON
		if err := json.Unmarshal(decoded.Data.Response, &result); err == nil && len(result.ResultURLs) > 0 {
			return result.ResultURLs[0]
		}
	}
	return ""
}

var failureKeywords = []string{"fail", "error", "reject", "cancel", "timeout"}

// mapState lower-cases the provider status and folds it into the three-state
// model. Unrecognized states that match no failure keyword keep the poll loop
// running; the loop budget bounds them.
func mapState(state string) providers.TaskStatus {
	s := strings.ToLower(strings.TrimSpace(state))
	switch s {
	case "completed", "success":
		return providers.StatusCompleted
	case "generating", "pending", "processing":
		return providers.StatusRunning
	case "queued", "waiting", "submitted":
		return providers.StatusQueued
	}
	for _, kw := range failureKeywords {
		if strings.Contains(s, kw) {
			return providers.StatusFailed
		}
	}
	return providers.StatusRunning
}

func (c *Client) post(ctx context.Context, endpoint string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("kie: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("kie: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("kie: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kie: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kie: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("kie: provider error")
		return nil, fmt.Errorf("kie: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
