package falqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/infra"
	"mediaforge/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("falqueue: api key is required")

// ErrMissingRequestID indicates a 2xx submit response that carried no request id.
var ErrMissingRequestID = errors.New("falqueue: submit response missing request id")

// Options configures the queue-based provider client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to the queue-based provider. Submitting to a model path
// returns a request id; the status and result endpoints are derived from the
// first two segments of that same path, because model variants under one
// family share a single queue.
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
		baseURL = "https://queue.fal.run"
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

// QueueBase truncates a model path to its first two segments, which is where
// the shared status/result endpoints live. "fal-ai/kling-video/v1.6/pro/i2v"
// becomes "fal-ai/kling-video".
func QueueBase(modelPath string) string {
	parts := strings.Split(strings.Trim(modelPath, "/"), "/")
	if len(parts) <= 2 {
		return strings.Trim(modelPath, "/")
	}
	return parts[0] + "/" + parts[1]
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

// Submit enqueues a generation on the model path and returns the request id.
func (c *Client) Submit(ctx context.Context, modelPath string, body map[string]any) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("falqueue: encode request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/"+strings.Trim(modelPath, "/"), payload)
	if err != nil {
		return "", err
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("falqueue: decode submit response: %w", err)
	}
	id := strings.TrimSpace(decoded.RequestID)
	if id == "" {
		return "", ErrMissingRequestID
	}
	c.logger.Debug().Str("model_path", modelPath).Str("request_id", id).Msg("falqueue: request submitted")
	return id, nil
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Status polls the queue status endpoint derived from the submit path.
func (c *Client) Status(ctx context.Context, modelPath, requestID string) (providers.Poll, error) {
	if !c.HasCredentials() {
		return providers.Poll{}, ErrMissingAPIKey
	}
	endpoint := fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, QueueBase(modelPath), requestID)
	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.Poll{}, err
	}
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return providers.Poll{}, fmt.Errorf("falqueue: decode status response: %w", err)
	}
	poll := providers.Poll{Status: mapStatus(decoded.Status)}
	if poll.Status == providers.StatusFailed {
		poll.Message = decoded.Error
	}
	return poll, nil
}

func mapStatus(status string) providers.TaskStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "IN_QUEUE":
		return providers.StatusQueued
	case "IN_PROGRESS":
		return providers.StatusRunning
	case "COMPLETED", "OK":
		return providers.StatusCompleted
	case "FAILED", "ERROR", "CANCELLED":
		return providers.StatusFailed
	}
	return providers.StatusRunning
}

type resultResponse struct {
	Video struct {
		URL string `json:"url"`
	} `json:"video"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	Audio struct {
		URL string `json:"url"`
	} `json:"audio"`
	URL string `json:"url"`
}

// Result fetches the finished payload from the result endpoint derived from
// the submit path and returns the output URL.
func (c *Client) Result(ctx context.Context, modelPath, requestID string) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	endpoint := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, QueueBase(modelPath), requestID)
	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	var decoded resultResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("falqueue: decode result response: %w", err)
	}
	for _, url := range []string{decoded.Video.URL, firstImageURL(decoded), decoded.Audio.URL, decoded.URL} {
		if strings.TrimSpace(url) != "" {
			return url, nil
		}
	}
	return "", errors.New("falqueue: result carried no output url")
}

func firstImageURL(r resultResponse) string {
	if len(r.Images) > 0 {
		return r.Images[0].URL
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("falqueue: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("falqueue: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("falqueue: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("falqueue: provider error")
		return nil, fmt.Errorf("falqueue: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
