package gateway

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
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("gateway: api key is required")

// ErrNoImage is returned when the gateway answers successfully but the first
// choice carries no image attachment. That is a failure, not an empty success.
var ErrNoImage = errors.New("No image generated")

// Options configures the chat-image gateway client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs one synchronous chat-completion call per image. Unlike the
// job-queue providers there is no task id and nothing to poll.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// Request captures the inputs for a gateway image generation. The gateway
// takes at most one reference image, inlined into the message content.
type Request struct {
	Prompt       string
	ReferenceURL string
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Images []struct {
				ImageURL imageRef `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-image-1"
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
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Model returns the configured gateway model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GenerateImage sends the prompt (and the primary reference image, when
// present) as multi-part message content and returns the URL of the image
// attached to the first choice.
func (c *Client) GenerateImage(ctx context.Context, req Request) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("gateway: prompt is required")
	}

	content := []contentPart{{Type: "text", Text: prompt}}
	if ref := strings.TrimSpace(req.ReferenceURL); ref != "" {
		content = append(content, contentPart{Type: "image_url", ImageURL: &imageRef{URL: ref}})
	}
	payload := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: content}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gateway: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gateway: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gateway: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("gateway: provider error")
		return "", fmt.Errorf("gateway: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("gateway: decode response: %w", err)
	}
	if decoded.Error.Message != "" {
		return "", fmt.Errorf("gateway: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 || len(decoded.Choices[0].Message.Images) == 0 {
		return "", ErrNoImage
	}
	url := strings.TrimSpace(decoded.Choices[0].Message.Images[0].ImageURL.URL)
	if url == "" {
		return "", ErrNoImage
	}
	c.logger.Debug().Str("model", c.model).Msg("gateway: image generated")
	return url, nil
}
