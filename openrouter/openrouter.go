// Package openrouter implements the model client against the OpenRouter
// chat-completions API. HTTP failures are classified into the harness's
// retry kinds: 429 is rate limited, 5xx and network errors are transport
// faults, every other 4xx is a permanent bad request.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jaseci-llmdocs/jacbench/executor"
	"github.com/jaseci-llmdocs/jacbench/types"
)

// DefaultBaseURL is the OpenRouter API endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

const completionsPath = "/chat/completions"

// responseBodyLimit caps how much of an error body is read for the
// diagnostic message.
const responseBodyLimit = 4 << 10

// Config configures the client.
type Config struct {
	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
	// APIKey is the bearer token. Required against the real endpoint.
	APIKey string
	// Model is the provider model id requests are issued for.
	Model string
	// HTTPTimeout is the transport-level timeout; the per-batch deadline
	// arrives via ctx and is usually tighter.
	HTTPTimeout time.Duration
}

// Client issues chat-completion requests for one model.
type Client struct {
	conf   Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a client.
func New(conf Config, logger *zap.Logger) *Client {
	if conf.BaseURL == "" {
		conf.BaseURL = DefaultBaseURL
	}
	if conf.HTTPTimeout <= 0 {
		conf.HTTPTimeout = 15 * time.Minute
	}
	return &Client{
		conf:   conf,
		http:   &http.Client{Timeout: conf.HTTPTimeout},
		logger: logger,
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// responseFormat asks the provider for a bare JSON object so the batch
// response parses as an id→code map without fence stripping.
type responseFormat struct {
	Type string `json:"type"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage executor.Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Invoke sends one prompt and returns the raw completion text. The
// request's model id selects the provider model; the configured model is
// a fallback for callers that leave it empty.
func (c *Client) Invoke(ctx context.Context, req executor.InvokeRequest) (*executor.InvokeResult, error) {
	model := req.Model
	if model == "" {
		model = c.conf.Model
	}
	body, err := json.Marshal(chatRequest{
		Model:          model,
		Messages:       []message{{Role: "user", Content: req.Prompt}},
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", types.ErrBadRequest, err)
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.conf.BaseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBadRequest, err)
	}
	hr.Header.Set("Content-Type", "application/json")
	if c.conf.APIKey != "" {
		hr.Header.Set("Authorization", "Bearer "+c.conf.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(hr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
		return nil, classify(resp.StatusCode, string(snippet))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", types.ErrInvalidResponse, err)
	}
	// Some providers tunnel errors through a 200 body.
	if cr.Error != nil {
		return nil, fmt.Errorf("%w: provider error: %s", types.ErrInvalidResponse, cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", types.ErrInvalidResponse)
	}

	c.logger.Debug("completion received",
		zap.String("model", c.conf.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("totalTokens", cr.Usage.TotalTokens))
	return &executor.InvokeResult{
		Text:  cr.Choices[0].Message.Content,
		Usage: cr.Usage,
	}, nil
}

func classify(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status 429: %s", types.ErrRateLimited, body)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", types.ErrTransport, status, body)
	default:
		return fmt.Errorf("%w: status %d: %s", types.ErrBadRequest, status, body)
	}
}
