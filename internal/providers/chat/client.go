package chat

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

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/retry"
)

const (
	defaultTimeout = 60 * time.Second
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// Options configures the analysis client.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Message is one chat turn. Content is either a plain string or a list of
// content parts, so image references can be attached for analysis.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Client performs single round-trip chat completions.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *infra.Logger
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient builds a client. A missing key is not an error here; Analyze
// reports it so the service can boot without analysis configured.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
		logger:  infra.LoggerOrDiscard(opts.Logger),
	}
}

// Ready reports whether a credential is configured.
func (c *Client) Ready() error {
	if c.apiKey == "" {
		return fmt.Errorf("chat: %w: CHAT_API_KEY is not set", domain.ErrConfiguration)
	}
	return nil
}

// Analyze sends messages and returns the first choice's content.
func (c *Client) Analyze(ctx context.Context, messages []Message) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("chat: %w: messages are required", domain.ErrInvalidInput)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(chatRequest{Model: c.model, Messages: messages}); err != nil {
		return "", fmt.Errorf("chat: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("chat: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if cause := retry.Cause(ctx); cause != nil {
			return "", cause
		}
		return "", fmt.Errorf("chat: %w: %v", domain.ErrSubmission, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("chat: read response: %w", err)
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("chat: %w: %s", domain.ErrSubmission, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("chat: decode response: %w", decodeErr)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat: response contained no choices")
	}
	c.logger.Debug().
		Str("model", c.model).
		Dur("elapsed", time.Since(started)).
		Msg("chat: analysis complete")
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
