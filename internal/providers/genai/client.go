package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/retry"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Stream     bool
	HTTPClient *http.Client
	Logger     *infra.Logger
	Retry      *retry.Request
}

// Client calls a Gemini-style generateContent endpoint and extracts the first
// usable image. Both buffered JSON and SSE framed responses are accepted.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	stream     bool
	httpClient *http.Client
	logger     *infra.Logger
	retry      retry.Request
}

// ImageRequest represents the information required to generate one composite.
type ImageRequest struct {
	Prompt      string
	AspectRatio string
	ImageSize   string
	References  []domain.ReferenceAsset
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiAPIError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	Error          *geminiAPIError       `json:"error,omitempty"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("genai: invalid base url: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}

	logger := infra.LoggerOrDiscard(opts.Logger)
	policy := retry.DefaultRequest(logger)
	if opts.Retry != nil {
		policy = *opts.Retry
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		stream:     opts.Stream,
		httpClient: client,
		logger:     logger,
		retry:      policy,
	}, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// Ready fails with a configuration error when no credential is present.
func (c *Client) Ready() error {
	if c.apiKey == "" {
		return fmt.Errorf("genai: %w: GEMINI_API_KEY is not set", domain.ErrConfiguration)
	}
	return nil
}

// GenerateImage performs one generation call, retrying at most once on
// server-class or transport failures.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (domain.GeneratedAsset, error) {
	if err := c.Ready(); err != nil {
		return domain.GeneratedAsset{}, err
	}

	parts := []geminiPart{{Text: req.Prompt}}
	for _, ref := range req.References {
		switch {
		case len(ref.Data) > 0:
			mime := ref.MIME
			if mime == "" {
				mime = http.DetectContentType(ref.Data)
			}
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(ref.Data)}})
		case ref.URL != "":
			parts = append(parts, geminiPart{FileData: &geminiFileData{MimeType: ref.MIME, FileURI: ref.URL}})
		}
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig:        &geminiImageConfig{AspectRatio: req.AspectRatio, ImageSize: req.ImageSize},
		},
	}

	var raw []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		body, err := c.invokeGemini(ctx, payload)
		if err != nil {
			return err
		}
		raw = body
		return nil
	})
	if err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) {
			return domain.GeneratedAsset{}, fmt.Errorf("genai: %w: %s", domain.ErrSubmission, se.Message)
		}
		return domain.GeneratedAsset{}, err
	}

	responses, skipped, err := parseResponses(raw)
	if err != nil {
		return domain.GeneratedAsset{}, err
	}
	if skipped > 0 {
		c.logger.Debug().Int("skipped_frames", skipped).Msg("genai: ignored malformed stream frames")
	}
	asset, err := extractImage(responses)
	if err != nil {
		return domain.GeneratedAsset{}, err
	}
	c.logger.Debug().
		Str("model", c.model).
		Bool("inline", asset.HasData()).
		Msg("genai: generated composite")
	return asset, nil
}

func (c *Client) invokeGemini(ctx context.Context, payload any) ([]byte, error) {
	method := "generateContent"
	if c.stream {
		method = "streamGenerateContent"
	}
	endpoint := fmt.Sprintf("%s/models/%s:%s", c.baseURL, url.PathEscape(c.model), method)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("genai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("genai: create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	if c.stream {
		q.Set("alt", "sse")
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("genai: invoke: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genai: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &retry.StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func errorMessage(data []byte) string {
	var envelope struct {
		Error geminiAPIError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	var list []struct {
		Error geminiAPIError `json:"error"`
	}
	if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 && list[0].Error.Message != "" {
		return list[0].Error.Message
	}
	return strings.TrimSpace(string(data))
}
