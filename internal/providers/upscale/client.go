// Package upscale calls the local enhancement backend.
package upscale

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/retry"
)

// successCode is the envelope sentinel the backend uses for a good result.
const successCode = 10000

// Options configures the enhancement client.
type Options struct {
	Endpoint string
	Quality  string
	Timeout  time.Duration
	Logger   *infra.Logger
}

// Client posts images to the enhancement endpoint.
type Client struct {
	client   *resty.Client
	endpoint string
	quality  string
	logger   *infra.Logger
}

type enhanceRequest struct {
	ImageBase64  string `json:"image_base64"`
	ModelQuality string `json:"model_quality,omitempty"`
}

type enhanceResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Data    struct {
		Data struct {
			ImageURLs        []string `json:"image_urls"`
			BinaryDataBase64 []string `json:"binary_data_base64"`
		} `json:"data"`
	} `json:"data"`
}

// NewClient constructs a client. The endpoint may be empty; Ready reports it.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := resty.New().SetTimeout(timeout)
	return &Client{
		client:   client,
		endpoint: strings.TrimSpace(opts.Endpoint),
		quality:  strings.TrimSpace(opts.Quality),
		logger:   infra.LoggerOrDiscard(opts.Logger),
	}
}

// Ready fails with a configuration error when no endpoint is set.
func (c *Client) Ready() error {
	if c.endpoint == "" {
		return fmt.Errorf("upscale: %w: UPSCALE_BASE_URL is not set", domain.ErrConfiguration)
	}
	return nil
}

// Enhance sends one image and returns the enhanced bytes and their MIME type.
// data may be raw bytes or a data URI.
func (c *Client) Enhance(ctx context.Context, data []byte) ([]byte, string, error) {
	if err := c.Ready(); err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("upscale: %w: empty image", domain.ErrInvalidInput)
	}

	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(enhanceRequest{ImageBase64: encodeImage(data), ModelQuality: c.quality}).
		Post(c.endpoint)
	if err != nil {
		if cause := retry.Cause(ctx); cause != nil {
			return nil, "", cause
		}
		return nil, "", fmt.Errorf("upscale: %w: %v", domain.ErrSubmission, err)
	}
	if !res.IsSuccess() {
		return nil, "", fmt.Errorf("upscale: %w: status %d: %s", domain.ErrSubmission, res.StatusCode(), strings.TrimSpace(res.String()))
	}

	var parsed enhanceResponse
	if err := json.Unmarshal(res.Body(), &parsed); err != nil {
		return nil, "", fmt.Errorf("upscale: decode response: %w", err)
	}
	if parsed.Code != successCode {
		msg := parsed.Message
		if msg == "" {
			msg = parsed.Msg
		}
		return nil, "", &domain.RemoteFailureError{Reason: msg, Code: fmt.Sprint(parsed.Code)}
	}

	payload := parsed.Data.Data
	switch {
	case len(payload.ImageURLs) > 0 && payload.ImageURLs[0] != "":
		return c.download(ctx, payload.ImageURLs[0])
	case len(payload.BinaryDataBase64) > 0 && payload.BinaryDataBase64[0] != "":
		raw, err := base64.StdEncoding.DecodeString(stripDataURIPrefix(payload.BinaryDataBase64[0]))
		if err != nil {
			return nil, "", fmt.Errorf("upscale: %w: %v", domain.ErrDecodeFailure, err)
		}
		return raw, http.DetectContentType(raw), nil
	default:
		return nil, "", &domain.RemoteFailureError{Reason: "enhancement returned no image"}
	}
}

func (c *Client) download(ctx context.Context, url string) ([]byte, string, error) {
	res, err := c.client.R().SetContext(ctx).Get(url)
	if err != nil {
		if cause := retry.Cause(ctx); cause != nil {
			return nil, "", cause
		}
		return nil, "", fmt.Errorf("upscale: download result: %w", err)
	}
	if !res.IsSuccess() {
		return nil, "", fmt.Errorf("upscale: download result: status %d", res.StatusCode())
	}
	body := res.Body()
	mime := strings.TrimSpace(strings.Split(res.Header().Get("Content-Type"), ";")[0])
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(body)
	}
	c.logger.Debug().Str("url", url).Int("bytes", len(body)).Msg("upscale: downloaded result")
	return body, mime, nil
}

// encodeImage returns base64 without any data-URI prefix.
func encodeImage(data []byte) string {
	s := string(data)
	if strings.HasPrefix(s, "data:") {
		return stripDataURIPrefix(s)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func stripDataURIPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if idx := strings.Index(s, ","); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
