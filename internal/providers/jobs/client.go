// Package jobs talks to submit-and-poll generation endpoints. The same
// protocol serves image and video jobs; only paths and payloads differ.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/retry"
)

// webhookDisabled asks the remote to answer the submit call with the job id
// instead of pushing results to a callback.
const webhookDisabled = "-1"

// Options configures the job client.
type Options struct {
	APIKey          string
	BaseURL         string
	ImageModel      string
	VideoModel      string
	SubmitPath      string
	PollPath        string
	VideoSubmitPath string
	VideoPollPath   string
	HTTPClient      *http.Client
	Logger          *infra.Logger
	Poll            *retry.Poll
}

// Client performs job submission and status polling.
type Client struct {
	apiKey     string
	baseURL    string
	imageModel string
	videoModel string
	paths      map[domain.JobKind][2]string
	httpClient *http.Client
	logger     *infra.Logger
	poll       retry.Poll
}

// ImagePayload is a composite generation job.
type ImagePayload struct {
	Prompt        string
	AspectRatio   string
	ImageSize     string
	Size          string
	ReferenceURLs []string
}

// VideoPayload is a clip generation job.
type VideoPayload struct {
	Prompt      string
	ImageURL    string
	AspectRatio string
	Duration    int
	Size        string
}

type imageRequest struct {
	Model        string   `json:"model"`
	Prompt       string   `json:"prompt"`
	AspectRatio  string   `json:"aspectRatio,omitempty"`
	ImageSize    string   `json:"imageSize,omitempty"`
	Size         string   `json:"size,omitempty"`
	URLs         []string `json:"urls,omitempty"`
	WebHook      string   `json:"webHook"`
	ShutProgress bool     `json:"shutProgress"`
}

type videoRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	URL          string `json:"url,omitempty"`
	AspectRatio  string `json:"aspectRatio,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	Size         string `json:"size,omitempty"`
	WebHook      string `json:"webHook"`
	ShutProgress bool   `json:"shutProgress"`
}

type envelope struct {
	Code    *int            `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	return e.Code == nil || *e.Code == 0 || *e.Code == 200
}

func (e envelope) text() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

type submitData struct {
	ID string `json:"id"`
}

type pollData struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Progress progress `json:"progress"`
	URL      string   `json:"url"`
	Results  []struct {
		URL string `json:"url"`
	} `json:"results"`
	FailureReason string `json:"failure_reason"`
	Error         string `json:"error"`
}

// progress accepts numbers, fractional numbers and numeric strings such as
// "42" or "42.5%". Anything else reads as zero.
type progress float64

func (p *progress) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*p = 0
		return nil
	}
	raw = strings.TrimSuffix(strings.TrimSpace(strings.Trim(raw, `"`)), "%")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*p = 0
		return nil
	}
	*p = progress(v)
	return nil
}

// NewClient constructs a client with defaults for anything left empty.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := infra.LoggerOrDiscard(opts.Logger)
	poll := retry.DefaultPoll(logger)
	if opts.Poll != nil {
		poll = *opts.Poll
		if poll.Logger == nil {
			poll.Logger = logger
		}
	}
	submit := firstNonEmpty(opts.SubmitPath, "/v1/draw/nano-banana")
	pollPath := firstNonEmpty(opts.PollPath, "/v1/draw/result")
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		imageModel: firstNonEmpty(opts.ImageModel, "nano-banana-pro"),
		videoModel: firstNonEmpty(opts.VideoModel, "sora-2"),
		paths: map[domain.JobKind][2]string{
			domain.JobKindImage: {submit, pollPath},
			domain.JobKindVideo: {firstNonEmpty(opts.VideoSubmitPath, "/v1/video/sora-video"), firstNonEmpty(opts.VideoPollPath, pollPath)},
		},
		httpClient: httpClient,
		logger:     logger,
		poll:       poll,
	}
}

// Ready fails with a configuration error when the endpoint or key is missing.
func (c *Client) Ready() error {
	if c.baseURL == "" {
		return fmt.Errorf("jobs: %w: JOBS_BASE_URL is not set", domain.ErrConfiguration)
	}
	if c.apiKey == "" {
		return fmt.Errorf("jobs: %w: JOBS_API_KEY is not set", domain.ErrConfiguration)
	}
	return nil
}

// ImageModel returns the model used for composite jobs.
func (c *Client) ImageModel() string { return c.imageModel }

// SubmitImage submits a composite job and returns its correlation id.
func (c *Client) SubmitImage(ctx context.Context, p ImagePayload) (string, error) {
	return c.submit(ctx, domain.JobKindImage, imageRequest{
		Model:       c.imageModel,
		Prompt:      p.Prompt,
		AspectRatio: p.AspectRatio,
		ImageSize:   p.ImageSize,
		Size:        p.Size,
		URLs:        p.ReferenceURLs,
		WebHook:     webhookDisabled,
	})
}

// SubmitVideo submits a clip job and returns its correlation id.
func (c *Client) SubmitVideo(ctx context.Context, p VideoPayload) (string, error) {
	return c.submit(ctx, domain.JobKindVideo, videoRequest{
		Model:       c.videoModel,
		Prompt:      p.Prompt,
		URL:         p.ImageURL,
		AspectRatio: p.AspectRatio,
		Duration:    p.Duration,
		Size:        p.Size,
		WebHook:     webhookDisabled,
	})
}

func (c *Client) submit(ctx context.Context, kind domain.JobKind, payload any) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	env, err := c.post(ctx, c.paths[kind][0], payload)
	if err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) {
			return "", fmt.Errorf("jobs: %w: %s", domain.ErrSubmission, se.Message)
		}
		return "", err
	}
	if !env.ok() {
		return "", fmt.Errorf("jobs: %w: %s", domain.ErrSubmission, env.text())
	}
	var data submitData
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &data)
	}
	if strings.TrimSpace(data.ID) == "" {
		msg := env.text()
		if msg == "" {
			msg = "response did not include a job id"
		}
		return "", fmt.Errorf("jobs: %w: %s", domain.ErrSubmission, msg)
	}
	c.logger.Info().Str("kind", string(kind)).Str("job_id", data.ID).Msg("jobs: submitted")
	return data.ID, nil
}

// Poll performs one status observation.
func (c *Client) Poll(ctx context.Context, kind domain.JobKind, id string) (domain.JobState, error) {
	if err := c.Ready(); err != nil {
		return domain.JobState{}, err
	}
	env, err := c.post(ctx, c.paths[kind][1], map[string]string{"id": id})
	if err != nil {
		return domain.JobState{}, err
	}
	if !env.ok() {
		return domain.JobState{}, fmt.Errorf("jobs: poll %s: %s", id, env.text())
	}
	var data pollData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return domain.JobState{}, fmt.Errorf("jobs: decode poll response: %w", err)
	}
	state := domain.JobState{
		Status:        normalizeStatus(data.Status),
		Progress:      clampProgress(int(math.Round(float64(data.Progress)))),
		ResultURL:     data.URL,
		FailureReason: firstNonEmpty(data.FailureReason, data.Error),
	}
	if len(data.Results) > 0 && data.Results[0].URL != "" {
		state.ResultURL = data.Results[0].URL
	}
	if state.Status == domain.JobStatusFailed {
		state.FailureCode = data.FailureReason
		if data.Error != "" {
			state.FailureReason = data.Error
		}
	}
	return state, nil
}

// Await polls until the job reaches a terminal state. onProgress may be nil.
func (c *Client) Await(ctx context.Context, kind domain.JobKind, id string, onProgress func(int)) (domain.JobState, error) {
	last := -1
	state, err := retry.Until(ctx, c.poll, id, func(ctx context.Context, attempt int) (domain.JobState, bool, error) {
		st, err := c.Poll(ctx, kind, id)
		if err != nil {
			return st, false, err
		}
		if onProgress != nil && st.Progress != last {
			last = st.Progress
			onProgress(st.Progress)
		}
		return st, st.Status.Terminal(), nil
	})
	if err != nil {
		return domain.JobState{}, err
	}
	if state.Status == domain.JobStatusFailed {
		return state, &domain.RemoteFailureError{Reason: state.FailureReason, Code: state.FailureCode}
	}
	if state.ResultURL == "" {
		return state, &domain.RemoteFailureError{Reason: "job succeeded without a result url"}
	}
	return state, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("jobs: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return envelope{}, fmt.Errorf("jobs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("jobs: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("jobs: read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && env.text() != "" {
			msg = env.text()
		}
		return envelope{}, &retry.StatusError{Code: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("jobs: decode response: %w", decodeErr)
	}
	return env, nil
}

func normalizeStatus(raw string) domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "completed", "done":
		return domain.JobStatusSucceeded
	case "failed", "failure", "error", "cancelled":
		return domain.JobStatusFailed
	case "running", "processing", "in_progress":
		return domain.JobStatusRunning
	default:
		return domain.JobStatusQueued
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
