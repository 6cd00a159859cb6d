package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
)

// ImageBackend selects the protocol used for composite image generation.
type ImageBackend string

const (
	ImageBackendGemini ImageBackend = "gemini"
	ImageBackendJobs   ImageBackend = "jobs"
	ImageBackendMock   ImageBackend = "mock"
)

// VideoBackend selects the protocol used for storyboard clip generation.
type VideoBackend string

const (
	VideoBackendJobs VideoBackend = "jobs"
	VideoBackendMock VideoBackend = "mock"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	SQLitePath     string
	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string
	CORSOrigins    []string

	ImageBackend ImageBackend
	VideoBackend VideoBackend

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	JobsAPIKey          string
	JobsBaseURL         string
	JobsImageModel      string
	JobsVideoModel      string
	JobsSubmitPath      string
	JobsPollPath        string
	JobsVideoSubmitPath string
	JobsVideoPollPath   string
	JobsVideoDuration   int
	JobsVideoAspect     string

	ChatAPIKey  string
	ChatBaseURL string
	ChatModel   string

	UpscaleBaseURL      string
	UpscaleModelQuality string
	UpscaleCooldown     time.Duration

	PollInterval    time.Duration
	PollMaxAttempts int
	PollLogEvery    int

	MockDelay    time.Duration
	MockVideoURL string

	CardSaveDebounce time.Duration

	FFmpegPath   string
	FFprobePath  string
	MergeWorkDir string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	storagePath := getEnv("STORAGE_PATH", filepath.Join("data", "storage"))
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           port,
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:     getEnv("SQLITE_PATH", filepath.Join("data", "cinegrid.db")),
		StoragePath:    storagePath,
		StorageBaseURL: strings.TrimRight(getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"), "/"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		CORSOrigins:    getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		ImageBackend: ImageBackend(strings.ToLower(getEnv("IMAGE_BACKEND", string(ImageBackendGemini)))),
		VideoBackend: VideoBackend(strings.ToLower(getEnv("VIDEO_BACKEND", string(VideoBackendJobs)))),

		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),

		JobsAPIKey:          strings.TrimSpace(os.Getenv("JOBS_API_KEY")),
		JobsBaseURL:         strings.TrimRight(os.Getenv("JOBS_BASE_URL"), "/"),
		JobsImageModel:      getEnv("JOBS_IMAGE_MODEL", "nano-banana-pro"),
		JobsVideoModel:      getEnv("JOBS_VIDEO_MODEL", "sora-2"),
		JobsSubmitPath:      getEnv("JOBS_SUBMIT_PATH", "/v1/draw/nano-banana"),
		JobsPollPath:        getEnv("JOBS_POLL_PATH", "/v1/draw/result"),
		JobsVideoSubmitPath: getEnv("JOBS_VIDEO_SUBMIT_PATH", "/v1/video/sora-video"),
		JobsVideoPollPath:   getEnv("JOBS_VIDEO_POLL_PATH", "/v1/draw/result"),
		JobsVideoDuration:   getEnvInt("JOBS_VIDEO_DURATION", 10),
		JobsVideoAspect:     getEnv("JOBS_VIDEO_ASPECT", "16:9"),

		ChatAPIKey:  strings.TrimSpace(os.Getenv("CHAT_API_KEY")),
		ChatBaseURL: getEnv("CHAT_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:   getEnv("CHAT_MODEL", "gpt-4o-mini"),

		UpscaleBaseURL:      strings.TrimRight(os.Getenv("UPSCALE_BASE_URL"), "/"),
		UpscaleModelQuality: getEnv("UPSCALE_MODEL_QUALITY", "HQ"),
		UpscaleCooldown:     time.Second * time.Duration(getEnvInt("UPSCALE_COOLDOWN_SECONDS", 3)),

		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 400),
		PollLogEvery:    getEnvInt("POLL_LOG_EVERY", 5),

		MockDelay:    time.Millisecond * time.Duration(getEnvInt("MOCK_DELAY_MS", 1500)),
		MockVideoURL: getEnv("MOCK_VIDEO_URL", "https://interactive-examples.mdn.mozilla.net/media/cc0-videos/flower.mp4"),

		CardSaveDebounce: time.Millisecond * time.Duration(getEnvInt("CARD_SAVE_DEBOUNCE_MS", 800)),

		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:  getEnv("FFPROBE_PATH", "ffprobe"),
		MergeWorkDir: getEnv("MERGE_WORK_DIR", filepath.Join(storagePath, "merge")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	switch cfg.ImageBackend {
	case ImageBackendGemini, ImageBackendJobs, ImageBackendMock:
	default:
		return nil, fmt.Errorf("IMAGE_BACKEND %q is not supported", cfg.ImageBackend)
	}
	switch cfg.VideoBackend {
	case VideoBackendJobs, VideoBackendMock:
	default:
		return nil, fmt.Errorf("VIDEO_BACKEND %q is not supported", cfg.VideoBackend)
	}
	if cfg.JobsVideoDuration <= 0 {
		return nil, fmt.Errorf("JOBS_VIDEO_DURATION must be positive")
	}
	if _, err := domain.ParseRatio(cfg.JobsVideoAspect); err != nil {
		return nil, fmt.Errorf("JOBS_VIDEO_ASPECT: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if cfg.PollMaxAttempts <= 0 {
		return nil, fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
