package infra

import (
	"testing"
	"time"
)

func clearBackendEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "STORAGE_BASE_URL", "IMAGE_BACKEND", "VIDEO_BACKEND", "POLL_INTERVAL_SECONDS", "POLL_MAX_ATTEMPTS", "CORS_ALLOWED_ORIGINS", "JOBS_VIDEO_DURATION", "JOBS_VIDEO_ASPECT"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaultStorageBaseURL(t *testing.T) {
	clearBackendEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:8080/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
	if cfg.ImageBackend != ImageBackendGemini {
		t.Fatalf("ImageBackend = %q, want %q", cfg.ImageBackend, ImageBackendGemini)
	}
	if cfg.PollInterval != 3*time.Second || cfg.PollMaxAttempts != 400 || cfg.PollLogEvery != 5 {
		t.Fatalf("unexpected polling defaults: %s %d %d", cfg.PollInterval, cfg.PollMaxAttempts, cfg.PollLogEvery)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("PORT", "1919")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:1919/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigHonorsExplicitStorageBaseURL(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("STORAGE_BASE_URL", "https://cdn.example.com/static/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "https://cdn.example.com/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigBackendSelection(t *testing.T) {
	tests := []struct {
		name    string
		image   string
		video   string
		wantErr bool
	}{
		{name: "jobs and mock", image: "JOBS", video: "mock"},
		{name: "mock image", image: "mock", video: "jobs"},
		{name: "unknown image", image: "dalle", wantErr: true},
		{name: "unknown video", image: "gemini", video: "veo", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearBackendEnv(t)
			t.Setenv("IMAGE_BACKEND", tc.image)
			t.Setenv("VIDEO_BACKEND", tc.video)
			cfg, err := LoadConfig()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for image=%q video=%q", tc.image, tc.video)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			if string(cfg.ImageBackend) == "" || string(cfg.VideoBackend) == "" {
				t.Fatalf("backends not resolved: %#v", cfg)
			}
		})
	}
}

func TestLoadConfigParsesCORSOrigins(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com , ,https://b.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.CORSOrigins) != len(want) {
		t.Fatalf("CORSOrigins = %#v, want %#v", cfg.CORSOrigins, want)
	}
	for i := range want {
		if cfg.CORSOrigins[i] != want[i] {
			t.Fatalf("CORSOrigins[%d] = %q, want %q", i, cfg.CORSOrigins[i], want[i])
		}
	}
}

func TestLoadConfigRejectsNonPositivePolling(t *testing.T) {
	clearBackendEnv(t)
	t.Setenv("POLL_MAX_ATTEMPTS", "0")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for zero poll attempts")
	}
}

func TestLoadConfigClipDefaults(t *testing.T) {
	clearBackendEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JobsVideoDuration != 10 || cfg.JobsVideoAspect != "16:9" {
		t.Fatalf("unexpected clip defaults: %d %q", cfg.JobsVideoDuration, cfg.JobsVideoAspect)
	}

	t.Setenv("JOBS_VIDEO_ASPECT", "portrait")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected an invalid JOBS_VIDEO_ASPECT to fail")
	}
	t.Setenv("JOBS_VIDEO_ASPECT", "9:16")
	t.Setenv("JOBS_VIDEO_DURATION", "0")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected a zero JOBS_VIDEO_DURATION to fail")
	}
}
