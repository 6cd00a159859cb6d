package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/daijiaran/cinegrid/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestAnalyzeReturnsFirstChoice(t *testing.T) {
	var captured map[string]any
	client := NewClient(Options{
		APIKey:  "sk-test",
		BaseURL: "https://chat.example.com/v1/",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.String() != "https://chat.example.com/v1/chat/completions" {
				t.Fatalf("unexpected url %s", r.URL)
			}
			if r.Header.Get("Authorization") != "Bearer sk-test" {
				t.Fatalf("missing bearer token")
			}
			if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
				t.Fatalf("decode: %v", err)
			}
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"choices":[{"message":{"content":"  wide shot of a harbour  "}}]}`)),
				Header:     make(http.Header),
			}, nil
		})},
	})

	text, err := client.Analyze(context.Background(), []Message{{Role: "user", Content: "describe"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if text != "wide shot of a harbour" {
		t.Fatalf("unexpected text %q", text)
	}
	if captured["stream"] != false {
		t.Fatalf("expected stream=false, got %v", captured["stream"])
	}
	if captured["model"] != defaultModel {
		t.Fatalf("unexpected model %v", captured["model"])
	}
}

func TestAnalyzeWithoutKeyIsConfigurationError(t *testing.T) {
	called := false
	client := NewClient(Options{HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return nil, errors.New("unreachable")
	})}})

	_, err := client.Analyze(context.Background(), []Message{{Role: "user", Content: "x"}})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if called {
		t.Fatal("expected no network call")
	}
}

func TestAnalyzeRemoteErrorMessage(t *testing.T) {
	client := NewClient(Options{
		APIKey: "sk-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"invalid api key"}}`)),
				Header:     make(http.Header),
			}, nil
		})},
	})

	_, err := client.Analyze(context.Background(), []Message{{Role: "user", Content: "x"}})
	if !errors.Is(err, domain.ErrSubmission) || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("unexpected error %v", err)
	}
}
