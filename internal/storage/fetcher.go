package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/daijiaran/cinegrid/internal/retry"
)

// maxFetchBytes caps a single download.
const maxFetchBytes = 256 << 20

// Fetcher downloads remote assets, decodes data: URIs and short-circuits
// URLs that point into the local FileStore.
type Fetcher struct {
	client *http.Client
	store  *FileStore
}

// NewFetcher builds a Fetcher. store may be nil.
func NewFetcher(client *http.Client, store *FileStore) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Fetcher{client: client, store: store}
}

// Fetch returns the bytes and content type behind raw. It honors ctx for the
// whole transfer.
func (f *Fetcher) Fetch(ctx context.Context, raw string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", errors.New("fetch: empty url")
	}
	if strings.HasPrefix(raw, "data:") {
		return DecodeDataURI(raw)
	}
	if key, ok := f.store.KeyFromURL(raw); ok {
		data, err := f.store.Read(key)
		if err == nil {
			return data, http.DetectContentType(data), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch: %w", &retry.StatusError{Code: resp.StatusCode})
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("fetch: read body: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// DecodeDataURI parses a base64 data: URI.
func DecodeDataURI(raw string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, "", errors.New("fetch: malformed data uri")
	}
	mime := strings.TrimSuffix(header, ";base64")
	if !strings.HasSuffix(header, ";base64") {
		return []byte(payload), mime, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: decode data uri: %w", err)
	}
	return data, mime, nil
}
