// Package credentials keeps provider API keys in the integration_tokens table.
// Keys from the environment always win; the table is a fallback for
// deployments that rotate keys without a restart of the config.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
	ProviderJobs   = "jobs"
	ProviderChat   = "chat"
)

// Providers lists every provider whose key can be stored.
var Providers = []string{ProviderGemini, ProviderJobs, ProviderChat}

// Entry describes one stored key without exposing it.
type Entry struct {
	Provider  string
	UpdatedAt time.Time
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// EnsureSchema creates integration_tokens when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QCreateIntegrationTokens); err != nil {
		return fmt.Errorf("credentials: ensure schema: %w", err)
	}
	return nil
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Resolve returns envValue when set and otherwise the stored key. A nil
// store resolves to envValue.
func (s *Store) Resolve(ctx context.Context, provider, envValue string) (string, error) {
	if v := strings.TrimSpace(envValue); v != "" || s == nil {
		return v, nil
	}
	return s.Token(ctx, provider)
}

// Set stores key for provider, replacing any previous key.
func (s *Store) Set(ctx context.Context, provider, key string, props map[string]any) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !slices.Contains(Providers, provider) {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: %s api key is required", domain.ErrInvalidInput, provider)
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, key, raw)
	return err
}

// List reports which providers have a stored key.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListIntegrationProviders)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Provider, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
