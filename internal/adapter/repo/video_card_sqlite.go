package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/sqlinline"
)

const (
	sqliteBusyCode    = 5
	busyRetryAttempts = 5
	busyRetryBackoff  = 10 * time.Millisecond
)

// VideoCardSQLite implements domain.VideoCardRepository on a local SQLite file.
type VideoCardSQLite struct {
	db   *sql.DB
	path string
}

// OpenVideoCardSQLite opens (or creates) the database at path and ensures the schema.
func OpenVideoCardSQLite(ctx context.Context, path string) (*VideoCardSQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("video cards: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("video cards: open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("video cards: apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqlinline.QSQLiteCreateVideoCards); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("video cards: ensure schema: %w", err)
	}
	return &VideoCardSQLite{db: db, path: path}, nil
}

// Close closes the database.
func (s *VideoCardSQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *VideoCardSQLite) LoadCards(ctx context.Context) ([]domain.VideoCard, error) {
	rows, err := s.db.QueryContext(ctx, sqlinline.QSQLiteSelectVideoCards)
	if err != nil {
		return nil, fmt.Errorf("video cards: load: %w", err)
	}
	defer rows.Close()

	var cards []domain.VideoCard
	for rows.Next() {
		var (
			c                  domain.VideoCard
			status             string
			created, updatedMs int64
		)
		if err := rows.Scan(&c.ID, &c.Position, &c.ImageURL, &c.Prompt, &c.AspectRatio, &c.Duration, &c.VideoURL, &status, &c.Progress, &c.ErrorMsg, &created, &updatedMs); err != nil {
			return nil, fmt.Errorf("video cards: scan: %w", err)
		}
		c.Status = domain.VideoStatus(status)
		c.CreatedAt = time.UnixMilli(created).UTC()
		c.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("video cards: rows: %w", err)
	}
	return cards, nil
}

// SaveCards replaces the stored list in one transaction, retrying while the
// database is locked by another connection.
func (s *VideoCardSQLite) SaveCards(ctx context.Context, cards []domain.VideoCard) error {
	return retryOnBusy(ctx, func() error { return s.replace(ctx, cards) })
}

func (s *VideoCardSQLite) replace(ctx context.Context, cards []domain.VideoCard) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("video cards: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqlinline.QSQLiteDeleteVideoCards); err != nil {
		return fmt.Errorf("video cards: clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, sqlinline.QSQLiteInsertVideoCard)
	if err != nil {
		return fmt.Errorf("video cards: prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range cards {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Position, c.ImageURL, c.Prompt, c.AspectRatio, c.Duration, c.VideoURL, string(c.Status), c.Progress, c.ErrorMsg,
			c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("video cards: insert %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("video cards: commit: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if !isSQLiteBusy(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}

var _ domain.VideoCardRepository = (*VideoCardSQLite)(nil)
