package repo

import (
	"context"
	"fmt"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/sqlinline"
)

// VideoCardPG implements domain.VideoCardRepository on PostgreSQL.
type VideoCardPG struct {
	sql infra.TxExecutor
}

// NewVideoCardPG constructs a card store over a marker SQL runner.
func NewVideoCardPG(sql infra.TxExecutor) *VideoCardPG {
	return &VideoCardPG{sql: sql}
}

// EnsureSchema creates the video_cards table when missing.
func (r *VideoCardPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QCreateVideoCards); err != nil {
		return fmt.Errorf("video cards: ensure schema: %w", err)
	}
	return nil
}

// LoadCards returns every card ordered by position.
func (r *VideoCardPG) LoadCards(ctx context.Context) ([]domain.VideoCard, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectVideoCards)
	if err != nil {
		return nil, fmt.Errorf("video cards: load: %w", err)
	}
	defer rows.Close()

	var cards []domain.VideoCard
	for rows.Next() {
		var (
			c      domain.VideoCard
			status string
		)
		if err := rows.Scan(&c.ID, &c.Position, &c.ImageURL, &c.Prompt, &c.AspectRatio, &c.Duration, &c.VideoURL, &status, &c.Progress, &c.ErrorMsg, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("video cards: scan: %w", err)
		}
		c.Status = domain.VideoStatus(status)
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("video cards: rows: %w", err)
	}
	return cards, nil
}

// SaveCards replaces the stored list in one transaction.
func (r *VideoCardPG) SaveCards(ctx context.Context, cards []domain.VideoCard) error {
	return r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QDeleteVideoCards); err != nil {
			return fmt.Errorf("video cards: clear: %w", err)
		}
		for _, c := range cards {
			if _, err := tx.Exec(ctx, sqlinline.QInsertVideoCard,
				c.ID, c.Position, c.ImageURL, c.Prompt, c.AspectRatio, c.Duration, c.VideoURL, string(c.Status), c.Progress, c.ErrorMsg, c.CreatedAt, c.UpdatedAt,
			); err != nil {
				return fmt.Errorf("video cards: insert %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

var _ domain.VideoCardRepository = (*VideoCardPG)(nil)
