// Package alerts is the global error surface for failures that happen
// outside any task or card.
package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
)

// maxAlerts bounds the board; the oldest entries fall off first.
const maxAlerts = 50

// Alert is one entry on the board.
type Alert struct {
	ID        string           `json:"id"`
	Source    string           `json:"source"`
	Kind      domain.ErrorKind `json:"kind"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

// Board collects alerts. The zero value is not usable; call NewBoard.
type Board struct {
	mu     sync.Mutex
	items  []Alert
	logger *infra.Logger
}

func NewBoard(logger *infra.Logger) *Board {
	return &Board{logger: infra.LoggerOrDiscard(logger)}
}

// Push records err unless it is a cancellation, which is never alert-worthy.
// It reports whether an alert was recorded.
func (b *Board) Push(source string, err error) bool {
	if b == nil || err == nil {
		return false
	}
	kind := domain.KindOf(err)
	if kind == domain.KindCancelled {
		return false
	}
	alert := Alert{
		ID:        uuid.NewString(),
		Source:    source,
		Kind:      kind,
		Message:   err.Error(),
		CreatedAt: time.Now().UTC(),
	}
	b.mu.Lock()
	b.items = append(b.items, alert)
	if len(b.items) > maxAlerts {
		b.items = append([]Alert(nil), b.items[len(b.items)-maxAlerts:]...)
	}
	b.mu.Unlock()
	b.logger.Warn().Str("source", source).Str("kind", string(kind)).Err(err).Msg("alerts: recorded")
	return true
}

// List returns the alerts newest first.
func (b *Board) List() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Alert, len(b.items))
	for i, a := range b.items {
		out[len(b.items)-1-i] = a
	}
	return out
}

// Clear drops every alert.
func (b *Board) Clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}
