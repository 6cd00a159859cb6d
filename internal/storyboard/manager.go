// Package storyboard manages the ordered list of video cards: generation of a
// clip per card, debounced persistence and merging of finished clips.
package storyboard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daijiaran/cinegrid/internal/alerts"
	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/providers/video"
	"github.com/daijiaran/cinegrid/internal/retry"
)

const interruptedMessage = "generation was interrupted by a restart"

// Merger joins finished clips.
type Merger interface {
	Merge(ctx context.Context, clips []domain.Clip) (string, error)
	State() domain.MergeState
	Invalidate()
}

// Options wires a Manager.
type Options struct {
	Store     domain.VideoCardRepository
	Generator video.Generator
	Merger    Merger
	Alerts    *alerts.Board
	Logger    *infra.Logger
	Debounce  time.Duration
	// ClipDuration (seconds) and ClipAspect apply to cards that do not set
	// their own.
	ClipDuration int
	ClipAspect   string
}

// NewCard is the input to Add. AspectRatio accepts "W:H" or "WxH" and is
// stored reduced; Duration is in seconds.
type NewCard struct {
	ImageURL    string
	Prompt      string
	AspectRatio string
	Duration    int
}

// Manager is the single writer of the card list.
type Manager struct {
	store    domain.VideoCardRepository
	gen      video.Generator
	merger   Merger
	alerts   *alerts.Board
	logger   *infra.Logger
	debounce time.Duration
	duration int
	aspect   string

	mu      sync.Mutex
	cards   []domain.VideoCard
	running map[string]context.CancelCauseFunc
	timer   *time.Timer

	saveMu sync.Mutex

	base     context.Context
	shutdown context.CancelCauseFunc
	wg       sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 800 * time.Millisecond
	}
	duration := opts.ClipDuration
	if duration <= 0 {
		duration = 10
	}
	aspect := "16:9"
	if r, err := domain.ParseRatio(opts.ClipAspect); err == nil {
		aspect = r.String()
	}
	base, shutdown := context.WithCancelCause(context.Background())
	return &Manager{
		store:    opts.Store,
		gen:      opts.Generator,
		merger:   opts.Merger,
		alerts:   opts.Alerts,
		logger:   infra.LoggerOrDiscard(opts.Logger),
		debounce: debounce,
		duration: duration,
		aspect:   aspect,
		running:  make(map[string]context.CancelCauseFunc),
		base:     base,
		shutdown: shutdown,
	}
}

// Load replaces the in-memory list with the persisted one. Cards that were
// generating when the process stopped are marked as failed.
func (m *Manager) Load(ctx context.Context) error {
	cards, err := m.store.LoadCards(ctx)
	if err != nil {
		return fmt.Errorf("storyboard: load cards: %w", err)
	}
	slices.SortStableFunc(cards, func(a, b domain.VideoCard) int { return a.Position - b.Position })
	for i := range cards {
		cards[i].Position = i
		if cards[i].Status == domain.VideoLoading {
			cards[i].Status = domain.VideoError
			cards[i].Progress = 0
			cards[i].VideoURL = ""
			cards[i].ErrorMsg = interruptedMessage
		}
	}
	m.mu.Lock()
	m.cards = cards
	m.mu.Unlock()
	m.logger.Info().Int("cards", len(cards)).Msg("storyboard: cards loaded")
	return nil
}

// Cards returns the list in display order.
func (m *Manager) Cards() []domain.VideoCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.cards)
}

// Card returns one card.
func (m *Manager) Card(id string) (domain.VideoCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return domain.VideoCard{}, fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
	}
	return m.cards[idx], nil
}

// Add appends an idle card for a reference still.
func (m *Manager) Add(in NewCard) (domain.VideoCard, error) {
	imageURL := strings.TrimSpace(in.ImageURL)
	if imageURL == "" {
		return domain.VideoCard{}, fmt.Errorf("%w: image url is required", domain.ErrInvalidInput)
	}
	if strings.HasPrefix(imageURL, "data:") {
		return domain.VideoCard{}, fmt.Errorf("%w: image must be published before it is added", domain.ErrInvalidInput)
	}
	if in.Duration < 0 {
		return domain.VideoCard{}, fmt.Errorf("%w: duration must not be negative", domain.ErrInvalidInput)
	}
	var aspect string
	if strings.TrimSpace(in.AspectRatio) != "" {
		r, err := domain.ParseRatio(in.AspectRatio)
		if err != nil {
			return domain.VideoCard{}, err
		}
		aspect = r.String()
	}
	now := time.Now().UTC()
	card := domain.VideoCard{
		ID:          uuid.NewString(),
		ImageURL:    imageURL,
		Prompt:      strings.TrimSpace(in.Prompt),
		AspectRatio: aspect,
		Duration:    in.Duration,
		Status:      domain.VideoIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.mu.Lock()
	card.Position = len(m.cards)
	m.cards = append(m.cards, card)
	m.scheduleSaveLocked()
	m.mu.Unlock()
	return card, nil
}

// UpdatePrompt edits the motion prompt and invalidates any merged output.
func (m *Manager) UpdatePrompt(id, prompt string) (domain.VideoCard, error) {
	card, err := m.mutate(id, cardEvent{kind: cardEdit, at: time.Now().UTC(), prompt: strings.TrimSpace(prompt)})
	if err != nil {
		return domain.VideoCard{}, err
	}
	m.merger.Invalidate()
	return card, nil
}

// Reorder applies a new order. ids must be a permutation of the current ids.
func (m *Manager) Reorder(ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) != len(m.cards) {
		return fmt.Errorf("%w: reorder needs all %d card ids", domain.ErrInvalidInput, len(m.cards))
	}
	next := make([]domain.VideoCard, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		idx := m.indexLocked(id)
		if idx < 0 || seen[id] {
			return fmt.Errorf("%w: unknown or repeated card id %q", domain.ErrInvalidInput, id)
		}
		seen[id] = true
		card := m.cards[idx]
		card.Position = len(next)
		next = append(next, card)
	}
	m.cards = next
	m.scheduleSaveLocked()
	m.merger.Invalidate()
	return nil
}

// Delete removes a card, aborting its generation if one is running.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
	}
	if cancel, ok := m.running[id]; ok {
		cancel(domain.ErrCancelled)
		delete(m.running, id)
	}
	m.cards = slices.Delete(m.cards, idx, idx+1)
	for i := range m.cards {
		m.cards[i].Position = i
	}
	m.scheduleSaveLocked()
	m.merger.Invalidate()
	return nil
}

// Generate starts (or restarts) clip generation for a card. locale selects
// the language of any failure message stored on the card.
func (m *Manager) Generate(id, locale string) (domain.VideoCard, error) {
	if err := m.gen.Ready(); err != nil {
		m.alerts.Push("storyboard", err)
		return domain.VideoCard{}, err
	}

	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return domain.VideoCard{}, fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
	}
	prev := m.cards[idx]
	card, err := transition(prev, cardEvent{kind: cardStart, at: time.Now().UTC()})
	if err != nil {
		m.mu.Unlock()
		return domain.VideoCard{}, err
	}
	m.cards[idx] = card
	ctx, cancel := context.WithCancelCause(m.base)
	m.running[id] = cancel
	m.scheduleSaveLocked()
	m.mu.Unlock()

	if prev.Status == domain.VideoSuccess {
		m.merger.Invalidate()
	}
	m.logger.Info().Str("card_id", id).Str("backend", m.gen.Name()).Msg("storyboard: clip generation started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel(nil)
		m.drive(ctx, card, locale)
	}()
	return card, nil
}

func (m *Manager) drive(ctx context.Context, card domain.VideoCard, locale string) {
	asset, err := m.gen.Generate(ctx, m.request(card), func(pct int) {
		_, _ = m.mutateRunning(ctx, card.ID, cardEvent{kind: cardProgress, at: time.Now().UTC(), progress: pct})
	})
	if err == nil && asset.URL == "" {
		err = &domain.RemoteFailureError{Reason: "backend returned no video url"}
	}
	if err != nil {
		if cause := retry.Cause(ctx); cause != nil {
			err = cause
		}
		if _, uerr := m.mutateRunning(ctx, card.ID, cardEvent{kind: cardFail, at: time.Now().UTC(), errorMsg: domain.FriendlyMessage(err, locale)}); uerr == nil {
			m.logger.Warn().Err(err).Str("card_id", card.ID).Msg("storyboard: clip generation failed")
		}
		m.finish(ctx, card.ID)
		return
	}
	if _, uerr := m.mutateRunning(ctx, card.ID, cardEvent{kind: cardSucceed, at: time.Now().UTC(), videoURL: asset.URL}); uerr == nil {
		m.logger.Info().Str("card_id", card.ID).Str("video_url", asset.URL).Msg("storyboard: clip ready")
	}
	m.finish(ctx, card.ID)
}

// request fills in the configured clip defaults for fields the card leaves
// empty.
func (m *Manager) request(card domain.VideoCard) video.Request {
	req := video.Request{
		Prompt:      card.Prompt,
		ImageURL:    card.ImageURL,
		AspectRatio: card.AspectRatio,
		Duration:    card.Duration,
	}
	if req.AspectRatio == "" {
		req.AspectRatio = m.aspect
	}
	if req.Duration <= 0 {
		req.Duration = m.duration
	}
	return req
}

// finish drops the running entry if it still belongs to ctx's generation.
func (m *Manager) finish(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() == nil {
		delete(m.running, id)
	}
}

// mutateRunning applies ev only while ctx is live, so events from a deleted
// card's generation are dropped.
func (m *Manager) mutateRunning(ctx context.Context, id string, ev cardEvent) (domain.VideoCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil && ev.kind != cardFail {
		return domain.VideoCard{}, retry.Cause(ctx)
	}
	return m.applyLocked(id, ev)
}

func (m *Manager) mutate(id string, ev cardEvent) (domain.VideoCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(id, ev)
}

func (m *Manager) applyLocked(id string, ev cardEvent) (domain.VideoCard, error) {
	idx := m.indexLocked(id)
	if idx < 0 {
		return domain.VideoCard{}, fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
	}
	next, err := transition(m.cards[idx], ev)
	if err != nil {
		return domain.VideoCard{}, err
	}
	m.cards[idx] = next
	m.scheduleSaveLocked()
	return next, nil
}

// Merge joins every successful clip in card order.
func (m *Manager) Merge(ctx context.Context) (string, error) {
	m.mu.Lock()
	clips := make([]domain.Clip, 0, len(m.cards))
	for _, c := range m.cards {
		if c.Status == domain.VideoSuccess {
			clips = append(clips, domain.Clip{ID: c.ID, URL: c.VideoURL})
		}
	}
	m.mu.Unlock()
	if len(clips) == 0 {
		return "", fmt.Errorf("%w: no finished clips to merge", domain.ErrInvalidInput)
	}
	url, err := m.merger.Merge(ctx, clips)
	if err != nil && !errors.Is(err, domain.ErrBusy) && !errors.Is(err, domain.ErrInvalidInput) {
		m.alerts.Push("merge", err)
	}
	return url, err
}

// MergeState reports the merge engine state.
func (m *Manager) MergeState() domain.MergeState {
	return m.merger.State()
}

// Flush writes the list immediately, cancelling any pending debounced save.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	return m.save(ctx)
}

// Close aborts running generations, waits for them and flushes the list.
func (m *Manager) Close(ctx context.Context) error {
	m.shutdown(domain.ErrCancelled)
	m.wg.Wait()
	return m.Flush(ctx)
}

func (m *Manager) scheduleSaveLocked() {
	if m.timer != nil {
		m.timer.Reset(m.debounce)
		return
	}
	m.timer = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.save(ctx); err != nil {
			m.alerts.Push("storyboard", err)
		}
	})
}

func (m *Manager) save(ctx context.Context) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	cards := m.Cards()
	if err := m.store.SaveCards(ctx, cards); err != nil {
		m.logger.Error().Err(err).Int("cards", len(cards)).Msg("storyboard: save failed")
		return fmt.Errorf("storyboard: save cards: %w", err)
	}
	m.logger.Debug().Int("cards", len(cards)).Msg("storyboard: cards saved")
	return nil
}

func (m *Manager) indexLocked(id string) int {
	return slices.IndexFunc(m.cards, func(c domain.VideoCard) bool { return c.ID == id })
}
