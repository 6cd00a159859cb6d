package storyboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daijiaran/cinegrid/internal/alerts"
	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/providers/jobs"
	"github.com/daijiaran/cinegrid/internal/providers/video"
	"github.com/daijiaran/cinegrid/internal/retry"
)

type memoryStore struct {
	mu    sync.Mutex
	saved []domain.VideoCard
	saves atomic.Int32
	err   error
}

func (s *memoryStore) LoadCards(context.Context) ([]domain.VideoCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.VideoCard(nil), s.saved...), nil
}

func (s *memoryStore) SaveCards(_ context.Context, cards []domain.VideoCard) error {
	s.saves.Add(1)
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.saved = append([]domain.VideoCard(nil), cards...)
	s.mu.Unlock()
	return nil
}

type fakeMerger struct {
	invalidations atomic.Int32
	clips         []domain.Clip
}

func (f *fakeMerger) Merge(_ context.Context, clips []domain.Clip) (string, error) {
	f.clips = clips
	return "http://localhost/static/merge/out.mp4", nil
}

func (f *fakeMerger) State() domain.MergeState { return domain.MergeState{} }

func (f *fakeMerger) Invalidate() { f.invalidations.Add(1) }

type scriptedGenerator struct {
	ready    error
	generate func(ctx context.Context, req video.Request, onProgress func(int)) (domain.GeneratedAsset, error)
}

func (g *scriptedGenerator) Name() string { return "scripted" }
func (g *scriptedGenerator) Ready() error { return g.ready }
func (g *scriptedGenerator) Generate(ctx context.Context, req video.Request, onProgress func(int)) (domain.GeneratedAsset, error) {
	return g.generate(ctx, req, onProgress)
}

func newTestManager(t *testing.T, gen video.Generator) (*Manager, *memoryStore, *fakeMerger, *alerts.Board) {
	t.Helper()
	store := &memoryStore{}
	merger := &fakeMerger{}
	board := alerts.NewBoard(nil)
	m := NewManager(Options{Store: store, Generator: gen, Merger: merger, Alerts: board, Debounce: 10 * time.Millisecond})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, store, merger, board
}

func waitCard(t *testing.T, m *Manager, id string, status domain.VideoStatus) domain.VideoCard {
	t.Helper()
	var card domain.VideoCard
	require.Eventually(t, func() bool {
		c, err := m.Card(id)
		if err != nil {
			return false
		}
		card = c
		return c.Status == status
	}, 2*time.Second, 2*time.Millisecond)
	return card
}

func TestGenerateCardSucceeds(t *testing.T) {
	m, _, _, _ := newTestManager(t, video.NewMockGenerator(0, "https://cdn.example.com/clip.mp4"))
	card, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/still.png", Prompt: "slow push in"})
	require.NoError(t, err)
	assert.Equal(t, domain.VideoIdle, card.Status)

	started, err := m.Generate(card.ID, "en")
	require.NoError(t, err)
	assert.Equal(t, domain.VideoLoading, started.Status)

	done := waitCard(t, m, card.ID, domain.VideoSuccess)
	assert.Equal(t, "https://cdn.example.com/clip.mp4", done.VideoURL)
	assert.Equal(t, 100, done.Progress)
	require.NoError(t, done.Validate())
}

func TestGenerateFailureStoresFriendlyMessage(t *testing.T) {
	gen := &scriptedGenerator{generate: func(context.Context, video.Request, func(int)) (domain.GeneratedAsset, error) {
		return domain.GeneratedAsset{}, &domain.RemoteFailureError{Reason: "flagged", Code: "input_moderation"}
	}}
	m, _, _, board := newTestManager(t, gen)
	card, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/still.png"})
	require.NoError(t, err)

	_, err = m.Generate(card.ID, "id")
	require.NoError(t, err)
	failed := waitCard(t, m, card.ID, domain.VideoError)
	assert.Contains(t, failed.ErrorMsg, "filter keamanan")
	assert.Empty(t, failed.VideoURL)
	assert.Empty(t, board.List())
}

func TestGenerateWhileLoadingIsBusy(t *testing.T) {
	gen := &scriptedGenerator{generate: func(ctx context.Context, _ video.Request, _ func(int)) (domain.GeneratedAsset, error) {
		<-ctx.Done()
		return domain.GeneratedAsset{}, retry.Cause(ctx)
	}}
	m, _, _, _ := newTestManager(t, gen)
	card, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/still.png"})
	require.NoError(t, err)

	_, err = m.Generate(card.ID, "en")
	require.NoError(t, err)
	_, err = m.Generate(card.ID, "en")
	assert.ErrorIs(t, err, domain.ErrBusy)
}

func TestGenerateWithoutConfigurationAlerts(t *testing.T) {
	gen := &scriptedGenerator{ready: domain.ErrConfiguration}
	m, _, _, board := newTestManager(t, gen)
	card, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/still.png"})
	require.NoError(t, err)

	_, err = m.Generate(card.ID, "en")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Len(t, board.List(), 1)
	got, err := m.Card(card.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoIdle, got.Status)
}

func TestDeleteCancelsGenerationAndInvalidatesMerge(t *testing.T) {
	cancelled := make(chan error, 1)
	gen := &scriptedGenerator{generate: func(ctx context.Context, _ video.Request, _ func(int)) (domain.GeneratedAsset, error) {
		<-ctx.Done()
		cancelled <- retry.Cause(ctx)
		return domain.GeneratedAsset{}, retry.Cause(ctx)
	}}
	m, _, merger, _ := newTestManager(t, gen)
	a, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/a.png"})
	require.NoError(t, err)
	b, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/b.png"})
	require.NoError(t, err)

	_, err = m.Generate(a.ID, "en")
	require.NoError(t, err)
	require.NoError(t, m.Delete(a.ID))

	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, domain.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("generation was not cancelled")
	}
	cards := m.Cards()
	require.Len(t, cards, 1)
	assert.Equal(t, b.ID, cards[0].ID)
	assert.Equal(t, 0, cards[0].Position)
	assert.Equal(t, int32(1), merger.invalidations.Load())
	assert.ErrorIs(t, m.Delete(a.ID), domain.ErrNotFound)
}

func TestEditsInvalidateMerge(t *testing.T) {
	m, _, merger, _ := newTestManager(t, video.NewMockGenerator(0, "https://cdn.example.com/clip.mp4"))
	a, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/a.png"})
	require.NoError(t, err)
	b, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/b.png"})
	require.NoError(t, err)

	updated, err := m.UpdatePrompt(a.ID, "  pan left ")
	require.NoError(t, err)
	assert.Equal(t, "pan left", updated.Prompt)
	require.NoError(t, m.Reorder([]string{b.ID, a.ID}))
	assert.Equal(t, int32(2), merger.invalidations.Load())

	_, err = m.Generate(a.ID, "en")
	require.NoError(t, err)
	waitCard(t, m, a.ID, domain.VideoSuccess)
	_, err = m.Generate(a.ID, "en")
	require.NoError(t, err)
	assert.Equal(t, int32(3), merger.invalidations.Load())

	assert.ErrorIs(t, m.Reorder([]string{a.ID}), domain.ErrInvalidInput)
	assert.ErrorIs(t, m.Reorder([]string{a.ID, a.ID}), domain.ErrInvalidInput)
}

func TestMergeUsesSuccessfulCardsInOrder(t *testing.T) {
	m, _, merger, _ := newTestManager(t, video.NewMockGenerator(0, "https://cdn.example.com/clip.mp4"))
	_, err := m.Merge(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	a, _ := m.Add(NewCard{ImageURL: "https://cdn.example.com/a.png"})
	b, _ := m.Add(NewCard{ImageURL: "https://cdn.example.com/b.png"})
	c, _ := m.Add(NewCard{ImageURL: "https://cdn.example.com/c.png"})
	for _, id := range []string{a.ID, c.ID} {
		_, err := m.Generate(id, "en")
		require.NoError(t, err)
		waitCard(t, m, id, domain.VideoSuccess)
	}
	require.NoError(t, m.Reorder([]string{c.ID, b.ID, a.ID}))

	url, err := m.Merge(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	require.Len(t, merger.clips, 2)
	assert.Equal(t, c.ID, merger.clips[0].ID)
	assert.Equal(t, a.ID, merger.clips[1].ID)
}

func TestSavesAreDebounced(t *testing.T) {
	m, store, _, _ := newTestManager(t, video.NewMockGenerator(0, "x"))
	for i := 0; i < 5; i++ {
		_, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/still.png"})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return store.saves.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), store.saves.Load())

	saved, err := store.LoadCards(context.Background())
	require.NoError(t, err)
	assert.Len(t, saved, 5)
}

func TestLoadMarksInterruptedCards(t *testing.T) {
	store := &memoryStore{saved: []domain.VideoCard{
		{ID: "b", Position: 1, Status: domain.VideoLoading, Progress: 40},
		{ID: "a", Position: 0, Status: domain.VideoSuccess, VideoURL: "https://cdn.example.com/a.mp4"},
	}}
	m := NewManager(Options{Store: store, Generator: video.NewMockGenerator(0, "x"), Merger: &fakeMerger{}})
	require.NoError(t, m.Load(context.Background()))

	cards := m.Cards()
	require.Len(t, cards, 2)
	assert.Equal(t, "a", cards[0].ID)
	assert.Equal(t, domain.VideoError, cards[1].Status)
	assert.Equal(t, interruptedMessage, cards[1].ErrorMsg)
	for _, c := range cards {
		require.NoError(t, c.Validate())
	}
}

func TestFlushReportsStoreErrors(t *testing.T) {
	m, store, _, _ := newTestManager(t, video.NewMockGenerator(0, "x"))
	store.err = errors.New("disk full")
	err := m.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	store.err = nil
}

func TestTransitionRules(t *testing.T) {
	now := time.Now()
	idle := domain.VideoCard{ID: "c", Status: domain.VideoIdle}
	_, err := transition(idle, cardEvent{kind: cardSucceed, at: now, videoURL: "u"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	loading, err := transition(idle, cardEvent{kind: cardStart, at: now})
	require.NoError(t, err)
	_, err = transition(loading, cardEvent{kind: cardSucceed, at: now})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	done, err := transition(loading, cardEvent{kind: cardSucceed, at: now, videoURL: "u"})
	require.NoError(t, err)
	again, err := transition(done, cardEvent{kind: cardStart, at: now})
	require.NoError(t, err)
	assert.Empty(t, again.VideoURL)
	assert.Equal(t, domain.VideoLoading, again.Status)
}

// clipServer answers video submissions with a job id and every poll with a
// finished clip, recording each submit body.
func clipServer(t *testing.T) (*httptest.Server, func() []map[string]any) {
	t.Helper()
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/result") {
			_, _ = w.Write([]byte(`{"code":0,"data":{"status":"succeeded","progress":100,"results":[{"url":"https://cdn.example.com/clip.mp4"}]}}`))
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode submit body: %v", err)
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"code":0,"data":{"id":"clip-job"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]any(nil), bodies...)
	}
}

func TestGenerateSubmitsClipSettings(t *testing.T) {
	srv, submitted := clipServer(t)
	client := jobs.NewClient(jobs.Options{
		APIKey:  "secret",
		BaseURL: srv.URL,
		Poll:    &retry.Poll{MaxAttempts: 5, Interval: time.Millisecond, MaxConsecutiveErrors: 2},
	})
	m := NewManager(Options{
		Store:        &memoryStore{},
		Generator:    video.NewJobsGenerator(client),
		Merger:       &fakeMerger{},
		Alerts:       alerts.NewBoard(nil),
		Debounce:     10 * time.Millisecond,
		ClipDuration: 8,
		ClipAspect:   "9:16",
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	plain, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/a.png", Prompt: "pan left"})
	require.NoError(t, err)
	custom, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/b.png", AspectRatio: "1920x1080", Duration: 5})
	require.NoError(t, err)
	assert.Equal(t, "16:9", custom.AspectRatio)

	_, err = m.Generate(plain.ID, "en")
	require.NoError(t, err)
	waitCard(t, m, plain.ID, domain.VideoSuccess)
	_, err = m.Generate(custom.ID, "en")
	require.NoError(t, err)
	waitCard(t, m, custom.ID, domain.VideoSuccess)

	bodies := submitted()
	require.Len(t, bodies, 2)
	assert.Equal(t, "https://cdn.example.com/a.png", bodies[0]["url"])
	assert.Equal(t, "9:16", bodies[0]["aspectRatio"])
	assert.EqualValues(t, 8, bodies[0]["duration"])
	assert.Equal(t, "pan left", bodies[0]["prompt"])
	assert.Equal(t, "16:9", bodies[1]["aspectRatio"])
	assert.EqualValues(t, 5, bodies[1]["duration"])
}

func TestAddValidatesInput(t *testing.T) {
	m, _, _, _ := newTestManager(t, video.NewMockGenerator(0, "https://cdn.example.com/clip.mp4"))

	_, err := m.Add(NewCard{ImageURL: "https://cdn.example.com/a.png", AspectRatio: "wide"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = m.Add(NewCard{ImageURL: "https://cdn.example.com/a.png", Duration: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = m.Add(NewCard{ImageURL: "data:image/png;base64,iVBORw0KGgo="})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, m.Cards())
}
