package alerts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/daijiaran/cinegrid/internal/domain"
)

func TestBoardSkipsCancellation(t *testing.T) {
	b := NewBoard(nil)
	if b.Push("task", fmt.Errorf("poll: %w", context.Canceled)) {
		t.Fatal("cancellation must not be recorded")
	}
	if b.Push("task", domain.ErrCancelled) {
		t.Fatal("user cancel must not be recorded")
	}
	if len(b.List()) != 0 {
		t.Fatalf("expected empty board, got %d", len(b.List()))
	}
}

func TestBoardOrderAndBound(t *testing.T) {
	b := NewBoard(nil)
	for i := 0; i < maxAlerts+5; i++ {
		b.Push("upscale", fmt.Errorf("failure %d", i))
	}
	list := b.List()
	if len(list) != maxAlerts {
		t.Fatalf("len = %d, want %d", len(list), maxAlerts)
	}
	if list[0].Message != fmt.Sprintf("failure %d", maxAlerts+4) {
		t.Fatalf("newest = %q", list[0].Message)
	}
	b.Clear()
	if len(b.List()) != 0 {
		t.Fatal("Clear left alerts behind")
	}
}

func TestBoardRecordsKind(t *testing.T) {
	b := NewBoard(nil)
	b.Push("submit", fmt.Errorf("gemini: %w", domain.ErrConfiguration))
	b.Push("submit", errors.New("plain"))
	list := b.List()
	if list[1].Kind != domain.KindConfiguration || list[0].Kind != domain.KindInternal {
		t.Fatalf("kinds = %q, %q", list[1].Kind, list[0].Kind)
	}
}
