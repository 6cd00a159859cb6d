package storyboard

import (
	"fmt"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
)

type cardEventKind int

const (
	cardStart cardEventKind = iota
	cardProgress
	cardSucceed
	cardFail
	cardEdit
)

type cardEvent struct {
	kind     cardEventKind
	at       time.Time
	progress int
	videoURL string
	errorMsg string
	prompt   string
}

// transition applies ev to c. Starting is allowed from idle, error and success
// (regenerate); progress and completion only while loading.
func transition(c domain.VideoCard, ev cardEvent) (domain.VideoCard, error) {
	next := c
	next.UpdatedAt = ev.at
	switch ev.kind {
	case cardStart:
		if c.Status == domain.VideoLoading {
			return c, fmt.Errorf("%w: card %s is already generating", domain.ErrBusy, c.ID)
		}
		next.Status = domain.VideoLoading
		next.Progress = 0
		next.VideoURL = ""
		next.ErrorMsg = ""
	case cardProgress:
		if c.Status != domain.VideoLoading {
			return c, invalidCard(c, "progress")
		}
		next.Progress = max(c.Progress, min(ev.progress, 100))
	case cardSucceed:
		if c.Status != domain.VideoLoading {
			return c, invalidCard(c, "succeed")
		}
		if ev.videoURL == "" {
			return c, fmt.Errorf("%w: success requires a video url", domain.ErrInvalidTransition)
		}
		next.Status = domain.VideoSuccess
		next.Progress = 100
		next.VideoURL = ev.videoURL
	case cardFail:
		if c.Status != domain.VideoLoading {
			return c, invalidCard(c, "fail")
		}
		next.Status = domain.VideoError
		next.Progress = 0
		next.ErrorMsg = ev.errorMsg
	case cardEdit:
		next.Prompt = ev.prompt
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

func invalidCard(c domain.VideoCard, what string) error {
	return fmt.Errorf("%w: %s while card %s is %s", domain.ErrInvalidTransition, what, c.ID, c.Status)
}
