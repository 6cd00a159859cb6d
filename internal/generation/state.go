package generation

import (
	"fmt"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
)

type eventKind int

const (
	eventStart eventKind = iota
	eventProgress
	eventSucceed
	eventFail
)

func (k eventKind) String() string {
	switch k {
	case eventStart:
		return "start"
	case eventProgress:
		return "progress"
	case eventSucceed:
		return "succeed"
	case eventFail:
		return "fail"
	}
	return "unknown"
}

// event is one input to the task state machine.
type event struct {
	kind      eventKind
	at        time.Time
	progress  int
	resultURL string
	remoteURL string
	slices    []domain.Slice
	warnings  []string
	failure   *domain.TaskFailure
}

// apply returns the task after ev, or ErrInvalidTransition. It never mutates
// its input; the orchestrator swaps the stored value only on success.
func apply(t domain.GenerationTask, ev event) (domain.GenerationTask, error) {
	next := t.Clone()
	next.UpdatedAt = ev.at
	switch ev.kind {
	case eventStart:
		if t.Status != domain.TaskPending {
			return t, invalid(t, ev)
		}
		next.Status = domain.TaskLoading
		next.Progress = 0
	case eventProgress:
		if t.Status != domain.TaskLoading {
			return t, invalid(t, ev)
		}
		if ev.progress > next.Progress {
			next.Progress = min(ev.progress, 100)
		}
	case eventSucceed:
		if t.Status != domain.TaskLoading {
			return t, invalid(t, ev)
		}
		if ev.resultURL == "" || len(ev.slices) == 0 {
			return t, fmt.Errorf("%w: success requires a result and slices", domain.ErrInvalidTransition)
		}
		next.Status = domain.TaskSuccess
		next.Progress = 100
		next.ResultImageURL = ev.resultURL
		next.RemoteURL = ev.remoteURL
		next.Slices = append([]domain.Slice(nil), ev.slices...)
		next.Warnings = append(next.Warnings, ev.warnings...)
		next.Failure = nil
	case eventFail:
		if t.Status.Terminal() {
			return t, invalid(t, ev)
		}
		failure := domain.TaskFailure{Kind: domain.KindInternal}
		if ev.failure != nil {
			failure = *ev.failure
		}
		next.Status = domain.TaskError
		next.ResultImageURL = ""
		next.Slices = nil
		next.Failure = &failure
		next.Warnings = append(next.Warnings, ev.warnings...)
	default:
		return t, invalid(t, ev)
	}
	return next, nil
}

func invalid(t domain.GenerationTask, ev event) error {
	return fmt.Errorf("%w: %s while %s", domain.ErrInvalidTransition, ev.kind, t.Status)
}
