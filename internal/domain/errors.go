package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicate         = errors.New("duplicate item")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrBusy              = errors.New("operation already running")

	ErrConfiguration      = errors.New("configuration error")
	ErrSubmission         = errors.New("submission rejected")
	ErrPollingTimeout     = errors.New("polling timed out")
	ErrRemoteTaskFailure  = errors.New("remote task failed")
	ErrCancelled          = errors.New("cancelled by user")
	ErrDecodeFailure      = errors.New("image decode failed")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// RemoteFailureError carries the reason a remote job reported for failing.
type RemoteFailureError struct {
	Reason string
	Code   string
}

func (e *RemoteFailureError) Error() string {
	switch {
	case e.Reason != "" && e.Code != "":
		return fmt.Sprintf("remote task failed: %s (%s)", e.Reason, e.Code)
	case e.Reason != "":
		return "remote task failed: " + e.Reason
	case e.Code != "":
		return "remote task failed: " + e.Code
	}
	return "remote task failed"
}

func (e *RemoteFailureError) Unwrap() error { return ErrRemoteTaskFailure }

var moderationCodes = map[string]struct{}{
	"output_moderation":        {},
	"input_moderation":         {},
	"content_policy_violation": {},
	"safety":                   {},
	"image_safety":             {},
	"prohibited_content":       {},
	"blocklist":                {},
	"spii":                     {},
}

// Moderated reports whether the failure came from a content filter.
func (e *RemoteFailureError) Moderated() bool {
	if _, ok := moderationCodes[strings.ToLower(strings.TrimSpace(e.Code))]; ok {
		return true
	}
	reason := strings.ToLower(e.Reason)
	return strings.Contains(reason, "moderation") || strings.Contains(reason, "safety") || strings.Contains(reason, "sensitive")
}

// ErrorKind classifies failures for storage on tasks and cards.
type ErrorKind string

const (
	KindConfiguration      ErrorKind = "configuration"
	KindSubmission         ErrorKind = "submission"
	KindPollingTimeout     ErrorKind = "polling_timeout"
	KindRemoteFailure      ErrorKind = "remote_failure"
	KindCancelled          ErrorKind = "cancelled"
	KindDecodeFailure      ErrorKind = "decode_failure"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindInternal           ErrorKind = "internal"
)

// KindOf maps an error onto the taxonomy. Cancellation wins over everything
// because a cancelled context often surfaces as a wrapped transport error.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrSubmission):
		return KindSubmission
	case errors.Is(err, ErrPollingTimeout):
		return KindPollingTimeout
	case errors.Is(err, ErrRemoteTaskFailure):
		return KindRemoteFailure
	case errors.Is(err, ErrDecodeFailure):
		return KindDecodeFailure
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	}
	return KindInternal
}

// IsModerated reports whether err wraps a content-moderation failure.
func IsModerated(err error) bool {
	var rf *RemoteFailureError
	return errors.As(err, &rf) && rf.Moderated()
}
