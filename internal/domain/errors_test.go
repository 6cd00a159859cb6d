package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "configuration", err: fmt.Errorf("jobs: %w: missing key", ErrConfiguration), want: KindConfiguration},
		{name: "submission", err: fmt.Errorf("%w: quota", ErrSubmission), want: KindSubmission},
		{name: "timeout", err: ErrPollingTimeout, want: KindPollingTimeout},
		{name: "remote", err: &RemoteFailureError{Reason: "boom"}, want: KindRemoteFailure},
		{name: "context cancel", err: fmt.Errorf("poll: %w", context.Canceled), want: KindCancelled},
		{name: "cancel beats transport", err: fmt.Errorf("%w: %w", ErrSubmission, ErrCancelled), want: KindCancelled},
		{name: "decode", err: ErrDecodeFailure, want: KindDecodeFailure},
		{name: "backend", err: ErrBackendUnavailable, want: KindBackendUnavailable},
		{name: "other", err: errors.New("disk full"), want: KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRemoteFailureModerated(t *testing.T) {
	if !(&RemoteFailureError{Code: "OUTPUT_MODERATION"}).Moderated() {
		t.Fatal("expected output_moderation to be moderated")
	}
	if !(&RemoteFailureError{Reason: "blocked by safety system"}).Moderated() {
		t.Fatal("expected safety reason to be moderated")
	}
	if (&RemoteFailureError{Reason: "gpu out of memory"}).Moderated() {
		t.Fatal("plain failure should not be moderated")
	}
}

func TestFriendlyMessage(t *testing.T) {
	moderated := fmt.Errorf("task: %w", &RemoteFailureError{Code: "output_moderation", Reason: "raw text"})
	if got := FriendlyMessage(moderated, "en-US"); strings.Contains(got, "raw text") || !strings.Contains(got, "safety filter") {
		t.Fatalf("moderated message = %q", got)
	}
	if got := FriendlyMessage(moderated, "id-ID"); !strings.Contains(got, "filter keamanan") {
		t.Fatalf("indonesian moderated message = %q", got)
	}
	if got := FriendlyMessage(ErrPollingTimeout, "zh-CN"); got != "生成时间过长，请稍后重试。" {
		t.Fatalf("chinese timeout message = %q", got)
	}
	submission := fmt.Errorf("%w: insufficient credits", ErrSubmission)
	if got := FriendlyMessage(submission, "en"); got != submission.Error() {
		t.Fatalf("submission message = %q, want verbatim %q", got, submission.Error())
	}
	if got := FriendlyMessage(&RemoteFailureError{Reason: "gpu crashed"}, ""); got != "Generation failed: gpu crashed" {
		t.Fatalf("remote message = %q", got)
	}
}

func TestNormalizeLocale(t *testing.T) {
	cases := map[string]string{"": "en", "en-GB": "en", "id": "id", "zh-Hans": "zh", "fr": "en"}
	for in, want := range cases {
		if got := NormalizeLocale(in); got != want {
			t.Fatalf("NormalizeLocale(%q) = %q, want %q", in, got, want)
		}
	}
}
