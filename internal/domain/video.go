package domain

import (
	"fmt"
	"time"
)

// VideoStatus is the storyboard card state.
type VideoStatus string

const (
	VideoIdle    VideoStatus = "idle"
	VideoLoading VideoStatus = "loading"
	VideoSuccess VideoStatus = "success"
	VideoError   VideoStatus = "error"
)

// VideoCard is one storyboard entry in the video workflow.
type VideoCard struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt"`
	// AspectRatio ("16:9") and Duration (seconds) override the configured
	// clip defaults when set.
	AspectRatio string      `json:"aspect_ratio,omitempty"`
	Duration    int         `json:"duration,omitempty"`
	VideoURL    string      `json:"video_url,omitempty"`
	Status      VideoStatus `json:"status"`
	Progress    int         `json:"progress"`
	ErrorMsg    string      `json:"error_msg,omitempty"`
	Position    int         `json:"position"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks the videoURL/status pairing.
func (c VideoCard) Validate() error {
	if (c.VideoURL != "") != (c.Status == VideoSuccess) {
		return fmt.Errorf("%w: card %s has status %s with video url %q", ErrInvalidTransition, c.ID, c.Status, c.VideoURL)
	}
	return nil
}

// MergeState is the transient state of the merge engine.
type MergeState struct {
	IsMerging bool   `json:"is_merging"`
	Progress  int    `json:"progress"`
	MergedURL string `json:"merged_url,omitempty"`
}

// Clip is one input to a merge.
type Clip struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
