package domain

import "time"

// QueueItem is an image staged for enhancement.
type QueueItem struct {
	SourceID    string    `json:"source_id"`
	Data        []byte    `json:"-"`
	AspectRatio Ratio     `json:"aspect_ratio"`
	AddedAt     time.Time `json:"added_at"`
}

// UpscaledResult is the output of one enhancement call.
type UpscaledResult struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Data        []byte    `json:"-"`
	MIME        string    `json:"mime"`
	AspectRatio Ratio     `json:"aspect_ratio"`
	CreatedAt   time.Time `json:"created_at"`
}
