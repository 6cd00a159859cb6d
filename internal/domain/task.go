package domain

import (
	"bytes"
	"image"
	"image/png"
	"time"
)

// TaskStatus is the generation task state.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskLoading TaskStatus = "loading"
	TaskSuccess TaskStatus = "success"
	TaskError   TaskStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskSuccess || s == TaskError
}

// TaskFailure describes why a task ended in error.
type TaskFailure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// Slice is one cell of a sliced composite.
type Slice struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Row         int             `json:"row"`
	Col         int             `json:"col"`
	Bounds      image.Rectangle `json:"-"`
	AspectRatio Ratio           `json:"aspect_ratio"`
	Image       *image.RGBA     `json:"-"`
}

// PNG encodes the slice surface.
func (s Slice) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.Image); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GenerationTask is one user-initiated composite generation.
type GenerationTask struct {
	ID             string       `json:"id"`
	Status         TaskStatus   `json:"status"`
	PromptText     string       `json:"prompt_text"`
	Grid           GridMode     `json:"grid_mode"`
	Params         TaskParams   `json:"params"`
	ResultImageURL string       `json:"result_image_url,omitempty"`
	RemoteURL      string       `json:"remote_url,omitempty"`
	Slices         []Slice      `json:"slices"`
	Progress       int          `json:"progress"`
	Warnings       []string     `json:"warnings,omitempty"`
	Failure        *TaskFailure `json:"failure,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Clone copies the task so readers never share mutable state with the
// orchestrator. Slice surfaces are immutable and therefore shared.
func (t GenerationTask) Clone() GenerationTask {
	out := t
	out.Params = t.Params.Clone()
	if t.Slices != nil {
		out.Slices = append([]Slice(nil), t.Slices...)
	}
	if t.Warnings != nil {
		out.Warnings = append([]string(nil), t.Warnings...)
	}
	if t.Failure != nil {
		f := *t.Failure
		out.Failure = &f
	}
	return out
}

// SliceByID returns the slice with the given id.
func (t GenerationTask) SliceByID(id string) (Slice, bool) {
	for _, s := range t.Slices {
		if s.ID == id {
			return s, true
		}
	}
	return Slice{}, false
}
