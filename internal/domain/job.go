package domain

// JobStatus enumerates remote job lifecycle states as reported by polling.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether polling can stop.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// JobKind distinguishes the image and video variants of the job protocol.
type JobKind string

const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
)

// JobState is one poll observation.
type JobState struct {
	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"`
	ResultURL     string    `json:"result_url,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	FailureCode   string    `json:"failure_code,omitempty"`
}
