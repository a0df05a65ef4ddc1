package model

import "time"

type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type JobKind string

const (
	JobKindReport       JobKind = "report"
	JobKindNotification JobKind = "notification"
)

func (k JobKind) Valid() bool {
	return k == JobKindReport || k == JobKindNotification
}

type Job struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	Kind           JobKind        `json:"kind"`
	Params         map[string]any `json:"params,omitempty"`
	State          JobState       `json:"state"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at"`
	ResultLocation *string        `json:"result_location"`
	Error          *string        `json:"error"`
	SupersededBy   *string        `json:"superseded_by,omitempty"`
}
