package event

import "time"

type Type string

const (
	TypeJobSubmitted   Type = "job.submitted"
	TypeJobStarted     Type = "job.started"
	TypeJobCompleted   Type = "job.completed"
	TypeJobFailed      Type = "job.failed"
	TypeJobSuperseded  Type = "job.superseded"
	TypeSessionRevoked Type = "session.revoked"
)

// Terminal reports whether the event closes a job's lifecycle.
func (t Type) Terminal() bool {
	return t == TypeJobCompleted || t == TypeJobFailed
}

type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Subject   string    `json:"subject"`
	ActorID   string    `json:"actor_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // channel plus unsubscribe
}
