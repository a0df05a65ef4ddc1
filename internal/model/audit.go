package model

import "time"

type AuditEntry struct {
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
	ActorID    string    `json:"actor_id,omitempty"`
	ActorIP    string    `json:"actor_ip,omitempty"`
	Status     string    `json:"status"`
	Resource   string    `json:"resource,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

type AuditActor struct {
	UserID string `json:"user_id,omitempty"`
	IP     string `json:"ip,omitempty"`
}

type AuditQuery struct {
	Page    int
	Limit   int
	Action  string
	ActorID string
	Status  string
	From    time.Time
	To      time.Time
}
