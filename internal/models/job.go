package models

import (
	"time"
)

// Job kinds form a closed set; unknown kinds are rejected at both enqueue
// and dequeue time.
const (
	KindEnrich         = "enrich"
	KindOutreach       = "outreach"
	KindEnforce        = "enforce"
	KindCollectability = "collectability"
	KindCaseCopilot    = "case_copilot"
)

// JobKinds lists every accepted kind in a stable order.
var JobKinds = []string{KindEnrich, KindOutreach, KindEnforce, KindCollectability, KindCaseCopilot}

// ValidKind reports whether kind belongs to the closed kind set.
func ValidKind(kind string) bool {
	switch kind {
	case KindEnrich, KindOutreach, KindEnforce, KindCollectability, KindCaseCopilot:
		return true
	}
	return false
}

// Job lifecycle states persisted in Postgres.
const (
	JobStatusQueued     = "queued"
	JobStatusLeased     = "leased"
	JobStatusAcked      = "acked"
	JobStatusDeadLetter = "dead_lettered"
)

// Job is the durable half of a queued unit of work. Redis carries only the
// ID through the ready/inflight structures; everything else lives here.
type Job struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	IdempotencyKey string         `json:"idempotency_key"`
	Payload        map[string]any `json:"payload"`
	Status         string         `json:"status"`
	ReadCount      int            `json:"read_count"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	LastError      *string        `json:"last_error,omitempty"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
	LeasedAt       *time.Time     `json:"leased_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
