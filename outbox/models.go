package outbox

import (
	"strings"
	"time"
)

// EventType names a team notification.
type EventType string

const (
	EventDisputeInitiated   EventType = "DISPUTE_INITIATED"
	EventDisputeResolved    EventType = "DISPUTE_RESOLVED"
	EventSeparationProposed EventType = "SEPARATION_PROPOSED"
	EventSeparationExecuted EventType = "SEPARATION_EXECUTED"
)

// Topic returns the outbox topic for a team event, e.g. "team.dispute_initiated".
func Topic(event EventType) string {
	return "team." + strings.ToLower(string(event))
}

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusDead      = "dead"
)

// Message represents a transactional outbox entry.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// AuditEntry mirrors the audit_logs table.
type AuditEntry struct {
	ID        int64
	EntityID  string
	Action    string
	Details   []byte
	CreatedAt time.Time
}
