package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Writer records team notifications in the outbox and audit entries in audit_logs.
type Writer struct {
	db Execer
}

// NewWriter wires a writer on top of a pool or transaction.
func NewWriter(db Execer) *Writer {
	return &Writer{db: db}
}

// Notify enqueues a team event for asynchronous delivery.
func (w *Writer) Notify(ctx context.Context, teamID team.TeamID, event EventType, payload map[string]any) error {
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["team_id"] = teamID
	body["event_type"] = event

	return w.Enqueue(ctx, w.db, Topic(event), body)
}

// Enqueue writes a raw outbox message through db, which may be an open transaction.
func (w *Writer) Enqueue(ctx context.Context, db Execer, topic string, payload map[string]any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}

	const insertSQL = `
INSERT INTO outbox (topic, payload)
VALUES ($1, $2);
`

	if _, err := db.Exec(ctx, insertSQL, topic, payloadBytes); err != nil {
		return fmt.Errorf("outbox: insert message: %w", err)
	}
	return nil
}

// LogEvent appends an audit entry for entityID.
func (w *Writer) LogEvent(ctx context.Context, entityID, action string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	detailBytes, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("outbox: marshal audit details: %w", err)
	}

	const insertSQL = `
INSERT INTO audit_logs (entity_id, action, details)
VALUES ($1, $2, $3);
`

	if _, err := w.db.Exec(ctx, insertSQL, entityID, action, detailBytes); err != nil {
		return fmt.Errorf("outbox: insert audit log: %w", err)
	}
	return nil
}
