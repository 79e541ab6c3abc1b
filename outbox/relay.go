package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/observability"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Publisher delivers a message to its downstream consumer.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher writes each message to the logger. It is the default sink until
// a push or email transport is configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, msg Message) error {
	p.Logger.Info().
		Str("message_id", msg.ID).
		Str("topic", msg.Topic).
		RawJSON("payload", msg.Payload).
		Msg("team notification")
	return nil
}

// RelayConfig tunes the polling relay.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Relay drains pending outbox rows. Concurrent relays never claim the same row.
type Relay struct {
	pool      TxBeginner
	publisher Publisher
	cfg       RelayConfig
	logger    zerolog.Logger
	record    func(topic, status string)
}

func NewRelay(pool TxBeginner, publisher Publisher, cfg RelayConfig, logger zerolog.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Relay{
		pool:      pool,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
		record:    observability.RecordOutbox,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.DrainOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			r.logger.Error().Err(err).Msg("drain outbox")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DrainOnce claims one batch, publishes it and commits the outcome. It returns
// the number of messages marked processed.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
SELECT id, topic, payload, status, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT $1;
`

	rows, err := tx.Query(ctx, claimSQL, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}
	batch := make([]Message, 0, r.cfg.BatchSize)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &msg.Status, &msg.Attempts, &msg.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan message: %w", err)
		}
		batch = append(batch, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate batch: %w", err)
	}

	type outcome struct {
		topic  string
		status string
	}
	outcomes := make([]outcome, 0, len(batch))
	processed := 0
	for _, msg := range batch {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			status := StatusPending
			if msg.Attempts+1 >= r.cfg.MaxAttempts {
				status = StatusDead
			}
			r.logger.Warn().Err(err).Str("message_id", msg.ID).Str("topic", msg.Topic).
				Int("attempts", msg.Attempts+1).Str("status", status).Msg("publish failed")
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, status = $2, last_attempt = now() WHERE id = $1`, msg.ID, status); err != nil {
				return 0, fmt.Errorf("outbox: record attempt: %w", err)
			}
			outcomes = append(outcomes, outcome{topic: msg.Topic, status: status})
			continue
		}

		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', last_attempt = now() WHERE id = $1`, msg.ID); err != nil {
			return 0, fmt.Errorf("outbox: mark processed: %w", err)
		}
		outcomes = append(outcomes, outcome{topic: msg.Topic, status: StatusProcessed})
		processed++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit tx: %w", err)
	}
	// only committed outcomes are counted
	for _, o := range outcomes {
		r.record(o.topic, o.status)
	}
	return processed, nil
}
