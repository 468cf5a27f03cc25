package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"arcana/db"
)

// Notifier delivers a notification to the external collaborator.
type Notifier interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogNotifier delivers by logging; the default when no transport is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) Deliver(ctx context.Context, n Notification) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "notification", "user_id", n.UserID, "type", n.Type, "message", n.Message, "link", n.Link)
	return nil
}

type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Dispatcher drains pending outbox rows. Rows are claimed with SKIP LOCKED so
// several dispatchers can run against one database.
type Dispatcher struct {
	pool     db.TxBeginner
	notifier Notifier
	cfg      DispatcherConfig
	log      *slog.Logger
}

func NewDispatcher(pool db.TxBeginner, notifier Notifier, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{pool: pool, notifier: notifier, cfg: cfg, log: log}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.WarnContext(ctx, "outbox: drain failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DrainOnce delivers one batch and returns how many rows were delivered.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
SELECT id::text, topic, payload, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED;
`
	rows, err := tx.Query(ctx, claimSQL, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}
	var batch []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan message: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate batch: %w", err)
	}

	delivered := 0
	for _, m := range batch {
		deliverErr := d.deliver(ctx, m)
		if deliverErr == nil {
			if _, err := tx.Exec(ctx, `
UPDATE outbox SET status = 'processed', attempts = attempts + 1, last_attempt = now(), last_error = NULL
WHERE id = $1::uuid`, m.ID); err != nil {
				return 0, fmt.Errorf("outbox: mark processed: %w", err)
			}
			delivered++
			continue
		}

		status := "pending"
		if m.Attempts+1 >= d.cfg.MaxAttempts {
			status = "dead"
		}
		d.log.WarnContext(ctx, "outbox: delivery failed", "id", m.ID, "attempts", m.Attempts+1, "status", status, "error", deliverErr)
		if _, err := tx.Exec(ctx, `
UPDATE outbox SET status = $2, attempts = attempts + 1, last_attempt = now(), last_error = $3
WHERE id = $1::uuid`, m.ID, status, deliverErr.Error()); err != nil {
			return 0, fmt.Errorf("outbox: record failure: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit batch: %w", err)
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) error {
	if m.Topic != TopicNotification {
		return fmt.Errorf("unknown topic %q", m.Topic)
	}
	var n Notification
	if err := json.Unmarshal(m.Payload, &n); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return d.notifier.Deliver(ctx, n)
}
