package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Terminator kills random backends of the current database while the
// actors run, forcing transactions to fail mid-flight.
type Terminator struct {
	Every time.Duration
	// OneIn is the chance, per tick, that a backend is terminated.
	OneIn int

	killed atomic.Int64
}

// Killed reports how many backends were terminated so far.
func (t *Terminator) Killed() int64 {
	return t.killed.Load()
}

// Run terminates backends until ctx is done or stop is closed.
func (t *Terminator) Run(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	every, oneIn := t.Every, t.OneIn
	if every <= 0 {
		every = 2 * time.Second
	}
	if oneIn <= 0 {
		oneIn = 5
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(oneIn) != 0 {
				continue
			}
			var n int64
			err := pool.QueryRow(ctx, `
				WITH victim AS (
				    SELECT pid FROM pg_stat_activity
				    WHERE datname = current_database() AND pid <> pg_backend_pid()
				      AND backend_type = 'client backend'
				    ORDER BY random() LIMIT 1)
				SELECT COUNT(*) FROM victim WHERE pg_terminate_backend(pid)`).Scan(&n)
			if err == nil {
				t.killed.Add(n)
			}
		}
	}
}
