// Package fakes holds in-memory stand-ins for the pgx pool and the
// repositories, shared by the service unit tests.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errUnsupported = errors.New("fakes: statement execution not supported")

// Pool hands out Tx values and keeps them for inspection.
type Pool struct {
	mu       sync.Mutex
	Txs      []*Tx
	BeginErr error
}

func (p *Pool) Begin(context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	tx := &Tx{}
	p.Txs = append(p.Txs, tx)
	return tx, nil
}

func (p *Pool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnsupported
}

func (p *Pool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}

func (p *Pool) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{err: errUnsupported}
}

// Committed counts committed top-level transactions.
func (p *Pool) Committed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, tx := range p.Txs {
		if tx.IsCommitted() {
			n++
		}
	}
	return n
}

// Tx is a pgx.Tx whose rollback replays the undo steps the fake stores
// registered through OnRollback. Nested Begin returns a savepoint.
type Tx struct {
	mu         sync.Mutex
	parent     *Tx
	undo       []func()
	finish     []func()
	committed  bool
	rolledBack bool

	// ExecErr is returned by Exec, and inherited by savepoints. Execs
	// collects statements on the top-level transaction, savepoints included.
	ExecErr error
	Execs   []string
}

// OnRollback registers fn to run if tx rolls back. Non-fake transactions are ignored.
func OnRollback(tx pgx.Tx, fn func()) {
	t, ok := tx.(*Tx)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, fn)
}

// onFinish registers fn to run once the top-level transaction ends either way.
func onFinish(t *Tx, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finish = append(t.finish, fn)
}

func (t *Tx) root() *Tx {
	for t.parent != nil {
		t = t.parent
	}
	return t
}

func (t *Tx) end(undo, finish []func()) {
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	for _, fn := range finish {
		fn()
	}
}

func (t *Tx) IsCommitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

func (t *Tx) IsRolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolledBack
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Tx{parent: t, ExecErr: t.ExecErr}, nil
}

func (t *Tx) Commit(context.Context) error {
	t.mu.Lock()
	if t.committed || t.rolledBack {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.committed = true
	undo, finish := t.undo, t.finish
	t.undo, t.finish = nil, nil
	t.mu.Unlock()

	if t.parent != nil {
		t.parent.mu.Lock()
		t.parent.undo = append(t.parent.undo, undo...)
		t.parent.finish = append(t.parent.finish, finish...)
		t.parent.mu.Unlock()
		return nil
	}
	t.end(nil, finish)
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	if t.committed || t.rolledBack {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	undo, finish := t.undo, t.finish
	t.undo, t.finish = nil, nil
	t.mu.Unlock()

	if t.parent != nil {
		// Row locks taken in a savepoint stay with the enclosing transaction.
		t.end(undo, nil)
		t.parent.mu.Lock()
		t.parent.finish = append(t.parent.finish, finish...)
		t.parent.mu.Unlock()
		return nil
	}
	t.end(undo, finish)
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}

func (t *Tx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r := t.root()
	r.mu.Lock()
	r.Execs = append(r.Execs, sql)
	r.mu.Unlock()
	return pgconn.CommandTag{}, t.ExecErr
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{err: errUnsupported}
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error {
	return r.err
}

// rowLocks emulates SELECT ... FOR UPDATE: a row stays locked by the
// owning transaction until it commits or rolls back.
type rowLocks struct {
	mu   sync.Mutex
	held map[string]*rowLock
}

type rowLock struct {
	owner *Tx
	done  chan struct{}
}

func (l *rowLocks) lock(tx pgx.Tx, id string) {
	t, ok := tx.(*Tx)
	if !ok {
		return
	}
	owner := t.root()
	for {
		l.mu.Lock()
		if l.held == nil {
			l.held = make(map[string]*rowLock)
		}
		cur, busy := l.held[id]
		if !busy {
			rl := &rowLock{owner: owner, done: make(chan struct{})}
			l.held[id] = rl
			l.mu.Unlock()
			onFinish(owner, func() {
				l.mu.Lock()
				delete(l.held, id)
				l.mu.Unlock()
				close(rl.done)
			})
			return
		}
		l.mu.Unlock()
		if cur.owner == owner {
			return
		}
		<-cur.done
	}
}
