package fakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"arcana/apperr"
	"arcana/auth"
	"arcana/db"
	"arcana/ledger"
	"arcana/money"
	"arcana/outbox"
	"arcana/timeline"
)

// Users is an in-memory auth.Repository.
type Users struct {
	mu    sync.Mutex
	users map[string]auth.User
}

func NewUsers() *Users {
	return &Users{users: make(map[string]auth.User)}
}

// Add creates an account with a fresh id.
func (u *Users) Add(role auth.Role, verified bool) auth.User {
	user := auth.User{
		ID:        uuid.NewString(),
		Email:     uuid.NewString() + "@example.com",
		FullName:  string(role),
		Role:      role,
		Verified:  verified,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	u.Put(user)
	return user
}

func (u *Users) Put(user auth.User) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users[user.ID] = user
}

func (u *Users) CreateUser(_ context.Context, p auth.CreateUserParams) (auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, existing := range u.users {
		if existing.Email == p.Email {
			return auth.User{}, auth.ErrDuplicateEmail
		}
	}
	now := time.Now().UTC()
	user := auth.User{
		ID:           uuid.NewString(),
		Email:        p.Email,
		FullName:     p.FullName,
		PasswordHash: p.PasswordHash,
		Role:         p.Role,
		Verified:     p.Verified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	u.users[user.ID] = user
	return user, nil
}

func (u *Users) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.users {
		if user.Email == email {
			return user, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (u *Users) SetVerified(_ context.Context, id string, verified bool) (auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	user.Verified = verified
	user.UpdatedAt = time.Now().UTC()
	u.users[id] = user
	return user, nil
}

func (u *Users) GetUserByID(_ context.Context, id string) (auth.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}

// Ledger is an in-memory ledger with the same guards as the SQL one.
type Ledger struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	journal   []ledger.Entry
	nextID    int64
	CreditErr error
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]decimal.Decimal)}
}

// Seed sets a balance without journaling.
func (l *Ledger) Seed(accountID string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[accountID] = amount
}

func (l *Ledger) Credit(_ context.Context, tx pgx.Tx, p ledger.Posting) (decimal.Decimal, error) {
	if l.CreditErr != nil {
		return decimal.Decimal{}, l.CreditErr
	}
	if !p.Amount.IsPositive() || !money.IsCents(p.Amount) {
		return decimal.Decimal{}, apperr.Validation("ledger.credit", "invalid amount %s", p.Amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.postLocked(tx, ledger.KindCredit, p, p.Amount), nil
}

func (l *Ledger) Debit(_ context.Context, tx pgx.Tx, p ledger.Posting) (decimal.Decimal, error) {
	if !p.Amount.IsPositive() || !money.IsCents(p.Amount) {
		return decimal.Decimal{}, apperr.Validation("ledger.debit", "invalid amount %s", p.Amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[p.AccountID].LessThan(p.Amount) {
		return decimal.Decimal{}, apperr.InsufficientBalance("ledger.debit", "debit of %s exceeds the available balance", money.Format(p.Amount))
	}
	return l.postLocked(tx, ledger.KindDebit, p, p.Amount.Neg()), nil
}

func (l *Ledger) postLocked(tx pgx.Tx, kind ledger.EntryKind, p ledger.Posting, delta decimal.Decimal) decimal.Decimal {
	l.nextID++
	balance := l.balances[p.AccountID].Add(delta)
	l.balances[p.AccountID] = balance
	entry := ledger.Entry{
		ID:           l.nextID,
		AccountID:    p.AccountID,
		Kind:         kind,
		Amount:       p.Amount,
		BalanceAfter: balance,
		RefType:      p.RefType,
		RefID:        p.RefID,
		CreatedAt:    time.Now().UTC(),
	}
	l.journal = append(l.journal, entry)

	OnRollback(tx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.balances[p.AccountID] = l.balances[p.AccountID].Sub(delta)
		for i, e := range l.journal {
			if e.ID == entry.ID {
				l.journal = append(l.journal[:i], l.journal[i+1:]...)
				break
			}
		}
	})
	return balance
}

func (l *Ledger) Balance(_ context.Context, _ db.Querier, accountID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountID], nil
}

func (l *Ledger) Entries(_ context.Context, _ db.Querier, accountID string, limit int) ([]ledger.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Entry
	for i := len(l.journal) - 1; i >= 0 && len(out) < limit; i-- {
		if l.journal[i].AccountID == accountID {
			out = append(out, l.journal[i])
		}
	}
	return out, nil
}

// Journal returns every entry in posting order.
func (l *Ledger) Journal() []ledger.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Entry(nil), l.journal...)
}

// Timeline records appended events.
type Timeline struct {
	mu        sync.Mutex
	seq       int64
	events    []timeline.Event
	AppendErr error
}

func (t *Timeline) Append(_ context.Context, tx pgx.Tx, e timeline.Event) error {
	if t.AppendErr != nil {
		return t.AppendErr
	}
	t.mu.Lock()
	t.seq++
	e.ID = t.seq
	t.events = append(t.events, e)
	t.mu.Unlock()

	OnRollback(tx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, prev := range t.events {
			if prev.ID == e.ID {
				t.events = append(t.events[:i], t.events[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (t *Timeline) Events() []timeline.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]timeline.Event(nil), t.events...)
}

// Types lists the recorded event types in order.
func (t *Timeline) Types() []string {
	var out []string
	for _, e := range t.Events() {
		out = append(out, e.Type)
	}
	return out
}

// Notifier records notifications that survived their transaction.
type Notifier struct {
	mu   sync.Mutex
	seq  int
	sent []sentNote
}

type sentNote struct {
	seq  int
	note outbox.Notification
}

func (n *Notifier) Notify(_ context.Context, tx pgx.Tx, note outbox.Notification) {
	n.mu.Lock()
	n.seq++
	seq := n.seq
	n.sent = append(n.sent, sentNote{seq: seq, note: note})
	n.mu.Unlock()

	OnRollback(tx, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.sent {
			if s.seq == seq {
				n.sent = append(n.sent[:i], n.sent[i+1:]...)
				return
			}
		}
	})
}

func (n *Notifier) Sent() []outbox.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]outbox.Notification, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.note)
	}
	return out
}

// SentTo filters Sent by recipient.
func (n *Notifier) SentTo(userID string) []outbox.Notification {
	var out []outbox.Notification
	for _, note := range n.Sent() {
		if note.UserID == userID {
			out = append(out, note)
		}
	}
	return out
}

func page[T any](items []T, pageNum, size int) []T {
	if pageNum <= 0 {
		pageNum = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	start := (pageNum - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func sortByTime[T any](items []T, at func(T) time.Time, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return at(items[i]).After(at(items[j]))
		}
		return at(items[i]).Before(at(items[j]))
	})
}
