package ledger

import (
	"context"
	"sync"
)

// Locks hands out one exclusive section per ledger. Sections of different
// ledgers never contend.
type Locks struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func NewLocks() *Locks {
	return &Locks{sems: make(map[string]chan struct{})}
}

// Lock enters the ledger's exclusive section, giving up when ctx is done.
// The returned unlock func is safe to call more than once.
func (l *Locks) Lock(ctx context.Context, ledgerID string) (func(), error) {
	sem := l.sem(ledgerID)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-sem }) }, nil
}

func (l *Locks) sem(ledgerID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[ledgerID]
	if !ok {
		sem = make(chan struct{}, 1)
		l.sems[ledgerID] = sem
	}
	return sem
}
