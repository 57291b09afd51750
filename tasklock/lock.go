// Package tasklock guarantees at most one active pipeline run per task
// identifier within the process.
package tasklock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBusy is the sentinel returned when a task already has an active run.
var ErrBusy = errors.New("task is already being processed")

// defaultMaxEntries bounds the lock map against identifier floods.
const defaultMaxEntries = 1024

// entry records one held lock.
type entry struct {
	acquiredAt time.Time
}

// Locker is a process-wide, TTL-swept map of held task locks. Acquisition is
// non-blocking; a second acquire for the same task fails with ErrBusy until
// the first releases or its TTL expires.
type Locker struct {
	mu         sync.Mutex
	held       map[string]entry
	order      []string // acquisition order for bounded eviction
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithMaxEntries caps the number of simultaneously tracked locks.
func WithMaxEntries(n int) Option {
	return func(l *Locker) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		l.logger = logger
	}
}

// New creates a Locker whose entries expire after ttl.
func New(ttl time.Duration, opts ...Option) *Locker {
	l := &Locker{
		held:       make(map[string]entry),
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes the lock for taskID without blocking. It returns ErrBusy
// when a live run already holds it. Expired holders are reclaimed inline so
// a crashed run cannot wedge its task forever.
func (l *Locker) Acquire(taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if e, ok := l.held[taskID]; ok {
		if l.ttl <= 0 || now.Sub(e.acquiredAt) < l.ttl {
			return ErrBusy
		}
		l.logger.Warn("Reclaiming expired task lock",
			"task_id", taskID,
			"held_for", now.Sub(e.acquiredAt))
		l.remove(taskID)
	}

	if len(l.held) >= l.maxEntries {
		l.evictOldest()
	}

	l.held[taskID] = entry{acquiredAt: now}
	l.order = append(l.order, taskID)
	return nil
}

// Release frees the lock for taskID. Releasing an unheld lock is a no-op.
func (l *Locker) Release(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remove(taskID)
}

// Held reports whether taskID currently holds a live lock.
func (l *Locker) Held(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.held[taskID]
	if !ok {
		return false
	}
	return l.ttl <= 0 || time.Since(e.acquiredAt) < l.ttl
}

// Len returns the number of tracked locks, expired entries included.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// Sweep drops every entry older than the TTL and returns how many were
// removed.
func (l *Locker) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ttl <= 0 {
		return 0
	}

	removed := 0
	now := time.Now()
	for id, e := range l.held {
		if now.Sub(e.acquiredAt) >= l.ttl {
			l.remove(id)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Info("Swept expired task locks", "removed", removed)
	}
	return removed
}

// Run sweeps periodically until ctx is cancelled.
func (l *Locker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// remove must be called with the mutex held.
func (l *Locker) remove(taskID string) {
	if _, ok := l.held[taskID]; !ok {
		return
	}
	delete(l.held, taskID)
	for i, id := range l.order {
		if id == taskID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// evictOldest drops the earliest-acquired entry. Must be called with the
// mutex held.
func (l *Locker) evictOldest() {
	if len(l.order) == 0 {
		return
	}
	oldest := l.order[0]
	l.logger.Warn("Task lock map full, evicting oldest", "task_id", oldest)
	l.remove(oldest)
}
