// Package audit records before/after state for the bet status transitions
// applied through the HTTP API (bet creation and batch-result callbacks);
// the worker pools and the reconciliation sweep do not record events here,
// and settlement transitions are not recorded. The original backend persisted these to a Postgres
// audit_log table (audit_repository.rs); the spec names no persistent
// audit store, so this keeps the same event shape but logs structurally
// and retains a bounded in-process ring buffer for recent-history queries
// instead of inventing a new schema.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event mirrors the original's AuditLogEntry fields.
type Event struct {
	Time        time.Time
	EventType   string
	AggregateID string
	Actor       string
	Before      string
	After       string
	Metadata    map[string]string
}

// Log is an in-process, bounded audit trail. Capacity is fixed at
// construction; once full, the oldest event is evicted.
type Log struct {
	mu       sync.Mutex
	logger   *zap.Logger
	capacity int
	events   []Event
	next     int
	full     bool
}

// New builds a Log holding up to capacity recent events.
func New(logger *zap.Logger, capacity int) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Log{logger: logger, capacity: capacity, events: make([]Event, capacity)}
}

// Record appends an event, logs it at Info, and evicts the oldest entry if
// the ring is full.
func (l *Log) Record(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	l.mu.Lock()
	l.events[l.next] = e
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	l.logger.Info("audit event",
		zap.Time("event_time", e.Time),
		zap.String("event_type", e.EventType),
		zap.String("aggregate_id", e.AggregateID),
		zap.String("actor", e.Actor),
		zap.String("before", e.Before),
		zap.String("after", e.After),
	)
}

// Recent returns up to n of the most recently recorded events, newest
// first.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = l.capacity
	}
	if n > size {
		n = size
	}

	out := make([]Event, 0, n)
	idx := l.next
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = l.capacity - 1
		}
		out = append(out, l.events[idx])
	}
	return out
}
