package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecentReturnsNewestFirst(t *testing.T) {
	l := New(zap.NewNop(), 10)
	l.Record(Event{EventType: "bet.status_changed", AggregateID: "bet-1", Before: "pending", After: "batched"})
	l.Record(Event{EventType: "bet.status_changed", AggregateID: "bet-1", Before: "batched", After: "completed"})

	got := l.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, "completed", got[0].After)
	assert.Equal(t, "batched", got[1].After)
}

func TestRecentCapsAtAvailable(t *testing.T) {
	l := New(zap.NewNop(), 10)
	l.Record(Event{EventType: "bet.status_changed", AggregateID: "bet-1"})

	got := l.Recent(5)
	assert.Len(t, got, 1)
}

func TestRingBufferEvictsOldestWhenFull(t *testing.T) {
	l := New(zap.NewNop(), 2)
	l.Record(Event{AggregateID: "a"})
	l.Record(Event{AggregateID: "b"})
	l.Record(Event{AggregateID: "c"})

	got := l.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].AggregateID)
	assert.Equal(t, "b", got[1].AggregateID)
}

func TestRecordFillsInMissingTimestamp(t *testing.T) {
	l := New(zap.NewNop(), 10)
	l.Record(Event{AggregateID: "a"})

	got := l.Recent(1)
	require.Len(t, got, 1)
	assert.False(t, got[0].Time.IsZero())
}
