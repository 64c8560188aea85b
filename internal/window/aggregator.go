// Package window computes per-key trailing-window and lifetime aggregates
// over a time-ordered stream of ride events in a single forward pass.
package window

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eapache/queue"
)

var (
	// ErrNegativeRetention is returned by New for a negative retention period
	ErrNegativeRetention = errors.New("retention period must not be negative")
	// ErrOutOfOrder is returned when an event is older than the last event
	// accepted for the same key
	ErrOutOfOrder = errors.New("event timestamp is earlier than previous event for key")
	// ErrInvalidMeasure is returned for negative or non-finite distance or duration
	ErrInvalidMeasure = errors.New("distance and duration must be finite and non-negative")
)

// Event is one ride segment attributed to a grouping key. Distance and
// Duration already include both the en-route and the arrival phase.
type Event[K comparable] struct {
	Key       K
	Timestamp time.Time
	OrderID   string
	Distance  float64
	Duration  float64
}

// Record carries the aggregates for one event after it has been folded in
type Record struct {
	OrderID string

	LastTotalDistance float64
	LastTotalDuration float64
	LastTotalCount    int

	TotalDistance float64
	TotalDuration float64
	TotalCount    int
}

type entry struct {
	timestamp time.Time
	distance  float64
	duration  float64
}

// state is the window and lifetime accumulators of one key.
// windowDistance and windowDuration always equal the sums over entries.
type state struct {
	entries        *queue.Queue
	windowDistance float64
	windowDuration float64

	totalDistance float64
	totalDuration float64
	totalCount    int

	last time.Time
}

// Aggregator folds events into per-key windows. Events for one key must
// arrive in non-decreasing timestamp order; events of different keys may
// interleave. An Aggregator is not safe for concurrent use.
type Aggregator[K comparable] struct {
	retention time.Duration
	keys      map[K]*state
	evictions uint64
}

// New creates an aggregator that keeps events no older than retention
// relative to the newest event of the same key.
func New[K comparable](retention time.Duration) (*Aggregator[K], error) {
	if retention < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeRetention, retention)
	}
	return &Aggregator[K]{
		retention: retention,
		keys:      make(map[K]*state),
	}, nil
}

// Process folds ev into its key's window and lifetime totals and returns
// the aggregates as of ev. A rejected event leaves all state unchanged.
func (a *Aggregator[K]) Process(ev Event[K]) (Record, error) {
	if !validMeasure(ev.Distance) || !validMeasure(ev.Duration) {
		return Record{}, fmt.Errorf("order %s: %w", ev.OrderID, ErrInvalidMeasure)
	}

	st, ok := a.keys[ev.Key]
	if !ok {
		st = &state{entries: queue.New()}
		a.keys[ev.Key] = st
	} else if ev.Timestamp.Before(st.last) {
		return Record{}, fmt.Errorf("order %s at %s before %s: %w",
			ev.OrderID, ev.Timestamp.Format(time.RFC3339), st.last.Format(time.RFC3339), ErrOutOfOrder)
	}
	st.last = ev.Timestamp

	st.entries.Add(entry{timestamp: ev.Timestamp, distance: ev.Distance, duration: ev.Duration})
	st.windowDistance += ev.Distance
	st.windowDuration += ev.Duration

	st.totalDistance += ev.Distance
	st.totalDuration += ev.Duration
	st.totalCount++

	// The newest entry never ages out, so the queue cannot drain here.
	for {
		front := st.entries.Peek().(entry)
		if ev.Timestamp.Sub(front.timestamp) <= a.retention {
			break
		}
		st.entries.Remove()
		st.windowDistance -= front.distance
		st.windowDuration -= front.duration
		a.evictions++
	}

	return Record{
		OrderID:           ev.OrderID,
		LastTotalDistance: st.windowDistance,
		LastTotalDuration: st.windowDuration,
		LastTotalCount:    st.entries.Length(),
		TotalDistance:     st.totalDistance,
		TotalDuration:     st.totalDuration,
		TotalCount:        st.totalCount,
	}, nil
}

// Keys returns the number of distinct keys seen so far
func (a *Aggregator[K]) Keys() int {
	return len(a.keys)
}

// Evictions returns how many window entries have aged out so far
func (a *Aggregator[K]) Evictions() uint64 {
	return a.evictions
}

func validMeasure(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
