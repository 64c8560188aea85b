// Package ride defines the ride row consumed by the aggregation pass,
// the grouping-key selectors, and row-level validation.
package ride

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/stuartshay/ride-window-worker/internal/calculator"
	"github.com/stuartshay/ride-window-worker/internal/window"
)

// Ride is one order row from the ride exports
type Ride struct {
	OrderID  string
	DriverID string
	ClientID string

	// Timestamp orders the stream (the 15-minute bucket of the order)
	Timestamp time.Time

	FromLatitude  float64
	FromLongitude float64
	ToLatitude    float64
	ToLongitude   float64

	// ArrivedDistance is meters travelled while arriving at the pickup
	ArrivedDistance float64
	// Duration and ArrivedDuration are seconds en route and arriving
	Duration        float64
	ArrivedDuration float64
}

// From returns the pickup coordinate
func (r Ride) From() calculator.Location {
	return calculator.Location{Latitude: r.FromLatitude, Longitude: r.FromLongitude}
}

// To returns the drop-off coordinate
func (r Ride) To() calculator.Location {
	return calculator.Location{Latitude: r.ToLatitude, Longitude: r.ToLongitude}
}

// SegmentDistance is the great-circle trip distance plus the arrival distance, in meters
func (r Ride) SegmentDistance() float64 {
	return calculator.Distance(r.From(), r.To()) + r.ArrivedDistance
}

// SegmentDuration is the en-route plus arrival duration, in seconds
func (r Ride) SegmentDuration() float64 {
	return r.Duration + r.ArrivedDuration
}

// Event converts the ride to an aggregator event keyed by sel
func (r Ride) Event(sel KeySelector) window.Event[string] {
	return window.Event[string]{
		Key:       sel(r),
		Timestamp: r.Timestamp,
		OrderID:   r.OrderID,
		Distance:  r.SegmentDistance(),
		Duration:  r.SegmentDuration(),
	}
}

// Validate checks the fields the aggregation pass depends on
func (r Ride) Validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return errors.New("order id is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if !r.From().Valid() {
		return fmt.Errorf("invalid pickup coordinate %.6f,%.6f", r.FromLatitude, r.FromLongitude)
	}
	if !r.To().Valid() {
		return fmt.Errorf("invalid drop-off coordinate %.6f,%.6f", r.ToLatitude, r.ToLongitude)
	}
	measures := []struct {
		name  string
		value float64
	}{
		{"arrived_distance", r.ArrivedDistance},
		{"duration", r.Duration},
		{"arrived_duration", r.ArrivedDuration},
	}
	for _, m := range measures {
		if math.IsNaN(m.value) || math.IsInf(m.value, 0) || m.value < 0 {
			return fmt.Errorf("%s must be finite and non-negative, got %v", m.name, m.value)
		}
	}
	return nil
}

// RowError identifies a ride that failed validation
type RowError struct {
	Index   int
	OrderID string
	Err     error
}

func (e *RowError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("ride %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("ride %d (order %s): %v", e.Index, e.OrderID, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// SortByTimestamp orders rides by timestamp in place. Rides with equal
// timestamps keep their relative input order.
func SortByTimestamp(rides []Ride) {
	slices.SortStableFunc(rides, func(a, b Ride) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// Merge concatenates ride tables in the given order and sorts the result
// by timestamp
func Merge(tables ...[]Ride) []Ride {
	n := 0
	for _, t := range tables {
		n += len(t)
	}
	merged := make([]Ride, 0, n)
	for _, t := range tables {
		merged = append(merged, t...)
	}
	SortByTimestamp(merged)
	return merged
}
