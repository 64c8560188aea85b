// Package pipeline runs a complete aggregation pass: it validates and orders
// the rides, streams them through a trailing-window aggregator, and joins the
// resulting aggregates back onto the rides by order id.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spaolacci/murmur3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/stuartshay/ride-window-worker/internal/metrics"
	"github.com/stuartshay/ride-window-worker/internal/ride"
	"github.com/stuartshay/ride-window-worker/internal/window"
)

// DefaultRetention is the trailing window used by the ride exports
const DefaultRetention = 7 * 24 * time.Hour

// cancelCheckInterval is how many rides a shard folds between context checks
const cancelCheckInterval = 1024

var (
	// ErrDuplicateOrderID means the join back onto rides would be ambiguous
	ErrDuplicateOrderID = errors.New("duplicate order id")
	// ErrMissingRecord means a processed ride has no aggregate to join
	ErrMissingRecord = errors.New("no aggregate record for order")
)

var tracer = otel.Tracer("github.com/stuartshay/ride-window-worker/internal/pipeline")

// Options configures one aggregation pass
type Options struct {
	KeyField  ride.KeyField
	Retention time.Duration
	// Shards above 1 split the keys across that many goroutines. Every key
	// is owned by exactly one shard, so results match a serial pass.
	Shards int
}

// EnrichedRide is a ride joined with its window and lifetime aggregates
type EnrichedRide struct {
	ride.Ride
	Key        string
	Aggregates window.Record
}

// Result is the output of a pass, in timestamp order
type Result struct {
	Rides     []EnrichedRide
	Keys      int
	Evictions uint64
}

// Run aggregates rides grouped by opts.KeyField. The input slice is not
// modified. If ctx is cancelled mid-pass, the rides folded so far are
// returned along with the context error.
func Run(ctx context.Context, rides []ride.Ride, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	start := time.Now()
	label := opts.KeyField.String()
	span.SetAttributes(
		attribute.String("key_field", label),
		attribute.Int("rides", len(rides)),
		attribute.Int("shards", opts.Shards),
	)

	sel, err := opts.KeyField.Selector()
	if err != nil {
		return nil, err
	}
	if opts.Retention < 0 {
		return nil, fmt.Errorf("%w: %s", window.ErrNegativeRetention, opts.Retention)
	}

	if err := validate(rides, sel); err != nil {
		metrics.RejectedRides.WithLabelValues(label).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	sorted := slices.Clone(rides)
	ride.SortByTimestamp(sorted)

	records := make([]window.Record, len(sorted))
	done := make([]bool, len(sorted))

	shards := partition(sorted, sel, opts.Shards)
	stats := make([]shardStats, len(shards))

	if len(shards) == 1 {
		stats[0], err = runShard(ctx, sorted, shards[0], sel, opts.Retention, records, done)
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, positions := range shards {
			g.Go(func() error {
				var shardErr error
				stats[i], shardErr = runShard(gctx, sorted, positions, sel, opts.Retention, records, done)
				return shardErr
			})
		}
		err = g.Wait()
	}

	result := &Result{}
	for _, s := range stats {
		result.Keys += s.keys
		result.Evictions += s.evictions
	}

	// A cancelled pass still yields the rides folded before the stop.
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregation failed")
		return nil, err
	}

	joined, joinErr := join(sorted, records, done, sel)
	if joinErr != nil {
		span.RecordError(joinErr)
		span.SetStatus(codes.Error, "join failed")
		return nil, joinErr
	}
	result.Rides = joined

	metrics.RidesProcessed.WithLabelValues(label).Add(float64(len(joined)))
	metrics.WindowEvictions.WithLabelValues(label).Add(float64(result.Evictions))
	metrics.RunDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int("keys", result.Keys),
		attribute.Int64("evictions", int64(result.Evictions)),
	)

	log.Debug().
		Str("key_field", label).
		Int("rides", len(joined)).
		Int("keys", result.Keys).
		Uint64("evictions", result.Evictions).
		Dur("elapsed", time.Since(start)).
		Msg("Aggregation pass finished")

	if err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return result, err
	}
	return result, nil
}

// validate rejects rows the pass cannot fold and order ids that would make
// the join ambiguous
func validate(rides []ride.Ride, sel ride.KeySelector) error {
	seen := make(map[string]int, len(rides))
	for i, r := range rides {
		if err := r.Validate(); err != nil {
			return &ride.RowError{Index: i, OrderID: r.OrderID, Err: err}
		}
		if sel(r) == "" {
			return &ride.RowError{Index: i, OrderID: r.OrderID, Err: errors.New("grouping key is empty")}
		}
		if first, ok := seen[r.OrderID]; ok {
			return &ride.RowError{
				Index:   i,
				OrderID: r.OrderID,
				Err:     fmt.Errorf("%w (first seen at ride %d)", ErrDuplicateOrderID, first),
			}
		}
		seen[r.OrderID] = i
	}
	return nil
}

type shardStats struct {
	keys      int
	evictions uint64
}

// partition assigns every position of sorted to a shard by key hash.
// Positions inside a shard stay in timestamp order.
func partition(sorted []ride.Ride, sel ride.KeySelector, shards int) [][]int {
	if shards <= 1 {
		all := make([]int, len(sorted))
		for i := range all {
			all[i] = i
		}
		return [][]int{all}
	}

	out := make([][]int, shards)
	for i, r := range sorted {
		s := murmur3.Sum32([]byte(sel(r))) % uint32(shards)
		out[s] = append(out[s], i)
	}
	return out
}

// runShard folds the rides at positions through a private aggregator.
// Each position is written by exactly one shard.
func runShard(ctx context.Context, sorted []ride.Ride, positions []int, sel ride.KeySelector,
	retention time.Duration, records []window.Record, done []bool) (shardStats, error) {
	agg, err := window.New[string](retention)
	if err != nil {
		return shardStats{}, err
	}

	for n, pos := range positions {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return shardStats{keys: agg.Keys(), evictions: agg.Evictions()}, err
			}
		}
		rec, err := agg.Process(sorted[pos].Event(sel))
		if err != nil {
			return shardStats{}, &ride.RowError{Index: pos, OrderID: sorted[pos].OrderID, Err: err}
		}
		records[pos] = rec
		done[pos] = true
	}
	return shardStats{keys: agg.Keys(), evictions: agg.Evictions()}, nil
}

// join attaches each processed ride's record, looked up by order id
func join(sorted []ride.Ride, records []window.Record, done []bool, sel ride.KeySelector) ([]EnrichedRide, error) {
	byOrder := make(map[string]window.Record, len(records))
	for i, rec := range records {
		if done[i] {
			byOrder[rec.OrderID] = rec
		}
	}

	out := make([]EnrichedRide, 0, len(byOrder))
	for i, r := range sorted {
		if !done[i] {
			continue
		}
		rec, ok := byOrder[r.OrderID]
		if !ok {
			return nil, fmt.Errorf("%w %s", ErrMissingRecord, r.OrderID)
		}
		out = append(out, EnrichedRide{Ride: r, Key: sel(r), Aggregates: rec})
	}
	return out, nil
}
