// Package api implements the worker's HTTP interface: it accepts
// aggregation jobs, reports their status, and exposes health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stuartshay/ride-window-worker/internal/config"
	"github.com/stuartshay/ride-window-worker/internal/dataset"
	"github.com/stuartshay/ride-window-worker/internal/pipeline"
	"github.com/stuartshay/ride-window-worker/internal/queue"
	"github.com/stuartshay/ride-window-worker/internal/ride"
)

// RideSource loads rides for a date range
type RideSource interface {
	GetRidesByDateRange(ctx context.Context, startDate, endDate string) ([]ride.Ride, error)
	CountRides(ctx context.Context, startDate, endDate string) (int, error)
	HealthCheck(ctx context.Context) error
}

// Publisher forwards enriched rides downstream
type Publisher interface {
	Publish(ctx context.Context, keyField string, rides []pipeline.EnrichedRide) error
}

var tracer = otel.Tracer("github.com/stuartshay/ride-window-worker/internal/api")

var errUnsafePath = errors.New("path must be relative and stay inside the data directory")

// Server runs aggregation jobs on a worker pool and serves their status
type Server struct {
	cfg       *config.Config
	source    RideSource
	publisher Publisher
	queue     *queue.Queue
}

// NewServer creates a server. source and publisher may be nil, which
// disables database-backed jobs and Kafka publishing respectively.
func NewServer(cfg *config.Config, source RideSource, publisher Publisher) *Server {
	s := &Server{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
	}

	s.queue = queue.NewQueue(cfg.Workers, s.processAggregationJob)

	return s
}

// processAggregationJob is the worker function that runs one aggregation pass
func (s *Server) processAggregationJob(ctx context.Context, job *queue.Job) (*queue.JobResult, error) {
	req := job.Request

	ctx, span := tracer.Start(ctx, "api.processAggregationJob",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job_id", job.ID),
			attribute.String("key_field", req.KeyField.String()),
		),
	)
	defer span.End()

	result, err := s.aggregate(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		return nil, err
	}
	return result, nil
}

func (s *Server) aggregate(ctx context.Context, job *queue.Job) (*queue.JobResult, error) {
	req := job.Request
	logger := log.With().Str("job_id", job.ID).Str("key_field", req.KeyField.String()).Logger()

	logger.Info().
		Strs("inputs", req.Inputs).
		Str("start_date", req.StartDate).
		Str("end_date", req.EndDate).
		Msg("Processing aggregation job")

	rides, err := s.loadRides(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(rides) == 0 {
		logger.Warn().Msg("No rides found for job")
		return nil, fmt.Errorf("no rides found")
	}

	res, err := pipeline.Run(ctx, rides, pipeline.Options{
		KeyField:  req.KeyField,
		Retention: s.cfg.RetentionPeriod,
		Shards:    s.cfg.Shards,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}

	logger.Info().
		Int("rides", len(res.Rides)).
		Int("keys", res.Keys).
		Uint64("evictions", res.Evictions).
		Msg("Aggregation pass completed")

	outputPath, err := s.outputPath(job)
	if err != nil {
		return nil, err
	}
	if err := dataset.WriteEnrichedFile(outputPath, res.Rides); err != nil {
		return nil, fmt.Errorf("CSV generation failed: %w", err)
	}

	result := &queue.JobResult{
		OutputPath: outputPath,
		Rides:      len(res.Rides),
		Keys:       res.Keys,
		Evictions:  res.Evictions,
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, req.KeyField.String(), res.Rides); err != nil {
			return nil, fmt.Errorf("publish failed: %w", err)
		}
		result.Published = true
	}

	return result, nil
}

// loadRides reads the CSV inputs, merged by timestamp, or the database range
func (s *Server) loadRides(ctx context.Context, req queue.Request) ([]ride.Ride, error) {
	if len(req.Inputs) > 0 {
		tables := make([][]ride.Ride, 0, len(req.Inputs))
		for _, name := range req.Inputs {
			path, err := resolve(s.cfg.InputPath, name)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", name, err)
			}
			rides, err := dataset.ReadRidesFile(path)
			if err != nil {
				return nil, err
			}
			tables = append(tables, rides)
		}
		return ride.Merge(tables...), nil
	}

	if s.source == nil {
		return nil, fmt.Errorf("database source is not configured")
	}
	rides, err := s.source.GetRidesByDateRange(ctx, req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return rides, nil
}

// outputPath returns the requested output or a name derived from the job
func (s *Server) outputPath(job *queue.Job) (string, error) {
	if job.Request.Output != "" {
		path, err := resolve(s.cfg.OutputPath, job.Request.Output)
		if err != nil {
			return "", fmt.Errorf("output %q: %w", job.Request.Output, err)
		}
		return path, nil
	}
	name := fmt.Sprintf("rides_%s_%s_%s.csv",
		job.Request.KeyField, job.QueuedAt.Format("20060102T150405"), job.ID[:8])
	return filepath.Join(s.cfg.OutputPath, name), nil
}

// resolve joins a client supplied name onto dir, rejecting escapes
func resolve(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", errUnsafePath
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errUnsafePath
	}
	return filepath.Join(dir, clean), nil
}

// Shutdown gracefully shuts down the job queue
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.queue.Shutdown(timeout)
}
