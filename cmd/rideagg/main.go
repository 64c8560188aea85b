// Command rideagg enriches ride exports with trailing-window and lifetime
// aggregates without starting the service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stuartshay/ride-window-worker/internal/dataset"
	"github.com/stuartshay/ride-window-worker/internal/pipeline"
	"github.com/stuartshay/ride-window-worker/internal/publisher"
	"github.com/stuartshay/ride-window-worker/internal/ride"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:           "rideagg",
		Short:         "Ride window aggregation tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.AddCommand(newRunCommand())
	return command
}

type runOptions struct {
	keyField     string
	inputs       []string
	output       string
	retention    time.Duration
	shards       int
	logLevel     string
	kafkaBrokers []string
	kafkaTopic   string
}

func newRunCommand() *cobra.Command {
	var opts runOptions

	command := &cobra.Command{
		Use:   "run",
		Short: "Aggregate one or more ride CSV exports into an enriched CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(cmd.Context(), opts); err != nil {
				log.Error().Err(err).Msg("Aggregation failed")
				return err
			}
			return nil
		},
	}
	command.Flags().StringVar(&opts.keyField, "key", "driver", "Grouping key, driver or client")
	command.Flags().StringSliceVar(&opts.inputs, "input", nil, "Ride CSV export, repeatable") // --input=a.csv,b.csv --input=c.csv
	command.Flags().StringVar(&opts.output, "output", "rides_enriched.csv", "Enriched CSV path")
	command.Flags().DurationVar(&opts.retention, "retention", pipeline.DefaultRetention, "Trailing window length")
	command.Flags().IntVar(&opts.shards, "shards", 1, "Number of key shards processed in parallel")
	command.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level, e.g. debug")
	command.Flags().StringSliceVar(&opts.kafkaBrokers, "kafka-brokers", nil, "Publish enriched rides to these brokers")
	command.Flags().StringVar(&opts.kafkaTopic, "kafka-topic", "ride-aggregates", "Kafka topic for enriched rides")
	_ = command.MarkFlagRequired("input")
	return command
}

func run(ctx context.Context, opts runOptions) error {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	field, err := ride.ParseKeyField(opts.keyField)
	if err != nil {
		return err
	}

	tables := make([][]ride.Ride, 0, len(opts.inputs))
	for _, path := range opts.inputs {
		rides, err := dataset.ReadRidesFile(path)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Int("rides", len(rides)).Msg("Loaded rides")
		tables = append(tables, rides)
	}

	res, err := pipeline.Run(ctx, ride.Merge(tables...), pipeline.Options{
		KeyField:  field,
		Retention: opts.retention,
		Shards:    opts.shards,
	})
	if err != nil {
		return err
	}

	log.Info().
		Int("rides", len(res.Rides)).
		Int("keys", res.Keys).
		Uint64("evictions", res.Evictions).
		Msg("Aggregation pass completed")

	if err := dataset.WriteEnrichedFile(opts.output, res.Rides); err != nil {
		return err
	}

	if len(opts.kafkaBrokers) == 0 {
		return nil
	}

	pub := publisher.NewKafka(opts.kafkaBrokers, opts.kafkaTopic)
	defer func() {
		if err := pub.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Kafka publisher")
		}
	}()
	return pub.Publish(ctx, field.String(), res.Rides)
}
