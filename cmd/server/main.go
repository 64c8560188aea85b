package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/stuartshay/ride-window-worker/internal/api"
	"github.com/stuartshay/ride-window-worker/internal/config"
	"github.com/stuartshay/ride-window-worker/internal/database"
	"github.com/stuartshay/ride-window-worker/internal/publisher"
	"github.com/stuartshay/ride-window-worker/internal/tracing"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Initialize structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	log.Info().Str("version", version).Msg("Starting ride-window-worker service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	setLogLevel(cfg.LogLevel)

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("grpc_port", cfg.GRPCPort).
		Str("http_port", cfg.HTTPPort).
		Str("key_field", cfg.KeyField.String()).
		Dur("retention", cfg.RetentionPeriod).
		Int("workers", cfg.Workers).
		Int("shards", cfg.Shards).
		Bool("database_enabled", cfg.DatabaseEnabled).
		Strs("kafka_brokers", cfg.KafkaBrokers).
		Msg("Configuration loaded")

	shutdownTracer, err := tracing.InitTracer(tracing.FromConfig(cfg, version))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to flush traces")
		}
	}()

	var source api.RideSource
	if cfg.DatabaseEnabled {
		dbClient, err := database.NewClient(cfg.DatabaseDSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database client")
		}
		defer dbClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = dbClient.HealthCheck(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Database health check failed")
		}

		log.Info().Str("db_host", cfg.PostgresHost).Msg("Database health check passed")
		source = dbClient
	}

	var pub api.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := publisher.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafkaPub.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka publisher")
			}
		}()
		log.Info().Str("topic", cfg.KafkaTopic).Msg("Kafka publisher enabled")
		pub = kafkaPub
	}

	apiServer := api.NewServer(cfg, source, pub)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC carries health checks and reflection only
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create TCP listener")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.GRPCPort).Msg("gRPC server listening")
		return grpcServer.Serve(listener)
	})

	g.Go(func() error {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown signal received, gracefully stopping...")
		healthServer.Shutdown()
		shutdown(httpServer, grpcServer, 30*time.Second)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server failed")
	}

	// Drain the aggregation workers
	if err := apiServer.Shutdown(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown job queue")
	}

	log.Info().Msg("Service shutdown complete")
}

// shutdown stops both servers, forcing gRPC when the timeout passes
func shutdown(httpServer *http.Server, grpcServer *grpc.Server, timeout time.Duration) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	case <-stopped:
		log.Info().Msg("gRPC server stopped")
	}
}

// setLogLevel configures the global log level
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("level", level).Msg("Log level set")
}
