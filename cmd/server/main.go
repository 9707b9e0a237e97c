// Command server runs the review pipeline HTTP API and the gRPC health endpoint.
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
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/helixir/review-pipeline-service/internal/config"
	"github.com/helixir/review-pipeline-service/internal/database"
	"github.com/helixir/review-pipeline-service/internal/events"
	"github.com/helixir/review-pipeline-service/internal/export"
	"github.com/helixir/review-pipeline-service/internal/observability"
	"github.com/helixir/review-pipeline-service/internal/repository"
	httpserver "github.com/helixir/review-pipeline-service/internal/server/http"
	"github.com/helixir/review-pipeline-service/internal/service"
	"github.com/helixir/review-pipeline-service/internal/temporal"
)

// healthService is the service name reported over grpc.health.v1.
const healthService = "reviewpipeline.v1.ReviewService"

// sseWriteTimeout lets a progress stream stay open for its full deadline.
const sseWriteTimeout = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	}).With().Str("component", "server").Logger()
	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.MigrationAutoRun {
		if err := database.MigrateUp(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	tc, err := temporal.NewClient(cfg.Temporal, observability.NewTemporalLogger(logger))
	if err != nil {
		return err
	}
	workflows := temporal.NewReviewWorkflowClient(tc, cfg.Temporal)
	defer workflows.Close()

	publisher := events.New(cfg.Kafka, metrics, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing event publisher")
		}
	}()

	reviews := service.NewReviews(service.Deps{
		Jobs:           repository.NewPgJobRepository(db),
		Items:          repository.NewPgItemRepository(db),
		Documents:      repository.NewPgDocumentRepository(db),
		Workflows:      workflows,
		Publisher:      publisher,
		Metrics:        metrics,
		Logger:         logger,
		MaxPendingJobs: cfg.Pipeline.MaxPendingJobs,
	})

	renderer, err := export.NewRenderer(cfg.Export)
	if err != nil {
		return fmt.Errorf("export renderer: %w", err)
	}

	auth, err := authMiddleware(cfg.Auth, logger)
	if err != nil {
		return err
	}

	api := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    sseWriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpserver.Deps{
		Reviews:  reviews,
		Exporter: renderer,
		Ready: map[string]httpserver.ReadinessCheck{
			"database": func(ctx context.Context) error {
				if h := db.Health(ctx); !h.Healthy() {
					return errors.New(h.Error)
				}
				return nil
			},
			"temporal": workflows.Health,
		},
		Metrics: metrics,
		Auth:    auth,
		Logger:  logger,
	})

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddress())
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.Server.GRPCAddress(), err)
	}
	grpcSrv, healthSrv := newGRPCServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("address", grpcLis.Addr().String()).Msg("grpc health listening")
		return grpcSrv.Serve(grpcLis)
	})
	g.Go(func() error {
		if err := api.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
		stopGRPC(shutdownCtx, grpcSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func authMiddleware(cfg config.AuthConfig, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		logger.Warn().Msg("authentication disabled, all jobs are visible to every caller")
		return nil, nil
	}
	tokens, err := httpserver.NewTokenService(cfg)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	return httpserver.AuthMiddleware(tokens), nil
}

// newGRPCServer serves only grpc.health.v1 and reflection.
func newGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Minute,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

// stopGRPC drains in-flight RPCs until ctx expires, then closes connections.
func stopGRPC(ctx context.Context, srv *grpc.Server, logger zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn().Msg("grpc drain timed out, forcing stop")
		srv.Stop()
	}
}
