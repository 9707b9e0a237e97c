// Package main provides the entry point for the review pipeline Temporal worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/review-pipeline-service/internal/config"
	"github.com/helixir/review-pipeline-service/internal/database"
	"github.com/helixir/review-pipeline-service/internal/events"
	"github.com/helixir/review-pipeline-service/internal/extract"
	"github.com/helixir/review-pipeline-service/internal/listener"
	"github.com/helixir/review-pipeline-service/internal/llm"
	"github.com/helixir/review-pipeline-service/internal/observability"
	"github.com/helixir/review-pipeline-service/internal/papersources/openalex"
	"github.com/helixir/review-pipeline-service/internal/pdf"
	"github.com/helixir/review-pipeline-service/internal/pipeline"
	"github.com/helixir/review-pipeline-service/internal/repository"
	"github.com/helixir/review-pipeline-service/internal/retry"
	"github.com/helixir/review-pipeline-service/internal/service"
	"github.com/helixir/review-pipeline-service/internal/storage"
	"github.com/helixir/review-pipeline-service/internal/temporal"
	"github.com/helixir/review-pipeline-service/internal/temporal/activities"
	"github.com/helixir/review-pipeline-service/internal/temporal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
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
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("review-pipeline-service worker starting")

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

	jobRepo := repository.NewPgJobRepository(db)
	itemRepo := repository.NewPgItemRepository(db)
	documentRepo := repository.NewPgDocumentRepository(db)

	sourceStore, err := storage.New(cfg.Storage, db, logger)
	if err != nil {
		return fmt.Errorf("create source store: %w", err)
	}
	logger.Info().Str("backend", cfg.Storage.Backend).Msg("source store created")

	// Create the completion clients.
	completer, err := llm.NewCompleter(ctx, llm.FactoryConfig{
		Provider: cfg.LLM.Provider,
		Timeout:  cfg.LLM.Timeout,
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
		Gemini: llm.GeminiConfig{
			APIKey:   cfg.LLM.Gemini.APIKey,
			Model:    cfg.LLM.Gemini.Model,
			Endpoint: cfg.LLM.Gemini.Endpoint,
		},
	})
	if err != nil {
		return fmt.Errorf("create LLM completer: %w", err)
	}

	prompts, err := loadPrompts(cfg.LLM.PromptsFile)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	logger.Info().Str("provider", cfg.LLM.Provider).Msg("completion service configured")

	publisher := events.New(cfg.Kafka, metrics, logger)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close event publisher")
		}
	}()

	controller := pipeline.NewController(pipeline.Deps{
		Discoverer: openalex.New(openalex.Config{
			BaseURL:    cfg.OpenAlex.BaseURL,
			Email:      cfg.OpenAlex.Email,
			Timeout:    cfg.OpenAlex.Timeout,
			RateLimit:  cfg.OpenAlex.RateLimit,
			MaxResults: cfg.OpenAlex.MaxResults,
			Sort:       cfg.OpenAlex.Sort,
		}),
		Fetcher: pdf.NewDownloader(pdf.Config{
			Timeout: cfg.Pipeline.AcquireTimeout,
			MinSize: cfg.Pipeline.MinSourceBytes,
			MaxSize: cfg.Pipeline.MaxSourceBytes,
		}),
		Store:       sourceStore,
		Extractor:   extract.New(extract.Config{}),
		Summarizer:  llm.NewSummarizer(completer, prompts),
		Synthesizer: llm.NewSynthesizer(completer, prompts),
		Sink:        jobRepo,
		Items:       itemRepo,
		Documents:   documentRepo,
		Metrics:     metrics,
		Logger:      logger,
	}, pipelineConfig(cfg.Pipeline))

	// Create Temporal client.
	temporalClient, err := temporal.NewClient(cfg.Temporal, observability.NewTemporalLogger(logger))
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	defer temporalClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	manager, err := temporal.NewWorkerManager(temporalClient, temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue))
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}

	manager.RegisterReviewWorkflow(workflows.ReviewWorkflow)
	manager.RegisterActivity(activities.NewPipelineActivities(controller, publisher, logger))
	manager.RegisterActivity(activities.NewEventActivities(publisher))

	// Cancel commands arrive over Kafka and go through the same path as the API.
	if cfg.Kafka.Enabled {
		reviews := service.NewReviews(service.Deps{
			Jobs:           jobRepo,
			Items:          itemRepo,
			Documents:      documentRepo,
			Workflows:      temporal.NewReviewWorkflowClient(temporalClient, cfg.Temporal),
			Publisher:      publisher,
			Metrics:        metrics,
			Logger:         logger,
			MaxPendingJobs: cfg.Pipeline.MaxPendingJobs,
		})
		commands := listener.NewListener(cfg.Kafka, reviews, logger)
		defer func() {
			if err := commands.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close command listener")
			}
		}()

		go func() {
			if err := commands.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("command listener error")
			}
		}()

		logger.Info().
			Str("topic", cfg.Kafka.CommandsTopic).
			Str("group_id", cfg.Kafka.GroupID).
			Msg("command listener started")
	}

	if cfg.Metrics.Enabled {
		metricsServer := startMetricsServer(cfg, logger)
		defer func() {
			if err := metricsServer.Shutdown(context.Background()); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown error")
			}
		}()
	}

	logger.Info().
		Str("task_queue", cfg.Temporal.TaskQueue).
		Msg("starting temporal worker")

	// Start the worker and block until context is cancelled.
	if err := manager.Start(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped via signal")
			return nil
		}
		return fmt.Errorf("worker error: %w", err)
	}

	return nil
}

// pipelineConfig maps the configured budgets onto the controller's retry
// policies. Retry counts are attempts after the first.
func pipelineConfig(c config.PipelineConfig) pipeline.Config {
	policy := func(retries int) retry.Policy {
		p := retry.DefaultPolicy()
		p.MaxAttempts = retries + 1
		if c.InitialBackoff > 0 {
			p.InitialBackoff = c.InitialBackoff
		}
		if c.MaxBackoff > 0 {
			p.MaxBackoff = c.MaxBackoff
		}
		return p
	}

	return pipeline.Config{
		AcquireWorkers:    c.AcquireWorkers,
		ExtractWorkers:    c.ExtractWorkers,
		SummarizeWorkers:  c.SummarizeWorkers,
		AcquireTimeout:    c.AcquireTimeout,
		ExtractTimeout:    c.ExtractTimeout,
		SummarizeTimeout:  c.SummarizeTimeout,
		SynthesizeTimeout: c.SynthesizeTimeout,
		DiscoveryRetry:    policy(c.AcquireRetries),
		AcquireRetry:      policy(c.AcquireRetries),
		SummarizeRetry:    policy(c.SummarizeRetries),
		SynthesizeRetry:   policy(c.SynthesizeRetries),
		SummarizeRate:     c.SummarizeRate,
		SummarizeBurst:    c.SummarizeBurst,
		MaxSegmentChars:   c.MaxSegmentChars,
		MaxSegments:       c.MaxSegments,
		MinSummaryChars:   c.MinSummaryChars,
		MaxCandidates:     c.MaxCandidates,
	}
}

// loadPrompts reads the prompt templates from path, or the embedded defaults when path is empty.
func loadPrompts(path string) (*llm.Prompts, error) {
	if path == "" {
		return llm.DefaultPrompts()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return llm.ParsePrompts(data)
}

func startMetricsServer(cfg *config.Config, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	srv := &http.Server{
		Addr:         cfg.Server.MetricsAddress(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("address", srv.Addr).Msg("metrics server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	return srv
}
