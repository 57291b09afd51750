package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/imagent/config"
	"github.com/c360studio/imagent/enhance"
	"github.com/c360studio/imagent/imagegen"
	"github.com/c360studio/imagent/llm"
	"github.com/c360studio/imagent/metrics"
	"github.com/c360studio/imagent/model"
	"github.com/c360studio/imagent/orchestrate"
	"github.com/c360studio/imagent/promptstore"
	"github.com/c360studio/imagent/refine"
	"github.com/c360studio/imagent/retrypolicy"
	"github.com/c360studio/imagent/task"
	"github.com/c360studio/imagent/tasklock"
	"github.com/c360studio/imagent/tracker"
	"github.com/c360studio/imagent/validate"
	"github.com/c360studio/imagent/webcontext"
	"github.com/c360studio/imagent/webhook"
)

// pipelineValidator is what orchestration needs from either validator shape.
type pipelineValidator interface {
	ValidateAll(ctx context.Context, images []imagegen.GeneratedImage, request string, originals [][]byte, taskType task.Type) ([]validate.Result, error)
}

// app owns every long-lived component and the HTTP server.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	nc     *nats.Conn
	docs   *promptstore.Store
	locks  *tasklock.Locker
	server *http.Server
}

// newApp wires the full component graph from configuration.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	kv, err := a.connectPromptShadow(cfg)
	if err != nil {
		return nil, err
	}

	storeOpts := []promptstore.Option{promptstore.WithLogger(logger)}
	if kv != nil {
		storeOpts = append(storeOpts, promptstore.WithKV(kv))
	}
	docs, err := promptstore.New(cfg.Prompts.Dir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("load prompt documents: %w", err)
	}
	a.docs = docs

	reasoning := llm.NewClient(cfg.Gateways.Reasoning.URL, cfg.Gateways.Reasoning.APIKey,
		llm.WithHTTPClient(&http.Client{Timeout: cfg.Gateways.Reasoning.Timeout}),
		llm.WithLogger(logger))
	editGateway := imagegen.NewClient(cfg.Gateways.ImageEdit.URL, cfg.Gateways.ImageEdit.APIKey,
		imagegen.WithHTTPClient(&http.Client{Timeout: cfg.Gateways.ImageEdit.Timeout}),
		imagegen.WithPolling(cfg.Gateways.ImageEdit.PollInterval, cfg.Gateways.ImageEdit.PollDeadline),
		imagegen.WithLogger(logger))
	trackerClient := tracker.NewClient(cfg.Gateways.Tracker.URL, cfg.Gateways.Tracker.APIKey,
		tracker.WithHTTPClient(&http.Client{Timeout: cfg.Gateways.Tracker.Timeout}),
		tracker.WithLogger(logger))

	registry := model.NewDefaultRegistry()

	enhancer := enhance.NewEnhancer(reasoning, docs, registry, cfg.Pipeline.RateLimitEnhancement,
		enhance.WithLogger(logger))
	generator := imagegen.NewGenerator(editGateway, logger)

	var validator pipelineValidator
	single := validate.NewValidator(reasoning, docs, registry,
		cfg.Pipeline.PassThreshold, cfg.Pipeline.RateLimitValidation,
		validate.WithDelay(cfg.Pipeline.ValidationDelay),
		validate.WithLogger(logger))
	validator = single
	if cfg.Pipeline.DualValidation {
		validator = validate.NewDualValidator(single)
	}

	decomposer := refine.NewDecomposer(cfg.Pipeline.AndWords, nil, cfg.Pipeline.PreservationClause)

	mets := metrics.New()

	orchCfg := orchestrate.Config{
		MaxIterations:     cfg.Pipeline.MaxIterations,
		SequentialTrigger: cfg.Pipeline.SequentialTrigger,
		SmartRetryEnabled: cfg.Pipeline.SmartRetryEnabled,
		ReviewStatus:      cfg.Server.ReviewStatus,
		RetryPolicy: retrypolicy.Config{
			MaxRetries:            cfg.Pipeline.MaxRetries,
			PassThreshold:         cfg.Pipeline.PassThreshold,
			CatastrophicThreshold: cfg.Pipeline.CatastrophicThreshold,
			IncrementalThreshold:  cfg.Pipeline.IncrementalThreshold,
		},
	}

	// Each run gets its own engine so brand context stays run-local. The
	// heavy parts (clients, semaphores, registry) are shared underneath.
	engineFactory := func(brandContext string) webhook.Engine {
		enh := enhancer.WithBrand(brandContext)
		sequential := refine.NewRunner(enh, generator, validator, registry,
			cfg.Pipeline.MaxStepAttempts, logger)
		return orchestrate.New(enh, generator, validator, sequential, decomposer,
			trackerClient, registry, orchCfg,
			orchestrate.WithLogger(logger),
			orchestrate.WithRecorder(mets))
	}

	a.locks = tasklock.New(cfg.Pipeline.LockTTL, tasklock.WithLogger(logger))

	runner := webhook.NewRunner(trackerClient, task.NewParser(task.WithLogger(logger)),
		engineFactory, cfg.Server.TriggerFieldID,
		webhook.WithRunnerLogger(logger),
		webhook.WithBrandFetcher(webcontext.NewFetcher(cfg.Gateways.Reasoning.Timeout)))

	srv := webhook.NewServer(trackerClient, runner, a.locks,
		cfg.Server.TriggerFieldID, cfg.Server.DedupSize,
		webhook.WithLogger(logger),
		webhook.WithMetrics(mets))

	a.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// connectPromptShadow connects the optional JetStream KV prompt shadow.
// Missing NATS configuration disables the shadow rather than failing.
func (a *app) connectPromptShadow(cfg *config.Config) (jetstream.KeyValue, error) {
	if cfg.NATS.URL == "" || cfg.Prompts.Bucket == "" {
		return nil, nil
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name(appName))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	a.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.KeyValue(ctx, cfg.Prompts.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: cfg.Prompts.Bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("open prompt KV bucket %q: %w", cfg.Prompts.Bucket, err)
	}

	a.logger.Info("Prompt KV shadow enabled",
		"url", cfg.NATS.URL,
		"bucket", cfg.Prompts.Bucket)
	return kv, nil
}

// Run serves HTTP until a shutdown signal arrives, with the lock sweeper and
// the prompt-directory watcher running alongside.
func (a *app) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.locks.Run(ctx, a.cfg.Pipeline.LockTTL/2)
	go func() {
		if err := a.docs.Watch(ctx); err != nil {
			a.logger.Warn("Prompt directory watch unavailable", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

// Close releases long-lived connections.
func (a *app) Close() {
	if a.nc != nil {
		a.nc.Close()
	}
}
