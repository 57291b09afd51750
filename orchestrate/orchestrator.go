// Package orchestrate runs the bounded iterative pipeline: enhance the
// request per candidate model, generate edits in parallel, validate them
// sequentially, and either accept the best passing result, retry with
// feedback, fall back to sequential decomposition, or surface the task to a
// human.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/imagent/enhance"
	"github.com/c360studio/imagent/imagegen"
	"github.com/c360studio/imagent/model"
	"github.com/c360studio/imagent/refine"
	"github.com/c360studio/imagent/retrypolicy"
	"github.com/c360studio/imagent/task"
	"github.com/c360studio/imagent/validate"
)

// Status is a run's terminal state.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusFailed         Status = "failed"
	StatusHybridFallback Status = "hybrid_fallback"
	StatusTimeout        Status = "timeout"
)

// Enhancer produces per-model prompts.
type Enhancer interface {
	EnhanceAll(ctx context.Context, request string, images []enhance.ContextImage, previousFeedback string) ([]enhance.EnhancedPrompt, error)
}

// Generator runs edit jobs across the candidate models.
type Generator interface {
	GenerateAll(ctx context.Context, jobs []imagegen.Job) ([]imagegen.GeneratedImage, error)
}

// Validator scores generated images.
type Validator interface {
	ValidateAll(ctx context.Context, images []imagegen.GeneratedImage, request string, originals [][]byte, taskType task.Type) ([]validate.Result, error)
}

// SequentialRunner executes decomposed steps in order.
type SequentialRunner interface {
	Run(ctx context.Context, steps []string, in refine.StepInput) (*imagegen.GeneratedImage, []refine.StepOutcome, error)
}

// Decomposer splits a compound request into atomic steps.
type Decomposer interface {
	Decompose(request string) []string
}

// Reporter posts human-facing updates to the work tracker.
type Reporter interface {
	PostComment(ctx context.Context, taskID, text string) error
	SetStatus(ctx context.Context, taskID, status string) error
}

// Recorder receives pipeline telemetry. Implementations must be cheap.
type Recorder interface {
	RunStarted()
	RunFinished(status string, d time.Duration)
	IterationDone(bestScore int)
	StageError(stage string)
}

// nopRecorder keeps the orchestrator usable without metrics wiring.
type nopRecorder struct{}

func (nopRecorder) RunStarted()                       {}
func (nopRecorder) RunFinished(string, time.Duration) {}
func (nopRecorder) IterationDone(int)                 {}
func (nopRecorder) StageError(string)                 {}

// Config bounds the loop.
type Config struct {
	// MaxIterations caps the parallel refinement loop. A value of 1 makes
	// the first iteration terminal.
	MaxIterations int
	// SequentialTrigger is the iteration at which a compound request falls
	// back to sequential decomposition.
	SequentialTrigger int
	// SmartRetryEnabled turns on failure classification between iterations.
	SmartRetryEnabled bool
	// ReviewStatus is the work-tracker status for human review.
	ReviewStatus string
	// RetryPolicy configures SmartRetry when enabled.
	RetryPolicy retrypolicy.Config
}

// Input is everything one run needs.
type Input struct {
	// TaskID identifies the work-tracker task.
	TaskID string
	// TaskType selects rubric and prompt construction.
	TaskType task.Type
	// Request is the generator-facing prompt built from the parsed task.
	Request string
	// ContextImages go to the enhancer: generation inputs plus references.
	ContextImages []enhance.ContextImage
	// GenerationURLs are the hostable inputs for the edit gateway.
	GenerationURLs []string
	// GenerationBytes are the generation inputs' bytes, used as validation
	// originals.
	GenerationBytes [][]byte
	// AspectRatio is the requested output shape, empty for source shape.
	AspectRatio string
}

// IterationMetrics summarizes one loop iteration.
type IterationMetrics struct {
	Iteration              int           `json:"iteration"`
	EnhancementsSuccessful int           `json:"enhancements_successful"`
	GenerationsSuccessful  int           `json:"generations_successful"`
	ValidationsPassed      int           `json:"validations_passed"`
	BestScore              int           `json:"best_score"`
	Duration               time.Duration `json:"duration"`
	Errors                 []string      `json:"errors,omitempty"`
}

// Result is the terminal output of a run.
type Result struct {
	Status         Status                   `json:"status"`
	FinalImage     *imagegen.GeneratedImage `json:"-"`
	Iterations     int                      `json:"iterations"`
	ModelUsed      string                   `json:"model_used,omitempty"`
	AllResults     []validate.Result        `json:"all_results,omitempty"`
	Metrics        []IterationMetrics       `json:"metrics,omitempty"`
	Err            error                    `json:"-"`
	ProcessingTime time.Duration            `json:"processing_time"`
}

// Orchestrator drives the pipeline for one task at a time.
type Orchestrator struct {
	enhancer   Enhancer
	generator  Generator
	validator  Validator
	sequential SequentialRunner
	decomposer Decomposer
	reporter   Reporter
	registry   *model.Registry
	policy     *retrypolicy.Policy
	recorder   Recorder
	cfg        Config
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithRecorder wires pipeline telemetry.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// New creates an Orchestrator.
func New(enhancer Enhancer, generator Generator, validator Validator, sequential SequentialRunner, decomposer Decomposer, reporter Reporter, registry *model.Registry, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	if cfg.SequentialTrigger < 1 {
		cfg.SequentialTrigger = 3
	}
	o := &Orchestrator{
		enhancer:   enhancer,
		generator:  generator,
		validator:  validator,
		sequential: sequential,
		decomposer: decomposer,
		reporter:   reporter,
		registry:   registry,
		policy:     retrypolicy.New(cfg.RetryPolicy),
		recorder:   nopRecorder{},
		cfg:        cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the full pipeline for one task and always returns a terminal
// Result, never a bare error.
func (o *Orchestrator) Process(ctx context.Context, in Input) *Result {
	start := time.Now()
	o.recorder.RunStarted()

	res := o.run(ctx, in)
	res.ProcessingTime = time.Since(start)
	o.recorder.RunFinished(string(res.Status), res.ProcessingTime)

	o.logger.Info("Pipeline run finished",
		"task_id", in.TaskID,
		"status", res.Status,
		"iterations", res.Iterations,
		"model_used", res.ModelUsed,
		"duration", res.ProcessingTime)
	return res
}

func (o *Orchestrator) run(ctx context.Context, in Input) *Result {
	res := &Result{Status: StatusFailed}

	// Iteration state. Retries may swap the base images.
	contextImages := in.ContextImages
	generationURLs := in.GenerationURLs
	generationBytes := in.GenerationBytes
	feedback := ""
	promptBlock := ""

	for i := 1; i <= o.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			res.Status = StatusTimeout
			res.Err = err
			return res
		}

		res.Iterations = i
		metrics, generated, validations, err := o.iterate(ctx, in, i, contextImages, generationURLs, generationBytes, joinFeedback(feedback, promptBlock))
		res.Metrics = append(res.Metrics, metrics)
		res.AllResults = append(res.AllResults, validations...)
		o.recorder.IterationDone(metrics.BestScore)

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				res.Status = StatusTimeout
				res.Err = err
				return res
			}
			o.logger.Warn("Iteration aborted",
				"task_id", in.TaskID,
				"iteration", i,
				"error", err)
			res.Err = err
			continue
		}

		// Validations are paired 1:1 with generated images, in order.
		if best, ok := validate.SelectBest(validations); ok {
			res.Status = StatusSuccess
			res.FinalImage = &generated[best]
			res.ModelUsed = validations[best].ModelName
			res.Err = nil
			return res
		}

		feedback = refine.AggregateFeedback(validations)

		// Compound requests that keep failing switch to sequential mode.
		if i >= o.cfg.SequentialTrigger && o.sequential != nil {
			steps := o.decomposer.Decompose(in.Request)
			if len(steps) > 1 {
				return o.runSequential(ctx, in, res, steps)
			}
		}

		promptBlock = ""
		if o.cfg.SmartRetryEnabled {
			outcome := o.policy.Decide(validations, in.Request, i)
			o.logger.Info("Smart retry decision",
				"task_id", in.TaskID,
				"iteration", i,
				"decision", outcome.Decision,
				"reason", outcome.Reason)

			switch outcome.Decision {
			case retrypolicy.GiveUp:
				return o.fallbackHuman(ctx, in, res)
			case retrypolicy.Incremental:
				if img := bestFailedImage(generated, validations); img != nil {
					contextImages = []enhance.ContextImage{{Role: "previous attempt", Filename: "attempt.png", Data: img.Data}}
					generationURLs = []string{img.ResultURL}
					generationBytes = [][]byte{img.Data}
				}
			case retrypolicy.FullRestart:
				contextImages = in.ContextImages
				generationURLs = in.GenerationURLs
				generationBytes = in.GenerationBytes
			}
			promptBlock = outcome.PromptBlock
		}
	}

	return o.fallbackHuman(ctx, in, res)
}

// iterate runs one enhance, generate, validate pass.
func (o *Orchestrator) iterate(ctx context.Context, in Input, iteration int, contextImages []enhance.ContextImage, generationURLs []string, generationBytes [][]byte, feedback string) (IterationMetrics, []imagegen.GeneratedImage, []validate.Result, error) {
	started := time.Now()
	metrics := IterationMetrics{Iteration: iteration}
	finish := func(err error) (IterationMetrics, []imagegen.GeneratedImage, []validate.Result, error) {
		metrics.Duration = time.Since(started)
		if err != nil {
			metrics.Errors = append(metrics.Errors, err.Error())
		}
		return metrics, nil, nil, err
	}

	prompts, err := o.enhancer.EnhanceAll(ctx, in.Request, contextImages, feedback)
	if err != nil {
		o.recorder.StageError("enhance")
		return finish(fmt.Errorf("enhance: %w", err))
	}
	metrics.EnhancementsSuccessful = len(prompts)

	jobs := make([]imagegen.Job, 0, len(prompts))
	for _, p := range prompts {
		m := o.registry.Get(p.ModelName)
		if m == nil {
			continue
		}
		jobs = append(jobs, imagegen.Job{
			Model:       *m,
			Prompt:      p.Enhanced,
			ImageURLs:   generationURLs,
			AspectRatio: in.AspectRatio,
		})
	}

	generated, err := o.generator.GenerateAll(ctx, jobs)
	if err != nil {
		o.recorder.StageError("generate")
		return finish(fmt.Errorf("generate: %w", err))
	}
	metrics.GenerationsSuccessful = len(generated)

	validations, err := o.validator.ValidateAll(ctx, generated, in.Request, generationBytes, in.TaskType)
	if err != nil {
		o.recorder.StageError("validate")
		return finish(fmt.Errorf("validate: %w", err))
	}

	for _, v := range validations {
		if v.Passed {
			metrics.ValidationsPassed++
		}
		if v.Score > metrics.BestScore {
			metrics.BestScore = v.Score
		}
	}
	metrics.Duration = time.Since(started)
	return metrics, generated, validations, nil
}

// runSequential hands the run to the decomposed-steps engine. Its failure is
// terminal: the human fallback follows.
func (o *Orchestrator) runSequential(ctx context.Context, in Input, res *Result, steps []string) *Result {
	o.logger.Info("Entering sequential mode",
		"task_id", in.TaskID,
		"steps", len(steps))

	final, outcomes, err := o.sequential.Run(ctx, steps, refine.StepInput{
		Images:        in.ContextImages,
		ImageURLs:     in.GenerationURLs,
		OriginalBytes: in.GenerationBytes,
		AspectRatio:   in.AspectRatio,
		TaskType:      in.TaskType,
	})
	for _, oc := range outcomes {
		if oc.Result != nil {
			res.AllResults = append(res.AllResults, *oc.Result)
		}
	}
	if err != nil {
		o.logger.Warn("Sequential mode failed",
			"task_id", in.TaskID,
			"error", err)
		res.Err = err
		return o.fallbackHuman(ctx, in, res)
	}

	res.Status = StatusSuccess
	res.FinalImage = final
	res.ModelUsed = final.ModelName + " (sequential)"
	res.Err = nil
	return res
}

// joinFeedback merges validator feedback with the retry-policy framing.
func joinFeedback(feedback, promptBlock string) string {
	switch {
	case feedback == "":
		return promptBlock
	case promptBlock == "":
		return feedback
	default:
		return feedback + "\n\n" + promptBlock
	}
}

// bestFailedImage picks the highest-scoring edit even though it failed, for
// incremental retries. Validations pair 1:1 with generated images.
func bestFailedImage(generated []imagegen.GeneratedImage, validations []validate.Result) *imagegen.GeneratedImage {
	bestIdx := -1
	for i, v := range validations {
		if v.Status == validate.StatusError || i >= len(generated) {
			continue
		}
		if bestIdx == -1 || v.Score > validations[bestIdx].Score {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return nil
	}
	return &generated[bestIdx]
}
