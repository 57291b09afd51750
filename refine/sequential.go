package refine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/imagent/enhance"
	"github.com/c360studio/imagent/imagegen"
	"github.com/c360studio/imagent/model"
	"github.com/c360studio/imagent/task"
	"github.com/c360studio/imagent/validate"
)

// Enhancer produces per-model prompts for one step.
type Enhancer interface {
	EnhanceAll(ctx context.Context, request string, images []enhance.ContextImage, previousFeedback string) ([]enhance.EnhancedPrompt, error)
}

// Generator runs edit jobs across the candidate models.
type Generator interface {
	GenerateAll(ctx context.Context, jobs []imagegen.Job) ([]imagegen.GeneratedImage, error)
}

// Validator scores generated images against the step request.
type Validator interface {
	ValidateAll(ctx context.Context, images []imagegen.GeneratedImage, request string, originals [][]byte, taskType task.Type) ([]validate.Result, error)
}

// StepInput seeds the first step of a sequential run. Later steps derive
// their input from the previous step's winning image.
type StepInput struct {
	// Images are the context images for step one.
	Images []enhance.ContextImage
	// ImageURLs are the hostable inputs for step one's generation.
	ImageURLs []string
	// OriginalBytes are step one's validation originals.
	OriginalBytes [][]byte
	// AspectRatio applies to every step.
	AspectRatio string
	// TaskType selects the validation rubric.
	TaskType task.Type
}

// StepOutcome records how one step concluded.
type StepOutcome struct {
	Step     string
	Attempts int
	Result   *validate.Result
}

// Runner executes decomposed steps in strict order, each step a bounded
// enhance, generate, validate loop whose winner feeds the next step.
type Runner struct {
	enhancer        Enhancer
	generator       Generator
	validator       Validator
	registry        *model.Registry
	maxStepAttempts int
	logger          *slog.Logger
}

// NewRunner creates a sequential Runner.
func NewRunner(enhancer Enhancer, generator Generator, validator Validator, registry *model.Registry, maxStepAttempts int, logger *slog.Logger) *Runner {
	if maxStepAttempts < 1 {
		maxStepAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		enhancer:        enhancer,
		generator:       generator,
		validator:       validator,
		registry:        registry,
		maxStepAttempts: maxStepAttempts,
		logger:          logger,
	}
}

// Run executes every step in order. It returns the final step's winning
// image and the per-step outcomes. Any step exhausting its attempts without
// a passing result fails the whole run.
func (r *Runner) Run(ctx context.Context, steps []string, in StepInput) (*imagegen.GeneratedImage, []StepOutcome, error) {
	if len(steps) == 0 {
		return nil, nil, fmt.Errorf("no steps to run")
	}

	images := in.Images
	imageURLs := in.ImageURLs
	originals := in.OriginalBytes

	var outcomes []StepOutcome
	var winner *imagegen.GeneratedImage

	for i, step := range steps {
		r.logger.Info("Sequential step starting",
			"step", i+1,
			"of", len(steps),
			"request", step)

		img, result, attempts, err := r.runStep(ctx, step, images, imageURLs, originals, in)
		outcomes = append(outcomes, StepOutcome{Step: step, Attempts: attempts, Result: result})
		if err != nil {
			return nil, outcomes, fmt.Errorf("step %d/%d: %w", i+1, len(steps), err)
		}

		winner = img
		// The winner becomes the sole input of the next step.
		images = []enhance.ContextImage{{
			Role:     "current image",
			Filename: fmt.Sprintf("step-%d.png", i+1),
			Data:     img.Data,
		}}
		imageURLs = []string{img.ResultURL}
		originals = [][]byte{img.Data}
	}

	return winner, outcomes, nil
}

// runStep retries one step up to maxStepAttempts, carrying feedback between
// attempts.
func (r *Runner) runStep(ctx context.Context, step string, images []enhance.ContextImage, imageURLs []string, originals [][]byte, in StepInput) (*imagegen.GeneratedImage, *validate.Result, int, error) {
	var feedback string
	var lastErr error

	for attempt := 1; attempt <= r.maxStepAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, attempt, err
		}

		prompts, err := r.enhancer.EnhanceAll(ctx, step, images, feedback)
		if err != nil {
			lastErr = fmt.Errorf("enhance: %w", err)
			continue
		}

		jobs, err := r.jobs(prompts, imageURLs, in.AspectRatio)
		if err != nil {
			return nil, nil, attempt, err
		}

		generated, err := r.generator.GenerateAll(ctx, jobs)
		if err != nil {
			lastErr = fmt.Errorf("generate: %w", err)
			continue
		}

		results, err := r.validator.ValidateAll(ctx, generated, step, originals, in.TaskType)
		if err != nil {
			lastErr = fmt.Errorf("validate: %w", err)
			continue
		}

		if best, ok := validate.SelectBest(results); ok {
			return &generated[best], &results[best], attempt, nil
		}

		feedback = AggregateFeedback(results)
		lastErr = fmt.Errorf("no passing result")
		r.logger.Warn("Sequential step attempt failed",
			"attempt", attempt,
			"max_attempts", r.maxStepAttempts,
			"feedback", feedback)
	}

	return nil, nil, r.maxStepAttempts, fmt.Errorf("exhausted %d attempts: %w", r.maxStepAttempts, lastErr)
}

// jobs maps enhanced prompts onto generation jobs for their models.
func (r *Runner) jobs(prompts []enhance.EnhancedPrompt, imageURLs []string, aspectRatio string) ([]imagegen.Job, error) {
	jobs := make([]imagegen.Job, 0, len(prompts))
	for _, p := range prompts {
		m := r.registry.Get(p.ModelName)
		if m == nil {
			return nil, fmt.Errorf("unknown model %q in enhanced prompts", p.ModelName)
		}
		jobs = append(jobs, imagegen.Job{
			Model:       *m,
			Prompt:      p.Enhanced,
			ImageURLs:   imageURLs,
			AspectRatio: aspectRatio,
		})
	}
	return jobs, nil
}
