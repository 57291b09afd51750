package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/c360studio/imagent/enhance"
	"github.com/c360studio/imagent/imaging"
	"github.com/c360studio/imagent/orchestrate"
	"github.com/c360studio/imagent/task"
	"github.com/c360studio/imagent/tracker"
)

// Engine runs one pipeline end to end.
type Engine interface {
	Process(ctx context.Context, in orchestrate.Input) *orchestrate.Result
}

// EngineFactory builds an Engine for one run. brandContext may be empty.
type EngineFactory func(brandContext string) Engine

// BrandFetcher condenses a brand website into markdown context.
type BrandFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// RunnerTracker is the slice of the work-tracker client a run needs.
type RunnerTracker interface {
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
	UploadAttachment(ctx context.Context, taskID, filename string, data []byte) error
	SetCustomField(ctx context.Context, taskID, fieldID string, value any) error
	PostComment(ctx context.Context, taskID, text string) error
}

// Runner turns an accepted task into a pipeline run plus result writeback.
type Runner struct {
	tracker        RunnerTracker
	parser         *task.Parser
	engine         EngineFactory
	brand          BrandFetcher
	triggerFieldID string
	logger         *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithBrandFetcher enables brand-website context for creative tasks.
func WithBrandFetcher(b BrandFetcher) RunnerOption {
	return func(r *Runner) {
		r.brand = b
	}
}

// NewRunner creates a Runner.
func NewRunner(trackerAPI RunnerTracker, parser *task.Parser, engine EngineFactory, triggerFieldID string, opts ...RunnerOption) *Runner {
	r := &Runner{
		tracker:        trackerAPI,
		parser:         parser,
		engine:         engine,
		triggerFieldID: triggerFieldID,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the pipeline for one fetched task and writes the result back.
// Panics are contained: the task is left unchanged and the caller's deferred
// lock release still runs.
func (r *Runner) Run(ctx context.Context, t *tracker.Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Pipeline run panicked",
				"task_id", t.ID,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()

	parsed := r.parser.Parse(t.CustomFields)
	in, err := r.buildInput(ctx, t.ID, parsed)
	if err != nil {
		r.logger.Error("Cannot start pipeline run",
			"task_id", t.ID,
			"error", err)
		return
	}

	res := r.engine(r.brandContext(ctx, parsed)).Process(ctx, in)
	if res.Status != orchestrate.StatusSuccess {
		// Fallback side effects are the orchestrator's; nothing to write back.
		return
	}
	r.writeBack(ctx, t.ID, res)
}

// buildInput downloads the task's images and assembles the pipeline input.
func (r *Runner) buildInput(ctx context.Context, taskID string, parsed *task.ParsedTask) (orchestrate.Input, error) {
	generation := parsed.GenerationImages()
	if len(generation) == 0 {
		return orchestrate.Input{}, fmt.Errorf("task has no input images")
	}

	generationBytes := make([][]byte, 0, len(generation))
	contextImages := make([]enhance.ContextImage, 0, len(generation)+len(parsed.ReferenceImages))
	urls := make([]string, 0, len(generation))

	download := func(role string, refs []task.ImageRef, generationInput bool) error {
		for _, ref := range refs {
			data, err := r.tracker.DownloadAttachment(ctx, ref.URL)
			if err != nil {
				return fmt.Errorf("download %s %s: %w", role, ref.Filename, err)
			}
			contextImages = append(contextImages, enhance.ContextImage{
				Role:     role,
				Filename: ref.Filename,
				Data:     data,
			})
			if generationInput {
				generationBytes = append(generationBytes, data)
				urls = append(urls, ref.URL)
			}
		}
		return nil
	}

	if err := download("logo", parsed.Logo, true); err != nil {
		return orchestrate.Input{}, err
	}
	if err := download("main image", parsed.MainImage, true); err != nil {
		return orchestrate.Input{}, err
	}
	if err := download("additional image", parsed.AdditionalImages, true); err != nil {
		return orchestrate.Input{}, err
	}
	// References are enhancer-only context and always come last.
	if err := download("reference", parsed.ReferenceImages, false); err != nil {
		return orchestrate.Input{}, err
	}

	return orchestrate.Input{
		TaskID:          taskID,
		TaskType:        parsed.TaskType,
		Request:         task.BuildPrompt(parsed),
		ContextImages:   contextImages,
		GenerationURLs:  urls,
		GenerationBytes: generationBytes,
		AspectRatio:     parsed.AspectRatio(),
	}, nil
}

// brandContext fetches website context for creative tasks. Failure is never
// fatal; the run proceeds without the context.
func (r *Runner) brandContext(ctx context.Context, parsed *task.ParsedTask) string {
	if r.brand == nil || parsed.TaskType != task.TypeCreative || parsed.BrandWebsite == "" {
		return ""
	}
	digest, err := r.brand.Fetch(ctx, parsed.BrandWebsite)
	if err != nil {
		r.logger.Warn("Brand website fetch failed",
			"url", parsed.BrandWebsite,
			"error", err)
		return ""
	}
	return digest
}

// writeBack attaches the final image and unsets the trigger field. Each side
// effect is attempted independently.
func (r *Runner) writeBack(ctx context.Context, taskID string, res *orchestrate.Result) {
	filename := resultFilename(res)
	if err := r.tracker.UploadAttachment(ctx, taskID, filename, res.FinalImage.Data); err != nil {
		r.logger.Error("Failed to upload result image",
			"task_id", taskID,
			"error", err)
		return
	}

	if r.triggerFieldID != "" {
		if err := r.tracker.SetCustomField(ctx, taskID, r.triggerFieldID, false); err != nil {
			r.logger.Warn("Failed to unset trigger field",
				"task_id", taskID,
				"error", err)
		}
	}

	comment := fmt.Sprintf("Edited image attached (%s, %d iteration(s), score %d/10).",
		res.ModelUsed, res.Iterations, bestScore(res))
	if err := r.tracker.PostComment(ctx, taskID, comment); err != nil {
		r.logger.Warn("Failed to post result comment",
			"task_id", taskID,
			"error", err)
	}
}

func resultFilename(res *orchestrate.Result) string {
	ext := "png"
	switch imaging.DetectMIME(res.FinalImage.Data) {
	case "image/jpeg":
		ext = "jpg"
	case "image/webp":
		ext = "webp"
	case "image/gif":
		ext = "gif"
	}
	model := strings.ReplaceAll(strings.TrimSuffix(res.ModelUsed, " (sequential)"), "/", "-")
	return fmt.Sprintf("edited-%s.%s", model, ext)
}

func bestScore(res *orchestrate.Result) int {
	best := 0
	for _, v := range res.AllResults {
		if v.Passed && v.Score > best {
			best = v.Score
		}
	}
	return best
}
