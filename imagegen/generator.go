package imagegen

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/c360studio/imagent/model"
)

// GeneratedImage is one model's edit output for an iteration.
type GeneratedImage struct {
	// ModelName is the logical name of the generating model.
	ModelName string
	// Data is the downloaded output.
	Data []byte
	// ResultURL is the stable, hostable output URL.
	ResultURL string
	// SourceURL is the first source image the edit was applied to.
	SourceURL string
	// Prompt is the instruction the job ran with.
	Prompt string
}

// Job pairs a candidate model with its enhanced prompt and inputs.
type Job struct {
	Model       model.ImageModel
	Prompt      string
	ImageURLs   []string
	AspectRatio string
}

// AllFailedError reports that no candidate model produced an image.
type AllFailedError struct {
	// Errors maps logical model names to their failures.
	Errors map[string]error
}

func (e *AllFailedError) Error() string {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Errors[name]))
	}
	return "all generations failed: " + strings.Join(parts, "; ")
}

// Generator fans edit jobs out across the candidate models. Concurrency is
// bounded only by the candidate set size.
type Generator struct {
	client *Client
	logger *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(client *Client, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, logger: logger}
}

// GenerateAll runs every job concurrently and gathers the results in job
// order. A single model's failure is isolated; the call fails with
// AllFailedError only when no model yields an image.
func (g *Generator) GenerateAll(ctx context.Context, jobs []Job) ([]GeneratedImage, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no generation jobs")
	}

	results := make([]*GeneratedImage, len(jobs))
	errs := make([]error, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			img, err := g.generateOne(ctx, job)
			if err != nil {
				g.logger.Warn("Generation failed",
					"model", job.Model.LogicalName,
					"error", err)
				errs[i] = err
				return
			}
			results[i] = img
		}(i, job)
	}
	wg.Wait()

	var out []GeneratedImage
	failed := make(map[string]error)
	for i, job := range jobs {
		if results[i] != nil {
			out = append(out, *results[i])
		} else {
			failed[job.Model.LogicalName] = errs[i]
		}
	}

	if len(out) == 0 {
		return nil, &AllFailedError{Errors: failed}
	}
	return out, nil
}

// generateOne submits a single edit job, polls it to completion, and
// downloads the output once.
func (g *Generator) generateOne(ctx context.Context, job Job) (*GeneratedImage, error) {
	req := EditRequest{
		Images: job.ImageURLs,
		Prompt: job.Prompt,
		Seed:   -1,
	}

	// Model-specific knobs come from the registry record.
	if job.Model.Supports("aspect_ratio") {
		req.AspectRatio = job.AspectRatio
	}
	if job.Model.Supports("output_format") {
		req.OutputFormat = job.Model.DefaultParams.OutputFormat
	}
	if job.Model.Supports("resolution") {
		req.Resolution = job.Model.DefaultParams.Resolution
	}
	if job.Model.Supports("seed") {
		req.Seed = job.Model.DefaultParams.Seed
	}

	jobID, err := g.client.Submit(ctx, job.Model.RemotePath, req)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	g.logger.Debug("Edit job submitted",
		"model", job.Model.LogicalName,
		"job_id", jobID)

	resultURL, err := g.client.PollResult(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	data, err := g.client.Download(ctx, resultURL)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	var sourceURL string
	if len(job.ImageURLs) > 0 {
		sourceURL = job.ImageURLs[0]
	}

	return &GeneratedImage{
		ModelName: job.Model.LogicalName,
		Data:      data,
		ResultURL: resultURL,
		SourceURL: sourceURL,
		Prompt:    job.Prompt,
	}, nil
}
