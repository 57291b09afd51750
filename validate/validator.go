// Package validate scores edited images against the original request using a
// vision-capable reasoning model. Validation is deliberately sequential with
// a fixed inter-call delay to respect validator rate limits.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/imagent/imagegen"
	"github.com/c360studio/imagent/imaging"
	"github.com/c360studio/imagent/llm"
	"github.com/c360studio/imagent/model"
	"github.com/c360studio/imagent/promptstore"
	"github.com/c360studio/imagent/task"
)

// maxImageBytes is the per-image payload budget for validator calls. Larger
// images are downscaled and re-encoded before transmission.
const maxImageBytes = 4 * 1024 * 1024 // 4MB

// Rubric document names by task type.
const (
	rubricSimpleEdit      = "simple_edit"
	rubricBrandedCreative = "branded_creative"
)

// fontsPlaceholder marks where the fonts guide substitutes into a rubric.
const fontsPlaceholder = "{{FONTS_GUIDE}}"

// Status classifies a validation outcome.
type Status string

const (
	// StatusPass means the edit satisfied the request.
	StatusPass Status = "pass"
	// StatusFail means the edit fell short.
	StatusFail Status = "fail"
	// StatusError means the validator response could not be parsed.
	StatusError Status = "error"
)

// Result is the verdict for one generated image.
type Result struct {
	// ModelName is the generator model the verdict applies to.
	ModelName string `json:"model_name"`
	// Passed is true when the score clears the pass threshold.
	Passed bool `json:"passed"`
	// Score is the normalized integer score in [0, 10].
	Score int `json:"score"`
	// Issues lists what fell short. Empty only when Passed.
	Issues []string `json:"issues,omitempty"`
	// Reasoning is the validator's explanation.
	Reasoning string `json:"reasoning,omitempty"`
	// Status distinguishes quality failures from unparseable responses.
	Status Status `json:"status"`
}

// Validator scores generated images sequentially.
type Validator struct {
	client        *llm.Client
	docs          *promptstore.Store
	registry      *model.Registry
	passThreshold int
	delay         time.Duration
	sem           chan struct{}
	logger        *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithDelay sets the pause between sequential validation calls.
func WithDelay(d time.Duration) Option {
	return func(v *Validator) {
		v.delay = d
	}
}

// NewValidator creates a Validator. concurrency bounds simultaneous
// validation calls across runs; within a run, calls are sequential.
func NewValidator(client *llm.Client, docs *promptstore.Store, registry *model.Registry, passThreshold, concurrency int, opts ...Option) *Validator {
	if concurrency < 1 {
		concurrency = 1
	}
	v := &Validator{
		client:        client,
		docs:          docs,
		registry:      registry,
		passThreshold: passThreshold,
		delay:         2 * time.Second,
		sem:           make(chan struct{}, concurrency),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// PassThreshold returns the configured pass threshold.
func (v *Validator) PassThreshold() int {
	return v.passThreshold
}

// ValidateAll validates every generated image strictly in order, pausing
// between calls. Content-parse failures become StatusError results; system
// errors (transport, auth, rate) propagate.
func (v *Validator) ValidateAll(ctx context.Context, images []imagegen.GeneratedImage, request string, originals [][]byte, taskType task.Type) ([]Result, error) {
	results := make([]Result, 0, len(images))

	for i, img := range images {
		if i > 0 && v.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(v.delay):
			}
		}

		res, err := v.validateOne(ctx, v.registry.Reasoning().Validator, img, request, originals, taskType)
		if err != nil {
			return nil, fmt.Errorf("validate %s output: %w", img.ModelName, err)
		}
		results = append(results, *res)
	}

	return results, nil
}

// validateOne scores a single image with the given validator model.
func (v *Validator) validateOne(ctx context.Context, validatorModel string, img imagegen.GeneratedImage, request string, originals [][]byte, taskType task.Type) (*Result, error) {
	select {
	case v.sem <- struct{}{}:
		defer func() { <-v.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	system, err := v.rubric(ctx, taskType)
	if err != nil {
		return nil, err
	}

	parts := []llm.ContentPart{llm.TextPart("Request:\n" + request)}
	for i, original := range originals {
		data, mime, err := imaging.FitBudget(original, maxImageBytes)
		if err != nil {
			return nil, fmt.Errorf("shrink original image %d: %w", i, err)
		}
		parts = append(parts, llm.ImagePart(mime, data))
	}
	// The edited image goes last so the rubric can reference it by position.
	edited, mime, err := imaging.FitBudget(img.Data, maxImageBytes)
	if err != nil {
		return nil, fmt.Errorf("shrink edited image: %w", err)
	}
	parts = append(parts, llm.ImagePart(mime, edited))

	resp, err := v.client.Complete(ctx, llm.Request{
		Model: validatorModel,
		Messages: []llm.Message{
			llm.TextMessage("system", system),
			{Role: "user", Parts: parts},
		},
		MaxTokens:       1024,
		ReasoningEffort: "medium",
	})
	if err != nil {
		return nil, err
	}

	result := parseVerdict(resp.Content, v.passThreshold)
	result.ModelName = img.ModelName

	v.logger.Debug("Validation verdict",
		"generator", img.ModelName,
		"validator", validatorModel,
		"score", result.Score,
		"passed", result.Passed,
		"status", result.Status)

	return &result, nil
}

// rubric loads the task-type rubric with the fonts guide substituted in.
func (v *Validator) rubric(ctx context.Context, taskType task.Type) (string, error) {
	name := rubricSimpleEdit
	if taskType == task.TypeCreative {
		name = rubricBrandedCreative
	}

	rubric, err := v.docs.Get(ctx, promptstore.RubricKey(name))
	if err != nil {
		return "", fmt.Errorf("load rubric: %w", err)
	}

	fonts := v.docs.GetOrEmpty(ctx, promptstore.FontsGuideKey)
	if strings.Contains(rubric, fontsPlaceholder) {
		return strings.ReplaceAll(rubric, fontsPlaceholder, fonts), nil
	}
	if fonts != "" {
		return rubric + "\n\nFonts translation guide:\n" + fonts, nil
	}
	return rubric, nil
}
