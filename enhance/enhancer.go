// Package enhance expands a user request into model-specific edit
// instructions. Each candidate image model gets its own enhancement, steered
// by that model's activation and research documents, which are loaded fresh
// on every call so operators can hot-swap them.
package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/c360studio/imagent/imaging"
	"github.com/c360studio/imagent/llm"
	"github.com/c360studio/imagent/model"
	"github.com/c360studio/imagent/promptstore"
)

// contextImageMaxDim caps context image dimensions to reduce token cost.
const contextImageMaxDim = 768

// EnhancedPrompt is the model-specific instruction for one candidate model.
type EnhancedPrompt struct {
	// ModelName is the logical name of the target image model.
	ModelName string
	// Original is the user-visible request the enhancement started from.
	Original string
	// Enhanced is the pure prompt text sent to the image model.
	Enhanced string
}

// ContextImage is an input image plus its role in the request.
type ContextImage struct {
	// Role describes the image's function (logo, main image, reference).
	Role string
	// Filename is the original attachment name.
	Filename string
	// Data is the raw image.
	Data []byte
}

// AllFailedError reports that every model's enhancement failed.
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
	return "all enhancements failed: " + strings.Join(parts, "; ")
}

// Enhancer produces per-model enhanced prompts.
type Enhancer struct {
	client   *llm.Client
	docs     *promptstore.Store
	registry *model.Registry
	sem      chan struct{}
	logger   *slog.Logger

	// brandContext optionally supplies markdown context fetched from the
	// brand website for creative tasks.
	brandContext string
}

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enhancer) {
		e.logger = logger
	}
}

// WithBrandContext attaches brand-website context to every enhancement of
// this run.
func WithBrandContext(markdown string) Option {
	return func(e *Enhancer) {
		e.brandContext = markdown
	}
}

// WithBrand returns a copy of the Enhancer carrying brand context for one
// run. The copy shares the concurrency semaphore, so the global enhancement
// rate limit still holds across runs.
func (e *Enhancer) WithBrand(markdown string) *Enhancer {
	if markdown == "" {
		return e
	}
	cp := *e
	cp.brandContext = markdown
	return &cp
}

// NewEnhancer creates an Enhancer. concurrency bounds simultaneous
// enhancement calls.
func NewEnhancer(client *llm.Client, docs *promptstore.Store, registry *model.Registry, concurrency int, opts ...Option) *Enhancer {
	if concurrency < 1 {
		concurrency = 1
	}
	e := &Enhancer{
		client:   client,
		docs:     docs,
		registry: registry,
		sem:      make(chan struct{}, concurrency),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnhanceAll enhances the request for every candidate model concurrently,
// bounded by the enhancement semaphore. A single model's failure is
// isolated; the call fails with AllFailedError only when the whole set
// fails. Partial success returns the successful subset in candidate order.
func (e *Enhancer) EnhanceAll(ctx context.Context, request string, images []ContextImage, previousFeedback string) ([]EnhancedPrompt, error) {
	candidates := e.registry.Candidates()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate models configured")
	}

	results := make([]*EnhancedPrompt, len(candidates))
	errs := make([]error, len(candidates))

	var wg sync.WaitGroup
	for i, m := range candidates {
		wg.Add(1)
		go func(i int, m model.ImageModel) {
			defer wg.Done()

			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}

			ep, err := e.enhanceOne(ctx, m, request, images, previousFeedback)
			if err != nil {
				e.logger.Warn("Enhancement failed",
					"model", m.LogicalName,
					"error", err)
				errs[i] = err
				return
			}
			results[i] = ep
		}(i, m)
	}
	wg.Wait()

	var out []EnhancedPrompt
	failed := make(map[string]error)
	for i, m := range candidates {
		if results[i] != nil {
			out = append(out, *results[i])
		} else {
			failed[m.LogicalName] = errs[i]
		}
	}

	if len(out) == 0 {
		return nil, &AllFailedError{Errors: failed}
	}
	return out, nil
}

// enhanceOne runs a single enhancement call for one model.
func (e *Enhancer) enhanceOne(ctx context.Context, m model.ImageModel, request string, images []ContextImage, previousFeedback string) (*EnhancedPrompt, error) {
	system, err := e.systemPrompt(ctx, m)
	if err != nil {
		return nil, err
	}

	userParts, err := e.userParts(request, images, previousFeedback)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Complete(ctx, llm.Request{
		Model: e.registry.Reasoning().Enhancer,
		Messages: []llm.Message{
			llm.TextMessage("system", system),
			{Role: "user", Parts: userParts},
		},
		MaxTokens:       2048,
		ReasoningEffort: "medium",
	})
	if err != nil {
		return nil, fmt.Errorf("enhancement call: %w", err)
	}

	enhanced := llm.StripFences(resp.Content)
	enhanced = scrubFeedback(enhanced, previousFeedback)
	if enhanced == "" {
		return nil, fmt.Errorf("enhancement produced empty prompt")
	}

	return &EnhancedPrompt{
		ModelName: m.LogicalName,
		Original:  request,
		Enhanced:  enhanced,
	}, nil
}

// systemPrompt assembles the model's activation and research documents plus
// the fonts guide. Documents are fetched per call, never cached here.
func (e *Enhancer) systemPrompt(ctx context.Context, m model.ImageModel) (string, error) {
	activation, err := e.docs.Get(ctx, promptstore.ActivationKey(m.LogicalName))
	if err != nil {
		return "", fmt.Errorf("load activation document: %w", err)
	}

	sections := []string{activation}
	if research := e.docs.GetOrEmpty(ctx, promptstore.ResearchKey(m.LogicalName)); research != "" {
		sections = append(sections, research)
	}
	if fonts := e.docs.GetOrEmpty(ctx, promptstore.FontsGuideKey); fonts != "" {
		sections = append(sections, "Fonts translation guide:\n"+fonts)
	}

	return strings.Join(sections, "\n\n"), nil
}

// userParts builds the mixed text/image user message.
func (e *Enhancer) userParts(request string, images []ContextImage, previousFeedback string) ([]llm.ContentPart, error) {
	var text strings.Builder

	if len(images) > 1 {
		text.WriteString("Multi-image context:\n")
		for i, img := range images {
			fmt.Fprintf(&text, "%d. %s (%s)\n", i+1, img.Role, img.Filename)
		}
		text.WriteString("\n")
	}

	if previousFeedback != "" {
		fmt.Fprintf(&text, "Previous attempt feedback (address these, do not quote them):\n%s\n\n", previousFeedback)
	}

	if e.brandContext != "" {
		fmt.Fprintf(&text, "Brand context:\n%s\n\n", e.brandContext)
	}

	text.WriteString("Request:\n" + request)

	parts := []llm.ContentPart{llm.TextPart(text.String())}
	for _, img := range images {
		data, mime, err := imaging.Downscale(img.Data, contextImageMaxDim)
		if err != nil {
			return nil, fmt.Errorf("downscale context image %s: %w", img.Filename, err)
		}
		parts = append(parts, llm.ImagePart(mime, data))
	}
	return parts, nil
}

// scrubFeedback removes verbatim validator feedback from the enhanced
// prompt. Feedback steers the enhancement but must never leak into the text
// the generator sees.
func scrubFeedback(enhanced, feedback string) string {
	if feedback == "" {
		return enhanced
	}
	cleaned := enhanced
	for _, line := range strings.Split(feedback, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 4 {
			continue
		}
		cleaned = strings.ReplaceAll(cleaned, line, "")
	}
	return strings.TrimSpace(cleaned)
}
