package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/imagent/imagegen"
	"github.com/c360studio/imagent/task"
)

// DualValidator runs two independent validator models on every image and
// requires consensus: an image passes only when both validators pass it. The
// combined score is the lower of the two, so a pass always reflects the
// stricter verdict.
type DualValidator struct {
	inner *Validator
}

// NewDualValidator wraps a Validator with second-opinion consensus. The
// second model comes from the registry's reasoning configuration.
func NewDualValidator(inner *Validator) *DualValidator {
	return &DualValidator{inner: inner}
}

// PassThreshold returns the configured pass threshold.
func (d *DualValidator) PassThreshold() int {
	return d.inner.passThreshold
}

// ValidateAll validates each image with both configured validator models,
// sequentially and with the same inter-call pacing as single validation.
func (d *DualValidator) ValidateAll(ctx context.Context, images []imagegen.GeneratedImage, request string, originals [][]byte, taskType task.Type) ([]Result, error) {
	reasoning := d.inner.registry.Reasoning()
	if reasoning.SecondValidator == "" {
		return nil, fmt.Errorf("dual validation requires a second validator model")
	}

	results := make([]Result, 0, len(images))
	first := true
	for _, img := range images {
		primary, err := d.paced(ctx, &first, reasoning.Validator, img, request, originals, taskType)
		if err != nil {
			return nil, fmt.Errorf("validate %s output: %w", img.ModelName, err)
		}
		secondary, err := d.paced(ctx, &first, reasoning.SecondValidator, img, request, originals, taskType)
		if err != nil {
			return nil, fmt.Errorf("second validation of %s output: %w", img.ModelName, err)
		}
		results = append(results, merge(*primary, *secondary))
	}
	return results, nil
}

// paced runs one validation call, sleeping first unless it is the run's
// opening call.
func (d *DualValidator) paced(ctx context.Context, first *bool, validatorModel string, img imagegen.GeneratedImage, request string, originals [][]byte, taskType task.Type) (*Result, error) {
	if !*first && d.inner.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.inner.delay):
		}
	}
	*first = false
	return d.inner.validateOne(ctx, validatorModel, img, request, originals, taskType)
}

// merge combines two verdicts for the same image. Any parse error poisons
// the pair, and a fail from either side fails the image.
func merge(primary, secondary Result) Result {
	if primary.Status == StatusError {
		return primary
	}
	if secondary.Status == StatusError {
		return secondary
	}

	out := primary
	if secondary.Score < out.Score {
		out.Score = secondary.Score
	}
	out.Passed = primary.Passed && secondary.Passed
	if out.Passed {
		out.Status = StatusPass
		out.Issues = nil
		return out
	}

	out.Status = StatusFail
	out.Issues = dedupe(append(append([]string{}, primary.Issues...), secondary.Issues...))
	if len(out.Issues) == 0 {
		out.Issues = []string{"validators disagreed without specific issues"}
	}
	if secondary.Reasoning != "" && secondary.Reasoning != primary.Reasoning {
		if out.Reasoning != "" {
			out.Reasoning += "\nSecond opinion: " + secondary.Reasoning
		} else {
			out.Reasoning = secondary.Reasoning
		}
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
