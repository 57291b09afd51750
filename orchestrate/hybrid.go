package orchestrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/imagent/validate"
)

// fallbackHuman surfaces the task for human review: move the tracker status
// and post a summary comment. Both side effects are best-effort; their
// failure is logged and the result keeps its fallback status.
func (o *Orchestrator) fallbackHuman(ctx context.Context, in Input, res *Result) *Result {
	res.Status = StatusHybridFallback

	if o.reporter == nil {
		return res
	}

	comment := hybridComment(in.Request, res.Iterations, res.AllResults)
	if err := o.reporter.SetStatus(ctx, in.TaskID, o.cfg.ReviewStatus); err != nil {
		o.logger.Warn("Failed to move task to review status",
			"task_id", in.TaskID,
			"status", o.cfg.ReviewStatus,
			"error", err)
	}
	if err := o.reporter.PostComment(ctx, in.TaskID, comment); err != nil {
		o.logger.Warn("Failed to post fallback comment",
			"task_id", in.TaskID,
			"error", err)
	}
	return res
}

// hybridComment summarizes a failed run for a human reviewer: the request,
// attempts made, every distinct issue prefixed by the generator that caused
// it, and the set of models exercised.
func hybridComment(request string, iterations int, results []validate.Result) string {
	var b strings.Builder
	b.WriteString("Automated image editing could not produce a passing result.\n\n")
	fmt.Fprintf(&b, "Request: %s\n", request)
	fmt.Fprintf(&b, "Iterations attempted: %d\n", iterations)

	seen := make(map[string]struct{})
	var issues []string
	modelSet := make(map[string]struct{})
	var models []string
	for _, r := range results {
		if _, ok := modelSet[r.ModelName]; !ok && r.ModelName != "" {
			modelSet[r.ModelName] = struct{}{}
			models = append(models, r.ModelName)
		}
		if r.Passed {
			continue
		}
		for _, issue := range r.Issues {
			line := fmt.Sprintf("[%s] %s", r.ModelName, strings.TrimSpace(issue))
			key := strings.ToLower(line)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			issues = append(issues, line)
		}
	}

	if len(issues) > 0 {
		b.WriteString("\nValidation issues:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if len(models) > 0 {
		fmt.Fprintf(&b, "\nModels exercised: %s\n", strings.Join(models, ", "))
	}
	b.WriteString("\nPlease review and adjust the task manually.")
	return b.String()
}
