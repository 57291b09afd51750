// Package refine turns failed validations into the next attempt's inputs:
// aggregated feedback for the enhancer, and, for compound requests that keep
// failing, an ordered sequence of atomic edit steps executed one at a time.
package refine

import (
	"fmt"
	"strings"

	"github.com/c360studio/imagent/validate"
)

// placeholderIssues are validator filler strings that carry no signal.
var placeholderIssues = map[string]struct{}{
	"none":    {},
	"n/a":     {},
	"na":      {},
	"nothing": {},
	"-":       {},
}

// AggregateFeedback unions the issue strings of failed validations into a
// short paragraph for the next enhancement. Placeholders are dropped and
// duplicates collapse. The text goes to the enhancer only, never into a
// generator prompt.
func AggregateFeedback(results []validate.Result) string {
	seen := make(map[string]struct{})
	var issues []string
	for _, r := range results {
		if r.Passed {
			continue
		}
		for _, issue := range r.Issues {
			issue = strings.TrimSpace(issue)
			key := strings.ToLower(strings.TrimRight(issue, "."))
			if issue == "" {
				continue
			}
			if _, placeholder := placeholderIssues[key]; placeholder {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			issues = append(issues, issue)
		}
	}

	if len(issues) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("The previous attempt failed validation for these reasons:\n")
	for _, issue := range issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	return strings.TrimRight(b.String(), "\n")
}
