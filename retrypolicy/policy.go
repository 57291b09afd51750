// Package retrypolicy classifies a failed pipeline attempt and decides how
// the next attempt should run: touch up the best failed image, restart from
// the original, or stop trying.
package retrypolicy

import (
	"fmt"
	"strings"

	"github.com/c360studio/imagent/validate"
)

// Decision is the retry strategy for the next attempt.
type Decision string

const (
	// NoRetry means the attempt passed; nothing more to do.
	NoRetry Decision = "no_retry"
	// Incremental retries on top of the best failed image.
	Incremental Decision = "incremental"
	// FullRestart retries from the original input image.
	FullRestart Decision = "full_restart"
	// GiveUp stops retrying entirely.
	GiveUp Decision = "give_up"
)

// Complexity buckets a request by how much it asks for.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Confidence is how sure the policy is that an incremental fix can land.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// structuralDamageKeywords flag failures where the image itself is broken,
// not merely off-target. Touch-ups cannot repair these.
var structuralDamageKeywords = []string{
	"distort", "warp", "corrupt", "blur", "artifact", "pixel", "merge", "degrade",
}

// operationVerbs are counted to estimate request complexity.
var operationVerbs = []string{
	"add", "remove", "delete", "change", "replace", "move", "resize",
	"rotate", "crop", "adjust", "write", "erase", "swap", "recolor",
}

// sweepingQualifiers mark requests that touch the whole image.
var sweepingQualifiers = []string{"all", "entire", "everything", "whole"}

// Config holds the policy thresholds.
type Config struct {
	// MaxRetries is the hard attempt cap.
	MaxRetries int
	// PassThreshold is the integer score at or above which an attempt passed.
	PassThreshold int
	// CatastrophicThreshold is the average score below which only a full
	// restart makes sense.
	CatastrophicThreshold float64
	// IncrementalThreshold is the average score at or above which the result
	// is close enough to touch up.
	IncrementalThreshold float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxRetries:            5,
		PassThreshold:         8,
		CatastrophicThreshold: 5.0,
		IncrementalThreshold:  8.0,
	}
}

// Outcome is the full policy verdict for one failed attempt.
type Outcome struct {
	// Decision is the strategy for the next attempt.
	Decision Decision
	// Reason explains the decision for logs and comments.
	Reason string
	// Complexity is the request classification that informed the decision.
	Complexity Complexity
	// Confidence is the policy's confidence in an incremental fix.
	Confidence Confidence
	// PromptBlock is text for the next enhancement describing the fix
	// framing. Empty for NoRetry and GiveUp.
	PromptBlock string
	// UseOriginalBase is true when the next attempt must start from the
	// original image rather than the best failed edit.
	UseOriginalBase bool
}

// Policy decides retry strategy from validation results and the request.
type Policy struct {
	cfg Config
}

// New creates a Policy. Zero or negative thresholds fall back to defaults.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = def.PassThreshold
	}
	if cfg.CatastrophicThreshold <= 0 {
		cfg.CatastrophicThreshold = def.CatastrophicThreshold
	}
	if cfg.IncrementalThreshold <= 0 {
		cfg.IncrementalThreshold = def.IncrementalThreshold
	}
	return &Policy{cfg: cfg}
}

// Decide classifies the last attempt and picks the next strategy. It is a
// pure function of its inputs.
func (p *Policy) Decide(lastValidation []validate.Result, request string, retryCount int) Outcome {
	if retryCount >= p.cfg.MaxRetries {
		return Outcome{
			Decision: GiveUp,
			Reason:   fmt.Sprintf("retry budget exhausted after %d attempts", retryCount),
		}
	}

	avg := averageScore(lastValidation)
	if _, passed := validate.SelectBest(lastValidation); passed && avg >= float64(p.cfg.PassThreshold) {
		return Outcome{Decision: NoRetry, Reason: "validation passed"}
	}

	issues := collectIssues(lastValidation)
	complexity := ClassifyComplexity(request)
	confidence := p.confidence(avg, issues)

	out := Outcome{Complexity: complexity, Confidence: confidence}

	switch {
	case avg < p.cfg.CatastrophicThreshold:
		out.Decision = FullRestart
		out.Reason = fmt.Sprintf("average score %.1f is catastrophic", avg)
	case avg >= p.cfg.IncrementalThreshold:
		out.Decision = Incremental
		out.Reason = fmt.Sprintf("average score %.1f is close to passing", avg)
	case complexity == ComplexitySimple:
		out.Decision = FullRestart
		out.Reason = "simple request is cheaper to redo than to patch"
	case hasStructuralDamage(issues):
		out.Decision = FullRestart
		out.Reason = "issues indicate structural image damage"
	case confidence == ConfidenceLow:
		out.Decision = FullRestart
		out.Reason = "low confidence that a touch-up can land"
	default:
		out.Decision = Incremental
		out.Reason = fmt.Sprintf("average score %.1f with fixable issues", avg)
	}

	out.UseOriginalBase = out.Decision == FullRestart
	out.PromptBlock = p.promptBlock(out.Decision, issues)
	return out
}

// BaseImages picks the next attempt's input: the best failed edit for an
// incremental retry, the originals for a restart. bestEdit may be nil when
// no generation survived, which forces the originals.
func BaseImages(out Outcome, originals [][]byte, bestEdit []byte) [][]byte {
	if out.UseOriginalBase || bestEdit == nil {
		return originals
	}
	return [][]byte{bestEdit}
}

// ClassifyComplexity buckets a request by operation verb count, sweeping
// qualifiers, and length.
func ClassifyComplexity(request string) Complexity {
	words := strings.Fields(strings.ToLower(request))

	verbs := 0
	sweeping := false
	for _, w := range words {
		w = strings.Trim(w, ".,!;:'\"")
		for _, v := range operationVerbs {
			if w == v || w == v+"s" || w == v+"d" || w == v+"ing" {
				verbs++
				break
			}
		}
		for _, q := range sweepingQualifiers {
			if w == q {
				sweeping = true
				break
			}
		}
	}

	switch {
	case verbs >= 3 || (sweeping && verbs >= 2) || len(words) > 40:
		return ComplexityComplex
	case verbs >= 2 || sweeping || len(words) > 15:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// confidence estimates how likely an incremental fix is to succeed.
func (p *Policy) confidence(avg float64, issues []string) Confidence {
	switch {
	case len(issues) > 4 || avg < p.cfg.CatastrophicThreshold:
		return ConfidenceLow
	case len(issues) > 2:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// promptBlock frames the next enhancement: surgical fix on the edited image
// versus a restart carrying warnings about what went wrong before.
func (p *Policy) promptBlock(d Decision, issues []string) string {
	if d != Incremental && d != FullRestart {
		return ""
	}

	var b strings.Builder
	if d == Incremental {
		b.WriteString("Apply a surgical fix to the provided image. Correct only these problems:\n")
	} else {
		b.WriteString("Start over from the original image. The previous attempt failed for these reasons; avoid repeating them:\n")
	}
	for _, issue := range issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	return strings.TrimRight(b.String(), "\n")
}

func averageScore(results []validate.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0
	for _, r := range results {
		sum += r.Score
	}
	return float64(sum) / float64(len(results))
}

func collectIssues(results []validate.Result) []string {
	seen := make(map[string]struct{})
	var issues []string
	for _, r := range results {
		for _, issue := range r.Issues {
			key := strings.ToLower(strings.TrimSpace(issue))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			issues = append(issues, strings.TrimSpace(issue))
		}
	}
	return issues
}

func hasStructuralDamage(issues []string) bool {
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		for _, kw := range structuralDamageKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}
