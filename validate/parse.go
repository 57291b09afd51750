package validate

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/c360studio/imagent/llm"
)

// scoreDigits pulls the first numeric token out of a free-form score string,
// tolerating forms like "10", "9.5", "8/10" and "PASS 10/10".
var scoreDigits = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// verdictWire is the shape the validator is asked to emit. Fields are
// deliberately loose because models drift on types.
type verdictWire struct {
	PassFail  any      `json:"pass_fail"`
	Score     any      `json:"score"`
	Issues    []string `json:"issues"`
	Reasoning string   `json:"reasoning"`
}

// parseVerdict turns a raw validator response into a Result. A response that
// cannot be parsed yields a StatusError result, never an error: content
// failures must not abort the run. The score is authoritative; pass_fail is
// recomputed from it against the threshold.
func parseVerdict(content string, passThreshold int) Result {
	payload := llm.ExtractJSON(content)
	if payload == "" {
		return errorResult("validator returned no JSON verdict")
	}

	var wire verdictWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return errorResult("validator verdict is not valid JSON: " + err.Error())
	}

	score, ok := normalizeScore(wire.Score)
	if !ok {
		score, ok = normalizeScore(wire.PassFail)
	}
	if !ok {
		return errorResult("validator verdict has no usable score")
	}

	passed := score >= passThreshold

	issues := make([]string, 0, len(wire.Issues))
	for _, issue := range wire.Issues {
		issue = strings.TrimSpace(issue)
		if issue != "" {
			issues = append(issues, issue)
		}
	}
	if passed {
		issues = nil
	} else if len(issues) == 0 {
		issues = []string{"validator reported failure without specific issues"}
	}

	status := StatusFail
	if passed {
		status = StatusPass
	}

	return Result{
		Passed:    passed,
		Score:     score,
		Issues:    issues,
		Reasoning: strings.TrimSpace(wire.Reasoning),
		Status:    status,
	}
}

// normalizeScore coerces the many shapes models emit for a score (10, 10.0,
// "10", "10/10", "PASS 10/10") into an integer clamped to [0, 10].
func normalizeScore(v any) (int, bool) {
	switch s := v.(type) {
	case float64:
		return clampScore(s), true
	case json.Number:
		f, err := s.Float64()
		if err != nil {
			return 0, false
		}
		return clampScore(f), true
	case string:
		match := scoreDigits.FindString(s)
		if match == "" {
			return 0, false
		}
		var f float64
		if err := json.Unmarshal([]byte(match), &f); err != nil {
			return 0, false
		}
		return clampScore(f), true
	default:
		return 0, false
	}
}

func clampScore(f float64) int {
	n := int(math.Round(f))
	if n < 0 {
		return 0
	}
	if n > 10 {
		return 10
	}
	return n
}

func errorResult(diagnostic string) Result {
	return Result{
		Passed: false,
		Score:  0,
		Issues: []string{diagnostic},
		Status: StatusError,
	}
}
