package refine

import (
	"regexp"
	"strings"
)

// DefaultAndWords are the conjunctions normalized to commas when splitting a
// compound request. The list is configurable because requests arrive in more
// than one language.
var DefaultAndWords = []string{"and", "και"}

// DefaultPreservationMarkers identify a trailing sentence as a preservation
// clause, again per locale.
var DefaultPreservationMarkers = []string{
	"keep", "preserve", "unchanged", "identical", "leave", "rest of",
	"διατήρησε", "κράτα", "ίδιο", "αμετάβλητο",
}

// DefaultPreservationClause is appended to every step when the request
// carries no preservation sentence of its own.
const DefaultPreservationClause = "Keep everything else in the image exactly the same."

// Decomposer splits a compound edit request into ordered atomic steps.
type Decomposer struct {
	andPattern          *regexp.Regexp
	preservationMarkers []string
	defaultPreservation string
}

// NewDecomposer builds a Decomposer from locale token lists. Empty slices
// and strings fall back to the defaults.
func NewDecomposer(andWords, preservationMarkers []string, defaultPreservation string) *Decomposer {
	if len(andWords) == 0 {
		andWords = DefaultAndWords
	}
	if len(preservationMarkers) == 0 {
		preservationMarkers = DefaultPreservationMarkers
	}
	if defaultPreservation == "" {
		defaultPreservation = DefaultPreservationClause
	}

	quoted := make([]string, len(andWords))
	for i, w := range andWords {
		quoted[i] = regexp.QuoteMeta(w)
	}
	markers := make([]string, len(preservationMarkers))
	for i, m := range preservationMarkers {
		markers[i] = strings.ToLower(m)
	}

	return &Decomposer{
		// \s+ on both sides keeps words like "band" or "sand" intact.
		andPattern:          regexp.MustCompile(`(?i)\s+(?:` + strings.Join(quoted, "|") + `)\s+`),
		preservationMarkers: markers,
		defaultPreservation: defaultPreservation,
	}
}

// Decompose returns the ordered atomic steps of a compound request, each
// rebuilt as "<operation>. <preservation clause>". A request with a single
// operation yields a single step; callers treat len > 1 as decomposable.
func (d *Decomposer) Decompose(request string) []string {
	ops, preservation := d.splitPreservation(strings.TrimSpace(request))

	normalized := d.andPattern.ReplaceAllString(ops, ", ")

	var steps []string
	for _, op := range strings.Split(normalized, ",") {
		op = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(op), "."))
		if op == "" {
			continue
		}
		steps = append(steps, op+". "+preservation)
	}
	return steps
}

// splitPreservation strips a trailing preservation sentence off the request.
// When none is found the default clause is used.
func (d *Decomposer) splitPreservation(request string) (ops, preservation string) {
	sentences := splitSentences(request)
	if len(sentences) > 1 {
		last := sentences[len(sentences)-1]
		lower := strings.ToLower(last)
		for _, marker := range d.preservationMarkers {
			if strings.Contains(lower, marker) {
				ops = strings.TrimSpace(strings.TrimSuffix(request, last))
				return ops, ensurePeriod(strings.TrimSpace(last))
			}
		}
	}
	return request, ensurePeriod(d.defaultPreservation)
}

// splitSentences splits on sentence-ending periods, keeping the terminator
// with its sentence. Decimal points and ellipses are not sentence breaks.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' {
			continue
		}
		next := i + 1
		if next < len(runes) && runes[next] != ' ' && runes[next] != '\n' {
			continue
		}
		s := strings.TrimSpace(string(runes[start:next]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = next
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func ensurePeriod(s string) string {
	if strings.HasSuffix(s, ".") {
		return s
	}
	return s + "."
}
