package retrypolicy

import (
	"testing"

	"github.com/c360studio/imagent/validate"
	"github.com/stretchr/testify/assert"
)

func failing(score int, issues ...string) validate.Result {
	return validate.Result{Passed: false, Score: score, Issues: issues, Status: validate.StatusFail}
}

func passing(score int) validate.Result {
	return validate.Result{Passed: true, Score: score, Status: validate.StatusPass}
}

func TestDecideTable(t *testing.T) {
	p := New(DefaultConfig())
	complexRequest := "add a border, replace the headline, move the logo, and adjust the colors of the banner"

	tests := []struct {
		name       string
		results    []validate.Result
		request    string
		retryCount int
		want       Decision
	}{
		{
			name:       "retry budget exhausted",
			results:    []validate.Result{failing(7, "close")},
			request:    complexRequest,
			retryCount: 5,
			want:       GiveUp,
		},
		{
			name:    "pass means no retry",
			results: []validate.Result{passing(9), passing(8)},
			request: "remove background",
			want:    NoRetry,
		},
		{
			name:    "catastrophic score restarts",
			results: []validate.Result{failing(3, "logo distortion"), failing(4, "wrong text")},
			request: complexRequest,
			want:    FullRestart,
		},
		{
			name: "near miss goes incremental",
			// Dual-validation disagreement can fail an image at a high score.
			results: []validate.Result{failing(8, "slight color shift"), failing(8, "secondary judge dissent")},
			request: complexRequest,
			want:    Incremental,
		},
		{
			name:    "simple request restarts",
			results: []validate.Result{failing(6, "text off-center")},
			request: "remove background",
			want:    FullRestart,
		},
		{
			name:    "structural damage restarts",
			results: []validate.Result{failing(6, "the logo is warped along the edge")},
			request: complexRequest,
			want:    FullRestart,
		},
		{
			name: "too many issues restarts on low confidence",
			results: []validate.Result{
				failing(6, "issue one", "issue two", "issue three"),
				failing(6, "issue four", "issue five"),
			},
			request: complexRequest,
			want:    FullRestart,
		},
		{
			name:    "middling compound failure goes incremental",
			results: []validate.Result{failing(6, "headline font wrong")},
			request: complexRequest,
			want:    Incremental,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Decide(tt.results, tt.request, tt.retryCount)
			assert.Equal(t, tt.want, out.Decision)
			assert.NotEmpty(t, out.Reason)
		})
	}
}

func TestDecideBaseImageSelection(t *testing.T) {
	p := New(DefaultConfig())
	originals := [][]byte{[]byte("original")}
	best := []byte("best-edit")

	restart := p.Decide([]validate.Result{failing(3, "corrupt pixels")}, "remove background", 1)
	assert.True(t, restart.UseOriginalBase)
	assert.Equal(t, originals, BaseImages(restart, originals, best))

	incremental := p.Decide([]validate.Result{failing(7, "minor crop")},
		"add a border, replace the headline, and move the logo across the banner layout", 1)
	assert.Equal(t, Incremental, incremental.Decision)
	assert.False(t, incremental.UseOriginalBase)
	assert.Equal(t, [][]byte{best}, BaseImages(incremental, originals, best))

	// Without a surviving edit, even an incremental retry starts from the
	// originals.
	assert.Equal(t, originals, BaseImages(incremental, originals, nil))
}

func TestDecidePromptBlockFraming(t *testing.T) {
	p := New(DefaultConfig())

	incremental := p.Decide([]validate.Result{failing(7, "minor crop")},
		"add a border, replace the headline, and move the logo across the banner layout", 1)
	assert.Contains(t, incremental.PromptBlock, "surgical fix")
	assert.Contains(t, incremental.PromptBlock, "minor crop")

	restart := p.Decide([]validate.Result{failing(3, "blurred text")}, "remove background", 1)
	assert.Contains(t, restart.PromptBlock, "Start over")
	assert.Contains(t, restart.PromptBlock, "blurred text")
}

func TestClassifyComplexity(t *testing.T) {
	assert.Equal(t, ComplexitySimple, ClassifyComplexity("Remove background."))
	assert.Equal(t, ComplexityModerate, ClassifyComplexity("Remove the background and add a white border"))
	assert.Equal(t, ComplexityModerate, ClassifyComplexity("Brighten the entire image"))
	assert.Equal(t, ComplexityComplex, ClassifyComplexity("Remove the text, add a new headline, and move the logo to the corner"))
}
