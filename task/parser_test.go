package task

import (
	"encoding/json"
	"testing"

	"github.com/c360studio/imagent/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func sampleFields(t *testing.T) []tracker.CustomField {
	return []tracker.CustomField{
		{
			Name: "Task Type", Type: tracker.FieldTypeDropDown,
			Value: raw(t, 1),
			TypeConfig: tracker.TypeConfig{Options: []tracker.FieldOption{
				{ID: "o-edit", Name: "Edit", OrderIndex: 0},
				{ID: "o-creative", Name: "Creative", OrderIndex: 1},
			}},
		},
		{Name: "Main Text", Type: tracker.FieldTypeText, Value: raw(t, "SUMMER SALE")},
		{Name: "Font", Type: tracker.FieldTypeText, Value: raw(t, "Montserrat")},
		{Name: "Brand Website", Type: tracker.FieldTypeURL, Value: raw(t, "https://example.com")},
		{
			Name: "Dimensions", Type: tracker.FieldTypeLabels,
			Value: raw(t, []string{"l2", "l1"}),
			TypeConfig: tracker.TypeConfig{Options: []tracker.FieldOption{
				{ID: "l1", Label: "1:1"},
				{ID: "l2", Label: "16:9"},
			}},
		},
		{
			Name: "Main Image", Type: tracker.FieldTypeAttachment,
			Value: raw(t, []map[string]string{{"url": "https://files/main.png", "title": "main.png"}}),
		},
		{
			Name: "Reference Images", Type: tracker.FieldTypeAttachment,
			Value: raw(t, []map[string]string{{"url": "https://files/ref.png", "title": "ref.png"}}),
		},
	}
}

func TestParseTypedFields(t *testing.T) {
	parsed := NewParser().Parse(sampleFields(t))

	assert.Equal(t, TypeCreative, parsed.TaskType)
	assert.Equal(t, "SUMMER SALE", parsed.MainText)
	assert.Equal(t, "Montserrat", parsed.Font)
	assert.Equal(t, "https://example.com", parsed.BrandWebsite)
	assert.Equal(t, []string{"16:9", "1:1"}, parsed.Dimensions, "label order follows selection order")
	require.Len(t, parsed.MainImage, 1)
	assert.Equal(t, "main.png", parsed.MainImage[0].Filename)
}

func TestParseDefaultsToEdit(t *testing.T) {
	parsed := NewParser().Parse(nil)
	assert.Equal(t, TypeEdit, parsed.TaskType)

	parsed = NewParser().Parse([]tracker.CustomField{
		{Name: "Extra Notes", Type: tracker.FieldTypeText, Value: raw(t, "remove background")},
	})
	assert.Equal(t, TypeEdit, parsed.TaskType)
	assert.Equal(t, "remove background", parsed.ExtraNotes)
}

func TestParseMalformedFieldsNeverPanic(t *testing.T) {
	fields := []tracker.CustomField{
		{Name: "Task Type", Type: tracker.FieldTypeDropDown, Value: json.RawMessage(`{"bogus": true}`)},
		{Name: "Main Text", Type: tracker.FieldTypeText, Value: json.RawMessage(`12345`)},
		{Name: "Dimensions", Type: tracker.FieldTypeLabels, Value: json.RawMessage(`"not-a-list"`)},
		{Name: "Logo", Type: tracker.FieldTypeAttachment, Value: json.RawMessage(`{"oops": 1}`)},
	}

	parsed := NewParser().Parse(fields)

	assert.Equal(t, TypeEdit, parsed.TaskType)
	assert.Empty(t, parsed.MainText)
	assert.Empty(t, parsed.Dimensions)
	assert.Empty(t, parsed.Logo)
}

func TestGenerationImagesExcludeReferences(t *testing.T) {
	parsed := NewParser().Parse(sampleFields(t))

	gen := parsed.GenerationImages()
	require.Len(t, gen, 1)
	assert.Equal(t, "https://files/main.png", gen[0].URL)

	ctx := parsed.ContextImages()
	require.Len(t, ctx, 2)
	assert.Equal(t, "https://files/ref.png", ctx[1].URL, "references come last")
}

func TestParseIdempotent(t *testing.T) {
	p := NewParser()
	first := p.Parse(sampleFields(t))
	second := p.Parse(first.RawFields)

	assert.Equal(t, first, second)
}

func TestBuildPromptEdit(t *testing.T) {
	tests := []struct {
		name string
		task ParsedTask
		want string
	}{
		{
			name: "notes only",
			task: ParsedTask{TaskType: TypeEdit, ExtraNotes: "Remove background."},
			want: "Remove background.",
		},
		{
			name: "notes with text",
			task: ParsedTask{TaskType: TypeEdit, ExtraNotes: "Change the headline.", MainText: "NEW"},
			want: "Change the headline.\nText to add/change: NEW",
		},
		{
			name: "empty notes placeholder",
			task: ParsedTask{TaskType: TypeEdit},
			want: "Edit this image as requested.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildPrompt(&tt.task))
		})
	}
}

func TestBuildPromptCreative(t *testing.T) {
	task := &ParsedTask{
		TaskType:        TypeCreative,
		MainText:        "SUMMER SALE",
		SecondaryText:   "up to 50% off",
		Font:            "Montserrat",
		StyleDirection:  "bold, minimal",
		ExtraNotes:      "use brand palette",
		Dimensions:      []string{"16:9", "1:1"},
		ReferenceImages: []ImageRef{{URL: "u", Filename: "ref.png"}},
	}

	prompt := BuildPrompt(task)

	assert.Contains(t, prompt, "Dimensions: 16:9, 1:1")
	assert.Contains(t, prompt, "Primary text: SUMMER SALE")
	assert.Contains(t, prompt, "Secondary text: up to 50% off")
	assert.Contains(t, prompt, "Font: Montserrat")
	assert.Contains(t, prompt, "Style direction: bold, minimal")
	assert.Contains(t, prompt, "Extra notes: use brand palette")
	assert.Contains(t, prompt, "Reference images are provided")
}
