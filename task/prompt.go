package task

import (
	"fmt"
	"strings"
)

// defaultEditPrompt is used when an edit task carries no instructions.
const defaultEditPrompt = "Edit this image as requested."

// BuildPrompt produces the user-visible prompt skeleton for a parsed task.
func BuildPrompt(t *ParsedTask) string {
	if t.TaskType == TypeCreative {
		return buildCreativePrompt(t)
	}
	return buildEditPrompt(t)
}

func buildEditPrompt(t *ParsedTask) string {
	notes := strings.TrimSpace(t.ExtraNotes)
	if notes == "" {
		notes = defaultEditPrompt
	}
	if t.MainText != "" {
		return fmt.Sprintf("%s\nText to add/change: %s", notes, t.MainText)
	}
	return notes
}

func buildCreativePrompt(t *ParsedTask) string {
	var b strings.Builder
	b.WriteString("Create a branded creative image.\n")

	if len(t.Dimensions) > 0 {
		fmt.Fprintf(&b, "Dimensions: %s\n", strings.Join(t.Dimensions, ", "))
	}
	if t.MainText != "" {
		fmt.Fprintf(&b, "Primary text: %s\n", t.MainText)
	}
	if t.SecondaryText != "" {
		fmt.Fprintf(&b, "Secondary text: %s\n", t.SecondaryText)
	}
	if t.Font != "" {
		fmt.Fprintf(&b, "Font: %s\n", t.Font)
	}
	if t.StyleDirection != "" {
		fmt.Fprintf(&b, "Style direction: %s\n", t.StyleDirection)
	}
	if t.ExtraNotes != "" {
		fmt.Fprintf(&b, "Extra notes: %s\n", t.ExtraNotes)
	}
	if len(t.ReferenceImages) > 0 {
		fmt.Fprintf(&b, "Reference images are provided for style guidance (%d).\n", len(t.ReferenceImages))
	}

	return strings.TrimRight(b.String(), "\n")
}
