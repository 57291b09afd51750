// Package task converts raw work-tracker custom fields into the normalized
// request record that drives routing and prompt construction.
package task

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/c360studio/imagent/tracker"
)

// Type routes a task through the edit or creative pipeline.
type Type string

const (
	// TypeEdit is a direct edit of an existing image.
	TypeEdit Type = "edit"
	// TypeCreative is a branded creative composition.
	TypeCreative Type = "creative"
)

// ImageRef is a downloadable image reference from a task field.
type ImageRef struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// ParsedTask is the normalized request record. Immutable within a run.
type ParsedTask struct {
	TaskType         Type       `json:"task_type"`
	MainText         string     `json:"main_text,omitempty"`
	SecondaryText    string     `json:"secondary_text,omitempty"`
	Font             string     `json:"font,omitempty"`
	StyleDirection   string     `json:"style_direction,omitempty"`
	ExtraNotes       string     `json:"extra_notes,omitempty"`
	BrandWebsite     string     `json:"brand_website,omitempty"`
	Dimensions       []string   `json:"dimensions,omitempty"`
	Logo             []ImageRef `json:"logo,omitempty"`
	MainImage        []ImageRef `json:"main_image,omitempty"`
	ReferenceImages  []ImageRef `json:"reference_images,omitempty"`
	AdditionalImages []ImageRef `json:"additional_images,omitempty"`

	// RawFields preserves the source fields so parsing round-trips.
	RawFields []tracker.CustomField `json:"raw_fields,omitempty"`
}

// GenerationImages returns the images sent to the image-editing gateway, in
// order: logo, main image, additional images. Reference images are excluded;
// they flow only to the enhancer as context.
func (t *ParsedTask) GenerationImages() []ImageRef {
	var out []ImageRef
	out = append(out, t.Logo...)
	out = append(out, t.MainImage...)
	out = append(out, t.AdditionalImages...)
	return out
}

// ContextImages returns every image available to the enhancer, generation
// images first, then reference images.
func (t *ParsedTask) ContextImages() []ImageRef {
	out := t.GenerationImages()
	out = append(out, t.ReferenceImages...)
	return out
}

// AspectRatio returns the first requested dimension tag, or "".
func (t *ParsedTask) AspectRatio() string {
	if len(t.Dimensions) > 0 {
		return t.Dimensions[0]
	}
	return ""
}

// Exact field-name lookup table. Fields not listed here are ignored.
const (
	fieldTaskType         = "Task Type"
	fieldMainText         = "Main Text"
	fieldSecondaryText    = "Secondary Text"
	fieldFont             = "Font"
	fieldStyleDirection   = "Style Direction"
	fieldExtraNotes       = "Extra Notes"
	fieldBrandWebsite     = "Brand Website"
	fieldDimensions       = "Dimensions"
	fieldLogo             = "Logo"
	fieldMainImage        = "Main Image"
	fieldReferenceImages  = "Reference Images"
	fieldAdditionalImages = "Additional Images"
)

// Parser extracts ParsedTask records from custom-field payloads. Malformed
// payloads never fail the parse; they degrade to an edit task with defaults
// and a warning.
type Parser struct {
	logger *slog.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		p.logger = logger
	}
}

// NewParser creates a task parser.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse converts custom fields into a ParsedTask. Deterministic: the same
// fields always produce the same record.
func (p *Parser) Parse(fields []tracker.CustomField) *ParsedTask {
	parsed := &ParsedTask{
		TaskType:  TypeEdit,
		RawFields: fields,
	}

	for _, f := range fields {
		switch f.Name {
		case fieldTaskType:
			if name, ok := p.dropdownValue(f); ok {
				if strings.EqualFold(name, "creative") {
					parsed.TaskType = TypeCreative
				}
			}
		case fieldMainText:
			parsed.MainText = p.textValue(f)
		case fieldSecondaryText:
			parsed.SecondaryText = p.textValue(f)
		case fieldFont:
			parsed.Font = p.textValue(f)
		case fieldStyleDirection:
			parsed.StyleDirection = p.textValue(f)
		case fieldExtraNotes:
			parsed.ExtraNotes = p.textValue(f)
		case fieldBrandWebsite:
			parsed.BrandWebsite = p.textValue(f)
		case fieldDimensions:
			parsed.Dimensions = p.labelValues(f)
		case fieldLogo:
			parsed.Logo = p.attachmentValues(f)
		case fieldMainImage:
			parsed.MainImage = p.attachmentValues(f)
		case fieldReferenceImages:
			parsed.ReferenceImages = p.attachmentValues(f)
		case fieldAdditionalImages:
			parsed.AdditionalImages = p.attachmentValues(f)
		}
	}

	return parsed
}

// dropdownValue resolves an enum field to its option name. The tracker sends
// either the option's order index or its id.
func (p *Parser) dropdownValue(f tracker.CustomField) (string, bool) {
	if len(f.Value) == 0 {
		return "", false
	}

	var index int
	if err := json.Unmarshal(f.Value, &index); err == nil {
		for _, opt := range f.TypeConfig.Options {
			if opt.OrderIndex == index {
				return optionName(opt), true
			}
		}
		p.warn(f, "dropdown index has no matching option")
		return "", false
	}

	var id string
	if err := json.Unmarshal(f.Value, &id); err == nil {
		for _, opt := range f.TypeConfig.Options {
			if opt.ID == id {
				return optionName(opt), true
			}
		}
		// Some payloads inline the option name directly.
		return id, true
	}

	p.warn(f, "unrecognized dropdown value shape")
	return "", false
}

// textValue extracts plain text and url field values.
func (p *Parser) textValue(f tracker.CustomField) string {
	if len(f.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.Value, &s); err != nil {
		p.warn(f, "expected string value")
		return ""
	}
	return strings.TrimSpace(s)
}

// labelValues resolves a multi-select label field to the selected label
// names, in selection order.
func (p *Parser) labelValues(f tracker.CustomField) []string {
	if len(f.Value) == 0 {
		return nil
	}

	var ids []string
	if err := json.Unmarshal(f.Value, &ids); err != nil {
		p.warn(f, "expected label id list")
		return nil
	}

	byID := make(map[string]string, len(f.TypeConfig.Options))
	for _, opt := range f.TypeConfig.Options {
		byID[opt.ID] = optionName(opt)
	}

	var out []string
	for _, id := range ids {
		if name, ok := byID[id]; ok {
			out = append(out, name)
		} else {
			out = append(out, id)
		}
	}
	return out
}

// attachmentValues extracts an ordered attachment list.
func (p *Parser) attachmentValues(f tracker.CustomField) []ImageRef {
	if len(f.Value) == 0 {
		return nil
	}

	var attachments []struct {
		URL      string `json:"url"`
		Title    string `json:"title"`
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(f.Value, &attachments); err != nil {
		p.warn(f, "expected attachment list")
		return nil
	}

	var out []ImageRef
	for _, a := range attachments {
		if a.URL == "" {
			continue
		}
		name := a.Filename
		if name == "" {
			name = a.Title
		}
		out = append(out, ImageRef{URL: a.URL, Filename: name})
	}
	return out
}

func (p *Parser) warn(f tracker.CustomField, msg string) {
	p.logger.Warn("Malformed custom field, using default",
		"field", f.Name,
		"type", f.Type,
		"reason", msg)
}

func optionName(opt tracker.FieldOption) string {
	if opt.Name != "" {
		return opt.Name
	}
	return opt.Label
}
