// Package tracker implements the work-tracker client: task fetch, attachment
// transfer, status transitions, comments, and custom-field writeback.
package tracker

import "encoding/json"

// Task is the work-tracker task envelope.
type Task struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Status       TaskStatus    `json:"status"`
	CustomFields []CustomField `json:"custom_fields"`
	Attachments  []Attachment  `json:"attachments"`
}

// TaskStatus is the current workflow status of a task.
type TaskStatus struct {
	Status string `json:"status"`
}

// CustomField is one typed custom field on a task. Value's shape depends on
// Type: dropdowns carry an option index or id, labels carry option id lists,
// attachments carry attachment objects, text and url carry strings.
type CustomField struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Value      json.RawMessage `json:"value,omitempty"`
	TypeConfig TypeConfig      `json:"type_config"`
}

// TypeConfig carries the option set for enum-shaped fields.
type TypeConfig struct {
	Options []FieldOption `json:"options,omitempty"`
}

// FieldOption is one selectable option of a dropdown or label field.
type FieldOption struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Label      string `json:"label,omitempty"`
	OrderIndex int    `json:"orderindex"`
}

// Attachment is a file attached to a task.
type Attachment struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	MimeType string `json:"mimetype,omitempty"`
}

// Field shape identifiers used by the work tracker.
const (
	FieldTypeDropDown   = "drop_down"
	FieldTypeText       = "text"
	FieldTypeShortText  = "short_text"
	FieldTypeURL        = "url"
	FieldTypeLabels     = "labels"
	FieldTypeAttachment = "attachment"
	FieldTypeCheckbox   = "checkbox"
)
