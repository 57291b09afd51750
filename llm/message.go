package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ContentPart is one element of a mixed text/image user message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

// ImageRef carries an inline image as a data URL.
type ImageRef struct {
	URL string `json:"url"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an inline-base64 image part with an explicit MIME type.
func ImagePart(mimeType string, data []byte) ContentPart {
	encoded := base64.StdEncoding.EncodeToString(data)
	return ContentPart{
		Type:     "image_url",
		ImageURL: &ImageRef{URL: fmt.Sprintf("data:%s;base64,%s", mimeType, encoded)},
	}
}

// Message is a chat message. System messages are plain text; user messages
// may interleave text and inline images.
type Message struct {
	Role  string
	Parts []ContentPart
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{TextPart(text)}}
}

// MarshalJSON encodes single text parts as a plain string content, and mixed
// parts as a content array, matching what chat-completion gateways accept.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 1 && m.Parts[0].Type == "text" {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: m.Role, Content: m.Parts[0].Text})
	}
	return json.Marshal(struct {
		Role    string        `json:"role"`
		Content []ContentPart `json:"content"`
	}{Role: m.Role, Content: m.Parts})
}
