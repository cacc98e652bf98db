// Package models defines the wire-level data model shared by the agent
// runtime: chat messages, streaming deltas, tool results, threads, and
// sandbox states. Everything here marshals to the OpenAI chat dialect.
package models

import (
	"encoding/json"
	"strings"
)

// Role identifies a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat message. Content is either a plain string or a list
// of typed parts; both encodings round-trip.
type Message struct {
	Role       Role           `json:"role"`
	Content    MessageContent `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether m is an assistant message carrying tool calls.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Content.Parts != nil {
		out.Content.Parts = make([]ContentPart, len(m.Content.Parts))
		copy(out.Content.Parts, m.Content.Parts)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	return out
}

// MessageContent holds either plain text or typed content parts. A nil
// Parts slice means the plain-string form.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// Text builds plain-string content.
func Text(s string) MessageContent { return MessageContent{Text: s} }

// Parts builds multi-part content.
func Parts(parts ...ContentPart) MessageContent { return MessageContent{Parts: parts} }

// IsEmpty reports whether the content carries nothing at all.
func (c MessageContent) IsEmpty() bool { return c.Parts == nil && c.Text == "" }

// Flatten returns the textual content: the plain string, or the text parts
// joined by newlines.
func (c MessageContent) Flatten() string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type != PartText {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// MarshalJSON emits a JSON string for plain content and an array for parts.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a string, an array of parts, or null.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*c = MessageContent{}
		return nil
	case strings.HasPrefix(trimmed, "["):
		c.Text = ""
		return json.Unmarshal(data, &c.Parts)
	default:
		c.Parts = nil
		return json.Unmarshal(data, &c.Text)
	}
}

// Content part types.
const (
	PartText     = "text"
	PartImage    = "image"
	PartImageURL = "image_url"
)

// ContentPart is one element of multi-part message content. Fields outside
// the known set are preserved verbatim in Extra so provider-specific
// payloads (image sources, cache hints) survive round-trips.
type ContentPart struct {
	Type     string
	Text     string
	ImageURL *ImageURL
	Source   json.RawMessage
	Extra    map[string]json.RawMessage
}

// ImageURL is the image_url payload of a content part.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextPart builds a text content part.
func TextPart(s string) ContentPart { return ContentPart{Type: PartText, Text: s} }

// IsImage reports whether the part carries image data in either encoding.
func (p ContentPart) IsImage() bool {
	return p.Type == PartImage || p.Type == PartImageURL
}

// MarshalJSON writes the known fields for the part's type plus any
// preserved unknown fields.
func (p ContentPart) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+3)
	for k, v := range p.Extra {
		m[k] = v
	}
	m["type"] = p.Type
	switch p.Type {
	case PartText:
		m["text"] = p.Text
	case PartImageURL:
		if p.ImageURL != nil {
			m["image_url"] = p.ImageURL
		}
	case PartImage:
		if len(p.Source) > 0 {
			m["source"] = p.Source
		}
	default:
		if p.Text != "" {
			m["text"] = p.Text
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the known fields and stashes everything else in Extra.
func (p *ContentPart) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &p.Type); err != nil {
			return err
		}
		delete(raw, "type")
	}
	if v, ok := raw["text"]; ok {
		if err := json.Unmarshal(v, &p.Text); err != nil {
			return err
		}
		delete(raw, "text")
	}
	if v, ok := raw["image_url"]; ok {
		if err := json.Unmarshal(v, &p.ImageURL); err != nil {
			return err
		}
		delete(raw, "image_url")
	}
	if v, ok := raw["source"]; ok {
		p.Source = v
		delete(raw, "source")
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

// ToolCall is a complete tool invocation on an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
// ThoughtSignature is an opaque provider token: it is never parsed and must
// survive byte-for-byte through streaming, storage, and replay.
type FunctionCall struct {
	Name             string `json:"name"`
	Arguments        string `json:"arguments"`
	ThoughtSignature string `json:"thought_signature,omitempty"`
}
