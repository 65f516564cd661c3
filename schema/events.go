package schema

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EventKind is the message_type of a backend stream event.
type EventKind string

const (
	// EventReasoning carries a reasoning text delta.
	EventReasoning EventKind = "reasoning_message"
	// EventAssistant carries an assistant text delta.
	EventAssistant EventKind = "assistant_message"
	// EventToolCall carries tool call fragments.
	EventToolCall EventKind = "tool_call_message"
	// EventApprovalRequest carries tool call fragments awaiting approval.
	EventApprovalRequest EventKind = "approval_request_message"
	// EventToolReturn carries one or more tool results.
	EventToolReturn EventKind = "tool_return_message"
	// EventUsage carries token and step counters.
	EventUsage EventKind = "usage_statistics"
)

// ToolReturnSuccess is the status reported for a successful tool return.
const ToolReturnSuccess = "success"

// Event is one decoded backend stream event.
type Event struct {
	Kind        EventKind
	StreamID    string
	Reasoning   string
	Content     Content
	ToolCalls   []ToolCallDelta
	ToolReturns []ToolReturn
	Usage       Usage
	Raw         json.RawMessage
}

// ToolCallDelta is one fragment of a tool invocation.
type ToolCallDelta struct {
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
}

// ToolReturn is one tool result correlated by external tool-call id.
// Result is usually a string; other values are serialized when applied.
type ToolReturn struct {
	ToolCallID string `json:"tool_call_id,omitempty"`
	Result     any    `json:"tool_return,omitempty"`
	Status     string `json:"status,omitempty"`
}

// ContentPart is one element of a multi-part assistant delta.
type ContentPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// Content is assistant delta text, given either as a single string or as parts.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent returns a Content holding a single string.
func TextContent(text string) Content {
	return Content{Text: text}
}

// String concatenates the text and all parts in order.
func (c Content) String() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var b strings.Builder
	b.WriteString(c.Text)
	for _, part := range c.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// MarshalJSON encodes single-string content as a JSON string and parts as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Parts) == 0 {
		return json.Marshal(c.Text)
	}
	parts := c.Parts
	if c.Text != "" {
		parts = append([]ContentPart{{Type: "text", Text: c.Text}}, parts...)
	}
	return json.Marshal(parts)
}

// UnmarshalJSON accepts a JSON string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = Content{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	return json.Unmarshal(data, &c.Parts)
}

type wireEvent struct {
	MessageType      EventKind       `json:"message_type"`
	OTID             string          `json:"otid,omitempty"`
	Reasoning        string          `json:"reasoning,omitempty"`
	Content          Content         `json:"content,omitempty"`
	ToolCall         *ToolCallDelta  `json:"tool_call,omitempty"`
	ToolCalls        []ToolCallDelta `json:"tool_calls,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	ToolReturn       json.RawMessage `json:"tool_return,omitempty"`
	ToolReturns      []wireReturn    `json:"tool_returns,omitempty"`
	Status           string          `json:"status,omitempty"`
	PromptTokens     int64           `json:"prompt_tokens,omitempty"`
	CompletionTokens int64           `json:"completion_tokens,omitempty"`
	TotalTokens      int64           `json:"total_tokens,omitempty"`
	StepCount        int64           `json:"step_count,omitempty"`
}

type wireReturn struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolReturn json.RawMessage `json:"tool_return,omitempty"`
	Status     string          `json:"status,omitempty"`
}

// UnmarshalJSON decodes the backend wire shape. Singular tool_call and tool_return
// fields are folded into the ToolCalls and ToolReturns slices.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := Event{
		Kind:      wire.MessageType,
		StreamID:  wire.OTID,
		Reasoning: wire.Reasoning,
		Content:   wire.Content,
		Usage: Usage{
			PromptTokens:     wire.PromptTokens,
			CompletionTokens: wire.CompletionTokens,
			TotalTokens:      wire.TotalTokens,
			StepCount:        wire.StepCount,
		},
		Raw: append(json.RawMessage(nil), data...),
	}
	if wire.ToolCall != nil {
		out.ToolCalls = append(out.ToolCalls, *wire.ToolCall)
	}
	out.ToolCalls = append(out.ToolCalls, wire.ToolCalls...)
	if wire.ToolCallID != "" && len(wire.ToolReturns) == 0 && wire.MessageType == EventToolReturn {
		out.ToolReturns = append(out.ToolReturns, ToolReturn{
			ToolCallID: wire.ToolCallID,
			Result:     rawResult(wire.ToolReturn),
			Status:     wire.Status,
		})
	}
	for _, ret := range wire.ToolReturns {
		out.ToolReturns = append(out.ToolReturns, ToolReturn{
			ToolCallID: ret.ToolCallID,
			Result:     rawResult(ret.ToolReturn),
			Status:     ret.Status,
		})
	}
	*e = out
	return nil
}

// MarshalJSON encodes the event in the backend wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	wire := wireEvent{
		MessageType:      e.Kind,
		OTID:             e.StreamID,
		Reasoning:        e.Reasoning,
		Content:          e.Content,
		ToolCalls:        e.ToolCalls,
		PromptTokens:     e.Usage.PromptTokens,
		CompletionTokens: e.Usage.CompletionTokens,
		TotalTokens:      e.Usage.TotalTokens,
		StepCount:        e.Usage.StepCount,
	}
	for _, ret := range e.ToolReturns {
		raw, err := json.Marshal(ret.Result)
		if err != nil {
			return nil, err
		}
		wire.ToolReturns = append(wire.ToolReturns, wireReturn{
			ToolCallID: ret.ToolCallID,
			ToolReturn: raw,
			Status:     ret.Status,
		})
	}
	return json.Marshal(wire)
}

func rawResult(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
