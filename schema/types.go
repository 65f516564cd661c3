package schema

import (
	"strings"
	"unicode"
)

// SessionID identifies a transcript session.
type SessionID string

// reservedSessionPrefix names temporary snapshot files.
const reservedSessionPrefix = "state-"

// ValidSessionID reports whether id can name a session: letters, digits, '-', '_'
// and '.', starting with a letter or digit and not using the reserved "state-"
// prefix. Valid ids map one to one onto snapshot file names.
func ValidSessionID(id SessionID) bool {
	value := string(id)
	if value == "" || strings.HasPrefix(value, reservedSessionPrefix) {
		return false
	}
	for i, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		if i > 0 && (r == '-' || r == '_' || r == '.') {
			continue
		}
		return false
	}
	return true
}

// LineID identifies a transcript line. It is unique within one transcript.
type LineID string

// LineKind tags the Line variant.
type LineKind string

const (
	// KindUser is a line typed by the local user.
	KindUser LineKind = "user"
	// KindReasoning carries streamed reasoning text.
	KindReasoning LineKind = "reasoning"
	// KindAssistant carries streamed assistant text.
	KindAssistant LineKind = "assistant"
	// KindToolCall carries a tool invocation and its result.
	KindToolCall LineKind = "tool_call"
	// KindError carries an error message.
	KindError LineKind = "error"
	// KindCommand carries a local slash command and its output.
	KindCommand LineKind = "command"
	// KindBashCommand carries a local shell command and its output.
	KindBashCommand LineKind = "bash_command"
	// KindStatus carries informational status lines.
	KindStatus LineKind = "status"
	// KindSeparator marks a visual turn boundary.
	KindSeparator LineKind = "separator"
)

// Phase is the lifecycle stage of a line. Valid phases depend on the kind.
type Phase string

const (
	// PhaseStreaming means text or arguments are still arriving.
	PhaseStreaming Phase = "streaming"
	// PhaseReady means a tool call is fully described and awaiting execution.
	PhaseReady Phase = "ready"
	// PhaseRunning means the executor is working on the line.
	PhaseRunning Phase = "running"
	// PhaseFinished is terminal.
	PhaseFinished Phase = "finished"
)

// CancelledResult is the result text of tool calls finished by an interrupt.
const CancelledResult = "Interrupted by user"

// Usage accumulates token and step counters across a turn.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	StepCount        int64 `json:"step_count"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		StepCount:        u.StepCount + other.StepCount,
	}
}
