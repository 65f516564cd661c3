package schema

import "time"

// Line is one logical transcript entry. Implementations are plain values; an update
// always builds a new value instead of editing a stored one.
type Line interface {
	LineID() LineID
	Kind() LineKind
	isLine()
}

// UserLine is input typed by the local user.
type UserLine struct {
	ID   LineID `json:"id"`
	Text string `json:"text"`
}

// ReasoningLine is streamed reasoning text.
type ReasoningLine struct {
	ID    LineID `json:"id"`
	Text  string `json:"text"`
	Phase Phase  `json:"phase"`
}

// AssistantLine is streamed assistant text.
type AssistantLine struct {
	ID    LineID `json:"id"`
	Text  string `json:"text"`
	Phase Phase  `json:"phase"`
}

// ToolCallLine tracks one tool invocation from its first fragment to its result.
type ToolCallLine struct {
	ID         LineID        `json:"id"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Args       string        `json:"args,omitempty"`
	Result     string        `json:"result,omitempty"`
	ResultOK   bool          `json:"result_ok"`
	Phase      Phase         `json:"phase"`
	Output     *OutputWindow `json:"output,omitempty"`
}

// ErrorLine is an error message shown in the transcript.
type ErrorLine struct {
	ID   LineID `json:"id"`
	Text string `json:"text"`
}

// CommandLine is a local slash command.
type CommandLine struct {
	ID     LineID        `json:"id"`
	Input  string        `json:"input"`
	Output string        `json:"output,omitempty"`
	Phase  Phase         `json:"phase"`
	OK     bool          `json:"ok"`
	Window *OutputWindow `json:"window,omitempty"`
}

// BashCommandLine is a local shell command.
type BashCommandLine struct {
	ID     LineID        `json:"id"`
	Input  string        `json:"input"`
	Output string        `json:"output,omitempty"`
	Phase  Phase         `json:"phase"`
	OK     bool          `json:"ok"`
	Window *OutputWindow `json:"window,omitempty"`
}

// StatusLine carries informational text.
type StatusLine struct {
	ID    LineID   `json:"id"`
	Lines []string `json:"lines"`
}

// SeparatorLine marks a turn boundary.
type SeparatorLine struct {
	ID LineID `json:"id"`
}

func (l UserLine) LineID() LineID        { return l.ID }
func (l ReasoningLine) LineID() LineID   { return l.ID }
func (l AssistantLine) LineID() LineID   { return l.ID }
func (l ToolCallLine) LineID() LineID    { return l.ID }
func (l ErrorLine) LineID() LineID       { return l.ID }
func (l CommandLine) LineID() LineID     { return l.ID }
func (l BashCommandLine) LineID() LineID { return l.ID }
func (l StatusLine) LineID() LineID      { return l.ID }
func (l SeparatorLine) LineID() LineID   { return l.ID }

func (UserLine) Kind() LineKind        { return KindUser }
func (ReasoningLine) Kind() LineKind   { return KindReasoning }
func (AssistantLine) Kind() LineKind   { return KindAssistant }
func (ToolCallLine) Kind() LineKind    { return KindToolCall }
func (ErrorLine) Kind() LineKind       { return KindError }
func (CommandLine) Kind() LineKind     { return KindCommand }
func (BashCommandLine) Kind() LineKind { return KindBashCommand }
func (StatusLine) Kind() LineKind      { return KindStatus }
func (SeparatorLine) Kind() LineKind   { return KindSeparator }

func (UserLine) isLine()        {}
func (ReasoningLine) isLine()   {}
func (AssistantLine) isLine()   {}
func (ToolCallLine) isLine()    {}
func (ErrorLine) isLine()       {}
func (CommandLine) isLine()     {}
func (BashCommandLine) isLine() {}
func (StatusLine) isLine()      {}
func (SeparatorLine) isLine()   {}

// IsStreamingText reports whether line is a reasoning or assistant line still streaming.
func IsStreamingText(line Line) bool {
	switch l := line.(type) {
	case ReasoningLine:
		return l.Phase == PhaseStreaming
	case AssistantLine:
		return l.Phase == PhaseStreaming
	}
	return false
}

// OutputLine is one completed line of live output.
type OutputLine struct {
	Text   string `json:"text"`
	Stderr bool   `json:"stderr,omitempty"`
}

// OutputTailLines bounds the number of completed lines kept in an OutputWindow.
const OutputTailLines = 5

// OutputCharCap bounds the accumulation buffer of an OutputWindow.
const OutputCharCap = 100000

// OutputWindow is a bounded tail of live shell-like output.
// Buffer holds the pending partial line; Tail holds the most recent completed lines.
type OutputWindow struct {
	Tail          []OutputLine `json:"tail,omitempty"`
	Buffer        string       `json:"buffer,omitempty"`
	PartialStderr bool         `json:"partial_stderr,omitempty"`
	TotalLines    int          `json:"total_lines"`
	StartedAt     time.Time    `json:"started_at"`
}
