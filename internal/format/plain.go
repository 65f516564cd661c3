package format

import (
	"fmt"
	"strings"

	"pkt.systems/transcriptx/schema"
)

// Line markers prefix every text row of the matching line kind.
const (
	UserMarker      = "> "
	ReasoningMarker = "~ "
	AssistantMarker = "* "
	ToolMarker      = "# "
	ErrorMarker     = "! "
	CommandMarker   = "$ "
	StatusMarker    = "- "
	Separator       = "----"
)

// PlainRenderer formats transcript lines as plain text rows.
type PlainRenderer struct {
	// ShowPhase appends the lifecycle phase to streamed and executed lines.
	ShowPhase bool
}

// NewPlainRenderer returns a default plain-text renderer.
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{}
}

// Render converts a projection into rows, in order.
func (p *PlainRenderer) Render(lines []schema.Line) []string {
	var out []string
	for _, line := range lines {
		out = append(out, p.FormatLine(line)...)
	}
	return out
}

// FormatLine converts one transcript line into rows.
func (p *PlainRenderer) FormatLine(line schema.Line) []string {
	switch l := line.(type) {
	case schema.UserLine:
		return markLines(UserMarker, splitLines(l.Text))
	case schema.ReasoningLine:
		return p.withPhase(markLines(ReasoningMarker, splitLines(l.Text)), l.Phase)
	case schema.AssistantLine:
		return p.withPhase(markLines(AssistantMarker, splitLines(l.Text)), l.Phase)
	case schema.ToolCallLine:
		return formatToolCall(l, p.ShowPhase)
	case schema.ErrorLine:
		return markLines(ErrorMarker, splitLines(l.Text))
	case schema.CommandLine:
		return formatCommand("/", l.Input, l.Output, l.OK, l.Phase, l.Window)
	case schema.BashCommandLine:
		return formatCommand(CommandMarker, l.Input, l.Output, l.OK, l.Phase, l.Window)
	case schema.StatusLine:
		return markLines(StatusMarker, l.Lines)
	case schema.SeparatorLine:
		return []string{Separator}
	case nil:
		return nil
	default:
		return []string{fmt.Sprintf("%s line", line.Kind())}
	}
}

func (p *PlainRenderer) withPhase(lines []string, phase schema.Phase) []string {
	if !p.ShowPhase || len(lines) == 0 {
		return lines
	}
	lines[len(lines)-1] += fmt.Sprintf(" [%s]", phase)
	return lines
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func markLines(marker string, lines []string) []string {
	if marker == "" || len(lines) == 0 {
		return lines
	}
	marked := make([]string, 0, len(lines))
	for _, line := range lines {
		marked = append(marked, marker+line)
	}
	return marked
}

func formatToolCall(l schema.ToolCallLine, showPhase bool) []string {
	name := l.Name
	if name == "" {
		name = "tool"
	}
	head := ToolMarker + name
	if l.Args != "" {
		head += " " + l.Args
	}
	if showPhase {
		head += fmt.Sprintf(" [%s]", l.Phase)
	}
	lines := []string{head}
	if l.Output != nil && l.Phase != schema.PhaseFinished {
		lines = append(lines, windowLines(*l.Output)...)
	}
	if l.Phase == schema.PhaseFinished {
		status := "ok"
		if !l.ResultOK {
			status = "failed"
		}
		result := splitLines(strings.TrimRight(l.Result, "\n"))
		if len(result) == 0 {
			lines = append(lines, fmt.Sprintf("  => %s", status))
		} else {
			lines = append(lines, fmt.Sprintf("  => %s: %s", status, result[0]))
			for _, row := range result[1:] {
				lines = append(lines, "     "+row)
			}
		}
	}
	return lines
}

func formatCommand(marker, input, output string, ok bool, phase schema.Phase, window *schema.OutputWindow) []string {
	lines := []string{marker + input}
	if phase != schema.PhaseFinished {
		if window != nil {
			lines = append(lines, windowLines(*window)...)
		}
		return lines
	}
	if output != "" {
		outputLines := strings.Split(strings.TrimRight(output, "\n"), "\n")
		if len(outputLines) > 0 && outputLines[0] == marker+input {
			outputLines = outputLines[1:]
		}
		lines = append(lines, outputLines...)
	}
	if !ok {
		lines = append(lines, "(failed)")
	}
	return lines
}

func windowLines(w schema.OutputWindow) []string {
	var lines []string
	if hidden := w.TotalLines - len(w.Tail); hidden > 0 {
		lines = append(lines, fmt.Sprintf("  ... %d earlier lines", hidden))
	}
	for _, row := range w.Tail {
		prefix := "  | "
		if row.Stderr {
			prefix = "  ! "
		}
		lines = append(lines, prefix+row.Text)
	}
	if w.Buffer != "" {
		lines = append(lines, "  | "+w.Buffer)
	}
	return lines
}
