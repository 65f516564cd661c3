package transcript

import (
	"strings"
	"unicode/utf8"

	"pkt.systems/transcriptx/schema"
)

// AppendOutput returns w with chunk appended. The input window is not modified.
//
// A pending partial line from the other stream is flushed first, so stdout and stderr
// bytes never share a line. When the buffer grows past schema.OutputCharCap it is
// trimmed from the front up to the next line boundary; a single line longer than the
// cap keeps its last OutputCharCap bytes, cut on a rune boundary.
func AppendOutput(w schema.OutputWindow, chunk string, stderr bool) schema.OutputWindow {
	tail := append(make([]schema.OutputLine, 0, len(w.Tail)+1), w.Tail...)
	out := schema.OutputWindow{
		Buffer:        w.Buffer,
		PartialStderr: w.PartialStderr,
		TotalLines:    w.TotalLines,
		StartedAt:     w.StartedAt,
	}
	if out.Buffer != "" && out.PartialStderr != stderr {
		tail = pushTail(tail, schema.OutputLine{Text: out.Buffer, Stderr: out.PartialStderr})
		out.TotalLines++
		out.Buffer = ""
	}
	if chunk == "" {
		out.Tail = compactTail(tail)
		return out
	}
	buf := out.Buffer + chunk
	out.PartialStderr = stderr
	if len(buf) > schema.OutputCharCap {
		var dropped int
		buf, dropped = trimFront(buf, schema.OutputCharCap)
		out.TotalLines += dropped
	}
	lines := strings.Split(buf, "\n")
	for _, text := range lines[:len(lines)-1] {
		tail = pushTail(tail, schema.OutputLine{Text: strings.TrimSuffix(text, "\r"), Stderr: stderr})
		out.TotalLines++
	}
	out.Buffer = lines[len(lines)-1]
	out.Tail = compactTail(tail)
	return out
}

// trimFront cuts buf to at most limit bytes and reports how many complete lines
// were discarded.
func trimFront(buf string, limit int) (string, int) {
	excess := len(buf) - limit
	if buf[excess-1] == '\n' {
		return buf[excess:], strings.Count(buf[:excess], "\n")
	}
	if idx := strings.IndexByte(buf[excess:], '\n'); idx >= 0 {
		cut := excess + idx + 1
		return buf[cut:], strings.Count(buf[:cut], "\n")
	}
	cut := excess
	for cut < len(buf) && !utf8.RuneStart(buf[cut]) {
		cut++
	}
	return buf[cut:], strings.Count(buf[:cut], "\n")
}

func pushTail(tail []schema.OutputLine, line schema.OutputLine) []schema.OutputLine {
	tail = append(tail, line)
	if len(tail) > schema.OutputTailLines {
		tail = tail[len(tail)-schema.OutputTailLines:]
	}
	return tail
}

func compactTail(tail []schema.OutputLine) []schema.OutputLine {
	if len(tail) == 0 {
		return nil
	}
	out := make([]schema.OutputLine, len(tail))
	copy(out, tail)
	return out
}

// AppendToolOutput feeds live output into the window of the tool call bound to
// toolCallID. Output for unknown or finished calls is discarded.
func (e *Engine) AppendToolOutput(toolCallID, chunk string, stderr bool) bool {
	st := e.st
	id, ok := st.Bound(toolCallID)
	if !ok {
		return false
	}
	line, _ := st.Lookup(id)
	tool, ok := line.(schema.ToolCallLine)
	if !ok || tool.Phase == schema.PhaseFinished {
		return false
	}
	next := AppendOutput(e.windowOf(tool.Output), chunk, stderr)
	tool.Output = &next
	st.Replace(id, tool)
	st.commit()
	return true
}

// AppendCommandOutput feeds live output into a running command or bash command line.
func (e *Engine) AppendCommandOutput(id schema.LineID, chunk string, stderr bool) error {
	st := e.st
	line, ok := st.Lookup(id)
	if !ok {
		return schema.ErrLineNotFound
	}
	switch l := line.(type) {
	case schema.CommandLine:
		if l.Phase == schema.PhaseFinished {
			return nil
		}
		next := AppendOutput(e.windowOf(l.Window), chunk, stderr)
		l.Window = &next
		st.Replace(id, l)
	case schema.BashCommandLine:
		if l.Phase == schema.PhaseFinished {
			return nil
		}
		next := AppendOutput(e.windowOf(l.Window), chunk, stderr)
		l.Window = &next
		st.Replace(id, l)
	default:
		return schema.ErrNotCommandLine
	}
	st.commit()
	return nil
}

func (e *Engine) windowOf(w *schema.OutputWindow) schema.OutputWindow {
	if w != nil {
		return *w
	}
	return schema.OutputWindow{StartedAt: e.now()}
}
