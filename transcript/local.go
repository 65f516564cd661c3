package transcript

import (
	"pkt.systems/transcriptx/schema"
)

// Local lines are produced by collaborators on this side of the stream (input
// handling, slash commands, shell mode). They never pass through the correlator.

// AddUser appends a user input line.
func (e *Engine) AddUser(text string) schema.LineID {
	return e.addLocal(func(id schema.LineID) schema.Line {
		return schema.UserLine{ID: id, Text: text}
	})
}

// AddError appends an error line.
func (e *Engine) AddError(text string) schema.LineID {
	return e.addLocal(func(id schema.LineID) schema.Line {
		return schema.ErrorLine{ID: id, Text: text}
	})
}

// AddStatus appends a status line.
func (e *Engine) AddStatus(lines ...string) schema.LineID {
	copied := append([]string(nil), lines...)
	return e.addLocal(func(id schema.LineID) schema.Line {
		return schema.StatusLine{ID: id, Lines: copied}
	})
}

// AddSeparator appends a turn separator.
func (e *Engine) AddSeparator() schema.LineID {
	return e.addLocal(func(id schema.LineID) schema.Line {
		return schema.SeparatorLine{ID: id}
	})
}

// StartCommand appends a running command line. bash selects a shell command.
func (e *Engine) StartCommand(input string, bash bool) schema.LineID {
	return e.addLocal(func(id schema.LineID) schema.Line {
		if bash {
			return schema.BashCommandLine{ID: id, Input: input, Phase: schema.PhaseRunning}
		}
		return schema.CommandLine{ID: id, Input: input, Phase: schema.PhaseRunning}
	})
}

// FinishCommand records the final output of a command line.
func (e *Engine) FinishCommand(id schema.LineID, output string, ok bool) error {
	st := e.st
	line, found := st.Lookup(id)
	if !found {
		return schema.ErrLineNotFound
	}
	switch l := line.(type) {
	case schema.CommandLine:
		l.Output, l.OK, l.Phase = output, ok, schema.PhaseFinished
		st.Replace(id, l)
	case schema.BashCommandLine:
		l.Output, l.OK, l.Phase = output, ok, schema.PhaseFinished
		st.Replace(id, l)
	default:
		return schema.ErrNotCommandLine
	}
	st.commit()
	return nil
}

func (e *Engine) addLocal(factory func(schema.LineID) schema.Line) schema.LineID {
	id := e.st.nextLocalID()
	e.st.EnsureLine(id, factory)
	e.st.commit()
	return id
}
