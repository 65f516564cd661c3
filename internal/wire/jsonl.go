// Package wire decodes backend stream events from JSON Lines input.
package wire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"pkt.systems/transcriptx/schema"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 8 << 20

var errLineTooLong = errors.New("jsonl line exceeds size limit")

// Stream reads one event per line. Blank lines are skipped.
type Stream struct {
	reader *bufio.Reader
	line   int
}

// DecodeError reports a line that is not a valid event. The stream stays usable.
type DecodeError struct {
	line   []byte
	number int
	err    error
}

func (e *DecodeError) Error() string {
	if e == nil || e.err == nil {
		return "jsonl decode error"
	}
	return e.err.Error()
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Line returns the raw undecodable line.
func (e *DecodeError) Line() []byte {
	if e == nil {
		return nil
	}
	return e.line
}

// Number returns the 1-based line number within the stream.
func (e *DecodeError) Number() int {
	if e == nil {
		return 0
	}
	return e.number
}

// NewStream wraps r.
func NewStream(r io.Reader) *Stream {
	return &Stream{reader: bufio.NewReader(r)}
}

// Next returns the next event. It returns io.EOF at the end of input and a
// *DecodeError for lines that do not decode.
func (s *Stream) Next(ctx context.Context) (schema.Event, error) {
	for {
		if ctx.Err() != nil {
			return schema.Event{}, ctx.Err()
		}
		line, err := s.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return schema.Event{}, err
		}
		s.line++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return schema.Event{}, err
			}
			continue
		}
		event, decodeErr := DecodeEvent(line)
		if decodeErr != nil {
			return schema.Event{}, &DecodeError{line: append([]byte(nil), line...), number: s.line, err: decodeErr}
		}
		return event, nil
	}
}

// DecodeEvent decodes one JSON event object.
func DecodeEvent(line []byte) (schema.Event, error) {
	if len(line) > maxLineBytes {
		return schema.Event{}, errLineTooLong
	}
	var event schema.Event
	if err := json.Unmarshal(line, &event); err != nil {
		return schema.Event{}, err
	}
	return event, nil
}

// ReadAll decodes every event in r. Decode errors are passed to onError and skipped;
// a nil onError stops at the first one.
func ReadAll(ctx context.Context, r io.Reader, onError func(*DecodeError)) ([]schema.Event, error) {
	stream := NewStream(r)
	var events []schema.Event
	for {
		event, err := stream.Next(ctx)
		if err == nil {
			events = append(events, event)
			continue
		}
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) && onError != nil {
			onError(decodeErr)
			continue
		}
		return events, err
	}
}
