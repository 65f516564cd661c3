package schema

import (
	"encoding/json"
	"fmt"
)

// LineRecord is the tagged JSON form of a Line.
type LineRecord struct {
	Kind LineKind        `json:"kind"`
	Line json.RawMessage `json:"line"`
}

// EncodeLine wraps line in a LineRecord.
func EncodeLine(line Line) (LineRecord, error) {
	if line == nil {
		return LineRecord{}, fmt.Errorf("encode line: %w", ErrInvalidRequest)
	}
	data, err := json.Marshal(line)
	if err != nil {
		return LineRecord{}, fmt.Errorf("encode %s line: %w", line.Kind(), err)
	}
	return LineRecord{Kind: line.Kind(), Line: data}, nil
}

// DecodeLine restores the Line held by rec.
func DecodeLine(rec LineRecord) (Line, error) {
	switch rec.Kind {
	case KindUser:
		return decodeAs[UserLine](rec)
	case KindReasoning:
		return decodeAs[ReasoningLine](rec)
	case KindAssistant:
		return decodeAs[AssistantLine](rec)
	case KindToolCall:
		return decodeAs[ToolCallLine](rec)
	case KindError:
		return decodeAs[ErrorLine](rec)
	case KindCommand:
		return decodeAs[CommandLine](rec)
	case KindBashCommand:
		return decodeAs[BashCommandLine](rec)
	case KindStatus:
		return decodeAs[StatusLine](rec)
	case KindSeparator:
		return decodeAs[SeparatorLine](rec)
	default:
		return nil, fmt.Errorf("decode line %q: %w", rec.Kind, ErrUnknownLineKind)
	}
}

func decodeAs[T Line](rec LineRecord) (Line, error) {
	var line T
	if err := json.Unmarshal(rec.Line, &line); err != nil {
		return nil, fmt.Errorf("decode %s line: %w", rec.Kind, err)
	}
	return line, nil
}

// EncodeLines encodes lines in order.
func EncodeLines(lines []Line) ([]LineRecord, error) {
	out := make([]LineRecord, 0, len(lines))
	for _, line := range lines {
		rec, err := EncodeLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DecodeLines decodes records in order.
func DecodeLines(records []LineRecord) ([]Line, error) {
	out := make([]Line, 0, len(records))
	for _, rec := range records {
		line, err := DecodeLine(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}
