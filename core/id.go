package core

import (
	"strings"

	"github.com/google/uuid"

	"pkt.systems/transcriptx/schema"
)

func newSessionID() schema.SessionID {
	return schema.SessionID(uuid.NewString())
}

func normalizeSessionID(id schema.SessionID) (schema.SessionID, error) {
	trimmed := strings.TrimSpace(string(id))
	if !schema.ValidSessionID(schema.SessionID(trimmed)) {
		return "", schema.ErrInvalidSession
	}
	return schema.SessionID(trimmed), nil
}
