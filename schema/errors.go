package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidSession indicates an invalid session identifier.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionNotFound indicates a requested session could not be found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates a session with the same id is already open.
	ErrSessionExists = errors.New("session already exists")
	// ErrLineNotFound indicates a transcript line could not be found.
	ErrLineNotFound = errors.New("line not found")
	// ErrNotCommandLine indicates the line is not a command or bash command.
	ErrNotCommandLine = errors.New("line is not a command")
	// ErrUnknownLineKind indicates a persisted line record has an unknown kind.
	ErrUnknownLineKind = errors.New("unknown line kind")
	// ErrStoreUnavailable indicates no snapshot store is configured.
	ErrStoreUnavailable = errors.New("snapshot store not configured")
)
