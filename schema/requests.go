package schema

import "time"

// Session lifecycle.

// OpenSessionRequest describes a request to open a session.
type OpenSessionRequest struct {
	// SessionID is optional; an id is generated when empty.
	SessionID SessionID
	// Restore loads the last persisted snapshot when one exists.
	Restore bool
}

// OpenSessionResponse reports the opened session.
type OpenSessionResponse struct {
	Session  SessionSnapshot
	Restored bool
}

// CloseSessionRequest describes a request to close a session.
type CloseSessionRequest struct {
	SessionID SessionID
}

// CloseSessionResponse reports the final session snapshot.
type CloseSessionResponse struct {
	Session   SessionSnapshot
	Persisted bool
}

// ResetSessionRequest describes a request to replace a session's transcript with an
// empty one.
type ResetSessionRequest struct {
	SessionID SessionID
}

// ResetSessionResponse reports the session after the reset.
type ResetSessionResponse struct {
	Session SessionSnapshot
}

// ListSessionsRequest describes a request to list open sessions.
type ListSessionsRequest struct{}

// ListSessionsResponse reports open sessions ordered by id.
type ListSessionsResponse struct {
	Sessions []SessionSnapshot
}

// Stream input.

// IngestRequest carries backend events for one session.
type IngestRequest struct {
	SessionID SessionID
	Events    []Event
}

// IngestResponse summarizes how the events were applied.
type IngestResponse struct {
	Applied int
	Dropped int
	Ignored int
	// Orphans lists tool-call ids of tool returns that matched no call.
	Orphans          []string
	CommitGeneration uint64
}

// MarkRunningRequest lists tool calls about to be executed.
type MarkRunningRequest struct {
	SessionID   SessionID
	ToolCallIDs []string
}

// MarkRunningResponse reports how many lines changed.
type MarkRunningResponse struct {
	Changed int
}

// CancelRequest describes a user interrupt.
type CancelRequest struct {
	SessionID SessionID
}

// CancelResponse reports the interrupt result.
type CancelResponse struct {
	Finished        int
	AbortGeneration uint64
}

// AppendOutputRequest carries live output for a running tool call or command line.
// Exactly one of ToolCallID and LineID is set.
type AppendOutputRequest struct {
	SessionID  SessionID
	ToolCallID string
	LineID     LineID
	Chunk      string
	Stderr     bool
}

// AppendOutputResponse reports whether the chunk was accepted.
type AppendOutputResponse struct {
	Accepted bool
}

// AddLocalLineRequest describes a locally produced line. Kind selects the variant;
// Text feeds user, error and command lines; Lines feeds status lines. Command kinds
// start in the running phase.
type AddLocalLineRequest struct {
	SessionID SessionID
	Kind      LineKind
	Text      string
	Lines     []string
}

// AddLocalLineResponse reports the identifier of the added line.
type AddLocalLineResponse struct {
	LineID LineID
}

// FinishCommandRequest records the final state of a command line.
type FinishCommandRequest struct {
	SessionID SessionID
	LineID    LineID
	Output    string
	OK        bool
}

// FinishCommandResponse is empty on success.
type FinishCommandResponse struct{}

// Reads.

// GetTranscriptRequest describes a request for a session projection.
type GetTranscriptRequest struct {
	SessionID SessionID
}

// GetTranscriptResponse carries the ordered projection and counters.
type GetTranscriptResponse struct {
	Session SessionSnapshot
	Lines   []Line
}

// SessionSnapshot is a point-in-time summary of a session.
type SessionSnapshot struct {
	ID               SessionID `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	Lines            int       `json:"lines"`
	Chars            int64     `json:"chars"`
	Usage            Usage     `json:"usage"`
	Interrupted      bool      `json:"interrupted"`
	CommitGeneration uint64    `json:"commit_generation"`
	AbortGeneration  uint64    `json:"abort_generation"`
}

// RefreshEvent signals that a session transcript changed. Consumers compare the
// generations with the latest they know to discard stale refreshes.
type RefreshEvent struct {
	SessionID        SessionID `json:"session_id"`
	CommitGeneration uint64    `json:"commit_generation"`
	AbortGeneration  uint64    `json:"abort_generation"`
	// Closed is set on the last event of a session.
	Closed bool `json:"closed,omitempty"`
}
