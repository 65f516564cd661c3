package core

import (
	"context"

	"pkt.systems/transcriptx/schema"
)

// Service is the transport-agnostic API for managing transcript sessions.
type Service interface {
	OpenSession(ctx context.Context, req schema.OpenSessionRequest) (schema.OpenSessionResponse, error)
	CloseSession(ctx context.Context, req schema.CloseSessionRequest) (schema.CloseSessionResponse, error)
	ResetSession(ctx context.Context, req schema.ResetSessionRequest) (schema.ResetSessionResponse, error)
	ListSessions(ctx context.Context, req schema.ListSessionsRequest) (schema.ListSessionsResponse, error)
	Ingest(ctx context.Context, req schema.IngestRequest) (schema.IngestResponse, error)
	MarkRunning(ctx context.Context, req schema.MarkRunningRequest) (schema.MarkRunningResponse, error)
	Cancel(ctx context.Context, req schema.CancelRequest) (schema.CancelResponse, error)
	AppendOutput(ctx context.Context, req schema.AppendOutputRequest) (schema.AppendOutputResponse, error)
	AddLocalLine(ctx context.Context, req schema.AddLocalLineRequest) (schema.AddLocalLineResponse, error)
	FinishCommand(ctx context.Context, req schema.FinishCommandRequest) (schema.FinishCommandResponse, error)
	GetTranscript(ctx context.Context, req schema.GetTranscriptRequest) (schema.GetTranscriptResponse, error)
}
