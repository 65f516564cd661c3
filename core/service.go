package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/transcriptx/internal/logx"
	"pkt.systems/transcriptx/internal/metrics"
	"pkt.systems/transcriptx/internal/persist"
	"pkt.systems/transcriptx/schema"
	"pkt.systems/transcriptx/transcript"
)

// service implements the core service behavior.
type service struct {
	cfg      schema.ServiceConfig
	sink     EventSink
	store    *persist.Store
	metrics  *metrics.Recorder
	logger   pslog.Logger
	now      func() time.Time
	mu       sync.Mutex
	sessions map[schema.SessionID]*session
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	var store *persist.Store
	if cfg.StateDir != "" {
		store, err = persist.NewStoreWithLogger(cfg.StateDir, logger)
		if err != nil {
			return nil, err
		}
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		cfg:      cfg,
		sink:     deps.EventSink,
		store:    store,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      now,
		sessions: make(map[schema.SessionID]*session),
	}, nil
}

func (s *service) engineOptions(extra ...transcript.Option) []transcript.Option {
	opts := []transcript.Option{transcript.WithClock(s.now)}
	if s.cfg.Correlator == schema.CorrelatorDirect {
		opts = append(opts, transcript.WithCorrelator(transcript.DirectCorrelator{}))
	}
	return append(opts, extra...)
}

func (s *service) OpenSession(ctx context.Context, req schema.OpenSessionRequest) (schema.OpenSessionResponse, error) {
	if ctx == nil {
		return schema.OpenSessionResponse{}, errors.New("missing context")
	}
	id := req.SessionID
	if id == "" {
		id = newSessionID()
	}
	id, err := normalizeSessionID(id)
	if err != nil {
		return schema.OpenSessionResponse{}, err
	}
	log := logx.WithSession(ctx, id)

	engine := transcript.New(s.engineOptions()...)
	createdAt := s.now().UTC()
	restored := false
	if req.Restore {
		if s.store == nil {
			return schema.OpenSessionResponse{}, schema.ErrStoreUnavailable
		}
		snapshot, ok, err := s.store.Load(id)
		if err != nil {
			log.Warn("service session restore failed", "err", err)
			return schema.OpenSessionResponse{}, err
		}
		if ok {
			lines, err := snapshot.Transcript()
			if err != nil {
				log.Warn("service session restore failed", "err", err)
				return schema.OpenSessionResponse{}, err
			}
			engine = transcript.Restore(lines, s.engineOptions(
				transcript.WithAbortGeneration(snapshot.AbortGeneration),
				transcript.WithCounters(snapshot.Usage, snapshot.Chars),
			)...)
			if !snapshot.CreatedAt.IsZero() {
				createdAt = snapshot.CreatedAt
			}
			restored = true
		}
	}

	s.mu.Lock()
	if _, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		return schema.OpenSessionResponse{}, schema.ErrSessionExists
	}
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		log.Warn("service session open rejected", "max_sessions", s.cfg.MaxSessions)
		return schema.OpenSessionResponse{}, fmt.Errorf("max sessions %d reached: %w", s.cfg.MaxSessions, schema.ErrInvalidRequest)
	}
	sess := newSession(id, createdAt, engine)
	s.sessions[id] = sess
	s.mu.Unlock()

	s.metrics.SessionOpened()
	snapshot := sess.Snapshot()
	log.Info("service session open", "restored", restored, "lines", snapshot.Lines)
	sess.mu.Lock()
	s.notify(sess)
	sess.mu.Unlock()
	return schema.OpenSessionResponse{Session: snapshot, Restored: restored}, nil
}

func (s *service) CloseSession(ctx context.Context, req schema.CloseSessionRequest) (schema.CloseSessionResponse, error) {
	if ctx == nil {
		return schema.CloseSessionResponse{}, errors.New("missing context")
	}
	id, err := normalizeSessionID(req.SessionID)
	if err != nil {
		return schema.CloseSessionResponse{}, err
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return schema.CloseSessionResponse{}, schema.ErrSessionNotFound
	}
	log := logx.WithSession(ctx, id)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	engine := sess.Engine()
	persisted := false
	var persistErr error
	if s.cfg.Persist && s.store != nil {
		persistErr = s.save(sess, engine)
		s.metrics.SnapshotSaved(persistErr)
		persisted = persistErr == nil
	}
	snapshot := sess.Snapshot()
	s.metrics.SessionClosed()
	if s.sink != nil {
		event := sess.refresh()
		event.Closed = true
		s.sink.OnRefresh(event)
	}
	if persistErr != nil {
		log.Warn("service session close persist failed", "err", persistErr)
		return schema.CloseSessionResponse{Session: snapshot}, persistErr
	}
	log.Info("service session close", "lines", snapshot.Lines, "persisted", persisted)
	return schema.CloseSessionResponse{Session: snapshot, Persisted: persisted}, nil
}

func (s *service) save(sess *session, engine *transcript.Engine) error {
	info := sess.Snapshot()
	snapshot, err := persist.NewSessionSnapshot(info, engine.Project())
	if err != nil {
		return err
	}
	return s.store.Save(sess.ID, snapshot)
}

func (s *service) ResetSession(ctx context.Context, req schema.ResetSessionRequest) (schema.ResetSessionResponse, error) {
	if ctx == nil {
		return schema.ResetSessionResponse{}, errors.New("missing context")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.ResetSessionResponse{}, err
	}
	log := logx.WithSession(ctx, sess.ID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	old := sess.Engine()
	leftovers := old.CancelIncomplete(false)
	st := old.State()
	next := transcript.New(s.engineOptions(
		transcript.WithAbortGeneration(st.AbortGeneration()),
		transcript.WithCommitGeneration(st.CommitGeneration()+1),
	)...)
	sess.engine.Store(next)
	s.notify(sess)
	log.Info("service session reset", "finished", leftovers)
	return schema.ResetSessionResponse{Session: sess.Snapshot()}, nil
}

func (s *service) ListSessions(ctx context.Context, _ schema.ListSessionsRequest) (schema.ListSessionsResponse, error) {
	if ctx == nil {
		return schema.ListSessionsResponse{}, errors.New("missing context")
	}
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	out := make([]schema.SessionSnapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Snapshot())
	}
	return schema.ListSessionsResponse{Sessions: out}, nil
}

func (s *service) Ingest(ctx context.Context, req schema.IngestRequest) (schema.IngestResponse, error) {
	if ctx == nil {
		return schema.IngestResponse{}, errors.New("missing context")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.IngestResponse{}, err
	}
	log := logx.WithSession(ctx, sess.ID)
	var (
		resp    schema.IngestResponse
		batch   ingestBatch
		stopErr error
	)
	for _, ev := range req.Events {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		// The lock is released between events so a concurrent Cancel lands
		// before the next event is applied.
		res := batch.apply(sess, ev)
		s.metrics.Event(string(ev.Kind), string(res.Outcome))
		switch res.Outcome {
		case transcript.OutcomeApplied:
			resp.Applied++
			logx.WithStream(log, ev.StreamID).Trace("service ingest applied", "kind", ev.Kind, "lines", res.Lines)
		case transcript.OutcomeDropped:
			resp.Dropped++
			s.metrics.Dropped(string(res.Reason))
			logx.WithStream(log, ev.StreamID).Debug("service ingest dropped", "kind", ev.Kind, "reason", res.Reason)
		default:
			resp.Ignored++
			log.Trace("service ingest ignored", "kind", ev.Kind)
		}
		if len(res.Orphans) > 0 {
			s.metrics.Orphans(len(res.Orphans))
			resp.Orphans = append(resp.Orphans, res.Orphans...)
			for _, orphan := range res.Orphans {
				logx.WithToolCall(log, orphan).Debug("service ingest orphan tool return")
			}
		}
	}
	s.metrics.Chars(batch.chars)
	if batch.changed {
		s.notify(sess)
	}
	resp.CommitGeneration = sess.Engine().State().CommitGeneration()
	return resp, stopErr
}

// ingestBatch accumulates the effect of a batch applied one event at a time.
type ingestBatch struct {
	changed bool
	chars   int64
}

func (b *ingestBatch) apply(sess *session, ev schema.Event) transcript.Result {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	engine := sess.Engine()
	st := engine.State()
	gen, chars := st.CommitGeneration(), st.Chars()
	res := engine.Ingest(ev)
	if st.CommitGeneration() != gen {
		b.changed = true
	}
	b.chars += st.Chars() - chars
	return res
}

func (s *service) MarkRunning(ctx context.Context, req schema.MarkRunningRequest) (schema.MarkRunningResponse, error) {
	if ctx == nil {
		return schema.MarkRunningResponse{}, errors.New("missing context")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.MarkRunningResponse{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	changed := sess.Engine().MarkRunning(req.ToolCallIDs...)
	if changed > 0 {
		s.notify(sess)
	}
	logx.WithSession(ctx, sess.ID).Trace("service mark running", "requested", len(req.ToolCallIDs), "changed", changed)
	return schema.MarkRunningResponse{Changed: changed}, nil
}

func (s *service) Cancel(ctx context.Context, req schema.CancelRequest) (schema.CancelResponse, error) {
	if ctx == nil {
		return schema.CancelResponse{}, errors.New("missing context")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.CancelResponse{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	engine := sess.Engine()
	finished := engine.CancelIncomplete(true)
	s.metrics.Cancelled()
	s.notify(sess)
	abortGen := engine.State().AbortGeneration()
	logx.WithSession(ctx, sess.ID).Info("service session cancel", "finished", finished, "abort_gen", abortGen)
	return schema.CancelResponse{Finished: finished, AbortGeneration: abortGen}, nil
}

func (s *service) AppendOutput(ctx context.Context, req schema.AppendOutputRequest) (schema.AppendOutputResponse, error) {
	if ctx == nil {
		return schema.AppendOutputResponse{}, errors.New("missing context")
	}
	if (req.ToolCallID == "") == (req.LineID == "") {
		return schema.AppendOutputResponse{}, schema.ErrInvalidRequest
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.AppendOutputResponse{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	engine := sess.Engine()
	accepted := false
	if req.ToolCallID != "" {
		accepted = engine.AppendToolOutput(req.ToolCallID, req.Chunk, req.Stderr)
	} else {
		before := engine.State().CommitGeneration()
		if err := engine.AppendCommandOutput(req.LineID, req.Chunk, req.Stderr); err != nil {
			return schema.AppendOutputResponse{}, err
		}
		accepted = engine.State().CommitGeneration() != before
	}
	if accepted {
		s.notify(sess)
	}
	return schema.AppendOutputResponse{Accepted: accepted}, nil
}

func (s *service) AddLocalLine(ctx context.Context, req schema.AddLocalLineRequest) (schema.AddLocalLineResponse, error) {
	if ctx == nil {
		return schema.AddLocalLineResponse{}, errors.New("missing context")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.AddLocalLineResponse{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	engine := sess.Engine()
	var id schema.LineID
	switch req.Kind {
	case schema.KindUser:
		id = engine.AddUser(req.Text)
	case schema.KindError:
		id = engine.AddError(req.Text)
	case schema.KindStatus:
		id = engine.AddStatus(req.Lines...)
	case schema.KindSeparator:
		id = engine.AddSeparator()
	case schema.KindCommand:
		id = engine.StartCommand(req.Text, false)
	case schema.KindBashCommand:
		id = engine.StartCommand(req.Text, true)
	default:
		return schema.AddLocalLineResponse{}, fmt.Errorf("local line kind %q: %w", req.Kind, schema.ErrInvalidRequest)
	}
	s.notify(sess)
	logx.WithSession(ctx, sess.ID).Debug("service local line", "kind", req.Kind, "line", id)
	return schema.AddLocalLineResponse{LineID: id}, nil
}

func (s *service) FinishCommand(ctx context.Context, req schema.FinishCommandRequest) (schema.FinishCommandResponse, error) {
	if ctx == nil {
		return schema.FinishCommandResponse{}, errors.New("missing context")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.FinishCommandResponse{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.Engine().FinishCommand(req.LineID, req.Output, req.OK); err != nil {
		return schema.FinishCommandResponse{}, err
	}
	s.notify(sess)
	return schema.FinishCommandResponse{}, nil
}

// GetTranscript reads without taking the session lock.
func (s *service) GetTranscript(ctx context.Context, req schema.GetTranscriptRequest) (schema.GetTranscriptResponse, error) {
	if ctx == nil {
		return schema.GetTranscriptResponse{}, errors.New("missing context")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.GetTranscriptResponse{}, err
	}
	engine := sess.Engine()
	return schema.GetTranscriptResponse{Session: sess.Snapshot(), Lines: engine.Project()}, nil
}

func (s *service) lookup(id schema.SessionID) (*session, error) {
	id, err := normalizeSessionID(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, schema.ErrSessionNotFound
	}
	return sess, nil
}

// notify must be called with sess.mu held.
func (s *service) notify(sess *session) {
	if s.sink == nil {
		return
	}
	s.sink.OnRefresh(sess.refresh())
}
