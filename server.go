package transcriptx

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"
	"pkt.systems/transcriptx/core"
	"pkt.systems/transcriptx/httpapi"
	"pkt.systems/transcriptx/internal/eventbus"
	"pkt.systems/transcriptx/internal/logx"
	"pkt.systems/transcriptx/internal/metrics"
	"pkt.systems/transcriptx/internal/wire"
	"pkt.systems/transcriptx/schema"
)

// Server composes the transcript service with its HTTP API and file followers.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Service() core.Service
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service  schema.ServiceConfig
	HTTP     httpapi.Config
	BusDepth int
}

// FollowSource binds a JSONL event file to a session.
type FollowSource struct {
	Path      string
	SessionID schema.SessionID
	// FromEnd skips events already in the file.
	FromEnd bool
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
	// Registry receives the service collectors and backs /metrics. A fresh registry
	// is used when nil.
	Registry *prometheus.Registry
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP bool
	follow     []FollowSource
}

// WithHTTP enables the HTTP API server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithFollow tails a JSONL event file into a session.
func WithFollow(src FollowSource) ServerOption {
	return func(o *serverOptions) { o.follow = append(o.follow, src) }
}

// New constructs a composable transcript server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && len(options.follow) == 0 {
		return nil, errors.New("no services enabled")
	}
	for _, src := range options.follow {
		if src.Path == "" {
			return nil, errors.New("follow source requires a path")
		}
	}

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	serviceDeps := deps.ServiceDeps
	if serviceDeps.Metrics == nil {
		serviceDeps.Metrics = metrics.New(registry)
	}
	busOpts := []eventbus.Option{eventbus.WithDropCounter(serviceDeps.Metrics)}
	if cfg.BusDepth > 0 {
		busOpts = append(busOpts, eventbus.WithDepth(cfg.BusDepth))
	}
	bus := eventbus.New(serviceDeps.Logger, busOpts...)
	if serviceDeps.EventSink == nil {
		serviceDeps.EventSink = bus
	} else if serviceDeps.EventSink != bus {
		serviceDeps.EventSink = eventFanout{sinks: []core.EventSink{serviceDeps.EventSink, bus}}
	}

	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		return nil, err
	}

	var httpSrv *httpapi.Server
	if options.enableHTTP {
		httpSrv = httpapi.NewServer(cfg.HTTP, service, bus, registry)
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		metrics: serviceDeps.Metrics,
		httpSrv: httpSrv,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service core.Service
	metrics *metrics.Recorder
	httpSrv *httpapi.Server
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

func (s *compositeServer) Service() core.Service {
	return s.service
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(s.ctx)
	s.group = group
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info("server start", "http", s.options.enableHTTP, "http_addr", s.cfg.HTTP.Addr, "follow", len(s.options.follow))

	for _, src := range s.options.follow {
		sessionID, err := s.openFollowSession(groupCtx, src)
		if err != nil {
			s.cancel()
			return err
		}
		src.SessionID = sessionID
		items, err := wire.Follow(groupCtx, src.Path, wire.FollowOptions{FromEnd: src.FromEnd})
		if err != nil {
			s.cancel()
			return err
		}
		group.Go(func() error {
			return s.ingestFollowed(groupCtx, src, items)
		})
	}
	if s.options.enableHTTP && s.httpSrv != nil {
		group.Go(func() error {
			if err := httpapi.ListenAndServe(groupCtx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				return err
			}
			return nil
		})
	}
	return nil
}

func (s *compositeServer) openFollowSession(ctx context.Context, src FollowSource) (schema.SessionID, error) {
	resp, err := s.service.OpenSession(ctx, schema.OpenSessionRequest{SessionID: src.SessionID, Restore: s.cfg.Service.Persist && src.SessionID != ""})
	if err != nil {
		return "", err
	}
	logx.WithSession(ctx, resp.Session.ID).Info("server follow start", "path", src.Path, "restored", resp.Restored)
	return resp.Session.ID, nil
}

// ingestFollowed feeds followed events into the session, batching whatever is
// already queued.
func (s *compositeServer) ingestFollowed(ctx context.Context, src FollowSource, items <-chan wire.Item) error {
	log := logx.WithSession(ctx, src.SessionID).With("path", src.Path)
	const maxBatch = 64
	for {
		var batch []schema.Event
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-items:
			if !ok {
				log.Info("server follow stopped")
				return nil
			}
			batch = s.collect(log, batch, item)
		}
	drain:
		for len(batch) < maxBatch {
			select {
			case item, ok := <-items:
				if !ok {
					break drain
				}
				batch = s.collect(log, batch, item)
			default:
				break drain
			}
		}
		if len(batch) == 0 {
			continue
		}
		if _, err := s.service.Ingest(ctx, schema.IngestRequest{SessionID: src.SessionID, Events: batch}); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, schema.ErrSessionNotFound) {
				log.Info("server follow stopped", "reason", "session closed")
				return nil
			}
			return err
		}
	}
}

func (s *compositeServer) collect(log pslog.Logger, batch []schema.Event, item wire.Item) []schema.Event {
	if item.Err != nil {
		s.metrics.DecodeFailed()
		log.Warn("server follow decode failed", "line", item.Err.Number(), "err", item.Err)
		return batch
	}
	return append(batch, item.Event)
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	group := s.group
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	err := group.Wait()
	if err != nil {
		pslog.Ctx(ctx).Error("server stopped", "err", err)
		_ = s.Stop(context.Background())
	}
	return err
}

// Stop closes every open session, persisting them when configured, and cancels
// the server context.
func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	group := s.group
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	closed := s.closeSessions(log)
	log.Info("server sessions closed", "count", closed)
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}

func (s *compositeServer) closeSessions(log pslog.Logger) int {
	ctx := pslog.ContextWithLogger(context.Background(), log)
	list, err := s.service.ListSessions(ctx, schema.ListSessionsRequest{})
	if err != nil {
		log.Warn("server session list failed", "err", err)
		return 0
	}
	closed := 0
	for _, sess := range list.Sessions {
		if _, err := s.service.CloseSession(ctx, schema.CloseSessionRequest{SessionID: sess.ID}); err != nil {
			if !errors.Is(err, schema.ErrSessionNotFound) {
				log.Warn("server session close failed", "session", sess.ID, "err", err)
			}
			continue
		}
		closed++
	}
	return closed
}
