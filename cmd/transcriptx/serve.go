package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/transcriptx"
	"pkt.systems/transcriptx/core"
	"pkt.systems/transcriptx/httpapi"
	"pkt.systems/transcriptx/internal/appconfig"
	"pkt.systems/transcriptx/schema"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var follow []string
	var fromEnd bool
	var noHTTP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve transcripts over HTTP and follow event files",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			var opts []transcriptx.ServerOption
			if !noHTTP {
				opts = append(opts, transcriptx.WithHTTP())
			}
			for _, spec := range follow {
				src, err := parseFollowSpec(spec)
				if err != nil {
					return err
				}
				src.FromEnd = fromEnd
				opts = append(opts, transcriptx.WithFollow(src))
			}

			server, err := transcriptx.New(transcriptx.ServerConfig{
				Service:  cfg.ServiceSettings(),
				HTTP:     httpapi.Config{Addr: cfg.HTTP.Addr, EnableMetrics: cfg.HTTP.EnableMetrics},
				BusDepth: cfg.Service.BusDepth,
			}, transcriptx.ServerDeps{
				ServiceDeps: core.ServiceDeps{Logger: logger},
			}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("serve start", "http", !noHTTP, "addr", cfg.HTTP.Addr, "state_dir", cfg.StateDir, "persist", cfg.Service.Persist)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides http.addr)")
	cmd.Flags().StringArrayVar(&follow, "follow", nil, "tail a JSONL event file into a session, as [session=]path (repeatable)")
	cmd.Flags().BoolVar(&fromEnd, "from-end", false, "skip events already present in followed files")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "disable the HTTP server")
	return cmd
}

// parseFollowSpec splits "[session=]path". Without a session the service generates
// an id.
func parseFollowSpec(spec string) (transcriptx.FollowSource, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return transcriptx.FollowSource{}, fmt.Errorf("empty follow spec")
	}
	session, path, found := strings.Cut(spec, "=")
	if !found {
		return transcriptx.FollowSource{Path: spec}, nil
	}
	session, path = strings.TrimSpace(session), strings.TrimSpace(path)
	if session == "" || path == "" {
		return transcriptx.FollowSource{}, fmt.Errorf("invalid follow spec %q", spec)
	}
	return transcriptx.FollowSource{Path: path, SessionID: schema.SessionID(session)}, nil
}
