package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/transcriptx/core"
	"pkt.systems/transcriptx/internal/appconfig"
	"pkt.systems/transcriptx/internal/format"
	"pkt.systems/transcriptx/internal/logx"
	"pkt.systems/transcriptx/internal/wire"
	"pkt.systems/transcriptx/schema"
)

type replayOptions struct {
	cfgPath   string
	sessionID string
	format    string
	save      bool
	follow    bool
	showPhase bool
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Replay JSONL event files and print the reconciled transcript",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session id (single file only; defaults to the file name)")
	cmd.Flags().StringVar(&opts.format, "format", "", "output format: text or json (overrides replay.format)")
	cmd.Flags().BoolVar(&opts.save, "save", false, "persist the replayed sessions to the state dir")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep tailing the file and print lines as they settle")
	cmd.Flags().BoolVar(&opts.showPhase, "phase", false, "show line phases in text output")
	return cmd
}

func runReplay(ctx context.Context, out io.Writer, opts replayOptions, paths []string) error {
	logger := pslog.Ctx(ctx)
	cfg, err := appconfig.Load(opts.cfgPath)
	if err != nil {
		return err
	}
	outFormat := cfg.Replay.Format
	if opts.format != "" {
		outFormat = strings.ToLower(strings.TrimSpace(opts.format))
	}
	switch outFormat {
	case appconfig.FormatText, appconfig.FormatJSON:
	default:
		return fmt.Errorf("unsupported format %q", outFormat)
	}
	if opts.sessionID != "" && len(paths) > 1 {
		return errors.New("--session requires a single file")
	}
	if opts.follow && (len(paths) > 1 || outFormat != appconfig.FormatText) {
		return errors.New("--follow requires a single file and text output")
	}

	serviceCfg := schema.ServiceConfig{Correlator: schema.CorrelatorMode(cfg.Service.Correlator)}
	if opts.save {
		serviceCfg.StateDir = cfg.StateDir
		serviceCfg.Persist = true
	}
	svc, err := core.NewService(serviceCfg, core.ServiceDeps{Logger: logger})
	if err != nil {
		return err
	}
	renderer := &format.PlainRenderer{ShowPhase: opts.showPhase}

	for i, path := range paths {
		id := schema.SessionID(opts.sessionID)
		if id == "" {
			id = sessionIDFromPath(path)
		}
		opened, err := svc.OpenSession(ctx, schema.OpenSessionRequest{SessionID: id})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		id = opened.Session.ID
		sessCtx := logx.ContextWithSession(ctx, id)
		if opts.follow {
			err = followReplay(sessCtx, out, svc, renderer, id, path)
		} else {
			err = replayFile(sessCtx, out, svc, renderer, id, path, outFormat, len(paths) > 1 && i > 0)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp, err := svc.CloseSession(ctx, schema.CloseSessionRequest{SessionID: id})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if resp.Persisted {
			logx.WithSession(ctx, id).Info("replay saved", "state_dir", cfg.StateDir)
		}
	}
	return nil
}

func replayFile(ctx context.Context, out io.Writer, svc core.Service, renderer *format.PlainRenderer, id schema.SessionID, path, outFormat string, separate bool) error {
	log := logx.WithSession(ctx, id)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	decodeErrors := 0
	events, err := wire.ReadAll(ctx, f, func(e *wire.DecodeError) {
		decodeErrors++
		log.Warn("replay decode failed", "path", path, "line", e.Number(), "err", e)
	})
	if err != nil {
		return err
	}
	ingest, err := svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: events})
	if err != nil {
		return err
	}
	log.Info("replay ingested", "events", len(events), "applied", ingest.Applied, "dropped", ingest.Dropped, "ignored", ingest.Ignored, "orphans", len(ingest.Orphans), "decode_errors", decodeErrors)

	resp, err := svc.GetTranscript(ctx, schema.GetTranscriptRequest{SessionID: id})
	if err != nil {
		return err
	}
	if outFormat == appconfig.FormatJSON {
		return writeTranscriptJSON(out, resp.Session, resp.Lines)
	}
	if separate {
		if _, err := fmt.Fprintln(out); err != nil {
			return err
		}
	}
	return writeRows(out, renderer.Render(resp.Lines))
}

// followReplay tails path and prints each line once it settles. Lines are printed
// in transcript order, so an unsettled line holds back the ones after it until the
// follow ends.
func followReplay(ctx context.Context, out io.Writer, svc core.Service, renderer *format.PlainRenderer, id schema.SessionID, path string) error {
	log := logx.WithSession(ctx, id)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	items, err := wire.Follow(ctx, path, wire.FollowOptions{})
	if err != nil {
		return err
	}
	printer := &settledPrinter{out: out, renderer: renderer}
	for item := range items {
		if item.Err != nil {
			log.Warn("replay decode failed", "path", path, "line", item.Err.Number(), "err", item.Err)
			continue
		}
		if _, err := svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: []schema.Event{item.Event}}); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return err
		}
		resp, err := svc.GetTranscript(ctx, schema.GetTranscriptRequest{SessionID: id})
		if err != nil {
			return err
		}
		if err := printer.advance(resp.Lines, false); err != nil {
			return err
		}
	}
	resp, err := svc.GetTranscript(context.WithoutCancel(ctx), schema.GetTranscriptRequest{SessionID: id})
	if err != nil {
		return err
	}
	return printer.advance(resp.Lines, true)
}

type settledPrinter struct {
	out      io.Writer
	renderer *format.PlainRenderer
	printed  int
}

// advance prints the lines after the last printed one while they are settled. With
// all set every remaining line is printed.
func (p *settledPrinter) advance(lines []schema.Line, all bool) error {
	for p.printed < len(lines) {
		line := lines[p.printed]
		if !all && !settled(line) {
			return nil
		}
		if err := writeRows(p.out, p.renderer.FormatLine(line)); err != nil {
			return err
		}
		p.printed++
	}
	return nil
}

func settled(line schema.Line) bool {
	switch l := line.(type) {
	case schema.ReasoningLine:
		return l.Phase == schema.PhaseFinished
	case schema.AssistantLine:
		return l.Phase == schema.PhaseFinished
	case schema.ToolCallLine:
		return l.Phase == schema.PhaseFinished
	case schema.CommandLine:
		return l.Phase == schema.PhaseFinished
	case schema.BashCommandLine:
		return l.Phase == schema.PhaseFinished
	default:
		return true
	}
}

func writeRows(out io.Writer, rows []string) error {
	for _, row := range rows {
		if _, err := fmt.Fprintln(out, row); err != nil {
			return err
		}
	}
	return nil
}

func writeTranscriptJSON(out io.Writer, session schema.SessionSnapshot, lines []schema.Line) error {
	records, err := schema.EncodeLines(lines)
	if err != nil {
		return err
	}
	if records == nil {
		records = []schema.LineRecord{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Session schema.SessionSnapshot `json:"session"`
		Lines   []schema.LineRecord    `json:"lines"`
	}{Session: session, Lines: records})
}

func sessionIDFromPath(path string) schema.SessionID {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimSpace(base)
	if base == "" || base == "." {
		return ""
	}
	return schema.SessionID(base)
}
