package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/transcriptx/internal/appconfig"
	"pkt.systems/transcriptx/internal/format"
	"pkt.systems/transcriptx/internal/persist"
	"pkt.systems/transcriptx/schema"
)

func newInspectCmd() *cobra.Command {
	var cfgPath string
	var outFormat string
	var showPhase bool
	cmd := &cobra.Command{
		Use:   "inspect [SESSION]",
		Short: "List persisted sessions or print one persisted transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			store, err := persist.NewStore(cfg.StateDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				ids, err := store.List()
				if err != nil {
					return err
				}
				for _, id := range ids {
					if _, err := fmt.Fprintln(out, id); err != nil {
						return err
					}
				}
				return nil
			}

			id := schema.SessionID(args[0])
			snap, ok, err := store.Load(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("session %s: %w", id, schema.ErrSessionNotFound)
			}
			lines, err := snap.Transcript()
			if err != nil {
				return err
			}
			if outFormat == "" {
				outFormat = cfg.Replay.Format
			}
			switch strings.ToLower(outFormat) {
			case appconfig.FormatJSON:
				return writeTranscriptJSON(out, schema.SessionSnapshot{
					ID:              snap.ID,
					CreatedAt:       snap.CreatedAt,
					Lines:           len(lines),
					Chars:           snap.Chars,
					Usage:           snap.Usage,
					Interrupted:     snap.Interrupted,
					AbortGeneration: snap.AbortGeneration,
				}, lines)
			case appconfig.FormatText:
				return writeRows(out, (&format.PlainRenderer{ShowPhase: showPhase}).Render(lines))
			default:
				return fmt.Errorf("unsupported format %q", outFormat)
			}
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&outFormat, "format", "", "output format: text or json (overrides replay.format)")
	cmd.Flags().BoolVar(&showPhase, "phase", false, "show line phases in text output")
	return cmd
}
