package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/llmtap/pkg/capture"
	"mercator-hq/llmtap/pkg/cli"
	"mercator-hq/llmtap/pkg/config"
	"mercator-hq/llmtap/pkg/storage"
	"mercator-hq/llmtap/pkg/storage/retention"
)

var capturesFlags struct {
	limit      int
	incomplete bool
	since      time.Duration
	output     string
	body       bool
	days       int
	max        int
}

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "Inspect and manage recorded captures",
	Long: `Inspect and manage the captures recorded by llmtap serve --capture.

The commands read the capture directory and index named by the
configuration (capture.directory, capture.index_path).`,
}

var capturesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed captures, newest first",
	Long: `List indexed captures, newest first.

Examples:
  llmtap captures list
  llmtap captures list --since 1h --incomplete
  llmtap captures list --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(capturesFlags.output)
		if err != nil {
			return err
		}
		return withCaptures(cmd, func(ctx context.Context, cfg *config.Config, store *storage.FileStore, index *storage.Index) error {
			opts := storage.ListOptions{Limit: capturesFlags.limit, IncompleteOnly: capturesFlags.incomplete}
			if capturesFlags.since > 0 {
				opts.Since = time.Now().Add(-capturesFlags.since)
			}
			entries, err := index.List(ctx, opts)
			if err != nil {
				return err
			}
			return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), entriesTable(entries))
		})
	},
}

var capturesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored capture document",
	Long: `Print a stored capture document, or with --body only the response body
(all chunks concatenated).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCaptures(cmd, func(ctx context.Context, cfg *config.Config, store *storage.FileStore, index *storage.Index) error {
			e, err := index.Get(ctx, args[0])
			if err != nil {
				return err
			}
			c, err := store.Load(e.Path)
			if err != nil {
				return err
			}
			return showCapture(cmd.OutOrStdout(), c, capturesFlags.body)
		})
	},
}

var capturesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete captures outside the retention rules",
	Long: `Delete captures older than --days or beyond the newest --max, both the
documents and their index rows. Unset flags fall back to
capture.retention in the configuration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCaptures(cmd, func(ctx context.Context, cfg *config.Config, store *storage.FileStore, index *storage.Index) error {
			rc := retention.Config{Days: cfg.Capture.Retention.Days, MaxCaptures: cfg.Capture.Retention.MaxCaptures}
			if cmd.Flags().Changed("days") {
				rc.Days = capturesFlags.days
			}
			if cmd.Flags().Changed("max") {
				rc.MaxCaptures = capturesFlags.max
			}
			if rc.Days <= 0 && rc.MaxCaptures <= 0 {
				return errors.New("no retention rule: set --days or --max")
			}
			n, err := retention.NewPruner(index, store, rc).Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d captures\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(capturesCmd)
	capturesCmd.AddCommand(capturesListCmd, capturesShowCmd, capturesPruneCmd)

	capturesListCmd.Flags().IntVarP(&capturesFlags.limit, "limit", "n", 20, "maximum number of captures")
	capturesListCmd.Flags().BoolVar(&capturesFlags.incomplete, "incomplete", false, "only captures whose response never finished")
	capturesListCmd.Flags().DurationVar(&capturesFlags.since, "since", 0, "only captures started within this duration")
	capturesListCmd.Flags().StringVarP(&capturesFlags.output, "output", "o", "text", "output format (text, json, csv)")

	capturesShowCmd.Flags().BoolVar(&capturesFlags.body, "body", false, "print only the response body")

	capturesPruneCmd.Flags().IntVar(&capturesFlags.days, "days", 0, "delete captures older than this many days")
	capturesPruneCmd.Flags().IntVar(&capturesFlags.max, "max", 0, "keep at most this many captures")
}

// withCaptures opens the configured capture store and index for fn.
func withCaptures(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, store *storage.FileStore, index *storage.Index) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	store, index, err := openCaptures(cfg.Capture.Directory, cfg.Capture.ResolvedIndexPath(), logger.Logger)
	if err != nil {
		return cli.NewCommandError(cmd.CommandPath(), err)
	}
	defer index.Close()

	if err := fn(cmd.Context(), cfg, store, index); err != nil {
		return cli.NewCommandError(cmd.CommandPath(), err)
	}
	return nil
}

// entryRecord is the JSON form of an index entry.
type entryRecord struct {
	ID        string     `json:"id"`
	Method    string     `json:"method"`
	URL       string     `json:"url"`
	Status    int        `json:"status,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Chunks    int        `json:"chunks"`
	Bytes     int        `json:"bytes"`
	File      string     `json:"file"`
}

func entriesTable(entries []storage.Entry) *cli.Table {
	t := &cli.Table{
		Headers: []string{"ID", "STARTED", "METHOD", "STATUS", "CHUNKS", "BYTES", "DURATION", "URL"},
	}
	records := make([]entryRecord, 0, len(entries))
	for _, e := range entries {
		status, duration := "-", "incomplete"
		if e.Status != 0 {
			status = strconv.Itoa(e.Status)
		}
		if e.EndTime != nil {
			duration = e.EndTime.Sub(e.StartTime).Round(time.Millisecond).String()
		}
		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}
		t.Rows = append(t.Rows, []string{
			id,
			e.StartTime.Local().Format(time.DateTime),
			e.Method,
			status,
			strconv.Itoa(e.Chunks),
			strconv.Itoa(e.Bytes),
			duration,
			e.URL,
		})
		records = append(records, entryRecord{
			ID:        e.ID,
			Method:    e.Method,
			URL:       e.URL,
			Status:    e.Status,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
			Chunks:    e.Chunks,
			Bytes:     e.Bytes,
			File:      e.Path,
		})
	}
	t.Records = records
	return t
}

func showCapture(w io.Writer, c *capture.Capture, bodyOnly bool) error {
	if !bodyOnly {
		return capture.Encode(w, c)
	}
	if c.Response == nil {
		return errors.New("capture has no response")
	}
	_, err := w.Write(c.Response.Body())
	return err
}
