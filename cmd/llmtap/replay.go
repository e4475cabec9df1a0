package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/llmtap/pkg/capture"
	"mercator-hq/llmtap/pkg/cli"
	"mercator-hq/llmtap/pkg/replay"
	"mercator-hq/llmtap/pkg/storage"
)

var replayFlags struct {
	speed    float64
	serve    string
	progress bool
	include  bool
}

var replayCmd = &cobra.Command{
	Use:   "replay <file|id>",
	Short: "Replay a recorded response with its original pacing",
	Long: `Replay the response of a capture. The argument is a capture document or the
ID (or unique ID prefix of at least 8 characters) of an indexed capture.

By default the body is written to stdout chunk by chunk, waiting between
chunks as long as the upstream did. With --serve the capture is served over
HTTP instead: every request receives the recorded status, headers and body.

Examples:
  # Replay at recorded speed
  llmtap replay Data/ReplayableRequest-20240101T120000.000000000-3f2a9c1b.json

  # Replay an indexed capture four times faster with a progress bar
  llmtap replay 3f2a9c1b --speed 4 --progress

  # Serve a capture to a client under test
  llmtap replay 3f2a9c1b --serve 127.0.0.1:9090`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().Float64VarP(&replayFlags.speed, "speed", "s", 1, "pacing factor (2 replays twice as fast)")
	replayCmd.Flags().StringVar(&replayFlags.serve, "serve", "", "serve the capture over HTTP on this address")
	replayCmd.Flags().BoolVar(&replayFlags.progress, "progress", false, "draw a progress bar on stderr")
	replayCmd.Flags().BoolVarP(&replayFlags.include, "include", "i", false, "print the status line and headers before the body")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	c, err := loadCaptureArg(ctx, args[0], cfg.Capture.Directory, cfg.Capture.ResolvedIndexPath(), logger.Logger)
	if err != nil {
		return cli.NewCommandError("replay", err)
	}
	seq, err := replay.New(c, replayFlags.speed, replay.WithLogger(logger.Logger))
	if err != nil {
		return cli.NewCommandError("replay", err)
	}

	if replayFlags.serve != "" {
		return serveReplay(ctx, seq, replayFlags.serve, logger.Logger)
	}

	out := cmd.OutOrStdout()
	if replayFlags.include {
		writeHead(out, c)
	}
	var progress cli.ProgressReporter
	if replayFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "chunks")
	}
	if err := replayTo(ctx, out, seq, progress); err != nil && !errors.Is(err, context.Canceled) {
		return cli.NewCommandError("replay", err)
	}
	return nil
}

// replayTo writes the chunks of seq to w on schedule, reporting to
// progress when it is non-nil.
func replayTo(ctx context.Context, w io.Writer, seq *replay.Sequence, progress cli.ProgressReporter) error {
	if progress == nil {
		_, err := seq.Copy(ctx, w)
		return err
	}
	progress.Start(int64(len(seq.Steps())))
	var n int64
	for chunk, err := range seq.Chunks(ctx) {
		if err != nil {
			progress.Error(err)
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			progress.Error(err)
			return err
		}
		n++
		progress.Update(n)
	}
	progress.Finish()
	return nil
}

func writeHead(w io.Writer, c *capture.Capture) {
	resp := c.Response
	fmt.Fprintf(w, "%s %d %s\r\n", resp.Version, resp.Status, http.StatusText(resp.Status))
	for _, h := range resp.Headers {
		fmt.Fprintf(w, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprint(w, "\r\n")
}

// serveReplay answers every request on addr with the replay of seq until
// ctx is done.
func serveReplay(ctx context.Context, seq *replay.Sequence, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return cli.NewCommandError("replay", fmt.Errorf("failed to listen on %s: %w", addr, err))
	}
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Info("replaying capture", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			seq.ServeHTTP(w, r)
		}),
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	logger.Info("serving replay", "address", ln.Addr().String(), "steps", len(seq.Steps()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return cli.NewCommandError("replay", err)
	}
	return nil
}

// loadCaptureArg reads a capture from a document path, or else looks the
// argument up as an ID in the capture index.
func loadCaptureArg(ctx context.Context, arg, dir, indexPath string, logger *slog.Logger) (*capture.Capture, error) {
	if _, err := os.Stat(arg); err == nil {
		f, err := os.Open(arg)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		c, err := capture.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read capture %s: %w", arg, err)
		}
		return c, nil
	}

	store, index, err := openCaptures(dir, indexPath, logger)
	if err != nil {
		return nil, err
	}
	defer index.Close()

	e, err := index.Get(ctx, arg)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("no capture file or indexed capture %q", arg)
		}
		return nil, err
	}
	return store.Load(e.Path)
}

func openCaptures(dir, indexPath string, logger *slog.Logger) (*storage.FileStore, *storage.Index, error) {
	store, err := storage.NewFileStore(dir, logger)
	if err != nil {
		return nil, nil, err
	}
	index, err := storage.OpenIndex(indexPath, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, index, nil
}
