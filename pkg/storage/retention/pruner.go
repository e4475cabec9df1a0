package retention

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/llmtap/pkg/clock"
	"mercator-hq/llmtap/pkg/storage"
)

// Config contains the retention rules.
type Config struct {
	// Days removes captures older than this many days. 0 keeps them.
	Days int

	// MaxCaptures keeps at most this many captures. 0 means unlimited.
	MaxCaptures int

	// Schedule is a cron expression, e.g. "0 3 * * *" (daily at 3 AM).
	Schedule string
}

// Metrics receives the number of pruned captures.
type Metrics interface {
	RecordPruned(n int)
}

// Pruner deletes captures that fall outside the retention rules, both
// the documents and their index rows.
type Pruner struct {
	index   *storage.Index
	store   *storage.FileStore
	config  Config
	clock   clock.Clock
	metrics Metrics
	logger  *slog.Logger
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithClock sets the clock used to compute the age cutoff.
func WithClock(c clock.Clock) Option {
	return func(p *Pruner) { p.clock = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Pruner) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pruner) { p.logger = l }
}

// NewPruner creates a pruner over an index and the store holding the
// indexed documents.
func NewPruner(index *storage.Index, store *storage.FileStore, cfg Config, opts ...Option) *Pruner {
	p := &Pruner{
		index:  index,
		store:  store,
		config: cfg,
		clock:  clock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "storage.retention")
	return p
}

// Prune deletes captures older than the retention period, then the
// oldest captures beyond the maximum count. It returns the number of
// captures deleted.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	total := 0

	if p.config.Days > 0 {
		cutoff := p.clock.Now().AddDate(0, 0, -p.config.Days)
		entries, err := p.index.OlderThan(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune by age failed: %w", err)
		}
		n, err := p.remove(ctx, entries)
		total += n
		if err != nil {
			return total, fmt.Errorf("prune by age failed: %w", err)
		}
		p.logger.Debug("pruned captures by age", "deleted_count", n, "cutoff_time", cutoff)
	}

	if p.config.MaxCaptures > 0 {
		count, err := p.index.Count(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by count failed: %w", err)
		}
		if excess := count - p.config.MaxCaptures; excess > 0 {
			entries, err := p.index.Oldest(ctx, excess)
			if err != nil {
				return total, fmt.Errorf("prune by count failed: %w", err)
			}
			n, err := p.remove(ctx, entries)
			total += n
			if err != nil {
				return total, fmt.Errorf("prune by count failed: %w", err)
			}
			p.logger.Debug("pruned captures by count", "deleted_count", n, "max_captures", p.config.MaxCaptures)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordPruned(total)
	}
	if total > 0 {
		p.logger.Info("capture pruning completed",
			"total_deleted", total,
			"retention_days", p.config.Days,
			"max_captures", p.config.MaxCaptures,
		)
	}
	return total, nil
}

// remove deletes files first so a failure leaves the row in place for
// the next run.
func (p *Pruner) remove(ctx context.Context, entries []storage.Entry) (int, error) {
	ids := make([]string, 0, len(entries))
	var firstErr error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			firstErr = err
			break
		}
		if err := p.store.Remove(e.Path); err != nil {
			p.logger.Warn("failed to remove capture file", "capture_id", e.ID, "path", e.Path, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	n, err := p.index.Delete(ctx, ids...)
	if err != nil {
		return int(n), err
	}
	return int(n), firstErr
}
