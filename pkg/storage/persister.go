package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/llmtap/pkg/capture"
)

// Metrics receives persistence events. metrics.Collector satisfies it.
type Metrics interface {
	RecordPersisted(kind string)
	RecordPersistenceFailure(op string)
	RecordDropped()
	SetQueueDepth(n int)
}

// PersisterConfig configures a Persister.
type PersisterConfig struct {
	Store *FileStore
	// Index is optional.
	Index *Index
	// RawDumps additionally writes raw body dumps.
	RawDumps bool
	// QueueSize defaults to 256.
	QueueSize int
	// IndexTimeout bounds one index write. Defaults to 5 seconds.
	IndexTimeout time.Duration
	Metrics      Metrics
	Logger       *slog.Logger
}

// Persister writes submitted captures from a single background goroutine,
// in submission order.
type Persister struct {
	store        *FileStore
	index        *Index
	rawDumps     bool
	indexTimeout time.Duration
	metrics      Metrics
	logger       *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *capture.Capture
	wg     sync.WaitGroup
}

// NewPersister starts the background writer.
func NewPersister(cfg PersisterConfig) (*Persister, error) {
	if cfg.Store == nil {
		return nil, errors.New("persister: no file store")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Persister{
		store:        cfg.Store,
		index:        cfg.Index,
		rawDumps:     cfg.RawDumps,
		indexTimeout: cfg.IndexTimeout,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("component", "storage.persister"),
		queue:        make(chan *capture.Capture, cfg.QueueSize),
	}
	p.wg.Add(1)
	go p.worker()

	p.logger.Info("persister started",
		"directory", cfg.Store.Dir(),
		"queue_size", cfg.QueueSize,
		"raw_dumps", cfg.RawDumps,
		"indexed", cfg.Index != nil,
	)
	return p, nil
}

// Submit enqueues c without blocking. When the queue is full or the
// persister is closed the capture is dropped and logged.
func (p *Persister) Submit(c *capture.Capture) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("persister closed, dropping capture", "capture_id", c.ID)
		p.metrics.RecordDropped()
		return
	}
	select {
	case p.queue <- c:
		p.metrics.SetQueueDepth(len(p.queue))
	default:
		p.logger.Error("persist queue full, dropping capture",
			"capture_id", c.ID,
			"queue_size", cap(p.queue),
		)
		p.metrics.RecordDropped()
	}
}

// Close stops accepting captures and waits until every queued capture is
// written. It is safe to call more than once.
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("persister stopped")
	return nil
}

func (p *Persister) worker() {
	defer p.wg.Done()
	for c := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		p.persist(c)
	}
}

func (p *Persister) persist(c *capture.Capture) {
	path, err := p.store.Save(c)
	if err != nil {
		p.fail(c, err)
		return
	}
	p.metrics.RecordPersisted("capture")

	if p.rawDumps {
		paths, err := p.store.WriteDumps(c)
		for range paths {
			p.metrics.RecordPersisted("dump")
		}
		if err != nil {
			p.fail(c, err)
		}
	}

	if p.index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.indexTimeout)
		err := p.index.Insert(ctx, EntryFor(c, path))
		cancel()
		if err != nil {
			p.fail(c, err)
			return
		}
		p.metrics.RecordPersisted("index")
	}

	p.logger.Debug("capture persisted",
		"capture_id", c.ID,
		"path", path,
		"complete", c.Complete(),
	)
}

func (p *Persister) fail(c *capture.Capture, err error) {
	op := "unknown"
	var perr *PersistenceError
	if errors.As(err, &perr) {
		op = perr.Op
	}
	p.logger.Error("capture persistence failed", "capture_id", c.ID, "op", op, "error", err)
	p.metrics.RecordPersistenceFailure(op)
}

type nopMetrics struct{}

func (nopMetrics) RecordPersisted(string)          {}
func (nopMetrics) RecordPersistenceFailure(string) {}
func (nopMetrics) RecordDropped()                  {}
func (nopMetrics) SetQueueDepth(int)               {}
