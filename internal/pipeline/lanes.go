package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/metrics"
)

// Lane names
const (
	LaneIngest          = "ingest"
	LaneExtract         = "extract"
	LaneOCR             = "ocr"
	LaneEmbed           = "embed"
	LaneFieldExtraction = "field_extraction"

	defaultLaneBuffer = 256
)

// Lanes lists every lane. Ingest tasks wait on stage lanes, so stage lanes
// close after ingest has drained.
var Lanes = []string{LaneIngest, LaneExtract, LaneOCR, LaneEmbed, LaneFieldExtraction}

var (
	// ErrPoolClosed is returned when submitting to a closed lane
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrUnknownLane is returned for a lane name the pool does not run
	ErrUnknownLane = errors.New("unknown lane")
)

// TaskFunc is one unit of work run on a lane
type TaskFunc func(ctx context.Context) error

type task struct {
	ctx  context.Context
	fn   TaskFunc
	done chan error // nil for fire-and-forget
}

type lane struct {
	name    string
	workers int
	tasks   chan task
	group   errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// Pool runs a fixed number of workers per lane so a slow lane cannot starve
// the others
type Pool struct {
	lanes   map[string]*lane
	base    context.Context
	logger  *zap.Logger
	metrics *metrics.Recorder

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool creates a pool sized from cfg.LaneWorkers; lanes without an entry get one worker
func NewPool(cfg config.PipelineConfig, logger *zap.Logger, rec *metrics.Recorder) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.LaneBuffer
	if buffer <= 0 {
		buffer = defaultLaneBuffer
	}
	p := &Pool{
		lanes:   make(map[string]*lane, len(Lanes)),
		base:    context.Background(),
		logger:  logger,
		metrics: rec,
	}
	for _, name := range Lanes {
		workers := cfg.LaneWorkers[name]
		if workers <= 0 {
			workers = 1
		}
		p.lanes[name] = &lane{name: name, workers: workers, tasks: make(chan task, buffer)}
	}
	return p
}

// Start launches the workers. Fire-and-forget tasks run under ctx's values
// but are not cancelled with it; they stop at their own time limits.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.base = context.WithoutCancel(ctx)
		for _, name := range Lanes {
			l := p.lanes[name]
			for i := 0; i < l.workers; i++ {
				l.group.Go(func() error {
					p.work(l)
					return nil
				})
			}
			p.logger.Debug("lane started", zap.String("lane", name), zap.Int("workers", l.workers))
		}
	})
}

// Stop stops accepting tasks and waits for queued work to finish
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		for _, name := range Lanes {
			l := p.lanes[name]
			l.mu.Lock()
			l.closed = true
			close(l.tasks)
			l.mu.Unlock()
			_ = l.group.Wait()
		}
		p.logger.Info("worker pool stopped")
	})
}

// Submit queues fn on lane without waiting for it to run
func (p *Pool) Submit(ctx context.Context, laneName string, fn TaskFunc) error {
	return p.enqueue(ctx, laneName, task{ctx: p.base, fn: fn})
}

// Do runs fn on lane and waits for its result. fn receives ctx.
func (p *Pool) Do(ctx context.Context, laneName string, fn TaskFunc) error {
	done := make(chan error, 1)
	if err := p.enqueue(ctx, laneName, task{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of queued tasks on lane
func (p *Pool) Depth(laneName string) int {
	l, ok := p.lanes[laneName]
	if !ok {
		return 0
	}
	return len(l.tasks)
}

func (p *Pool) enqueue(ctx context.Context, laneName string, t task) error {
	l, ok := p.lanes[laneName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLane, laneName)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrPoolClosed
	}

	select {
	case l.tasks <- t:
		p.metrics.SetLaneDepth(l.name, len(l.tasks))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work(l *lane) {
	for t := range l.tasks {
		p.metrics.SetLaneDepth(l.name, len(l.tasks))
		err := p.run(l.name, t)
		if t.done != nil {
			t.done <- err
		} else if err != nil {
			p.logger.Warn("task failed", zap.String("lane", l.name), zap.Error(err))
		}
	}
}

// run executes one task, converting a panic into an error so the worker survives
func (p *Pool) run(laneName string, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.String("lane", laneName), zap.Any("panic", r))
			err = fmt.Errorf("task panicked on lane %s: %v", laneName, r)
		}
	}()
	if err := t.ctx.Err(); err != nil {
		return err
	}
	return t.fn(t.ctx)
}
