// Package pipeline turns inbound events into agent behavior. Every event
// runs through the same sequence: persist, compose state, obtain a model
// decision, validate and execute the chosen actions, persist what they
// emit, then let evaluators reflect. Events for one room are processed
// strictly in arrival order; independent rooms run concurrently on a
// bounded pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"reverie/internal/composer"
	"reverie/internal/logging"
	"reverie/internal/plugin"
	"reverie/internal/registry"
	"reverie/internal/types"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("pipeline is closed")

	// ErrQueueFull is returned when a room's queue cannot accept more
	// events. The caller sheds load; nothing is silently dropped.
	ErrQueueFull = errors.New("room queue is full")
)

// Config tunes the pipeline's concurrency and model usage.
type Config struct {
	Workers    int             // concurrent room runs across the whole pool
	QueueDepth int             // queued events per room before Submit rejects
	Tier       types.ModelTier // tier used for the decision call
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		QueueDepth: 64,
		Tier:       types.TierLargeDeliberate,
	}
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	Event    *types.Event    // the inbound event, ID and timestamp filled
	Decision *types.Decision // what the model (or the degraded path) decided
	Outputs  []*types.Event  // agent-authored events emitted during the run
	Degraded bool            // the model was unavailable; the ack path answered
	Err      error           // terminal failure (duplicate inbound, dead context)
	Elapsed  time.Duration
}

// job is one queued event waiting for its room's turn.
type job struct {
	ctx context.Context
	ev  *types.Event
	out chan *Outcome
}

// lane is a room's FIFO queue. At most one drain goroutine serves a lane
// at a time, which is what guarantees per-room ordering.
type lane struct {
	mu     sync.Mutex
	queue  []*job
	active bool
}

// Pipeline processes events. One Pipeline serves the whole runtime.
type Pipeline struct {
	rt   plugin.Runtime
	reg  *registry.Registry
	comp *composer.Composer
	cfg  Config

	sem *semaphore.Weighted // bounds concurrent runs across rooms

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup

	ovMu      sync.Mutex
	overrides map[string][]string // room -> one-shot provider selection
}

// New builds a pipeline over the given runtime, registry, and composer.
func New(rt plugin.Runtime, reg *registry.Registry, comp *composer.Composer, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if !cfg.Tier.Valid() {
		cfg.Tier = types.TierLargeDeliberate
	}

	return &Pipeline{
		rt:        rt,
		reg:       reg,
		comp:      comp,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		lanes:     make(map[string]*lane),
		overrides: make(map[string][]string),
	}
}

// Submit queues an event for its room and returns a channel that will
// deliver the outcome. Events for one room are served in submission
// order; a full room queue is rejected with ErrQueueFull.
func (p *Pipeline) Submit(ctx context.Context, ev *types.Event) (<-chan *Outcome, error) {
	if ev == nil || ev.RoomID == "" {
		return nil, fmt.Errorf("pipeline: event requires a room")
	}

	j := &job{ctx: ctx, ev: ev, out: make(chan *Outcome, 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	l := p.lanes[ev.RoomID]
	if l == nil {
		l = &lane{}
		p.lanes[ev.RoomID] = l
	}

	l.mu.Lock()
	if len(l.queue) >= p.cfg.QueueDepth {
		l.mu.Unlock()
		p.mu.Unlock()
		return nil, fmt.Errorf("room %s: %w", ev.RoomID, ErrQueueFull)
	}
	l.queue = append(l.queue, j)
	startDrain := !l.active
	if startDrain {
		l.active = true
		p.wg.Add(1)
	}
	l.mu.Unlock()
	p.mu.Unlock()

	if startDrain {
		go p.drain(ev.RoomID, l)
	}
	return j.out, nil
}

// Process submits the event and blocks until its outcome. The outcome's
// Err is returned as the error so callers can match typed failures.
func (p *Pipeline) Process(ctx context.Context, ev *types.Event) (*Outcome, error) {
	ch, err := p.Submit(ctx, ev)
	if err != nil {
		return nil, err
	}
	select {
	case out := <-ch:
		return out, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new events and waits for queued ones to finish.
// Idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	logging.Pipeline("Pipeline drained and closed")
}

// drain serves a lane until it empties. Only one drain runs per lane,
// so jobs leave in FIFO order and at most one run per room is in flight.
func (p *Pipeline) drain(roomID string, l *lane) {
	defer p.wg.Done()

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.active = false
			l.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		depth := len(l.queue)
		l.mu.Unlock()

		if depth > 0 {
			logging.PipelineDebug("Room %s: %d events waiting", roomID, depth)
		}
		p.serve(j)
	}
}

// serve runs one job under the pool bound and delivers its outcome.
func (p *Pipeline) serve(j *job) {
	if err := j.ctx.Err(); err != nil {
		j.out <- &Outcome{Event: j.ev, Err: fmt.Errorf("event cancelled while queued: %w", err)}
		return
	}
	if err := p.sem.Acquire(j.ctx, 1); err != nil {
		j.out <- &Outcome{Event: j.ev, Err: fmt.Errorf("event cancelled while queued: %w", err)}
		return
	}
	defer p.sem.Release(1)

	j.out <- p.run(j.ctx, j.ev)
}

// takeOverride consumes a room's one-shot provider selection, if any.
func (p *Pipeline) takeOverride(roomID string) []string {
	p.ovMu.Lock()
	defer p.ovMu.Unlock()
	names, ok := p.overrides[roomID]
	if !ok {
		return nil
	}
	delete(p.overrides, roomID)
	return names
}

// stashOverride records a provider selection for the room's next run.
func (p *Pipeline) stashOverride(roomID string, names []string) {
	p.ovMu.Lock()
	defer p.ovMu.Unlock()
	p.overrides[roomID] = names
}
