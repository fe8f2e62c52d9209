// Package autonomy keeps the agent thinking between messages. A timer
// loop synthesizes a continuation of the agent's last thought, runs it
// through the pipeline in a private monologue room, and persists the
// reply as an autonomous thought. A settings poll reconciles the loop
// with its persisted enable flag, so configuration alone can turn the
// agent's inner voice on and off.
package autonomy

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"reverie/internal/logging"
	"reverie/internal/pipeline"
	"reverie/internal/plugin"
	"reverie/internal/store"
	"reverie/internal/types"
)

const (
	// MinInterval and MaxInterval bound the cycle cadence. Anything
	// outside is clamped, never rejected.
	MinInterval = 5 * time.Second
	MaxInterval = 10 * time.Minute

	// EnabledKey and IntervalKey are the settings the loop reconciles
	// against. Writing them (SET_SETTING, the overlay file, the CLI)
	// toggles and retunes the loop without a restart.
	EnabledKey  = "autonomy.enabled"
	IntervalKey = "autonomy.interval"

	firstThoughtPrompt = "This is the start of your private monologue. What is on your mind?"
)

// Processor is the slice of the pipeline the loop needs.
type Processor interface {
	Process(ctx context.Context, ev *types.Event) (*pipeline.Outcome, error)
}

// Config tunes the loop.
type Config struct {
	Enabled      bool          // initial state when no flag is persisted yet
	Interval     time.Duration // cycle cadence, clamped to [MinInterval, MaxInterval]
	PollInterval time.Duration // settings reconciliation cadence
	RoomID       string        // monologue room; derived from the agent ID when empty
	RoomName     string        // display name for the monologue room
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Interval:     time.Minute,
		PollInterval: 30 * time.Second,
	}
}

// ClampInterval forces d into the legal cycle cadence range.
func ClampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// MonologueRoomID derives the agent's private room deterministically,
// so every boot finds the same monologue history.
func MonologueRoomID(agentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("reverie://monologue/"+agentID)).String()
}

// Loop is the autonomous scheduler: Stopped or Running, one cycle at a
// time, on a fixed cadence.
type Loop struct {
	rt     plugin.Runtime
	proc   Processor
	cfg    Config
	roomID string

	mu       sync.Mutex
	running  bool
	interval time.Duration
	timer    *time.Timer
	baseCtx  context.Context
	wg       sync.WaitGroup

	inFlight atomic.Bool // single-flight cycle guard
}

// New builds a loop. Start (or Run) begins scheduling.
func New(rt plugin.Runtime, proc Processor, cfg Config) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.RoomName == "" {
		cfg.RoomName = "monologue"
	}
	roomID := cfg.RoomID
	if roomID == "" {
		roomID = MonologueRoomID(rt.Agent().ID)
	}
	return &Loop{
		rt:       rt,
		proc:     proc,
		cfg:      cfg,
		roomID:   roomID,
		interval: ClampInterval(cfg.Interval),
		baseCtx:  context.Background(),
	}
}

// RoomID returns the monologue room the loop writes into.
func (l *Loop) RoomID() string { return l.roomID }

// Running reports whether the loop is scheduling cycles.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Interval returns the current cycle cadence.
func (l *Loop) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// SetInterval retunes the cadence. Takes effect when the next cycle is
// scheduled.
func (l *Loop) SetInterval(d time.Duration) {
	d = ClampInterval(d)
	l.mu.Lock()
	defer l.mu.Unlock()
	if d == l.interval {
		return
	}
	l.interval = d
	logging.Autonomy("Cycle interval set to %v", d)
}

// Start moves Stopped to Running and schedules the first cycle one
// interval out. Idempotent.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.timer = time.AfterFunc(l.interval, l.tick)
	logging.Autonomy("Monologue loop running (interval %v, room %s)", l.interval, l.roomID)
}

// Stop moves Running to Stopped, cancels the pending timer, and waits
// for an in-flight cycle to finish. After Stop returns, no further
// events will appear. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()

	l.wg.Wait()
	logging.Autonomy("Monologue loop stopped")
}

// tick fires on the timer. The next tick is scheduled before the cycle
// runs, so the cadence is fixed; a tick that finds the previous cycle
// still executing defers to it rather than piling up.
func (l *Loop) tick() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.timer = time.AfterFunc(l.interval, l.tick)
	ctx := l.baseCtx
	l.wg.Add(1)
	l.mu.Unlock()
	defer l.wg.Done()

	if !l.inFlight.CompareAndSwap(false, true) {
		logging.AutonomyDebug("Previous cycle still running, tick deferred")
		return
	}
	defer l.inFlight.Store(false)

	l.cycle(ctx)
}

// cycle runs one monologue iteration. Every failure mode is contained:
// a failed or panicking cycle is logged and the cadence continues.
func (l *Loop) cycle(ctx context.Context) {
	timer := logging.StartTimer(logging.CategoryAutonomy, "cycle")
	defer timer.Stop()
	defer func() {
		if r := recover(); r != nil {
			logging.AutonomyError("Cycle panicked: %v", r)
		}
	}()

	if err := l.ensureRoom(ctx); err != nil {
		logging.AutonomyWarn("Monologue room unavailable: %v", err)
		return
	}

	ev := &types.Event{
		RoomID:   l.roomID,
		AuthorID: l.rt.Agent().ID,
		Content:  types.Content{Text: l.continuation(ctx)},
	}
	ev.Tag(types.MetaSource, types.SourceSystem)

	out, err := l.proc.Process(ctx, ev)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			logging.AutonomyDebug("Continuation repeated the last thought, cycle skipped")
		} else {
			logging.AutonomyWarn("Cycle failed: %v", err)
		}
		return
	}
	logging.Autonomy("Cycle complete: %d thought(s)", len(out.Outputs))
}

// continuation seeds the cycle with the latest autonomous thought, or
// the first-thought prompt when the monologue is empty.
func (l *Loop) continuation(ctx context.Context) string {
	events, err := l.rt.Memory().Query(ctx, l.roomID, types.QueryOptions{
		AuthorID: l.rt.Agent().ID,
		Source:   types.SourceAutonomous,
		Limit:    1,
	})
	if err != nil {
		logging.AutonomyWarn("Failed to load the last thought: %v", err)
		return firstThoughtPrompt
	}
	if len(events) == 0 {
		return firstThoughtPrompt
	}
	return "Continue this line of thought: " + events[0].Content.Text
}

func (l *Loop) ensureRoom(ctx context.Context) error {
	_, err := l.rt.Memory().EnsureRoom(ctx, &types.Room{
		ID:          l.roomID,
		Name:        l.cfg.RoomName,
		ChannelType: types.ChannelSelf,
	})
	return err
}

// Run drives the loop for the runtime's lifetime: reconcile once, then
// keep reconciling on the poll cadence until the context dies. The
// final Stop waits out any in-flight cycle.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.baseCtx = ctx
	l.mu.Unlock()

	l.reconcile(ctx)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return nil
		case <-ticker.C:
			l.reconcile(ctx)
		}
	}
}

// reconcile aligns the loop with its persisted settings. A missing
// enable flag is seeded from config; a present one wins over config, so
// an operator's toggle survives restarts.
func (l *Loop) reconcile(ctx context.Context) {
	settings := l.rt.Settings()

	enabled := l.cfg.Enabled
	val, ok, err := settings.Get(ctx, EnabledKey)
	if err != nil {
		logging.AutonomyWarn("Settings read failed: %v", err)
		return
	}
	if !ok {
		if err := settings.Set(ctx, EnabledKey, strconv.FormatBool(enabled)); err != nil {
			logging.AutonomyWarn("Failed to seed %s: %v", EnabledKey, err)
		}
	} else if parsed, perr := strconv.ParseBool(val); perr == nil {
		enabled = parsed
	} else {
		logging.AutonomyWarn("Ignoring unparseable %s value %q", EnabledKey, val)
	}

	if raw, ok, err := settings.Get(ctx, IntervalKey); err == nil && ok {
		if d, perr := time.ParseDuration(raw); perr == nil {
			l.SetInterval(d)
		} else {
			logging.AutonomyWarn("Ignoring unparseable %s value %q", IntervalKey, raw)
		}
	}

	switch {
	case enabled && !l.Running():
		logging.Autonomy("Settings enabled the monologue loop")
		l.Start()
	case !enabled && l.Running():
		logging.Autonomy("Settings disabled the monologue loop")
		l.Stop()
	}
}
