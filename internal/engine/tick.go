// Package engine drives the tent simulation on a fixed interval.
// Scheduled and on-demand ticks share one goroutine so they never overlap.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval matches the update period of the physical controller.
const DefaultInterval = 30 * time.Second

// DefaultSaveEvery persists state every 10 ticks (5 minutes at 30s).
const DefaultSaveEvery = 10

// ErrRunning is returned by Run when the loop is already active.
var ErrRunning = errors.New("engine already running")

// Engine drives the simulation forward.
type Engine struct {
	Interval  time.Duration // Base tick interval
	SaveEvery uint64        // OnSave cadence in ticks, 0 disables

	OnTick func(ctx context.Context, tick uint64) // Every tick
	OnSave func(ctx context.Context, tick uint64) // Every SaveEvery ticks

	mu      sync.Mutex
	tick    uint64
	speed   float64
	paused  bool
	running bool

	stepMu  sync.Mutex
	trigger chan struct{}
	wake    chan struct{}
}

// NewEngine creates an engine with the default interval at real-time speed.
func NewEngine() *Engine {
	return &Engine{
		Interval:  DefaultInterval,
		SaveEvery: DefaultSaveEvery,
		speed:     1.0,
		trigger:   make(chan struct{}, 1),
		wake:      make(chan struct{}, 1),
	}
}

// Run starts the loop. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrRunning
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	slog.Info("simulation engine started", "tick", e.Tick(), "interval", e.Interval, "speed", e.Speed())

	timer := time.NewTimer(e.wait())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "tick", e.Tick())
			return nil
		case <-e.trigger:
			e.step(ctx)
		case <-e.wake:
			resetTimer(timer, e.wait())
		case <-timer.C:
			if !e.Paused() {
				e.step(ctx)
			}
			timer.Reset(e.wait())
		}
	}
}

// Trigger queues an immediate extra tick on the loop. At most one request
// is pending at a time; it reports false when one already is.
func (e *Engine) Trigger() bool {
	select {
	case e.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Step runs one tick on the calling goroutine, serialized with the loop.
func (e *Engine) Step(ctx context.Context) uint64 {
	return e.step(ctx)
}

func (e *Engine) step(ctx context.Context) uint64 {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	e.mu.Lock()
	e.tick++
	tick := e.tick
	e.mu.Unlock()

	if e.OnTick != nil {
		e.OnTick(ctx, tick)
	}
	if e.SaveEvery > 0 && tick%e.SaveEvery == 0 && e.OnSave != nil {
		e.OnSave(ctx, tick)
	}
	return tick
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Tick returns the last completed tick number.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// SetTick restores the counter, e.g. after loading saved state.
func (e *Engine) SetTick(t uint64) {
	e.mu.Lock()
	e.tick = t
	e.mu.Unlock()
}

// Speed returns the time multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the multiplier: 2 ticks twice as often. Values <= 0 pause.
func (e *Engine) SetSpeed(s float64) {
	e.mu.Lock()
	e.speed = s
	e.mu.Unlock()
	e.poke()
}

// Pause stops scheduled ticks. Triggered ticks still run.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume restarts scheduled ticks.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.poke()
}

// Paused reports whether scheduled ticks are suspended.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused || e.speed <= 0
}

// Elapsed converts a tick count to simulated wall time.
func (e *Engine) Elapsed(tick uint64) time.Duration {
	return time.Duration(tick) * e.Interval
}

func (e *Engine) wait() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.speed <= 0 {
		return e.Interval
	}
	d := time.Duration(float64(e.Interval) / e.speed)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
