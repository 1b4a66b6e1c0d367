package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/tentsim/internal/climate"
	"github.com/talgya/tentsim/internal/weather"
)

// WeatherTimeout bounds the outside-weather lookup inside one tick.
const WeatherTimeout = 5 * time.Second

// RefillTimeout bounds the entropy pool top-up before a tick.
const RefillTimeout = 5 * time.Second

// WeatherSource yields the current outside conditions, or nil for none.
type WeatherSource interface {
	Fetch(ctx context.Context) (*weather.Conditions, error)
}

// DeviceSource yields the device snapshot for a tick.
type DeviceSource interface {
	Snapshot() climate.DeviceStates
}

// Observer receives every reading for metrics.
type Observer interface {
	ObserveReading(r climate.Reading, t climate.Targets)
	PublishFailed()
}

// Publisher fans readings out to other systems.
type Publisher interface {
	Publish(ctx context.Context, r climate.Reading) error
}

// Refiller tops up a buffered noise source. The climate tick itself only
// reads the buffer.
type Refiller interface {
	Refill(ctx context.Context) error
}

// History keeps a log of readings.
type History interface {
	AppendReading(ctx context.Context, r climate.Reading) error
}

// Runner performs one full simulation step: entropy refill, weather, device
// snapshot, climate tick, then fan-out. Only Sim and Devices are required.
type Runner struct {
	Sim       *climate.Simulator
	Devices   DeviceSource
	Weather   WeatherSource
	Observer  Observer
	Publisher Publisher
	History   History
	Entropy   Refiller
	Now       func() time.Time

	mu      sync.Mutex
	last    climate.Reading
	outside *weather.Conditions
}

// Step runs tick number tick and returns its reading. Collaborator failures
// are logged; the climate always advances.
func (r *Runner) Step(ctx context.Context, tick uint64) climate.Reading {
	r.refillEntropy(ctx)
	cond := r.fetchWeather(ctx)
	w := weather.ToReading(cond)

	st := r.Sim.Tick(r.Devices.Snapshot(), w)
	targets := r.Sim.LastTargets()

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	reading := climate.Reading{
		Tick:        tick,
		Season:      r.Sim.Season(),
		At:          now().UTC(),
		FromWeather: targets.FromWeather,
		State:       st,
	}

	if r.Observer != nil {
		r.Observer.ObserveReading(reading, targets)
	}
	if r.Publisher != nil {
		if err := r.Publisher.Publish(ctx, reading); err != nil {
			slog.Warn("publish reading failed", "tick", tick, "error", err)
			if r.Observer != nil {
				r.Observer.PublishFailed()
			}
		}
	}
	if r.History != nil {
		if err := r.History.AppendReading(ctx, reading); err != nil {
			slog.Warn("history append failed", "tick", tick, "error", err)
		}
	}

	r.mu.Lock()
	r.last = reading
	r.outside = cond
	r.mu.Unlock()
	return reading
}

// Last returns the most recent reading.
func (r *Runner) Last() climate.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Outside returns the conditions used by the most recent tick, nil when it
// ran on the seasonal fallback.
func (r *Runner) Outside() *weather.Conditions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outside
}

func (r *Runner) fetchWeather(ctx context.Context) *weather.Conditions {
	if r.Weather == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, WeatherTimeout)
	defer cancel()

	cond, err := r.Weather.Fetch(ctx)
	if err != nil {
		slog.Debug("no outside weather, using seasonal fallback", "error", err)
		return nil
	}
	return cond
}

func (r *Runner) refillEntropy(ctx context.Context) {
	if r.Entropy == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, RefillTimeout)
	defer cancel()
	if err := r.Entropy.Refill(ctx); err != nil {
		slog.Debug("noise pool not refilled", "error", err)
	}
}
