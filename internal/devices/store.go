package devices

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/talgya/tentsim/internal/climate"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnsupported   = errors.New("setting not supported by device")
	ErrInvalidValue  = errors.New("invalid value")
)

// Patch is a partial device update. Setters apply first; an explicit Power
// is applied last and wins.
type Patch struct {
	Power      *bool    `json:"power,omitempty"`
	Intensity  *float64 `json:"intensity,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	Level      *float64 `json:"level,omitempty"`
}

// Store is the live device state. Every roster device starts off.
type Store struct {
	mu       sync.RWMutex
	state    map[string]climate.RawDevice
	onChange func(key string, d climate.RawDevice)
}

// NewStore creates a store with every roster device off.
func NewStore() *Store {
	s := &Store{state: make(map[string]climate.RawDevice, len(roster))}
	for _, spec := range roster {
		s.state[spec.Key] = climate.RawDevice{}
	}
	return s
}

// OnChange registers fn to run after every successful mutation, outside the
// store lock.
func (s *Store) OnChange(fn func(key string, d climate.RawDevice)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Get returns the state of one device.
func (s *Store) Get(key string) (climate.RawDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state[key]
	if !ok {
		return climate.RawDevice{}, fmt.Errorf("%w: %s", ErrUnknownDevice, key)
	}
	return copyRaw(d), nil
}

// SetPower switches a device on or off, keeping its settings.
func (s *Store) SetPower(key string, on bool) error {
	return s.Apply(key, Patch{Power: &on})
}

// SetIntensity dims a light. Zero turns it off, anything else turns it on.
func (s *Store) SetIntensity(key string, pct float64) error {
	return s.Apply(key, Patch{Intensity: &pct})
}

// SetPercentage sets a fan's speed in percent. Zero turns it off.
func (s *Store) SetPercentage(key string, pct float64) error {
	return s.Apply(key, Patch{Percentage: &pct})
}

// SetSpeed sets a fan's speed step in 0..10. Zero turns it off.
func (s *Store) SetSpeed(key string, speed float64) error {
	return s.Apply(key, Patch{Speed: &speed})
}

// SetLevel sets a fractional output in 0..1. Zero turns the device off.
func (s *Store) SetLevel(key string, level float64) error {
	return s.Apply(key, Patch{Level: &level})
}

// Apply updates one device atomically and notifies OnChange once.
func (s *Store) Apply(key string, p Patch) error {
	spec, ok := Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, key)
	}

	s.mu.Lock()
	d, ok := s.state[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, key)
	}
	d, err := applyPatch(spec, copyRaw(d), p)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("device %s: %w", key, err)
	}
	s.state[key] = d
	fn := s.onChange
	s.mu.Unlock()

	slog.Debug("device updated", "device", key, "power", d.Power)
	if fn != nil {
		fn(key, copyRaw(d))
	}
	return nil
}

func applyPatch(spec Spec, d climate.RawDevice, p Patch) (climate.RawDevice, error) {
	for _, v := range []*float64{p.Intensity, p.Percentage, p.Speed, p.Level} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return d, ErrInvalidValue
		}
	}

	if p.Intensity != nil {
		if !spec.Has(CapIntensity) {
			return d, fmt.Errorf("intensity: %w", ErrUnsupported)
		}
		v := clamp(*p.Intensity, 0, 100)
		d.Intensity = &v
		d.Power = v > 0
	}
	if p.Percentage != nil {
		if !spec.Has(CapSpeed) {
			return d, fmt.Errorf("percentage: %w", ErrUnsupported)
		}
		v := clamp(*p.Percentage, 0, 100)
		speed := math.Floor(v / 10)
		d.Percentage = &v
		d.Speed = &speed
		d.Power = v > 0
	}
	if p.Speed != nil {
		if !spec.Has(CapSpeed) {
			return d, fmt.Errorf("speed: %w", ErrUnsupported)
		}
		v := clamp(*p.Speed, 0, 10)
		d.Speed = &v
		d.Percentage = nil
		d.Power = v > 0
	}
	if p.Level != nil {
		if !spec.Has(CapLevel) {
			return d, fmt.Errorf("level: %w", ErrUnsupported)
		}
		v := clamp(*p.Level, 0, 1)
		d.Level = &v
		d.Power = v > 0
	}
	if p.Power != nil {
		d.Power = *p.Power
	}
	return d, nil
}

// Snapshot converts the current state for a climate tick.
func (s *Store) Snapshot() climate.DeviceStates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return climate.FromSnapshot(s.state)
}

// Raw returns a deep copy of every device state.
func (s *Store) Raw() map[string]climate.RawDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]climate.RawDevice, len(s.state))
	for k, d := range s.state {
		out[k] = copyRaw(d)
	}
	return out
}

// Load replaces the state of every device present in m. Keys not on the
// roster are skipped. OnChange is not called.
func (s *Store) Load(m map[string]climate.RawDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range m {
		if _, ok := byKey[k]; !ok {
			slog.Warn("skipping unknown device on load", "device", k)
			continue
		}
		s.state[k] = copyRaw(d)
	}
}

func copyRaw(d climate.RawDevice) climate.RawDevice {
	dup := func(p *float64) *float64 {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	return climate.RawDevice{
		Power:      d.Power,
		Level:      dup(d.Level),
		Intensity:  dup(d.Intensity),
		Percentage: dup(d.Percentage),
		Speed:      dup(d.Speed),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
