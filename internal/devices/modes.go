package devices

import (
	"fmt"
	"strings"

	"github.com/talgya/tentsim/internal/climate"
)

// Mode is an HVAC operating mode spanning the heater, cooler and
// dehumidifier.
type Mode string

const (
	ModeOff  Mode = "off"
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
	ModeDry  Mode = "dry"

	// ModeManual is reported when the devices match no single mode.
	ModeManual Mode = "manual"
)

var hvacKeys = []string{climate.KeyHeater, climate.KeyCooler, climate.KeyDehumidifier}

var modeDevice = map[Mode]string{
	ModeHeat: climate.KeyHeater,
	ModeCool: climate.KeyCooler,
	ModeDry:  climate.KeyDehumidifier,
}

// Modes lists the settable modes.
func Modes() []Mode {
	return []Mode{ModeOff, ModeHeat, ModeCool, ModeDry}
}

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeOff, ModeHeat, ModeCool, ModeDry:
		return m, true
	}
	return "", false
}

// SetMode powers the device behind m and switches the other HVAC devices
// off. Levels are kept.
func (s *Store) SetMode(m Mode) error {
	if _, ok := ParseMode(string(m)); !ok {
		return fmt.Errorf("%w: mode %q", ErrInvalidValue, m)
	}
	want := modeDevice[m]
	for _, key := range hvacKeys {
		if err := s.SetPower(key, key == want); err != nil {
			return err
		}
	}
	return nil
}

// Mode derives the HVAC mode from the current device power.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var on []string
	for _, key := range hvacKeys {
		if s.state[key].Power {
			on = append(on, key)
		}
	}
	switch len(on) {
	case 0:
		return ModeOff
	case 1:
		for m, key := range modeDevice {
			if key == on[0] {
				return m
			}
		}
	}
	return ModeManual
}
