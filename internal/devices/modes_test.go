package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tentsim/internal/climate"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"heat", ModeHeat, true},
		{" COOL ", ModeCool, true},
		{"Dry", ModeDry, true},
		{"off", ModeOff, true},
		{"manual", "", false},
		{"fan_only", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, ok := ParseMode(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, m)
		})
	}
}

func TestSetModeSwitchesHVACDevices(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetLevel(climate.KeyHeater, 0.4))
	require.NoError(t, s.SetPower(climate.KeyHumidifier, true))
	assert.Equal(t, ModeHeat, s.Mode())

	require.NoError(t, s.SetMode(ModeCool))
	d := s.Snapshot()
	assert.False(t, d.Heater.Power)
	assert.True(t, d.Cooler.Power)
	assert.False(t, d.Dehumidifier.Power)
	assert.True(t, d.Humidifier.Power, "humidifier is not an HVAC mode device")
	assert.Equal(t, ModeCool, s.Mode())

	require.NoError(t, s.SetMode(ModeDry))
	assert.Equal(t, ModeDry, s.Mode())

	require.NoError(t, s.SetMode(ModeHeat))
	h, _ := s.Get(climate.KeyHeater)
	require.NotNil(t, h.Level)
	assert.Equal(t, 0.4, *h.Level)

	require.NoError(t, s.SetMode(ModeOff))
	assert.Equal(t, ModeOff, s.Mode())
}

func TestModeManualWhenMixed(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetPower(climate.KeyHeater, true))
	require.NoError(t, s.SetPower(climate.KeyCooler, true))
	assert.Equal(t, ModeManual, s.Mode())
}

func TestSetModeRejectsUnknown(t *testing.T) {
	s := NewStore()
	assert.ErrorIs(t, s.SetMode("turbo"), ErrInvalidValue)
	assert.ErrorIs(t, s.SetMode(ModeManual), ErrInvalidValue)
}
