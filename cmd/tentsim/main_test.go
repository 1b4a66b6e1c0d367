package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tentsim/internal/climate"
	"github.com/talgya/tentsim/internal/devices"
	"github.com/talgya/tentsim/internal/persistence"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestVersionCmd(t *testing.T) {
	assert.Contains(t, execute(t, "version"), "tentsim version "+version)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(execute(t, "version", "--json")), &got))
	assert.Equal(t, version, got["version"])
}

func TestSeasonsCmd(t *testing.T) {
	out := execute(t, "seasons")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 13)
	assert.Contains(t, out, "winter_wet")
}

func TestSimulateHeaterWarmsWinterTent(t *testing.T) {
	var out bytes.Buffer
	readings, err := runSimulation(context.Background(), simulateOptions{
		Ticks:  60,
		Season: "winter",
		Noise:  "rand",
		Seed:   3,
		On:     []string{climate.KeyHeater},
	}, &out)
	require.NoError(t, err)
	require.Len(t, readings, 60)

	baseline, err := runSimulation(context.Background(), simulateOptions{
		Ticks: 60, Season: "winter", Noise: "rand", Seed: 3,
	}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Greater(t, readings[59].AirTemperature, baseline[59].AirTemperature)
	assert.Equal(t, uint64(60), readings[59].Tick)
	assert.Contains(t, out.String(), "simulated 30 minutes of winter")
	// header plus ten rows plus summary
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 12)
}

func TestSimulateOutsideWeather(t *testing.T) {
	temp := 2.0
	readings, err := runSimulation(context.Background(), simulateOptions{
		Ticks:       5,
		Season:      "summer",
		Seed:        1,
		OutsideTemp: &temp,
		Set:         map[string]string{climate.KeyIntake: "100"},
		JSON:        true,
	}, &bytes.Buffer{})
	require.NoError(t, err)
	for _, r := range readings {
		assert.True(t, r.FromWeather)
	}
}

func TestSimulateJSONLines(t *testing.T) {
	var out bytes.Buffer
	_, err := runSimulation(context.Background(), simulateOptions{
		Ticks: 4, Every: 2, Season: "spring", Seed: 1, JSON: true,
	}, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var r climate.Reading
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &r))
	assert.Equal(t, uint64(4), r.Tick)
	assert.Equal(t, climate.Spring, r.Season)
}

func TestSimulateRejectsBadInput(t *testing.T) {
	_, err := runSimulation(context.Background(), simulateOptions{Ticks: 1, Season: "monsoon"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, climate.ErrInvalidSeason)

	_, err = runSimulation(context.Background(), simulateOptions{Ticks: 1, Season: "summer", Noise: "dice"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = runSimulation(context.Background(), simulateOptions{Ticks: 1, Season: "summer", On: []string{"feed"}}, &bytes.Buffer{})
	assert.ErrorIs(t, err, devices.ErrUnknownDevice)
}

func TestConfigureDevices(t *testing.T) {
	store := devices.NewStore()
	err := configureDevices(store, []string{"co2"}, map[string]string{
		climate.KeyMainLight: "60",
		climate.KeyExhaust:   "45",
		climate.KeyHeater:    "0.5",
	})
	require.NoError(t, err)

	d := store.Snapshot()
	assert.True(t, d.CO2.Power)
	assert.Equal(t, 60.0, d.MainLight.Percent())
	assert.Equal(t, 45.0, d.Exhaust.Percent())
	assert.Equal(t, 0.5, d.Heater.Output())

	assert.ErrorIs(t, configureDevices(store, nil, map[string]string{climate.KeyHeater: "hot"}), devices.ErrInvalidValue)
	assert.ErrorIs(t, configureDevices(store, nil, map[string]string{climate.KeyCO2: "1"}), devices.ErrUnsupported)
}

func TestResolveTentID(t *testing.T) {
	db, err := persistence.Open(filepath.Join(t.TempDir(), "tent.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	id, err := resolveTentID(ctx, db, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := resolveTentID(ctx, db, "")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	fixed, err := resolveTentID(ctx, db, "tent-a")
	require.NoError(t, err)
	assert.Equal(t, "tent-a", fixed)
}
