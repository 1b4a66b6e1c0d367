package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/tentsim/internal/climate"
	"github.com/talgya/tentsim/internal/devices"
	"github.com/talgya/tentsim/internal/engine"
	"github.com/talgya/tentsim/internal/entropy"
	"github.com/talgya/tentsim/internal/weather"
)

// simulateOptions drives an offline run with a fixed device setup.
type simulateOptions struct {
	Ticks    uint64
	Every    uint64
	Interval time.Duration
	Season   string
	Noise    string
	Seed     int64
	On       []string
	Set      map[string]string

	// Outside air; nil falls back to the season.
	OutsideTemp *float64
	OutsideHum  *float64

	JSON bool
}

func newSimulateCmd() *cobra.Command {
	var opts simulateOptions
	var outsideTemp, outsideHum float64

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the climate offline for a number of ticks",
		Example: `  tentsim simulate --season winter --on heater --ticks 120
  tentsim simulate --set light_main=80 --set exhaust=40 --outside-temp 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.JSON, _ = cmd.Flags().GetBool("json")
			if cmd.Flags().Changed("outside-temp") {
				opts.OutsideTemp = &outsideTemp
			}
			if cmd.Flags().Changed("outside-hum") {
				opts.OutsideHum = &outsideHum
			}
			_, err := runSimulation(cmd.Context(), opts, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().Uint64Var(&opts.Ticks, "ticks", 120, "Number of ticks to run")
	cmd.Flags().Uint64Var(&opts.Every, "every", 0, "Print every N ticks (default: ten rows)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", engine.DefaultInterval, "Simulated time per tick")
	cmd.Flags().StringVar(&opts.Season, "season", string(climate.DefaultSeason), "Season key")
	cmd.Flags().StringVar(&opts.Noise, "noise", entropy.KindRand, "Noise source: "+strings.Join(entropy.Kinds(), ", "))
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "Noise seed (0 = random)")
	cmd.Flags().StringSliceVar(&opts.On, "on", nil, "Devices to switch on")
	cmd.Flags().StringToStringVar(&opts.Set, "set", nil, "Device setting: intensity % for lights, speed % for fans, level 0..1 otherwise")
	cmd.Flags().Float64Var(&outsideTemp, "outside-temp", 0, "Outside temperature °C")
	cmd.Flags().Float64Var(&outsideHum, "outside-hum", 0, "Outside relative humidity %")
	return cmd
}

// staticWeather always reports the same outside conditions.
type staticWeather struct {
	c *weather.Conditions
}

func (s staticWeather) Fetch(context.Context) (*weather.Conditions, error) {
	return s.c, nil
}

// runSimulation ticks a fresh tent opts.Ticks times and writes a table (or
// JSON lines) to w. It returns every reading.
func runSimulation(ctx context.Context, opts simulateOptions, w io.Writer) ([]climate.Reading, error) {
	season, ok := climate.ParseSeason(opts.Season)
	if !ok {
		return nil, fmt.Errorf("%w: %s", climate.ErrInvalidSeason, opts.Season)
	}
	src, err := entropy.FromName(opts.Noise, opts.Seed, "")
	if err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = engine.DefaultInterval
	}

	store := devices.NewStore()
	if err := configureDevices(store, opts.On, opts.Set); err != nil {
		return nil, err
	}

	sim := climate.NewSimulator(climate.Config{
		Season: season,
		Source: src,
		Bounds: climate.DefaultBounds(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := engine.NewEngine()
	eng.Interval = opts.Interval
	eng.SaveEvery = 0

	runner := &engine.Runner{Sim: sim, Devices: store}
	runner.Now = func() time.Time { return start.Add(eng.Elapsed(eng.Tick())) }
	if opts.OutsideTemp != nil {
		runner.Weather = staticWeather{c: &weather.Conditions{Temp: *opts.OutsideTemp, Humidity: opts.OutsideHum}}
	}

	every := opts.Every
	if every == 0 {
		every = max(opts.Ticks/10, 1)
	}

	var readings []climate.Reading
	eng.OnTick = func(ctx context.Context, tick uint64) {
		readings = append(readings, runner.Step(ctx, tick))
	}

	if !opts.JSON {
		fmt.Fprintf(w, "%8s %10s %8s %8s %8s %8s\n", "TICK", "ELAPSED", "AIR °C", "RH %", "SOIL °C", "CO2 ppm")
	}
	enc := json.NewEncoder(w)
	for i := uint64(0); i < opts.Ticks; i++ {
		tick := eng.Step(ctx)
		if tick%every != 0 && tick != opts.Ticks {
			continue
		}
		r := readings[len(readings)-1]
		if opts.JSON {
			if err := enc.Encode(r); err != nil {
				return readings, err
			}
			continue
		}
		fmt.Fprintf(w, "%8s %10s %8s %8s %8s %8s\n",
			humanize.Comma(int64(tick)),
			eng.Elapsed(tick).String(),
			humanize.FtoaWithDigits(r.AirTemperature, 2),
			humanize.FtoaWithDigits(r.AirHumidity, 2),
			humanize.FtoaWithDigits(r.SoilTemperature, 2),
			humanize.FtoaWithDigits(r.CO2Level, 1),
		)
	}

	if !opts.JSON && opts.Ticks > 0 {
		end := start.Add(eng.Elapsed(opts.Ticks))
		fmt.Fprintf(w, "simulated %s of %s\n", strings.TrimSpace(humanize.RelTime(start, end, "", "")), season)
	}
	return readings, nil
}

// configureDevices powers on the named devices and applies key=value
// settings according to what each device accepts.
func configureDevices(store *devices.Store, on []string, set map[string]string) error {
	for _, key := range on {
		if err := store.SetPower(strings.TrimSpace(key), true); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v, err := strconv.ParseFloat(set[key], 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%s", devices.ErrInvalidValue, key, set[key])
		}
		spec, ok := devices.Lookup(key)
		if !ok {
			return fmt.Errorf("%w: %s", devices.ErrUnknownDevice, key)
		}
		var p devices.Patch
		switch {
		case spec.Has(devices.CapIntensity):
			p.Intensity = &v
		case spec.Has(devices.CapSpeed):
			p.Percentage = &v
		case spec.Has(devices.CapLevel):
			p.Level = &v
		default:
			return fmt.Errorf("%w: %s has no adjustable setting", devices.ErrUnsupported, key)
		}
		if err := store.Apply(key, p); err != nil {
			return err
		}
	}
	return nil
}
