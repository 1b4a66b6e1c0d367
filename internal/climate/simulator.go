// Package climate simulates the air inside a grow tent.
// A Simulator advances temperature, humidity, CO2 and soil temperature by one
// tick from a device snapshot and an optional outside weather reading. Values
// approach device-shifted seasonal targets asymptotically, pick up bounded
// noise, and are clamped to physical ranges after the noise is applied.
package climate

import (
	"log/slog"
	"math"
	"sync"

	"github.com/talgya/tentsim/internal/entropy"
)

// Engine constants, tuned for a 30 second tick.
const (
	BaseApproachRate      = 0.05 // fraction of the target gap closed per tick
	SoilCoupling          = 0.02 // fraction of the air/soil gap closed per tick
	EquilibrationRate     = 0.01 // natural CO2 leak toward outside per tick
	VentEquilibrationRate = 0.02 // CO2 leak while the circulation fan mixes
	OutsideCO2            = 400.0

	AmbientJitter      = 1.0  // ±°C and ±%RH on the ambient target
	WeatherTempJitter  = 2.0  // ±°C on a real weather reading
	WeatherHumJitter   = 5.0  // ±%RH on a real weather reading
	FallbackTempJitter = 5.0  // ±°C on the seasonal outside fallback
	FallbackHumJitter  = 10.0 // ±%RH on the seasonal outside fallback
	DefaultWeatherHum  = 50.0
	TempNoise          = 0.05
	HumNoise           = 0.15
	CO2Noise           = 1.0
	InitialCO2         = 600.0
	InitialWaterLevel  = 75.0
	InitialWaterTemp   = 18.0
)

// State is the simulated climate. All fields are always populated.
type State struct {
	AirTemperature   float64 `json:"air_temperature"`
	AirHumidity      float64 `json:"air_humidity"`
	SoilTemperature  float64 `json:"soil_temperature"`
	CO2Level         float64 `json:"co2_level"`
	WaterLevel       float64 `json:"water_level"`
	WaterTemperature float64 `json:"water_temperature"`
}

// Weather is an optional outside reading. A nil Temp selects the seasonal
// fallback; a nil Hum defaults to 50.
type Weather struct {
	Temp *float64 `json:"temp"`
	Hum  *float64 `json:"hum"`
}

// Bounds are the clamp ranges applied at the end of every tick.
type Bounds struct {
	MinTemp float64 `json:"min_temp" yaml:"min_temp"`
	MaxTemp float64 `json:"max_temp" yaml:"max_temp"`
	MinHum  float64 `json:"min_hum" yaml:"min_hum"`
	MaxHum  float64 `json:"max_hum" yaml:"max_hum"`
	MinCO2  float64 `json:"min_co2" yaml:"min_co2"`
	MaxCO2  float64 `json:"max_co2" yaml:"max_co2"`
}

// DefaultBounds returns the standard physical ranges.
func DefaultBounds() Bounds {
	return Bounds{
		MinTemp: 5, MaxTemp: 45,
		MinHum: 20, MaxHum: 98,
		MinCO2: 300, MaxCO2: 2000,
	}
}

// Targets records the intermediate values of the most recent tick.
type Targets struct {
	OutsideTemp  float64 `json:"outside_temp"`
	OutsideHum   float64 `json:"outside_hum"`
	OutsideCO2   float64 `json:"outside_co2"`
	AmbientTemp  float64 `json:"ambient_temp"`
	AmbientHum   float64 `json:"ambient_hum"`
	TargetTemp   float64 `json:"target_temp"`
	TargetHum    float64 `json:"target_hum"`
	ApproachRate float64 `json:"approach_rate"`
	LightFactor  float64 `json:"light_factor"`
	FromWeather  bool    `json:"from_weather"`
}

// Config configures a Simulator.
type Config struct {
	Season  SeasonKey
	Source  entropy.Source // nil picks a randomly seeded source
	Bounds  Bounds
	Initial *State // restored state; nil seeds from the season profile
	Logger  *slog.Logger
}

// DefaultConfig returns a summer simulator with standard bounds.
func DefaultConfig() Config {
	return Config{
		Season: DefaultSeason,
		Bounds: DefaultBounds(),
	}
}

// Simulator owns the climate state. Ticks must be serialized by the caller;
// the mutex only keeps readers from seeing a half-written state.
type Simulator struct {
	mu      sync.Mutex
	state   State
	season  SeasonKey
	src     entropy.Source
	bounds  Bounds
	log     *slog.Logger
	ticks   uint64
	targets Targets
}

// NewSimulator creates a simulator from cfg.
func NewSimulator(cfg Config) *Simulator {
	if cfg.Source == nil {
		cfg.Source = entropy.NewRand(0)
	}
	if cfg.Bounds == (Bounds{}) {
		cfg.Bounds = DefaultBounds()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Season == "" {
		cfg.Season = DefaultSeason
	}

	s := &Simulator{
		season: cfg.Season,
		src:    cfg.Source,
		bounds: cfg.Bounds,
		log:    cfg.Logger,
	}

	if cfg.Initial != nil {
		s.state = s.bounded(*cfg.Initial, s.seasonDefaults())
	} else {
		s.state = s.seasonDefaults()
	}
	return s
}

func (s *Simulator) seasonDefaults() State {
	p := SeasonProfile(s.season)
	st := State{
		AirTemperature:   p.AmbientTemp,
		AirHumidity:      p.AmbientHum,
		SoilTemperature:  p.AmbientTemp,
		CO2Level:         InitialCO2,
		WaterLevel:       InitialWaterLevel,
		WaterTemperature: InitialWaterTemp,
	}
	return s.bounded(st, st)
}

// SetSeason selects the season used from the next tick on. The current
// state is kept; only the targets move.
func (s *Simulator) SetSeason(key SeasonKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.season == key {
		return
	}
	s.log.Info("season changed", "from", s.season, "to", key, "resolved", key.Resolve())
	s.season = key
}

// Season returns the selected season key as set.
func (s *Simulator) Season() SeasonKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.season
}

// State returns a copy of the current state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticks returns how many ticks have run.
func (s *Simulator) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// LastTargets returns the intermediate values of the most recent tick.
func (s *Simulator) LastTargets() Targets {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets
}

// Restore overwrites the whole state at once, clamping it into bounds.
// Non-finite fields keep their current value.
func (s *Simulator) Restore(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.bounded(st, s.state)
	s.log.Info("environment restored",
		"air_temperature", s.state.AirTemperature,
		"air_humidity", s.state.AirHumidity,
		"co2_level", s.state.CO2Level,
	)
}

// SetWater updates the reservoir readings, which ticks pass through untouched.
// Nil arguments leave the field alone.
func (s *Simulator) SetWater(level, temp *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if level != nil {
		st.WaterLevel = *level
	}
	if temp != nil {
		st.WaterTemperature = *temp
	}
	s.state = s.bounded(st, s.state)
}

// Tick advances the climate by one step and returns the new state.
func (s *Simulator) Tick(d DeviceStates, w *Weather) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state
	season := s.season

	// 1. Outside air.
	out, fromWeather := s.resolveOutside(season, w)

	// 2. Ambient room, re-jittered every tick so the target wanders.
	p := SeasonProfile(season)
	ambientT := p.AmbientTemp + entropy.Jitter(s.src, AmbientJitter)
	ambientH := p.AmbientHum + entropy.Jitter(s.src, AmbientJitter)

	// 3. Device contributions.
	c := Contribute(d, SeasonMultipliers(season))

	// 4. Targets.
	targetT := ambientT + c.Temp
	targetH := clamp(ambientH+c.Hum, 0, 100)
	if c.VentMixing {
		targetT = (targetT + cur.AirTemperature) / 2
		targetH = (targetH + cur.AirHumidity) / 2
	}

	// 5. Asymptotic approach, then air exchange through the fans.
	rate := BaseApproachRate + c.RateBonus
	t := cur.AirTemperature + (targetT-cur.AirTemperature)*rate
	h := cur.AirHumidity + (targetH-cur.AirHumidity)*rate
	t += (ambientT-t)*c.ExhaustWeight + (out.Temp-t)*c.IntakeWeight
	h += (ambientH-h)*c.ExhaustWeight + (out.Hum-h)*c.IntakeWeight

	// 6. CO2.
	co2 := advanceCO2(cur.CO2Level, c, out.CO2)

	soil := cur.SoilTemperature + (t-cur.SoilTemperature)*SoilCoupling

	// 7. Noise, then clamp.
	next := State{
		AirTemperature:   t + entropy.Jitter(s.src, TempNoise),
		AirHumidity:      h + entropy.Jitter(s.src, HumNoise),
		SoilTemperature:  soil + entropy.Jitter(s.src, TempNoise/2),
		CO2Level:         co2 + entropy.Jitter(s.src, CO2Noise),
		WaterLevel:       cur.WaterLevel,
		WaterTemperature: cur.WaterTemperature,
	}
	s.state = s.bounded(next, cur)
	s.ticks++
	s.targets = Targets{
		OutsideTemp:  out.Temp,
		OutsideHum:   out.Hum,
		OutsideCO2:   out.CO2,
		AmbientTemp:  ambientT,
		AmbientHum:   ambientH,
		TargetTemp:   targetT,
		TargetHum:    targetH,
		ApproachRate: rate,
		LightFactor:  c.LightFactor,
		FromWeather:  fromWeather,
	}

	s.log.Debug("climate tick",
		"tick", s.ticks,
		"season", season,
		"air_temperature", s.state.AirTemperature,
		"air_humidity", s.state.AirHumidity,
		"co2_level", s.state.CO2Level,
		"target_temp", targetT,
		"target_hum", targetH,
		"rate", rate,
	)

	// 8. Snapshot copy.
	return s.state
}

func (s *Simulator) resolveOutside(season SeasonKey, w *Weather) (OutsideProfile, bool) {
	if w != nil && w.Temp != nil && finite(*w.Temp) {
		hum := DefaultWeatherHum
		if w.Hum != nil && finite(*w.Hum) {
			hum = *w.Hum
		}
		return OutsideProfile{
			Temp: *w.Temp + entropy.Jitter(s.src, WeatherTempJitter),
			Hum:  clamp(hum+entropy.Jitter(s.src, WeatherHumJitter), 0, 100),
			CO2:  OutsideCO2,
		}, true
	}

	o := SeasonOutside(season)
	return OutsideProfile{
		Temp: o.Temp + entropy.Jitter(s.src, FallbackTempJitter),
		Hum:  clamp(o.Hum+entropy.Jitter(s.src, FallbackHumJitter), 0, 100),
		CO2:  o.CO2,
	}, false
}

// advanceCO2 runs the CO2 pipeline: injector and photosynthesis, intake
// dilution, exhaust removal, then the natural leak toward outside air.
func advanceCO2(co2 float64, c Contribution, outside float64) float64 {
	co2 += c.CO2
	co2 += (outside - co2) * c.IntakeWeight
	co2 += (outside - co2) * c.ExhaustWeight
	eq := EquilibrationRate
	if c.VentMixing {
		eq = VentEquilibrationRate
	}
	co2 += (outside - co2) * eq
	return co2
}

// bounded clamps st into range, substituting prev for non-finite fields.
func (s *Simulator) bounded(st, prev State) State {
	b := s.bounds
	return State{
		AirTemperature:   settle(st.AirTemperature, prev.AirTemperature, b.MinTemp, b.MaxTemp),
		AirHumidity:      settle(st.AirHumidity, prev.AirHumidity, b.MinHum, b.MaxHum),
		SoilTemperature:  settle(st.SoilTemperature, prev.SoilTemperature, b.MinTemp, b.MaxTemp),
		CO2Level:         settle(st.CO2Level, prev.CO2Level, b.MinCO2, b.MaxCO2),
		WaterLevel:       settle(st.WaterLevel, prev.WaterLevel, 0, 100),
		WaterTemperature: settle(st.WaterTemperature, prev.WaterTemperature, 0, 40),
	}
}

func settle(v, prev, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = prev
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = lo
	}
	return clamp(v, lo, hi)
}
