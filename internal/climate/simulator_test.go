package climate

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tentsim/internal/entropy"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// calm is a zero-noise simulator starting from st.
func calm(season SeasonKey, st State) *Simulator {
	return NewSimulator(Config{
		Season:  season,
		Source:  entropy.Constant(0.5),
		Initial: &st,
		Logger:  quiet,
	})
}

func start(temp, hum, co2 float64) State {
	return State{
		AirTemperature:   temp,
		AirHumidity:      hum,
		SoilTemperature:  temp,
		CO2Level:         co2,
		WaterLevel:       InitialWaterLevel,
		WaterTemperature: InitialWaterTemp,
	}
}

func TestNewSimulatorSeedsFromSeason(t *testing.T) {
	s := NewSimulator(Config{Season: Winter, Source: entropy.Constant(0.5), Logger: quiet})
	st := s.State()
	assert.Equal(t, 18.0, st.AirTemperature)
	assert.Equal(t, 75.0, st.AirHumidity)
	assert.Equal(t, 18.0, st.SoilTemperature)
	assert.Equal(t, InitialCO2, st.CO2Level)
	assert.Equal(t, InitialWaterLevel, st.WaterLevel)
	assert.Equal(t, InitialWaterTemp, st.WaterTemperature)
	assert.Zero(t, s.Ticks())
}

func TestNewSimulatorDefaults(t *testing.T) {
	s := NewSimulator(Config{Logger: quiet})
	assert.Equal(t, DefaultSeason, s.Season())
	st := s.Tick(DeviceStates{}, nil)
	assertInBounds(t, DefaultBounds(), st)
}

func TestWarmUpReachesAmbient(t *testing.T) {
	s := calm(Winter, start(10, 75, 600))

	prev := 10.0
	var st State
	for i := 0; i < 50; i++ {
		st = s.Tick(DeviceStates{}, nil)
		require.Greater(t, st.AirTemperature, prev, "tick %d", i)
		prev = st.AirTemperature
	}
	assert.InDelta(t, 18, st.AirTemperature, 1)
	assert.InDelta(t, 18-8*math.Pow(0.95, 50), st.AirTemperature, 1e-6)
	assert.Equal(t, uint64(50), s.Ticks())

	// Soil trails the air.
	assert.Greater(t, st.SoilTemperature, 10.0)
	assert.Less(t, st.SoilTemperature, st.AirTemperature)
}

func TestGapShrinksEveryTick(t *testing.T) {
	for _, k := range []SeasonKey{Spring, Summer, FallWet, WinterDry} {
		p := SeasonProfile(k)
		s := calm(k, start(p.AmbientTemp+12, p.AmbientHum-15, 600))

		gapT := 12.0
		gapH := 15.0
		for i := 0; i < 30; i++ {
			st := s.Tick(DeviceStates{}, nil)
			gt := math.Abs(st.AirTemperature - p.AmbientTemp)
			gh := math.Abs(st.AirHumidity - p.AmbientHum)
			require.Less(t, gt, gapT, "%s tick %d", k, i)
			require.Less(t, gh, gapH, "%s tick %d", k, i)
			gapT, gapH = gt, gh
		}
	}
}

func TestIntakePullsTowardOutside(t *testing.T) {
	outTemp, outHum := 5.0, 80.0
	w := &Weather{Temp: &outTemp, Hum: &outHum}
	d := DeviceStates{Intake: Fan{Power: true, Percentage: ptr(100)}}
	s := calm(Winter, start(25, 75, 600))

	prev := 25.0
	for i := 0; i < 40; i++ {
		st := s.Tick(d, w)
		require.Less(t, st.AirTemperature, prev, "tick %d", i)
		require.GreaterOrEqual(t, st.AirTemperature, 5.0)
		prev = st.AirTemperature
	}
	tg := s.LastTargets()
	assert.True(t, tg.FromWeather)
	assert.Equal(t, 5.0, tg.OutsideTemp)
	assert.Equal(t, 80.0, tg.OutsideHum)
}

func TestExhaustPullsTowardAmbient(t *testing.T) {
	s := calm(Spring, start(30, 65, 600))
	st := s.Tick(DeviceStates{Exhaust: Fan{Power: true}}, nil)

	afterApproach := 30 + (20-30)*BaseApproachRate
	want := afterApproach + (20-afterApproach)*ExhaustCoeff
	assert.InDelta(t, want, st.AirTemperature, 1e-9)
}

func TestCO2InjectionRises(t *testing.T) {
	s := calm(Summer, start(25, 60, 600))
	d := DeviceStates{CO2: CO2Injector{Power: true}}

	prev := 600.0
	for i := 0; i < 20; i++ {
		st := s.Tick(d, nil)
		require.Greater(t, st.CO2Level, prev, "tick %d", i)
		prev = st.CO2Level
	}
}

func TestPhotosynthesisDrawsDownCO2(t *testing.T) {
	s := calm(Summer, start(25, 60, 600))
	d := DeviceStates{MainLight: Light{Power: true}}

	prev := 600.0
	for i := 0; i < 20; i++ {
		st := s.Tick(d, nil)
		require.Less(t, st.CO2Level, prev, "tick %d", i)
		prev = st.CO2Level
	}
	assert.Greater(t, prev, DefaultBounds().MinCO2)
}

func TestCO2Pipeline(t *testing.T) {
	c := Contribution{CO2: 15}
	assert.InDelta(t, 615+(400-615)*EquilibrationRate, advanceCO2(600, c, 400), 1e-9)

	c = Contribution{VentMixing: true}
	assert.InDelta(t, 596.0, advanceCO2(600, c, 400), 1e-9)

	c = Contribution{IntakeWeight: 0.5}
	got := advanceCO2(1000, c, 400)
	assert.InDelta(t, 700+(400-700)*EquilibrationRate, got, 1e-9)
}

func TestHeaterWarmsRelativeToBaseline(t *testing.T) {
	for _, k := range Seasons() {
		p := SeasonProfile(k)
		base := calm(k, start(p.AmbientTemp, p.AmbientHum, 600))
		heated := calm(k, start(p.AmbientTemp, p.AmbientHum, 600))
		both := calm(k, start(p.AmbientTemp, p.AmbientHum, 600))

		var b, h, hb State
		for i := 0; i < 20; i++ {
			b = base.Tick(DeviceStates{}, nil)
			h = heated.Tick(DeviceStates{Heater: BinaryDevice{Power: true}}, nil)
			hb = both.Tick(DeviceStates{
				Heater: BinaryDevice{Power: true},
				Cooler: BinaryDevice{Power: true},
			}, nil)
		}
		assert.Greater(t, h.AirTemperature, b.AirTemperature, k)
		assert.Less(t, math.Abs(hb.AirTemperature-b.AirTemperature),
			math.Abs(h.AirTemperature-b.AirTemperature), k)
	}
}

func TestVentMixingAveragesTarget(t *testing.T) {
	s := calm(Spring, start(30, 65, 600))
	st := s.Tick(DeviceStates{VentilationFan: Fan{Power: true}}, nil)

	tg := s.LastTargets()
	assert.InDelta(t, 25.0, tg.TargetTemp, 1e-9)
	assert.InDelta(t, 65.0, tg.TargetHum, 1e-9)
	assert.InDelta(t, 596.0, st.CO2Level, 1e-9)
}

func TestWeatherHumidityDefaults(t *testing.T) {
	temp := 30.0
	s := calm(Winter, start(18, 75, 600))
	s.Tick(DeviceStates{}, &Weather{Temp: &temp})

	tg := s.LastTargets()
	assert.True(t, tg.FromWeather)
	assert.Equal(t, 30.0, tg.OutsideTemp)
	assert.Equal(t, DefaultWeatherHum, tg.OutsideHum)
	assert.Equal(t, OutsideCO2, tg.OutsideCO2)
}

func TestWeatherJitterRange(t *testing.T) {
	temp, hum := 30.0, 99.0
	s := NewSimulator(Config{Season: Winter, Source: entropy.Constant(0), Logger: quiet})
	s.Tick(DeviceStates{}, &Weather{Temp: &temp, Hum: &hum})

	tg := s.LastTargets()
	assert.InDelta(t, 30-WeatherTempJitter, tg.OutsideTemp, 1e-9)
	assert.InDelta(t, 99-WeatherHumJitter, tg.OutsideHum, 1e-9)
	assert.InDelta(t, 18-AmbientJitter, tg.AmbientTemp, 1e-9)
}

func TestFallbackOutside(t *testing.T) {
	nan := math.NaN()
	for _, w := range []*Weather{nil, {}, {Temp: &nan}} {
		s := calm(WinterWet, start(15, 90, 600))
		s.Tick(DeviceStates{}, w)

		tg := s.LastTargets()
		assert.False(t, tg.FromWeather)
		assert.Equal(t, 5.0, tg.OutsideTemp)
		assert.Equal(t, 80.0, tg.OutsideHum)
	}

	s := NewSimulator(Config{Season: Fall, Source: entropy.Constant(0), Logger: quiet})
	s.Tick(DeviceStates{}, nil)
	tg := s.LastTargets()
	assert.InDelta(t, 10-FallbackTempJitter, tg.OutsideTemp, 1e-9)
	assert.InDelta(t, 70-FallbackHumJitter, tg.OutsideHum, 1e-9)
}

func TestClampAfterNoise(t *testing.T) {
	b := DefaultBounds()
	b.MaxTemp = 20

	s := NewSimulator(Config{
		Season:  Summer,
		Source:  entropy.Constant(0.999),
		Bounds:  b,
		Initial: &State{AirTemperature: 20, AirHumidity: 98, SoilTemperature: 20, CO2Level: 2000},
		Logger:  quiet,
	})
	d := DeviceStates{
		Heater:     BinaryDevice{Power: true},
		Humidifier: BinaryDevice{Power: true},
		CO2:        CO2Injector{Power: true},
	}
	for i := 0; i < 10; i++ {
		st := s.Tick(d, nil)
		assert.Equal(t, 20.0, st.AirTemperature)
		assert.LessOrEqual(t, st.AirHumidity, b.MaxHum)
		assert.LessOrEqual(t, st.CO2Level, b.MaxCO2)
	}
}

func TestBoundedUnderRandomInputs(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	seasons := append(Seasons(), "monsoon", "")

	for _, bounds := range []Bounds{
		DefaultBounds(),
		{MinTemp: 10, MaxTemp: 12, MinHum: 40, MaxHum: 45, MinCO2: 350, MaxCO2: 500},
	} {
		s := NewSimulator(Config{
			Season: seasons[r.Intn(len(seasons))],
			Source: entropy.NewRand(11),
			Bounds: bounds,
			Logger: quiet,
		})
		for i := 0; i < 500; i++ {
			if i%50 == 0 {
				s.SetSeason(seasons[r.Intn(len(seasons))])
			}
			st := s.Tick(randomDevices(r), randomWeather(r))
			assertInBounds(t, bounds, st)
		}
	}
}

func TestSameSeedSameTrajectory(t *testing.T) {
	a := NewSimulator(Config{Season: Fall, Source: entropy.NewRand(99), Logger: quiet})
	b := NewSimulator(Config{Season: Fall, Source: entropy.NewRand(99), Logger: quiet})

	r := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		d := randomDevices(r)
		w := randomWeather(r)
		require.Equal(t, a.Tick(d, w), b.Tick(d, w), "tick %d", i)
	}
}

func TestMissingDevicesAreOff(t *testing.T) {
	a := calm(Spring, start(25, 50, 700))
	b := calm(Spring, start(25, 50, 700))
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Tick(DeviceStates{}, nil), b.Tick(FromSnapshot(map[string]RawDevice{}), nil))
	}
}

func TestUnknownSeasonBehavesAsSummer(t *testing.T) {
	a := calm(Summer, start(22, 50, 600))
	b := calm("monsoon", start(22, 50, 600))
	assert.Equal(t, SeasonKey("monsoon"), b.Season())

	d := DeviceStates{Heater: BinaryDevice{Power: true}, Exhaust: Fan{Power: true}}
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Tick(d, nil), b.Tick(d, nil))
	}
}

func TestSetSeasonKeepsState(t *testing.T) {
	s := calm(Summer, start(22, 50, 600))
	before := s.State()

	s.SetSeason(Winter)
	s.SetSeason(Winter)
	assert.Equal(t, Winter, s.Season())
	assert.Equal(t, before, s.State())

	s.Tick(DeviceStates{}, nil)
	assert.InDelta(t, 18.0, s.LastTargets().AmbientTemp, 1e-9)
}

func TestRestoreClampsAndSkipsNaN(t *testing.T) {
	s := calm(Spring, start(22, 50, 600))
	s.Restore(State{
		AirTemperature:   100,
		AirHumidity:      math.NaN(),
		SoilTemperature:  -40,
		CO2Level:         math.Inf(1),
		WaterLevel:       140,
		WaterTemperature: 12,
	})

	st := s.State()
	assert.Equal(t, 45.0, st.AirTemperature)
	assert.Equal(t, 50.0, st.AirHumidity)
	assert.Equal(t, 5.0, st.SoilTemperature)
	assert.Equal(t, 600.0, st.CO2Level)
	assert.Equal(t, 100.0, st.WaterLevel)
	assert.Equal(t, 12.0, st.WaterTemperature)
}

func TestWaterPassesThrough(t *testing.T) {
	s := calm(Spring, start(22, 50, 600))
	s.SetWater(ptr(40), nil)
	s.SetWater(nil, ptr(55))

	for i := 0; i < 5; i++ {
		st := s.Tick(DeviceStates{Heater: BinaryDevice{Power: true}}, nil)
		assert.Equal(t, 40.0, st.WaterLevel)
		assert.Equal(t, 40.0, st.WaterTemperature)
	}
}

func TestTickReturnsCopy(t *testing.T) {
	s := calm(Spring, start(22, 50, 600))
	st := s.Tick(DeviceStates{}, nil)
	st.AirTemperature = -99
	assert.NotEqual(t, -99.0, s.State().AirTemperature)
}

func assertInBounds(t *testing.T, b Bounds, st State) {
	t.Helper()
	require.True(t, st.AirTemperature >= b.MinTemp && st.AirTemperature <= b.MaxTemp, "air temperature %v", st.AirTemperature)
	require.True(t, st.SoilTemperature >= b.MinTemp && st.SoilTemperature <= b.MaxTemp, "soil temperature %v", st.SoilTemperature)
	require.True(t, st.AirHumidity >= b.MinHum && st.AirHumidity <= b.MaxHum, "humidity %v", st.AirHumidity)
	require.True(t, st.CO2Level >= b.MinCO2 && st.CO2Level <= b.MaxCO2, "co2 %v", st.CO2Level)
	require.True(t, st.WaterLevel >= 0 && st.WaterLevel <= 100, "water level %v", st.WaterLevel)
}

func randomDevices(r *rand.Rand) DeviceStates {
	on := func() bool { return r.Intn(2) == 0 }
	maybe := func(scale float64) *float64 {
		switch r.Intn(4) {
		case 0:
			return nil
		case 1:
			return ptr(math.NaN())
		default:
			return ptr((r.Float64()*1.5 - 0.25) * scale)
		}
	}
	bin := func() BinaryDevice { return BinaryDevice{Power: on(), Level: maybe(1)} }
	fan := func() Fan { return Fan{Power: on(), Percentage: maybe(100), Speed: maybe(10)} }

	return DeviceStates{
		Heater:         bin(),
		Cooler:         bin(),
		Humidifier:     bin(),
		Dehumidifier:   bin(),
		MainLight:      Light{Power: on(), Intensity: maybe(200)},
		DumbLight:      bin(),
		IRLight:        bin(),
		RedLight:       bin(),
		BlueLight:      bin(),
		UVLight:        bin(),
		Exhaust:        fan(),
		Intake:         fan(),
		DumbExhaust:    bin(),
		DumbIntake:     bin(),
		VentilationFan: fan(),
		CO2:            CO2Injector{Power: on()},
	}
}

func randomWeather(r *rand.Rand) *Weather {
	switch r.Intn(4) {
	case 0:
		return nil
	case 1:
		return &Weather{Temp: ptr(r.Float64()*400 - 200), Hum: ptr(r.Float64()*300 - 100)}
	case 2:
		return &Weather{Temp: ptr(math.Inf(-1))}
	default:
		return &Weather{Temp: ptr(r.Float64()*40 - 5), Hum: ptr(r.Float64() * 100)}
	}
}
