package climate

import (
	"encoding/json"
	"math"
)

// Device keys as they appear in key-addressed snapshots.
const (
	KeyHeater         = "heater"
	KeyCooler         = "cooler"
	KeyHumidifier     = "humidifier"
	KeyDehumidifier   = "dehumidifier"
	KeyMainLight      = "light_main"
	KeyDumbLight      = "dumb_light"
	KeyIRLight        = "light_ir"
	KeyRedLight       = "light_red"
	KeyBlueLight      = "light_blue"
	KeyUVLight        = "light_uv"
	KeyExhaust        = "exhaust"
	KeyIntake         = "intake"
	KeyDumbExhaust    = "dumb_exhaust"
	KeyDumbIntake     = "dumb_intake"
	KeyVentilationFan = "ventilation_fan"
	KeyCO2            = "co2"
)

// Device coefficients, tuned for a 30 second tick.
const (
	HeaterTempShift      = 8.0  // °C added to the target at full power
	CoolerTempShift      = 8.0  // °C removed from the target at full power
	LightTempShift       = 4.0  // °C per unit of light intensity factor
	HeatDrying           = 0.3  // %RH lost per °C of device heat
	HumidifierHumShift   = 15.0 // %RH added to the target
	DehumidifierHumShift = 15.0 // %RH removed from the target
	ExhaustCoeff         = 0.12
	IntakeCoeff          = 0.15
	VentMixThreshold     = 50.0 // % speed at which the circulation fan mixes
	CO2InjectorPPM       = 15.0
	PhotosynthesisPPM    = 5.0 // ppm consumed per unit of light intensity factor
	MaxLightFactor       = 2.0
	ActiveDeviceBonus    = 0.01 // approach rate added per active device class
)

// BinaryDevice is an on/off device with an optional power level in 0..1.
type BinaryDevice struct {
	Power bool
	Level *float64
}

// Output returns the effective power level, 0 when off.
func (b BinaryDevice) Output() float64 {
	if !b.Power {
		return 0
	}
	if b.Level == nil || !finite(*b.Level) {
		return 1
	}
	return clamp(*b.Level, 0, 1)
}

// Light is a dimmable light. Intensity is a percentage; a powered light
// without one runs at 100.
type Light struct {
	Power     bool
	Intensity *float64
}

// Percent returns the effective intensity, 0 when off.
func (l Light) Percent() float64 {
	if !l.Power {
		return 0
	}
	if l.Intensity == nil || !finite(*l.Intensity) {
		return 100
	}
	return clamp(*l.Intensity, 0, 200)
}

// Fan is a speed-controlled fan. Percentage wins over Speed (0..10); a
// powered fan with neither runs at 100.
type Fan struct {
	Power      bool
	Percentage *float64
	Speed      *float64
}

// Percent returns the effective speed, 0 when off.
func (f Fan) Percent() float64 {
	if !f.Power {
		return 0
	}
	switch {
	case f.Percentage != nil && finite(*f.Percentage):
		return clamp(*f.Percentage, 0, 100)
	case f.Speed != nil && finite(*f.Speed):
		return clamp(*f.Speed, 0, 10) * 10
	default:
		return 100
	}
}

// CO2Injector releases a fixed amount of CO2 per tick while on.
type CO2Injector struct {
	Power bool
}

// DeviceStates is the device snapshot read by a tick. The zero value has
// every device off.
type DeviceStates struct {
	Heater       BinaryDevice
	Cooler       BinaryDevice
	Humidifier   BinaryDevice
	Dehumidifier BinaryDevice

	MainLight Light
	DumbLight BinaryDevice
	IRLight   BinaryDevice
	RedLight  BinaryDevice
	BlueLight BinaryDevice
	UVLight   BinaryDevice

	Exhaust        Fan
	Intake         Fan
	DumbExhaust    BinaryDevice
	DumbIntake     BinaryDevice
	VentilationFan Fan

	CO2 CO2Injector
}

// RawDevice is the loose per-device record collaborators hand in.
type RawDevice struct {
	Power      bool     `json:"power"`
	Level      *float64 `json:"level,omitempty"`
	Intensity  *float64 `json:"intensity,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
}

// UnmarshalJSON accepts power as a bool or as a numeric level in 0..1, and
// the legacy "co2" flag of the injector. Wrong-typed fields are dropped.
func (r *RawDevice) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = RawDevice{}

	if v, ok := raw["power"]; ok {
		var on bool
		var level float64
		if json.Unmarshal(v, &on) == nil {
			r.Power = on
		} else if json.Unmarshal(v, &level) == nil && finite(level) {
			r.Power = level > 0
			r.Level = &level
		}
	}
	if v, ok := raw["co2"]; ok {
		var on bool
		if json.Unmarshal(v, &on) == nil && on {
			r.Power = true
		}
	}

	r.Level = numberField(raw, "level", r.Level)
	r.Intensity = numberField(raw, "intensity", nil)
	r.Percentage = numberField(raw, "percentage", nil)
	r.Speed = numberField(raw, "speed", nil)
	return nil
}

func numberField(raw map[string]json.RawMessage, key string, def *float64) *float64 {
	v, ok := raw[key]
	if !ok {
		return def
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil || !finite(f) {
		return def
	}
	return &f
}

// FromSnapshot builds DeviceStates from a key-addressed snapshot. Unknown
// keys are ignored, absent keys stay off, non-finite numbers are dropped.
func FromSnapshot(snap map[string]RawDevice) DeviceStates {
	var d DeviceStates
	binary := func(key string) BinaryDevice {
		r, ok := snap[key]
		if !ok {
			return BinaryDevice{}
		}
		return BinaryDevice{Power: r.Power, Level: finitePtr(r.Level)}
	}
	fan := func(key string) Fan {
		r, ok := snap[key]
		if !ok {
			return Fan{}
		}
		return Fan{Power: r.Power, Percentage: finitePtr(r.Percentage), Speed: finitePtr(r.Speed)}
	}

	d.Heater = binary(KeyHeater)
	d.Cooler = binary(KeyCooler)
	d.Humidifier = binary(KeyHumidifier)
	d.Dehumidifier = binary(KeyDehumidifier)

	if r, ok := snap[KeyMainLight]; ok {
		d.MainLight = Light{Power: r.Power, Intensity: finitePtr(r.Intensity)}
	}
	d.DumbLight = binary(KeyDumbLight)
	d.IRLight = binary(KeyIRLight)
	d.RedLight = binary(KeyRedLight)
	d.BlueLight = binary(KeyBlueLight)
	d.UVLight = binary(KeyUVLight)

	d.Exhaust = fan(KeyExhaust)
	d.Intake = fan(KeyIntake)
	d.DumbExhaust = binary(KeyDumbExhaust)
	d.DumbIntake = binary(KeyDumbIntake)
	d.VentilationFan = fan(KeyVentilationFan)

	d.CO2 = CO2Injector{Power: snap[KeyCO2].Power}
	return d
}

// Contribution is what the powered devices add to one tick.
type Contribution struct {
	Temp          float64 // °C added to the temperature target
	Hum           float64 // %RH added to the humidity target
	CO2           float64 // ppm added this tick (injector minus photosynthesis)
	LightFactor   float64 // combined light intensity, 0..MaxLightFactor
	RateBonus     float64 // added to the base approach rate
	ExhaustWeight float64 // pull toward the ambient room per tick
	IntakeWeight  float64 // pull toward outside air per tick
	VentMixing    bool    // circulation fan fast enough to mix
}

// Contribute computes the device contributions under multipliers m.
func Contribute(d DeviceStates, m Multipliers) Contribution {
	var c Contribution

	heater := HeaterHeat(d, m)
	cooler := CoolerHeat(d, m)
	c.LightFactor = LightFactor(d)
	light := LightTempShift * c.LightFactor * m.Light

	c.Temp = heater + cooler + light
	c.Hum = HumidityShift(d, m) - HeatDrying*c.Temp

	c.CO2 = -PhotosynthesisPPM * c.LightFactor * m.CO2
	if d.CO2.Power {
		c.CO2 += CO2InjectorPPM
	}

	c.ExhaustWeight = ExhaustWeight(d, m)
	c.IntakeWeight = IntakeWeight(d, m)
	c.VentMixing = d.VentilationFan.Percent() >= VentMixThreshold

	for _, active := range []bool{
		d.Heater.Power,
		d.Cooler.Power,
		d.Humidifier.Power,
		d.Dehumidifier.Power,
		c.LightFactor > 0,
	} {
		if active {
			c.RateBonus += ActiveDeviceBonus
		}
	}
	return c
}

// HeaterHeat is the heater's positive temperature shift.
func HeaterHeat(d DeviceStates, m Multipliers) float64 {
	return HeaterTempShift * d.Heater.Output() * m.Heater
}

// CoolerHeat is the cooler's negative temperature shift.
func CoolerHeat(d DeviceStates, m Multipliers) float64 {
	return -CoolerTempShift * d.Cooler.Output() * m.Cooler
}

// LightFactor combines the main light's intensity with every powered
// auxiliary light (each counted at 100%), capped at MaxLightFactor.
func LightFactor(d DeviceStates) float64 {
	total := d.MainLight.Percent()
	for _, aux := range []BinaryDevice{d.DumbLight, d.IRLight, d.RedLight, d.BlueLight, d.UVLight} {
		if aux.Power {
			total += 100
		}
	}
	return math.Min(MaxLightFactor, total/100)
}

// HumidityShift is the humidifier/dehumidifier target shift.
func HumidityShift(d DeviceStates, m Multipliers) float64 {
	return HumidifierHumShift*d.Humidifier.Output()*m.Humidifier -
		DehumidifierHumShift*d.Dehumidifier.Output()*m.Dehumidifier
}

// ExhaustWeight is the per-tick pull toward the ambient room. A dumb
// exhaust counts as a fan at 100%.
func ExhaustWeight(d DeviceStates, m Multipliers) float64 {
	pct := d.Exhaust.Percent()
	if d.DumbExhaust.Power {
		pct = 100
	}
	return pct / 100 * ExhaustCoeff * m.Fan
}

// IntakeWeight is the per-tick pull toward outside air. A dumb intake
// counts as a fan at 100%.
func IntakeWeight(d DeviceStates, m Multipliers) float64 {
	pct := d.Intake.Percent()
	if d.DumbIntake.Power {
		pct = 100
	}
	return pct / 100 * IntakeCoeff * m.Fan
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finitePtr(p *float64) *float64 {
	if p == nil || !finite(*p) {
		return nil
	}
	v := *p
	return &v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
