package devices

import (
	"math"

	"github.com/talgya/tentsim/internal/climate"
	"github.com/talgya/tentsim/internal/entropy"
)

// PARPerPercent converts main light intensity to µmol/m²/s.
const PARPerPercent = 5.3

// Soil probe baselines. The probe only wobbles around these.
const (
	SoilMoisture        = 55.0
	SoilMoistureVar     = 5.0
	SoilConductivity    = 1200.0
	SoilConductivityVar = 50.0
	SoilPH              = 6.2
)

// Readout is one derived sensor value.
type Readout struct {
	Device string  `json:"device"`
	Name   string  `json:"name"`
	Unit   string  `json:"unit"`
	Value  float64 `json:"value"`
}

// air sensors read slightly apart so they don't look cloned
var airOffsets = map[string][2]float64{
	KeyAirSensor:  {0, 0},
	KeyAirSensor2: {0.05, 0.5},
	KeyAirSensor3: {0.1, 1.0},
}

// Readouts derives every device sensor from the device states and the
// current climate. src drives the soil probe wobble; nil holds it steady.
func Readouts(raw map[string]climate.RawDevice, env climate.State, src entropy.Source) []Readout {
	d := climate.FromSnapshot(raw)
	var out []Readout
	add := func(dev, name, unit string, v float64) {
		out = append(out, Readout{Device: dev, Name: name, Unit: unit, Value: round2(v)})
	}

	intensity := d.MainLight.Percent()
	add(climate.KeyMainLight, "intensity", "%", intensity)
	add(climate.KeyMainLight, "par", "µmol/m²/s", intensity*PARPerPercent)
	add(climate.KeyMainLight, "duty", "%", intensity)

	add(climate.KeyExhaust, "duty", "%", d.Exhaust.Percent())
	add(climate.KeyIntake, "duty", "%", d.Intake.Percent())
	add(climate.KeyVentilationFan, "duty", "%", d.VentilationFan.Percent())

	for _, key := range []string{KeyAirSensor, KeyAirSensor2, KeyAirSensor3} {
		off := airOffsets[key]
		add(key, "temperature", "°C", env.AirTemperature+off[0])
		add(key, "humidity", "%", env.AirHumidity+off[1])
	}

	add(KeySoilSensor, "moisture", "%", SoilMoisture+entropy.Jitter(src, SoilMoistureVar))
	add(KeySoilSensor, "conductivity", "µS/cm", SoilConductivity+entropy.Jitter(src, SoilConductivityVar))
	add(KeySoilSensor, "ph", "", SoilPH)
	add(KeySoilSensor, "temperature", "°C", env.SoilTemperature)

	add(climate.KeyCO2, "co2", "ppm", env.CO2Level)
	add(KeyWaterPump, "level", "%", env.WaterLevel)
	add(KeyWaterPump, "temperature", "°C", env.WaterTemperature)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
