// Package devices holds the simulated tent's device roster and the live
// on/off/level state the climate engine reads every tick.
package devices

import "github.com/talgya/tentsim/internal/climate"

// Kind groups devices by how they can be driven.
type Kind string

const (
	KindLight        Kind = "Light"
	KindHeater       Kind = "Heater"
	KindCooler       Kind = "Cooler"
	KindHumidifier   Kind = "Humidifier"
	KindDehumidifier Kind = "Dehumidifier"
	KindExhaust      Kind = "Exhaust"
	KindIntake       Kind = "Intake"
	KindVentilation  Kind = "Ventilation"
	KindDumbFan      Kind = "Dumb Fan"
	KindCO2          Kind = "CO2"
	KindSensor       Kind = "Sensor"
	KindPump         Kind = "Pump"
)

// Capability is a setter a device accepts beyond plain power.
type Capability uint8

const (
	CapIntensity Capability = 1 << iota // dimmable, 0..100 %
	CapSpeed                            // fan speed, 0..10 or 0..100 %
	CapLevel                            // fractional output, 0..1
)

// Spec describes one device of the roster.
type Spec struct {
	Key    string     `json:"key"`
	Name   string     `json:"name"`
	Kind   Kind       `json:"type"`
	Labels []string   `json:"labels"`
	Caps   Capability `json:"-"`
}

// Has reports whether the device accepts setter c.
func (s Spec) Has(c Capability) bool {
	return s.Caps&c != 0
}

// Sensor-only and passive keys with no climate effect.
const (
	KeySoilSensor        = "sensor_main"
	KeyAirSensor         = "air_sensor"
	KeyAirSensor2        = "air_sensor_2"
	KeyAirSensor3        = "air_sensor_3"
	KeyVentilationSwitch = "ventilation_switch"
	KeyWaterPump         = "water_pump"
	KeyPHDoser           = "ph_doser"
	KeyECDoser           = "ec_doser"
)

var roster = []Spec{
	{Key: climate.KeyMainLight, Name: "DevMainLight", Kind: KindLight, Labels: []string{"Light"}, Caps: CapIntensity},
	{Key: climate.KeyDumbLight, Name: "DevDumbLight", Kind: KindLight, Labels: []string{"Light"}},
	{Key: climate.KeyIRLight, Name: "DevFarRedLight", Kind: KindLight, Labels: []string{"FarRedLight"}},
	{Key: climate.KeyRedLight, Name: "DevRedLight", Kind: KindLight, Labels: []string{"RedLight"}},
	{Key: climate.KeyBlueLight, Name: "DevBlueLight", Kind: KindLight, Labels: []string{"BlueLight"}},
	{Key: climate.KeyUVLight, Name: "DevUVLight", Kind: KindLight, Labels: []string{"UVLight"}},
	{Key: KeySoilSensor, Name: "DevSoilSensor", Kind: KindSensor, Labels: []string{"Sensor"}},
	{Key: climate.KeyHeater, Name: "DevHeater", Kind: KindHeater, Labels: []string{"Heater"}, Caps: CapLevel},
	{Key: climate.KeyCooler, Name: "DevCooler", Kind: KindCooler, Labels: []string{"Cooler"}, Caps: CapLevel},
	{Key: climate.KeyHumidifier, Name: "DevHumidifier", Kind: KindHumidifier, Labels: []string{"Humidifier"}, Caps: CapLevel},
	{Key: climate.KeyDehumidifier, Name: "DevDehumidifier", Kind: KindDehumidifier, Labels: []string{"Dehumidifier"}, Caps: CapLevel},
	{Key: climate.KeyExhaust, Name: "DevExhaustFan", Kind: KindExhaust, Labels: []string{"Exhaust"}, Caps: CapSpeed},
	{Key: climate.KeyIntake, Name: "DevIntakeFan", Kind: KindIntake, Labels: []string{"Intake"}, Caps: CapSpeed},
	{Key: KeyVentilationSwitch, Name: "DevVentilationSwitch", Kind: KindVentilation, Labels: []string{"Ventilation"}},
	{Key: climate.KeyVentilationFan, Name: "DevVentilationFan", Kind: KindVentilation, Labels: []string{"Ventilation"}, Caps: CapSpeed},
	{Key: climate.KeyCO2, Name: "DevCO2System", Kind: KindCO2, Labels: []string{"CO2"}},
	{Key: climate.KeyDumbExhaust, Name: "DevDumbExhaustFan", Kind: KindDumbFan, Labels: []string{"Fan"}},
	{Key: climate.KeyDumbIntake, Name: "DevDumbIntakeFan", Kind: KindDumbFan, Labels: []string{"Fan"}},
	{Key: KeyAirSensor, Name: "DevSensor1", Kind: KindSensor, Labels: []string{"Sensor"}},
	{Key: KeyAirSensor2, Name: "DevSensor2", Kind: KindSensor, Labels: []string{"Sensor"}},
	{Key: KeyAirSensor3, Name: "DevSensor3", Kind: KindSensor, Labels: []string{"Sensor"}},
	{Key: KeyWaterPump, Name: "DevWaterPump", Kind: KindPump, Labels: []string{"Pump"}},
	{Key: KeyPHDoser, Name: "DevPhDoser", Kind: KindPump, Labels: []string{"Pump"}},
	{Key: KeyECDoser, Name: "DevECDoser", Kind: KindPump, Labels: []string{"Pump"}},
}

var byKey = func() map[string]Spec {
	m := make(map[string]Spec, len(roster))
	for _, s := range roster {
		m[s.Key] = s
	}
	return m
}()

// Roster returns every device in display order.
func Roster() []Spec {
	out := make([]Spec, len(roster))
	copy(out, roster)
	return out
}

// Lookup returns the spec for key.
func Lookup(key string) (Spec, bool) {
	s, ok := byKey[key]
	return s, ok
}
