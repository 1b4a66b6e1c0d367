// Seasonal baselines and device effectiveness.
// The table is static; the simulator looks it up every tick.
package climate

import (
	"errors"
	"strings"
)

// SeasonKey selects a base season plus an optional dry/wet variant.
type SeasonKey string

// Base seasons and their variants.
const (
	Spring    SeasonKey = "spring"
	SpringDry SeasonKey = "spring_dry"
	SpringWet SeasonKey = "spring_wet"
	Summer    SeasonKey = "summer"
	SummerDry SeasonKey = "summer_dry"
	SummerWet SeasonKey = "summer_wet"
	Fall      SeasonKey = "fall"
	FallDry   SeasonKey = "fall_dry"
	FallWet   SeasonKey = "fall_wet"
	Winter    SeasonKey = "winter"
	WinterDry SeasonKey = "winter_dry"
	WinterWet SeasonKey = "winter_wet"
)

// DefaultSeason is used for unknown keys.
const DefaultSeason = Summer

// ErrInvalidSeason is returned by callers that refuse unknown season names.
var ErrInvalidSeason = errors.New("invalid season")

// Variant is the dryness modifier of a season key.
type Variant uint8

const (
	VariantNone Variant = iota
	VariantDry
	VariantWet
)

// Profile is the ambient (room) baseline the tent drifts toward.
type Profile struct {
	AmbientTemp float64 `json:"ambient_temp"`
	AmbientHum  float64 `json:"ambient_hum"`
}

// OutsideProfile is the synthetic outdoor climate used when no weather
// reading is available.
type OutsideProfile struct {
	Temp float64 `json:"outside_temp"`
	Hum  float64 `json:"outside_hum"`
	CO2  float64 `json:"outside_co2"`
}

// Multipliers scale each device class's effect.
type Multipliers struct {
	Heater       float64 `json:"heater"`
	Cooler       float64 `json:"cooler"`
	Humidifier   float64 `json:"humidifier"`
	Dehumidifier float64 `json:"dehumidifier"`
	Fan          float64 `json:"fan"`
	Light        float64 `json:"light"`
	CO2          float64 `json:"co2"`
}

var seasonOrder = []SeasonKey{
	Spring, SpringDry, SpringWet,
	Summer, SummerDry, SummerWet,
	Fall, FallDry, FallWet,
	Winter, WinterDry, WinterWet,
}

var profiles = map[SeasonKey]Profile{
	Spring:    {AmbientTemp: 20, AmbientHum: 65},
	SpringDry: {AmbientTemp: 23, AmbientHum: 35},
	SpringWet: {AmbientTemp: 17, AmbientHum: 90},
	Summer:    {AmbientTemp: 25, AmbientHum: 60},
	SummerDry: {AmbientTemp: 28, AmbientHum: 30},
	SummerWet: {AmbientTemp: 22, AmbientHum: 85},
	Fall:      {AmbientTemp: 18, AmbientHum: 70},
	FallDry:   {AmbientTemp: 21, AmbientHum: 40},
	FallWet:   {AmbientTemp: 15, AmbientHum: 95},
	Winter:    {AmbientTemp: 18, AmbientHum: 75},
	WinterDry: {AmbientTemp: 20, AmbientHum: 40},
	WinterWet: {AmbientTemp: 15, AmbientHum: 100},
}

var outside = map[SeasonKey]OutsideProfile{
	Spring: {Temp: 15, Hum: 65, CO2: OutsideCO2},
	Summer: {Temp: 25, Hum: 50, CO2: OutsideCO2},
	Fall:   {Temp: 10, Hum: 70, CO2: OutsideCO2},
	Winter: {Temp: 5, Hum: 80, CO2: OutsideCO2},
}

// Heaters work harder against a cold room, coolers against a hot one;
// plants draw more CO2 under summer light.
var baseMultipliers = map[SeasonKey]Multipliers{
	Spring: {Heater: 1.0, Cooler: 1.0, Humidifier: 1.0, Dehumidifier: 1.0, Fan: 1.0, Light: 1.0, CO2: 1.0},
	Summer: {Heater: 0.8, Cooler: 1.2, Humidifier: 1.1, Dehumidifier: 0.9, Fan: 0.9, Light: 1.1, CO2: 1.1},
	Fall:   {Heater: 1.1, Cooler: 0.9, Humidifier: 0.95, Dehumidifier: 1.05, Fan: 1.0, Light: 0.95, CO2: 0.95},
	Winter: {Heater: 1.2, Cooler: 0.8, Humidifier: 0.9, Dehumidifier: 1.1, Fan: 1.1, Light: 0.9, CO2: 0.9},
}

// Seasons returns all known season keys in display order.
func Seasons() []SeasonKey {
	out := make([]SeasonKey, len(seasonOrder))
	copy(out, seasonOrder)
	return out
}

// ParseSeason normalizes a user-supplied season name. "autumn" is accepted
// for fall and "-" for "_".
func ParseSeason(s string) (SeasonKey, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.Replace(s, "autumn", "fall", 1)
	key := SeasonKey(s)
	return key, key.Valid()
}

// Valid reports whether k is one of the twelve known keys.
func (k SeasonKey) Valid() bool {
	_, ok := profiles[k]
	return ok
}

// Resolve returns k, or DefaultSeason when k is unknown.
func (k SeasonKey) Resolve() SeasonKey {
	if k.Valid() {
		return k
	}
	return DefaultSeason
}

// Base strips the variant.
func (k SeasonKey) Base() SeasonKey {
	k = k.Resolve()
	if i := strings.IndexByte(string(k), '_'); i >= 0 {
		return k[:i]
	}
	return k
}

// Variant returns the dry/wet modifier of k.
func (k SeasonKey) Variant() Variant {
	k = k.Resolve()
	switch {
	case strings.HasSuffix(string(k), "_dry"):
		return VariantDry
	case strings.HasSuffix(string(k), "_wet"):
		return VariantWet
	default:
		return VariantNone
	}
}

// String returns the key as stored.
func (k SeasonKey) String() string {
	return string(k)
}

// SeasonProfile returns the ambient baseline for k.
func SeasonProfile(k SeasonKey) Profile {
	return profiles[k.Resolve()]
}

// SeasonOutside returns the outdoor fallback for k's base season.
func SeasonOutside(k SeasonKey) OutsideProfile {
	return outside[k.Base()]
}

// SeasonMultipliers returns the device multipliers for k. The dry variant
// weakens humidifiers and strengthens dehumidifiers; wet does the reverse.
func SeasonMultipliers(k SeasonKey) Multipliers {
	m := baseMultipliers[k.Base()]
	switch k.Variant() {
	case VariantDry:
		m.Humidifier *= 0.7
		m.Dehumidifier *= 1.3
	case VariantWet:
		m.Humidifier *= 1.3
		m.Dehumidifier *= 0.7
	}
	return m
}
