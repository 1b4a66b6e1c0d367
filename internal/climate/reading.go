package climate

import "time"

// Reading is one tick's result as handed to storage and publishers.
type Reading struct {
	Tick        uint64    `json:"tick"`
	Season      SeasonKey `json:"season"`
	At          time.Time `json:"timestamp"`
	FromWeather bool      `json:"from_weather"`
	State
}
