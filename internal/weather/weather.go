// Package weather fetches outside conditions from OpenWeatherMap and turns
// them into the optional reading the climate engine consumes.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/talgya/tentsim/internal/climate"
)

const (
	DefaultBaseURL  = "https://api.openweathermap.org/data/2.5/weather"
	DefaultLocation = "Berlin,DE"
	maxFailBackoff  = 10 * time.Minute
)

// Client fetches weather data from OpenWeatherMap. A nil *Client is usable
// and never yields a reading.
type Client struct {
	apiKey   string
	location string
	baseURL  string
	client   *http.Client

	mu          sync.Mutex
	cached      *Conditions
	cachedAt    time.Time
	cacheTTL    time.Duration
	lastFailAt  time.Time
	failBackoff time.Duration
}

// Option tweaks a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithCacheTTL sets how long a successful reading is reused.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) { c.cacheTTL = d }
}

// WithHTTPClient replaces the default 10s-timeout HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a weather API client. Returns nil if apiKey is empty.
func NewClient(apiKey, location string, opts ...Option) *Client {
	if apiKey == "" {
		return nil
	}
	if location == "" {
		location = DefaultLocation
	}
	c := &Client{
		apiKey:   apiKey,
		location: location,
		baseURL:  DefaultBaseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		cacheTTL: 5 * time.Minute,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Conditions holds parsed weather data from the API.
type Conditions struct {
	Temp        float64  `json:"temp"` // Celsius
	Humidity    *float64 `json:"humidity,omitempty"`
	Description string   `json:"description"`
}

// Fetch retrieves current conditions, using the cache while it is fresh.
// After a failure the API is left alone for a doubling backoff (up to 10
// minutes) and the last good reading is served if there is one.
func (c *Client) Fetch(ctx context.Context) (*Conditions, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cachedAt) < c.cacheTTL {
		return c.cached, nil
	}

	if c.failBackoff > 0 && time.Since(c.lastFailAt) < c.failBackoff {
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, fmt.Errorf("weather API backoff (%s remaining)", c.failBackoff-time.Since(c.lastFailAt))
	}

	conditions, err := c.fetchFromAPI(ctx)
	if err != nil {
		c.lastFailAt = time.Now()
		if c.failBackoff == 0 {
			c.failBackoff = time.Minute
		} else if c.failBackoff < maxFailBackoff {
			c.failBackoff *= 2
		}
		slog.Warn("weather fetch failed", "error", err, "backoff", c.failBackoff)
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = conditions
	c.cachedAt = time.Now()
	c.failBackoff = 0
	return conditions, nil
}

func (c *Client) fetchFromAPI(ctx context.Context) (*Conditions, error) {
	q := url.Values{}
	q.Set("q", c.location)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather API call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read weather response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var owm struct {
		Main struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
	}
	if err := json.Unmarshal(body, &owm); err != nil {
		return nil, fmt.Errorf("parse weather: %w", err)
	}
	if owm.Main.Temp == nil {
		return nil, fmt.Errorf("parse weather: missing temperature")
	}

	conditions := &Conditions{
		Temp:     *owm.Main.Temp,
		Humidity: owm.Main.Humidity,
	}
	if len(owm.Weather) > 0 {
		conditions.Description = owm.Weather[0].Description
	}

	slog.Debug("weather fetched", "temp", conditions.Temp, "desc", conditions.Description)
	return conditions, nil
}

// ToReading converts conditions into the engine's weather input. Nil
// conditions give a nil reading, which selects the seasonal fallback.
func ToReading(c *Conditions) *climate.Weather {
	if c == nil {
		return nil
	}
	t := c.Temp
	w := &climate.Weather{Temp: &t}
	if c.Humidity != nil {
		h := *c.Humidity
		w.Hum = &h
	}
	return w
}

// Describe returns the weather description, or a seasonal stand-in when
// there is no reading.
func Describe(c *Conditions, season climate.SeasonKey) string {
	if c != nil && c.Description != "" {
		return c.Description
	}
	switch season.Base() {
	case climate.Spring:
		return "mild spring weather"
	case climate.Fall:
		return "cool autumn breeze"
	case climate.Winter:
		return "cold winter chill"
	default:
		return "warm summer sun"
	}
}
