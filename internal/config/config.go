// Package config loads tentsim settings from a YAML file and the environment.
// Order: defaults -> config file -> environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/tentsim/internal/climate"
	"github.com/talgya/tentsim/internal/entropy"
	"github.com/talgya/tentsim/internal/logging"
)

// Config contains all tentsim settings.
type Config struct {
	// TentID keys published readings. Empty picks a random ID on first
	// start, which is then kept in the database.
	TentID string `yaml:"tent_id"`

	// Season is the starting season for a fresh tent. A restored tent keeps
	// its saved season.
	Season string `yaml:"season"`

	Simulation SimulationConfig `yaml:"simulation"`
	Weather    WeatherConfig    `yaml:"weather"`
	Storage    StorageConfig    `yaml:"storage"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SimulationConfig tunes the engine.
type SimulationConfig struct {
	Interval  time.Duration  `yaml:"interval"`
	Speed     float64        `yaml:"speed"`
	SaveEvery uint64         `yaml:"save_every"`
	Noise     string         `yaml:"noise"` // rand, simplex, crypto or randomorg
	Seed      int64          `yaml:"seed"`  // 0 picks a random seed
	Bounds    climate.Bounds `yaml:"bounds"`

	// RandomOrgKey feeds the randomorg noise source.
	RandomOrgKey string `yaml:"random_org_key,omitempty"`
}

// WeatherConfig configures the OpenWeatherMap client. No key, no weather.
type WeatherConfig struct {
	APIKey   string        `yaml:"api_key,omitempty"`
	Location string        `yaml:"location"`
	BaseURL  string        `yaml:"base_url,omitempty"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path        string `yaml:"path"`
	HistoryKeep int    `yaml:"history_keep"` // readings kept on prune, 0 keeps all
}

// KafkaConfig enables reading fan-out when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// HTTPConfig configures the control API.
type HTTPConfig struct {
	Addr        string        `yaml:"addr"`
	AdminKey    string        `yaml:"admin_key,omitempty"`
	CORSOrigins []string      `yaml:"cors_origins"`
	RateLimit   int           `yaml:"rate_limit"`
	RateWindow  time.Duration `yaml:"rate_window"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"` // also write here when set
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Season: string(climate.DefaultSeason),
		Simulation: SimulationConfig{
			Interval:  30 * time.Second,
			Speed:     1,
			SaveEvery: 10,
			Noise:     entropy.KindRand,
			Bounds:    climate.DefaultBounds(),
		},
		Weather: WeatherConfig{
			Location: "Berlin,DE",
			CacheTTL: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Path:        "tentsim.db",
			HistoryKeep: 20160, // a week at 30s
		},
		Kafka: KafkaConfig{
			Topic: "tent.readings",
		},
		HTTP: HTTPConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
			RateLimit:   10,
			RateWindow:  time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Weather.APIKey = expandEnvVars(cfg.Weather.APIKey)
	cfg.HTTP.AdminKey = expandEnvVars(cfg.HTTP.AdminKey)
	cfg.Simulation.RandomOrgKey = expandEnvVars(cfg.Simulation.RandomOrgKey)
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.Interval <= 0 {
		return fmt.Errorf("simulation.interval must be positive, got %v", s.Interval)
	}
	if s.Speed < 0 {
		return fmt.Errorf("simulation.speed must be non-negative, got %v", s.Speed)
	}
	if !slices.Contains(entropy.Kinds(), s.Noise) {
		return fmt.Errorf("invalid noise source: %s (valid: %s)", s.Noise, strings.Join(entropy.Kinds(), ", "))
	}

	b := s.Bounds
	if b.MinTemp >= b.MaxTemp {
		return fmt.Errorf("bounds: min_temp %v must be below max_temp %v", b.MinTemp, b.MaxTemp)
	}
	if b.MinHum >= b.MaxHum || b.MinHum < 0 || b.MaxHum > 100 {
		return fmt.Errorf("bounds: humidity range %v..%v must lie within 0..100", b.MinHum, b.MaxHum)
	}
	if b.MinCO2 >= b.MaxCO2 || b.MinCO2 < 0 {
		return fmt.Errorf("bounds: co2 range %v..%v is invalid", b.MinCO2, b.MaxCO2)
	}

	if c.Season != "" {
		if _, ok := climate.ParseSeason(c.Season); !ok {
			return fmt.Errorf("%w: %s", climate.ErrInvalidSeason, c.Season)
		}
	}
	if c.Storage.HistoryKeep < 0 {
		return fmt.Errorf("storage.history_keep must be non-negative, got %d", c.Storage.HistoryKeep)
	}
	if c.HTTP.RateLimit <= 0 || c.HTTP.RateWindow <= 0 {
		return fmt.Errorf("http rate limit must be positive, got %d per %v", c.HTTP.RateLimit, c.HTTP.RateWindow)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	return nil
}

// SeasonKey returns the normalized starting season.
func (c *Config) SeasonKey() climate.SeasonKey {
	k, ok := climate.ParseSeason(c.Season)
	if !ok {
		return climate.DefaultSeason
	}
	return k
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TENTSIM_ADMIN_KEY"); v != "" {
		cfg.HTTP.AdminKey = v
	}
	if v := os.Getenv("TENTSIM_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("OPENWEATHER_API_KEY"); v != "" {
		cfg.Weather.APIKey = v
	}
	if v := os.Getenv("OPENWEATHER_LOCATION"); v != "" {
		cfg.Weather.Location = v
	}
	if v := os.Getenv("RANDOM_ORG_API_KEY"); v != "" {
		cfg.Simulation.RandomOrgKey = v
	}
	if v := os.Getenv("TENTSIM_NOISE"); v != "" {
		cfg.Simulation.Noise = v
	}
	if v := os.Getenv("TENTSIM_SPEED"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Simulation.Speed = f
		}
	}
	if v := os.Getenv("TENTSIM_SEASON"); v != "" {
		cfg.Season = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("TENTSIM_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		cfg.Logging.File = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
