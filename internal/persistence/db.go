// Package persistence stores tent state in SQLite so a restart resumes
// where it left off.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/tentsim/internal/climate"
)

// ErrNoState is returned by LoadSnapshot on a fresh database.
var ErrNoState = errors.New("no saved state")

// Meta keys.
const (
	MetaSeason   = "season"
	MetaLastTick = "last_tick"
)

// DB wraps a SQLite connection for tent state persistence.
type DB struct {
	conn *sqlx.DB
}

// Snapshot is everything needed to resume a tent.
type Snapshot struct {
	Tick        uint64
	Season      climate.SeasonKey
	Environment climate.State
	Devices     map[string]climate.RawDevice
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS environment (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		air_temperature REAL NOT NULL,
		air_humidity REAL NOT NULL,
		soil_temperature REAL NOT NULL,
		co2_level REAL NOT NULL,
		water_level REAL NOT NULL,
		water_temperature REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS devices (
		key TEXT PRIMARY KEY,
		state_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		season TEXT NOT NULL,
		at_ms INTEGER NOT NULL,
		air_temperature REAL NOT NULL,
		air_humidity REAL NOT NULL,
		soil_temperature REAL NOT NULL,
		co2_level REAL NOT NULL,
		water_level REAL NOT NULL,
		water_temperature REAL NOT NULL,
		from_weather INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_tick ON readings(tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type envRow struct {
	AirTemperature   float64 `db:"air_temperature"`
	AirHumidity      float64 `db:"air_humidity"`
	SoilTemperature  float64 `db:"soil_temperature"`
	CO2Level         float64 `db:"co2_level"`
	WaterLevel       float64 `db:"water_level"`
	WaterTemperature float64 `db:"water_temperature"`
}

func (r envRow) state() climate.State {
	return climate.State{
		AirTemperature:   r.AirTemperature,
		AirHumidity:      r.AirHumidity,
		SoilTemperature:  r.SoilTemperature,
		CO2Level:         r.CO2Level,
		WaterLevel:       r.WaterLevel,
		WaterTemperature: r.WaterTemperature,
	}
}

type readingRow struct {
	Tick             uint64  `db:"tick"`
	Season           string  `db:"season"`
	AtMs             int64   `db:"at_ms"`
	AirTemperature   float64 `db:"air_temperature"`
	AirHumidity      float64 `db:"air_humidity"`
	SoilTemperature  float64 `db:"soil_temperature"`
	CO2Level         float64 `db:"co2_level"`
	WaterLevel       float64 `db:"water_level"`
	WaterTemperature float64 `db:"water_temperature"`
	FromWeather      bool    `db:"from_weather"`
}

// SaveSnapshot writes environment, devices and meta in one transaction
// (full replace).
func (db *DB) SaveSnapshot(ctx context.Context, s Snapshot) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	e := s.Environment
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO environment
			(id, air_temperature, air_humidity, soil_temperature, co2_level, water_level, water_temperature)
			VALUES (1, ?, ?, ?, ?, ?, ?)`,
		e.AirTemperature, e.AirHumidity, e.SoilTemperature, e.CO2Level, e.WaterLevel, e.WaterTemperature,
	); err != nil {
		return fmt.Errorf("save environment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM devices"); err != nil {
		return fmt.Errorf("clear devices: %w", err)
	}
	for key, d := range s.Devices {
		body, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode device %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO devices (key, state_json) VALUES (?, ?)", key, string(body),
		); err != nil {
			return fmt.Errorf("save device %s: %w", key, err)
		}
	}

	for k, v := range map[string]string{
		MetaSeason:   string(s.Season),
		MetaLastTick: strconv.FormatUint(s.Tick, 10),
	} {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", k, v,
		); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("tent state saved", "tick", s.Tick, "devices", len(s.Devices))
	return nil
}

// LoadSnapshot reads the saved state. Returns ErrNoState if nothing was
// saved yet.
func (db *DB) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	var env envRow
	err := db.conn.GetContext(ctx, &env,
		`SELECT air_temperature, air_humidity, soil_temperature, co2_level, water_level, water_temperature
			FROM environment WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	s := &Snapshot{
		Environment: env.state(),
		Devices:     map[string]climate.RawDevice{},
	}

	var rows []struct {
		Key       string `db:"key"`
		StateJSON string `db:"state_json"`
	}
	if err := db.conn.SelectContext(ctx, &rows, "SELECT key, state_json FROM devices"); err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}
	for _, r := range rows {
		var d climate.RawDevice
		if err := json.Unmarshal([]byte(r.StateJSON), &d); err != nil {
			slog.Warn("skipping unreadable device state", "device", r.Key, "error", err)
			continue
		}
		s.Devices[r.Key] = d
	}

	season, err := db.GetMeta(ctx, MetaSeason)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load season: %w", err)
	}
	s.Season = climate.SeasonKey(season)

	tick, err := db.GetMeta(ctx, MetaLastTick)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load tick: %w", err)
	}
	if tick != "" {
		s.Tick, err = strconv.ParseUint(tick, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse last tick %q: %w", tick, err)
		}
	}
	return s, nil
}

// HasState reports whether a snapshot has been saved.
func (db *DB) HasState(ctx context.Context) (bool, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM environment"); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveMeta stores a key-value pair in tent metadata.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// AppendReading adds one tick to the history.
func (db *DB) AppendReading(ctx context.Context, r climate.Reading) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO readings
			(tick, season, at_ms, air_temperature, air_humidity, soil_temperature,
			 co2_level, water_level, water_temperature, from_weather)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Tick, string(r.Season), r.At.UnixMilli(),
		r.AirTemperature, r.AirHumidity, r.SoilTemperature,
		r.CO2Level, r.WaterLevel, r.WaterTemperature, r.FromWeather,
	)
	return err
}

// RecentReadings returns the most recent N readings, newest first.
func (db *DB) RecentReadings(ctx context.Context, limit int) ([]climate.Reading, error) {
	var rows []readingRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT tick, season, at_ms, air_temperature, air_humidity, soil_temperature,
			co2_level, water_level, water_temperature, from_weather
			FROM readings ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}

	out := make([]climate.Reading, 0, len(rows))
	for _, r := range rows {
		out = append(out, climate.Reading{
			Tick:        r.Tick,
			Season:      climate.SeasonKey(r.Season),
			At:          time.UnixMilli(r.AtMs).UTC(),
			FromWeather: r.FromWeather,
			State: climate.State{
				AirTemperature:   r.AirTemperature,
				AirHumidity:      r.AirHumidity,
				SoilTemperature:  r.SoilTemperature,
				CO2Level:         r.CO2Level,
				WaterLevel:       r.WaterLevel,
				WaterTemperature: r.WaterTemperature,
			},
		})
	}
	return out, nil
}

// PruneReadings keeps only the newest keep readings and reports how many
// were removed.
func (db *DB) PruneReadings(ctx context.Context, keep int) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM readings WHERE id NOT IN (SELECT id FROM readings ORDER BY id DESC LIMIT ?)",
		keep,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
