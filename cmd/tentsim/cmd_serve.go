package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/talgya/tentsim/internal/api"
	"github.com/talgya/tentsim/internal/climate"
	"github.com/talgya/tentsim/internal/config"
	"github.com/talgya/tentsim/internal/devices"
	"github.com/talgya/tentsim/internal/engine"
	"github.com/talgya/tentsim/internal/entropy"
	"github.com/talgya/tentsim/internal/logging"
	"github.com/talgya/tentsim/internal/metrics"
	"github.com/talgya/tentsim/internal/persistence"
	"github.com/talgya/tentsim/internal/publish"
	"github.com/talgya/tentsim/internal/weather"
)

const metaTentID = "tent_id"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulator with the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.HTTP.Addr = addr
			}
			if db, _ := cmd.Flags().GetString("db"); db != "" {
				cfg.Storage.Path = db
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().String("db", "", "SQLite database path (overrides config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, logFile, err := logging.Open(cfg.Logging.Level, cfg.Logging.File)
	slog.SetDefault(logger)
	if err != nil {
		slog.Warn("logging to stdout only", "error", err)
	}
	defer logFile.Close()

	slog.Info("tentsim starting", "version", version)

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Storage.Path)

	snap, err := db.LoadSnapshot(ctx)
	if err != nil && !errors.Is(err, persistence.ErrNoState) {
		return fmt.Errorf("load state: %w", err)
	}

	tentID, err := resolveTentID(ctx, db, cfg.TentID)
	if err != nil {
		return err
	}

	// ── Simulation ───────────────────────────────────────────────────
	src, err := entropy.FromName(cfg.Simulation.Noise, cfg.Simulation.Seed, cfg.Simulation.RandomOrgKey)
	if err != nil {
		return err
	}
	simCfg := climate.Config{
		Season: cfg.SeasonKey(),
		Source: src,
		Bounds: cfg.Simulation.Bounds,
		Logger: logger,
	}
	store := devices.NewStore()
	eng := engine.NewEngine()
	eng.Interval = cfg.Simulation.Interval
	eng.SaveEvery = cfg.Simulation.SaveEvery
	eng.SetSpeed(cfg.Simulation.Speed)

	if snap != nil {
		simCfg.Season = snap.Season.Resolve()
		simCfg.Initial = &snap.Environment
		store.Load(snap.Devices)
		eng.SetTick(snap.Tick)
		slog.Info("tent state restored",
			"tick", snap.Tick,
			"season", snap.Season,
			"sim_time", eng.Elapsed(snap.Tick).String(),
		)
	} else {
		slog.Info("no saved state found, starting fresh tent", "season", simCfg.Season)
	}
	sim := climate.NewSimulator(simCfg)

	met := metrics.New()
	met.SetSeason(sim.Season())

	runner := &engine.Runner{
		Sim:      sim,
		Devices:  store,
		Observer: met,
		History:  db,
	}

	if c, ok := src.(*entropy.Client); ok {
		runner.Entropy = c
		slog.Info("random.org noise enabled")
	}

	var wopts []weather.Option
	if cfg.Weather.BaseURL != "" {
		wopts = append(wopts, weather.WithBaseURL(cfg.Weather.BaseURL))
	}
	if cfg.Weather.CacheTTL > 0 {
		wopts = append(wopts, weather.WithCacheTTL(cfg.Weather.CacheTTL))
	}
	if wc := weather.NewClient(cfg.Weather.APIKey, cfg.Weather.Location, wopts...); wc != nil {
		runner.Weather = wc
		slog.Info("outside weather enabled", "location", cfg.Weather.Location)
	}

	var pub *publish.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		pub = publish.New(tentID, publish.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		runner.Publisher = pub
		slog.Info("publishing readings", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic, "tent_id", tentID)
	}
	defer pub.Close()

	save := func(ctx context.Context) error {
		return db.SaveSnapshot(ctx, persistence.Snapshot{
			Tick:        eng.Tick(),
			Season:      sim.Season(),
			Environment: sim.State(),
			Devices:     store.Raw(),
		})
	}

	eng.OnTick = func(ctx context.Context, tick uint64) {
		r := runner.Step(ctx, tick)
		slog.Debug("tick",
			"tick", tick,
			"air_temperature", r.AirTemperature,
			"air_humidity", r.AirHumidity,
			"co2_level", r.CO2Level,
		)
	}
	eng.OnSave = func(ctx context.Context, tick uint64) {
		if err := save(ctx); err != nil {
			slog.Error("snapshot save failed", "tick", tick, "error", err)
			return
		}
		if cfg.Storage.HistoryKeep > 0 {
			if n, err := db.PruneReadings(ctx, cfg.Storage.HistoryKeep); err != nil {
				slog.Warn("history prune failed", "error", err)
			} else if n > 0 {
				slog.Debug("history pruned", "removed", n)
			}
		}
		slog.Info("snapshot saved", "tick", tick)
	}
	store.OnChange(func(key string, d climate.RawDevice) {
		slog.Info("device changed", "device", key, "power", d.Power)
		eng.Trigger()
	})

	// ── HTTP ─────────────────────────────────────────────────────────
	srv := &api.Server{
		Sim:         sim,
		Devices:     store,
		Eng:         eng,
		Runner:      runner,
		DB:          db,
		Metrics:     met,
		Save:        save,
		AdminKey:    cfg.HTTP.AdminKey,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateLimit:   cfg.HTTP.RateLimit,
		RateWindow:  cfg.HTTP.RateWindow,
		AccessLog:   os.Stdout,
		Noise:       entropy.NewRand(cfg.Simulation.Seed),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engDone := make(chan error, 1)
	go func() { engDone <- eng.Run(runCtx) }()

	srvErr := srv.ListenAndServe(runCtx, cfg.HTTP.Addr)
	if srvErr != nil {
		slog.Error("HTTP server error", "error", srvErr)
	}

	// A signal arrived or the listener died. Either way the engine stops
	// before the final save.
	cancel()
	<-engDone
	return finish(save, srvErr)
}

// finish writes the final snapshot on shutdown.
func finish(save func(context.Context) error, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := save(ctx); err != nil {
		slog.Error("final save failed", "error", err)
		if cause == nil {
			cause = err
		}
	} else {
		slog.Info("final state saved")
	}
	return cause
}

// resolveTentID returns the configured ID, else the stored one, else a new
// random one which is stored for the next start.
func resolveTentID(ctx context.Context, db *persistence.DB, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if id, err := db.GetMeta(ctx, metaTentID); err == nil && id != "" {
		return id, nil
	}
	id := uuid.NewString()
	if err := db.SaveMeta(ctx, metaTentID, id); err != nil {
		return "", fmt.Errorf("store tent id: %w", err)
	}
	return id, nil
}
