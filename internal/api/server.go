// Package api provides the HTTP control surface for the tent.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/talgya/tentsim/internal/climate"
	"github.com/talgya/tentsim/internal/devices"
	"github.com/talgya/tentsim/internal/engine"
	"github.com/talgya/tentsim/internal/entropy"
	"github.com/talgya/tentsim/internal/metrics"
	"github.com/talgya/tentsim/internal/persistence"
	"github.com/talgya/tentsim/internal/weather"
)

const (
	defaultHistory = 60
	maxHistory     = 1000
	maxSpeed       = 1000
)

// Server serves the tent over HTTP. Sim, Devices and Eng are required.
type Server struct {
	Sim     *climate.Simulator
	Devices *devices.Store
	Eng     *engine.Engine
	Runner  *engine.Runner
	DB      *persistence.DB
	Metrics *metrics.Metrics

	// Save persists a snapshot on demand. Nil disables POST /snapshot.
	Save func(ctx context.Context) error

	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
	AccessLog   io.Writer // nil disables access logging

	noiseMu sync.Mutex
	Noise   entropy.Source // soil probe wobble in readouts
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	limit, window := s.RateLimit, s.RateWindow
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	limiter := NewRateLimiter(limit, window)
	admin := func(h http.HandlerFunc) http.Handler {
		return limiter.Middleware(s.adminOnly(h))
	}

	r := mux.NewRouter()
	r.Use(s.Metrics.Middleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Public endpoints.
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/seasons", s.handleSeasons).Methods(http.MethodGet)
	v1.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{key}", s.handleDevice).Methods(http.MethodGet)
	v1.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/climate", s.handleClimate).Methods(http.MethodGet)

	// Admin endpoints.
	v1.Handle("/season", admin(s.handleSetSeason)).Methods(http.MethodPost)
	v1.Handle("/devices/{key}", admin(s.handleSetDevice)).Methods(http.MethodPost)
	v1.Handle("/climate", admin(s.handleSetClimate)).Methods(http.MethodPost)
	v1.Handle("/environment/water", admin(s.handleSetWater)).Methods(http.MethodPost)
	v1.Handle("/tick", admin(s.handleTick)).Methods(http.MethodPost)
	v1.Handle("/speed", admin(s.handleSpeed)).Methods(http.MethodPost)
	v1.Handle("/snapshot", admin(s.handleSnapshot)).Methods(http.MethodPost)

	var h http.Handler = r
	if len(s.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(h)
	}
	if s.AccessLog != nil {
		h = handlers.LoggingHandler(s.AccessLog, h)
	}
	return h
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no TENTSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	env := s.Sim.State()
	season := s.Sim.Season()

	status := map[string]any{
		"tick":        s.Eng.Tick(),
		"season":      season,
		"speed":       s.Eng.Speed(),
		"paused":      s.Eng.Paused(),
		"running":     s.Eng.Running(),
		"environment": env,
		"targets":     s.Sim.LastTargets(),
		"mode":        s.Devices.Mode(),
		"readouts":    s.readouts(s.Devices.Raw(), env),
	}
	if s.Runner != nil {
		status["weather"] = weather.Describe(s.Runner.Outside(), season)
		if last := s.Runner.Last(); !last.At.IsZero() {
			status["last_tick_at"] = last.At
			status["from_weather"] = last.FromWeather
		}
	}
	writeJSON(w, status)
}

type seasonView struct {
	Key         climate.SeasonKey      `json:"key"`
	Active      bool                   `json:"active"`
	Ambient     climate.Profile        `json:"ambient"`
	Outside     climate.OutsideProfile `json:"outside"`
	Multipliers climate.Multipliers    `json:"multipliers"`
}

func (s *Server) handleSeasons(w http.ResponseWriter, r *http.Request) {
	active := s.Sim.Season()
	keys := climate.Seasons()
	out := make([]seasonView, 0, len(keys))
	for _, k := range keys {
		out = append(out, seasonView{
			Key:         k,
			Active:      k == active,
			Ambient:     climate.SeasonProfile(k),
			Outside:     climate.SeasonOutside(k),
			Multipliers: climate.SeasonMultipliers(k),
		})
	}
	writeJSON(w, out)
}

type deviceView struct {
	devices.Spec
	State    climate.RawDevice `json:"state"`
	Readouts []devices.Readout `json:"readouts,omitempty"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	raw := s.Devices.Raw()
	byDevice := map[string][]devices.Readout{}
	for _, ro := range s.readouts(raw, s.Sim.State()) {
		byDevice[ro.Device] = append(byDevice[ro.Device], ro)
	}

	roster := devices.Roster()
	out := make([]deviceView, 0, len(roster))
	for _, spec := range roster {
		out = append(out, deviceView{Spec: spec, State: raw[spec.Key], Readouts: byDevice[spec.Key]})
	}
	writeJSON(w, out)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	view, err := s.deviceView(key)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, view)
}

func (s *Server) deviceView(key string) (deviceView, error) {
	spec, ok := devices.Lookup(key)
	if !ok {
		return deviceView{}, devices.ErrUnknownDevice
	}
	raw := s.Devices.Raw()
	view := deviceView{Spec: spec, State: raw[key]}
	for _, ro := range s.readouts(raw, s.Sim.State()) {
		if ro.Device == key {
			view.Readouts = append(view.Readouts, ro)
		}
	}
	return view, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	limit := defaultHistory
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= maxHistory {
			limit = v
		}
	}

	rows, err := s.DB.RecentReadings(r.Context(), limit)
	if err != nil {
		slog.Error("history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []climate.Reading{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleSetSeason(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Season string `json:"season"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	key, ok := climate.ParseSeason(req.Season)
	if !ok {
		http.Error(w, climate.ErrInvalidSeason.Error()+": "+req.Season, http.StatusBadRequest)
		return
	}

	s.Sim.SetSeason(key)
	s.Metrics.SetSeason(key)
	if s.DB != nil {
		if err := s.DB.SaveMeta(r.Context(), persistence.MetaSeason, string(key)); err != nil {
			slog.Warn("season not persisted", "season", key, "error", err)
		}
	}
	slog.Info("season changed", "season", key)
	writeJSON(w, map[string]any{"season": key})
}

func (s *Server) handleSetDevice(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var patch devices.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.Devices.Apply(key, patch); err != nil {
		writeDeviceError(w, err)
		return
	}

	view, err := s.deviceView(key)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleClimate(w http.ResponseWriter, r *http.Request) {
	t := s.Sim.LastTargets()
	writeJSON(w, map[string]any{
		"mode":        s.Devices.Mode(),
		"modes":       devices.Modes(),
		"target_temp": t.TargetTemp,
		"target_hum":  t.TargetHum,
	})
}

func (s *Server) handleSetClimate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	mode, ok := devices.ParseMode(req.Mode)
	if !ok {
		http.Error(w, "unknown mode: "+req.Mode, http.StatusBadRequest)
		return
	}
	if err := s.Devices.SetMode(mode); err != nil {
		writeDeviceError(w, err)
		return
	}
	slog.Info("climate mode changed", "mode", mode)
	writeJSON(w, map[string]any{"mode": s.Devices.Mode()})
}

func (s *Server) handleSetWater(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level       *float64 `json:"level"`
		Temperature *float64 `json:"temperature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Level == nil && req.Temperature == nil {
		http.Error(w, "level or temperature required", http.StatusBadRequest)
		return
	}
	s.Sim.SetWater(req.Level, req.Temperature)
	writeJSON(w, s.Sim.State())
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	queued := s.Eng.Trigger()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"queued": queued,
		"tick":   s.Eng.Tick(),
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed  *float64 `json:"speed"`
		Paused *bool    `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed != nil {
		if *req.Speed < 0 || *req.Speed > maxSpeed {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(*req.Speed)
		slog.Info("speed changed", "speed", *req.Speed)
	}
	if req.Paused != nil {
		if *req.Paused {
			s.Eng.Pause()
		} else {
			s.Eng.Resume()
		}
	}
	writeJSON(w, map[string]any{"speed": s.Eng.Speed(), "paused": s.Eng.Paused()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.Save == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.Save(r.Context()); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"tick":    s.Eng.Tick(),
		"message": "snapshot saved",
	})
}

func (s *Server) readouts(raw map[string]climate.RawDevice, env climate.State) []devices.Readout {
	s.noiseMu.Lock()
	defer s.noiseMu.Unlock()
	return devices.Readouts(raw, env, s.Noise)
}

func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, devices.ErrUnknownDevice):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, devices.ErrUnsupported), errors.Is(err, devices.ErrInvalidValue):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("device update failed", "error", err)
		http.Error(w, "device update failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
