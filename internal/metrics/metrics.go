// Package metrics exposes the tent climate and HTTP traffic to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/tentsim/internal/climate"
)

const namespace = "tentsim"

type Metrics struct {
	reg *prometheus.Registry

	environment     *prometheus.GaugeVec
	targets         *prometheus.GaugeVec
	season          *prometheus.GaugeVec
	ticks           prometheus.Counter
	weatherReadings prometheus.Counter
	publishErrors   prometheus.Counter

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		environment: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "environment",
			Help:      "Current simulated tent environment by field.",
		}, []string{"field"}),
		targets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target",
			Help:      "Intermediate targets of the most recent tick.",
		}, []string{"field"}),
		season: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "season_info",
			Help:      "Selected season (1 for the active key).",
		}, []string{"season"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulation ticks processed.",
		}),
		weatherReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_ticks_total",
			Help:      "Ticks driven by a real outside weather reading.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Readings that failed to publish.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.reg.MustRegister(
		m.environment,
		m.targets,
		m.season,
		m.ticks,
		m.weatherReadings,
		m.publishErrors,
		m.httpRequestsTotal,
		m.httpDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveReading records one tick.
func (m *Metrics) ObserveReading(r climate.Reading, t climate.Targets) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	if r.FromWeather {
		m.weatherReadings.Inc()
	}

	m.environment.WithLabelValues("air_temperature").Set(r.AirTemperature)
	m.environment.WithLabelValues("air_humidity").Set(r.AirHumidity)
	m.environment.WithLabelValues("soil_temperature").Set(r.SoilTemperature)
	m.environment.WithLabelValues("co2_level").Set(r.CO2Level)
	m.environment.WithLabelValues("water_level").Set(r.WaterLevel)
	m.environment.WithLabelValues("water_temperature").Set(r.WaterTemperature)

	m.targets.WithLabelValues("outside_temp").Set(t.OutsideTemp)
	m.targets.WithLabelValues("outside_hum").Set(t.OutsideHum)
	m.targets.WithLabelValues("target_temp").Set(t.TargetTemp)
	m.targets.WithLabelValues("target_hum").Set(t.TargetHum)
	m.targets.WithLabelValues("approach_rate").Set(t.ApproachRate)
	m.targets.WithLabelValues("light_factor").Set(t.LightFactor)

	m.SetSeason(r.Season)
}

// SetSeason flags key as the active season.
func (m *Metrics) SetSeason(key climate.SeasonKey) {
	if m == nil {
		return
	}
	m.season.Reset()
	m.season.WithLabelValues(string(key)).Set(1)
}

// PublishFailed counts a failed publish.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware counts requests per mux route template and status.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m == nil {
			return
		}
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}
