// Package exporter publishes the scheduler's readings and faults as
// Prometheus metrics and keeps the last reading for the status endpoint.
package exporter

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rubiojr/go-pms5003-onoff/cycle"
	"github.com/rubiojr/go-pms5003-onoff/pms5003"
)

// Health denotes the result of a health check
type Health struct {
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// Exporter implements cycle.Observer. The scheduler writes to it while the
// HTTP server reads from it, hence the lock.
type Exporter struct {
	pm        *prometheus.GaugeVec
	particles *prometheus.GaugeVec
	state     prometheus.Gauge
	readings  prometheus.Counter
	cycles    prometheus.Counter
	faults    *prometheus.CounterVec

	mu     sync.Mutex
	last   *pms5003.Reading
	health *Health
}

var _ cycle.Observer = (*Exporter)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		pm: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pms5003_pm_ugm3",
				Help: "Particulate matter concentration in µg/m³ (CF=1, standard particle)",
			},
			[]string{"size"},
		),
		particles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pms5003_particles_per_dl",
				Help: "Number of particles beyond the given diameter in 0.1L of air",
			},
			[]string{"size"},
		),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pms5003_state",
			Help: "Scheduler state: 0 idle, 1 warmup, 2 active reading, 3 cooldown, 4 shutting down",
		}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pms5003_readings_total",
			Help: "Readings decoded successfully",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pms5003_cycles_total",
			Help: "Power cycles started",
		}),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pms5003_faults_total",
				Help: "Failed read attempts by kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(e.pm, e.particles, e.state, e.readings, e.cycles, e.faults)
	return e
}

func (e *Exporter) ObserveState(s cycle.State) {
	e.state.Set(float64(s))
	if s == cycle.Warmup {
		e.cycles.Inc()
	}
}

func (e *Exporter) ObserveReading(r *pms5003.Reading) {
	e.pm.WithLabelValues("pm1_0").Set(float64(r.PM1))
	e.pm.WithLabelValues("pm2_5").Set(float64(r.PM25))
	e.pm.WithLabelValues("pm10").Set(float64(r.PM10))

	f := r.Frame
	e.particles.WithLabelValues("0.3um").Set(float64(f.Particles03um))
	e.particles.WithLabelValues("0.5um").Set(float64(f.Particles05um))
	e.particles.WithLabelValues("1.0um").Set(float64(f.Particles1um))
	e.particles.WithLabelValues("2.5um").Set(float64(f.Particles25um))
	e.particles.WithLabelValues("5.0um").Set(float64(f.Particles5um))
	e.particles.WithLabelValues("10um").Set(float64(f.Particles10um))
	e.readings.Inc()

	e.mu.Lock()
	e.last = r
	e.health = &Health{OK: true}
	e.mu.Unlock()
}

func (e *Exporter) ObserveFault(k pms5003.Kind, err error) {
	e.faults.WithLabelValues(k.String()).Inc()

	e.mu.Lock()
	e.health = &Health{OK: false, Details: err.Error()}
	e.mu.Unlock()
}

// Last returns the most recent reading, nil before the first one.
func (e *Exporter) Last() *pms5003.Reading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Health reports the outcome of the latest read attempt. A reading older
// than maxAge is reported as unhealthy; nil means nothing happened yet.
func (e *Exporter) Health(now time.Time, maxAge time.Duration) *Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.health == nil {
		return nil
	}
	if e.health.OK && e.last != nil && maxAge > 0 && e.last.TimeStamp.Before(now.Add(-maxAge)) {
		return &Health{OK: false, Details: "Data is older than " + maxAge.String()}
	}
	h := *e.health
	return &h
}
