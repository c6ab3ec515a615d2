package polling

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts engine activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	retries   *prometheus.CounterVec
	polls     *prometheus.CounterVec
	followUps *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics builds the engine collectors and registers them on reg. Collectors
// already registered by another engine in the same process are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genie_remote_call_retries_total",
			Help: "Retries of remote Genie calls after a transient failure",
		}, []string{"operation"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genie_polls_total",
			Help: "Completed message polls by outcome",
		}, []string{"outcome"}),
		followUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genie_follow_up_checks_total",
			Help: "Follow-up reconciliation runs by how they ended",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "genie_poll_duration_seconds",
			Help:    "Wall time from question submission to a terminal poll result",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.retries, err = register(reg, m.retries); err != nil {
		return nil, err
	}
	if m.polls, err = register(reg, m.polls); err != nil {
		return nil, err
	}
	if m.followUps, err = register(reg, m.followUps); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) retry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

func (m *Metrics) poll(outcome string, elapsedSeconds float64) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsedSeconds)
}

func (m *Metrics) followUp(outcome string) {
	if m == nil {
		return
	}
	m.followUps.WithLabelValues(outcome).Inc()
}
