package store

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics exposes pool statistics as gauges sampled at scrape time.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store not initialized")
	}
	gauge := func(name, help string, sample func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "movie_catalog",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, sample)
	}
	collectors := []prometheus.Collector{
		gauge("total_conns", "Connections currently open.", func() float64 { return float64(s.pool.Stat().TotalConns()) }),
		gauge("idle_conns", "Idle connections.", func() float64 { return float64(s.pool.Stat().IdleConns()) }),
		gauge("acquired_conns", "Connections checked out by callers.", func() float64 { return float64(s.pool.Stat().AcquiredConns()) }),
		gauge("max_conns", "Configured pool ceiling.", func() float64 { return float64(s.pool.Stat().MaxConns()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "movie_catalog",
			Subsystem: "db_pool",
			Name:      "empty_acquire_total",
			Help:      "Acquires that had to wait for a connection.",
		}, func() float64 { return float64(s.pool.Stat().EmptyAcquireCount()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register pool metric: %w", err)
		}
	}
	return nil
}
