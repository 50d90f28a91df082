package docstore

import "github.com/hupe1980/docstore/internal/engine"

// MetricsObserver receives engine events: finished writes, commits,
// rollbacks, safepoint spills and retries. Implement it to integrate with a
// monitoring system.
//
// Example Prometheus integration:
//
//	type PrometheusObserver struct {
//	    docstore.NoopMetricsObserver
//	    commits prometheus.Histogram
//	}
//
//	func (p *PrometheusObserver) OnCommit(d time.Duration, collections int, err error) {
//	    p.commits.Observe(d.Seconds())
//	}
type MetricsObserver = engine.MetricsObserver

// NoopMetricsObserver ignores all events. Embed it to implement only the
// events of interest.
type NoopMetricsObserver = engine.NoopMetricsObserver

// BasicMetricsObserver counts events with atomic counters.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsObserver = engine.BasicMetricsObserver
