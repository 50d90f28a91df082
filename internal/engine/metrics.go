package engine

import (
	"sync/atomic"
	"time"
)

// MetricsObserver defines the interface for observing engine events.
type MetricsObserver interface {
	// OnWrite is called when a write operation (insert, update, upsert, delete) finishes.
	OnWrite(op string, collection string, docs int, duration time.Duration, err error)

	// OnCommit is called when a transaction commit completes.
	OnCommit(duration time.Duration, collections int, err error)

	// OnRollback is called when a transaction is rolled back.
	OnRollback(reason error)

	// OnSpill is called when a safepoint moved dirty pages to the WAL.
	OnSpill(pages int)

	// OnRetry is called before a transaction is retried after a transient conflict.
	OnRetry(attempt int, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnWrite(op string, collection string, docs int, duration time.Duration, err error) {
}
func (o *NoopMetricsObserver) OnCommit(duration time.Duration, collections int, err error) {}
func (o *NoopMetricsObserver) OnRollback(reason error)                                    {}
func (o *NoopMetricsObserver) OnSpill(pages int)                                          {}
func (o *NoopMetricsObserver) OnRetry(attempt int, err error)                             {}

// BasicMetricsObserver counts engine events with atomic counters.
type BasicMetricsObserver struct {
	Writes       atomic.Int64
	WriteErrors  atomic.Int64
	Documents    atomic.Int64
	Commits      atomic.Int64
	CommitErrors atomic.Int64
	Rollbacks    atomic.Int64
	SpilledPages atomic.Int64
	Retries      atomic.Int64

	commitNanos atomic.Int64
}

func (o *BasicMetricsObserver) OnWrite(op string, collection string, docs int, duration time.Duration, err error) {
	o.Writes.Add(1)
	if err != nil {
		o.WriteErrors.Add(1)
		return
	}
	o.Documents.Add(int64(docs))
}

func (o *BasicMetricsObserver) OnCommit(duration time.Duration, collections int, err error) {
	if err != nil {
		o.CommitErrors.Add(1)
		return
	}
	o.Commits.Add(1)
	o.commitNanos.Add(int64(duration))
}

func (o *BasicMetricsObserver) OnRollback(reason error) { o.Rollbacks.Add(1) }

func (o *BasicMetricsObserver) OnSpill(pages int) { o.SpilledPages.Add(int64(pages)) }

func (o *BasicMetricsObserver) OnRetry(attempt int, err error) { o.Retries.Add(1) }

// AvgCommitLatency returns the mean duration of successful commits.
func (o *BasicMetricsObserver) AvgCommitLatency() time.Duration {
	n := o.Commits.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(o.commitNanos.Load() / n)
}
