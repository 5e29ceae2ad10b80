package rpc

import (
	"context"
	"expvar"
	"sync"
)

var (
	globalMetrics = new(expvar.Map)

	serversActiveGauge    = new(expvar.Int)
	rpcRequestsCount      = new(expvar.Int)
	rpcErrorsCount        = new(expvar.Int)
	bytesReadCount        = new(expvar.Int)
	bytesWrittenCount     = new(expvar.Int)
	notificationsDispatch = new(expvar.Int)
)

func init() {
	globalMetrics.Set("servers_active", serversActiveGauge)
	globalMetrics.Set("rpc_requests", rpcRequestsCount)
	globalMetrics.Set("rpc_errors", rpcErrorsCount)
	globalMetrics.Set("bytes_read", bytesReadCount)
	globalMetrics.Set("bytes_written", bytesWrittenCount)
	globalMetrics.Set("notifications_dispatched", notificationsDispatch)
}

// GlobalMetrics returns the process-wide expvar map shared by every Server
// and Client in this process. The caller is responsible for publishing it
// via expvar.Publish or similar.
func GlobalMetrics() *expvar.Map { return globalMetrics }

// MetricsFromContext returns the per-dispatch metrics writer associated
// with ctx, or nil if ctx carries none.
func MetricsFromContext(ctx context.Context) *Metrics {
	if v := ctx.Value(metricsKey{}); v != nil {
		return v.(*Metrics)
	}
	return nil
}

func withMetrics(ctx context.Context, m *Metrics) context.Context {
	return context.WithValue(ctx, metricsKey{}, m)
}

type metricsKey struct{}

// Metrics collects counters and maximum-value trackers local to one server
// or client instance. A nil *Metrics is valid and discards everything
// recorded against it. All methods are safe for concurrent use.
type Metrics struct {
	mu      sync.Mutex
	counter map[string]int64
	maxVal  map[string]int64
}

// NewMetrics creates an empty Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{counter: make(map[string]int64), maxVal: make(map[string]int64)}
}

// Count adds n to the named counter, defining it if absent.
func (m *Metrics) Count(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter[name] += n
}

// SetMaxValue sets the named max-value tracker to the greater of n and its
// current value, defining it if absent.
func (m *Metrics) SetMaxValue(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.maxVal[name] {
		m.maxVal[name] = n
	}
}

// Snapshot copies the current counters and max values into the given
// non-nil maps.
func (m *Metrics) Snapshot(counters, maxValues map[string]int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.counter {
		counters[k] = v
	}
	for k, v := range m.maxVal {
		maxValues[k] = v
	}
}
