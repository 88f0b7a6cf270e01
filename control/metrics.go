// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime counters for the HTTP and WebSocket paths. Updates are single
// atomic adds so they are safe from workers and the hub goroutine alike.

package control

import (
	"sync/atomic"
	"time"
)

// Metrics holds engine counters.
type Metrics struct {
	started time.Time

	ConnectionsAccepted atomic.Int64
	ConnectionsActive   atomic.Int64
	Requests            atomic.Int64
	BadRequests         atomic.Int64
	HandlerErrors       atomic.Int64
	Upgrades            atomic.Int64
	RejectedTasks       atomic.Int64

	status [6]atomic.Int64 // index by code/100
}

// NewMetrics creates zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{started: time.Now()}
}

// ObserveStatus counts a response by status class.
func (m *Metrics) ObserveStatus(code int) {
	class := code / 100
	if class < 1 || class > 5 {
		class = 0
	}
	m.status[class].Add(1)
}

// StatusCount returns the number of responses in class (1 to 5).
func (m *Metrics) StatusCount(class int) int64 {
	if class < 0 || class >= len(m.status) {
		return 0
	}
	return m.status[class].Load()
}

// Snapshot returns the current counters keyed by metric name.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"uptime_seconds":       int64(time.Since(m.started).Seconds()),
		"connections_accepted": m.ConnectionsAccepted.Load(),
		"connections_active":   m.ConnectionsActive.Load(),
		"requests":             m.Requests.Load(),
		"bad_requests":         m.BadRequests.Load(),
		"handler_errors":       m.HandlerErrors.Load(),
		"upgrades":             m.Upgrades.Load(),
		"rejected_tasks":       m.RejectedTasks.Load(),
		"responses_1xx":        m.status[1].Load(),
		"responses_2xx":        m.status[2].Load(),
		"responses_3xx":        m.status[3].Load(),
		"responses_4xx":        m.status[4].Load(),
		"responses_5xx":        m.status[5].Load(),
	}
}
