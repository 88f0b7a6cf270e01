// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, debug probes and configuration hot reload for the engine.
//
//   - Metrics: lock-free counters updated on the request and message paths
//   - Probes: named gauges evaluated on demand
//   - Reloader: re-applies settings when the watched config file changes
package control
