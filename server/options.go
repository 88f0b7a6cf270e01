// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-http/control"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the root logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMiddleware attaches middleware in FIFO order. It wraps every route
// registered afterwards.
func WithMiddleware(mw ...Middleware) ServerOption {
	return func(s *Server) {
		s.middleware = append(s.middleware, mw...)
	}
}

// WithExecutorWorkers sets the number of connection workers.
func WithExecutorWorkers(n int) ServerOption {
	return func(s *Server) {
		s.cfg.Workers = n
	}
}

// WithMetrics shares an existing counter set, e.g. across restarts.
func WithMetrics(m *control.Metrics) ServerOption {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}
