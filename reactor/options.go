// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxEvents   = 16
	DefaultWaitTimeout = time.Second
)

// ErrInvalidDescriptor is returned when registering a descriptor that is
// negative or not open.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// Callback receives the number of a ready descriptor. It owns interpreting
// the event (usually by attempting a non-blocking read).
type Callback func(fd int)

// Options tunes the multiplexer.
type Options struct {
	// MaxEvents bounds the events returned by one wait call.
	MaxEvents int
	// WaitTimeout bounds one wait call, and so how long Stop takes to be
	// observed when no descriptor is ready.
	WaitTimeout time.Duration
	Logger      *zap.Logger
}

func (o *Options) setDefaults() {
	if o.MaxEvents <= 0 {
		o.MaxEvents = DefaultMaxEvents
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
