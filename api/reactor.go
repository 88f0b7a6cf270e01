// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the "register readiness" contract implemented by the epoll reactor,
// so the WebSocket domain can be tuned or swapped independently of the HTTP workers.

package api

// Interest is a readiness interest mask.
type Interest uint32

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	// InterestEdge requests edge-triggered notification.
	InterestEdge
	// InterestPeerClose requests notification on peer half-close.
	InterestPeerClose
)

// Multiplexer reports readiness of many descriptors and dispatches each ready
// descriptor to a single callback.
type Multiplexer interface {
	// Register must make fd non-blocking and watch it with the given interest.
	// Registering an fd twice replaces the earlier registration.
	Register(fd int, interest Interest) error

	// Deregister stops watching fd.
	Deregister(fd int) error

	// Run blocks dispatching readiness until Stop is called or waiting fails.
	Run() error

	// Stop asks Run to return.
	Stop()
}
