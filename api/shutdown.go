// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components with a two-phase stop:
// RequestStop signals and returns immediately, WaitForExit blocks until every
// goroutine owned by the component has exited.
type GracefulShutdown interface {
	RequestStop()
	WaitForExit()
}
