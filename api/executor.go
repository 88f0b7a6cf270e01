// Package api
// Author: momentics
//
// Executor contract: the "submit work" side of the two scheduling domains.

package api

// Executor runs submitted tasks on a bounded set of workers.
type Executor interface {
	// Submit schedules task for execution. After shutdown it returns an
	// error of KindRejected and the task is dropped.
	Submit(task func()) error

	// NumWorkers returns the number of worker routines.
	NumWorkers() int
}
