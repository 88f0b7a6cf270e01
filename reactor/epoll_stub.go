//go:build !linux

// File: reactor/epoll_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hioload-http/api"

var errNotSupported = api.Errorf(api.KindInvalidArgument, "reactor", "this platform is not supported")

// Epoll is unavailable outside Linux.
type Epoll struct{}

// New returns an error for unsupported platforms.
func New(opts Options, cb Callback) (*Epoll, error) { return nil, errNotSupported }

func (r *Epoll) Register(fd int, interest api.Interest) error { return errNotSupported }
func (r *Epoll) Deregister(fd int) error                      { return errNotSupported }
func (r *Epoll) Registered(fd int) bool                       { return false }
func (r *Epoll) Len() int                                     { return 0 }
func (r *Epoll) Run() error                                   { return errNotSupported }
func (r *Epoll) Stop()                                        {}
func (r *Epoll) Stopped() bool                                { return true }
func (r *Epoll) Close() error                                 { return nil }
