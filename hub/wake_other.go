//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hub

import "github.com/momentics/hioload-http/api"

type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	return nil, api.Errorf(api.KindIO, "hub eventfd", "eventfd is supported on linux only")
}

func (w *waker) signal() error { return nil }
func (w *waker) drain()        {}
func (w *waker) close()        {}
