//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hub

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-http/api"
)

// waker is an eventfd the hub loop watches so other goroutines can interrupt
// epoll_wait.
type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, api.NewError(api.KindIO, "hub eventfd", err)
	}
	return &waker{fd: fd}, nil
}

func (w *waker) signal() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	for {
		_, err := unix.Write(w.fd, b[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN: counter saturated, a wake-up is already pending
			return nil
		case unix.EINTR:
			continue
		default:
			return api.NewError(api.KindIO, "hub wake", err)
		}
	}
}

func (w *waker) drain() {
	var b [8]byte
	for {
		if _, err := unix.Read(w.fd, b[:]); err != unix.EINTR {
			return
		}
	}
}

func (w *waker) close() {
	_ = unix.Close(w.fd)
}
