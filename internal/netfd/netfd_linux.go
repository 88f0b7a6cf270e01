//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package netfd wraps a raw socket descriptor as an io.ReadWriter. Reads and
// writes work on both blocking and non-blocking descriptors: EAGAIN parks the
// caller in poll(2) for at most the configured timeout.

package netfd

import (
	"io"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-http/api"
)

// ErrWouldBlock is returned by TryRead when no bytes are queued.
var ErrWouldBlock = api.Errorf(api.KindTimeout, "read", "no data ready")

// Conn is a socket descriptor with per-direction timeouts. Zero timeouts wait
// forever. Conn never closes the descriptor on its own.
type Conn struct {
	fd           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New wraps fd.
func New(fd int, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{fd: fd, ReadTimeout: readTimeout, WriteTimeout: writeTimeout}
}

// FD returns the wrapped descriptor.
func (c *Conn) FD() int { return c.fd }

// Read reads at least one byte. An orderly peer shutdown yields io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch err {
		case nil:
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if err := c.wait(unix.POLLIN, c.ReadTimeout, "read"); err != nil {
				return 0, err
			}
		case unix.ECONNRESET, unix.EPIPE:
			return 0, api.NewError(api.KindConnectionClosed, "read", err).WithContext("fd", c.fd)
		default:
			return 0, api.NewError(api.KindIO, "read", err).WithContext("fd", c.fd)
		}
	}
}

// TryRead is Read on a non-blocking descriptor without the wait: when
// nothing is queued it returns ErrWouldBlock at once.
func (c *Conn) TryRead(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch err {
		case nil:
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		case unix.ECONNRESET, unix.EPIPE:
			return 0, api.NewError(api.KindConnectionClosed, "read", err).WithContext("fd", c.fd)
		default:
			return 0, api.NewError(api.KindIO, "read", err).WithContext("fd", c.fd)
		}
	}
}

// Write writes all of p, retrying partial writes.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch err {
		case nil:
		case unix.EINTR:
		case unix.EAGAIN:
			if err := c.wait(unix.POLLOUT, c.WriteTimeout, "write"); err != nil {
				return written, err
			}
		case unix.EPIPE, unix.ECONNRESET:
			return written, api.NewError(api.KindConnectionClosed, "write", err).WithContext("fd", c.fd)
		default:
			return written, api.NewError(api.KindIO, "write", err).WithContext("fd", c.fd)
		}
	}
	return written, nil
}

func (c *Conn) wait(events int16, timeout time.Duration, op string) error {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return api.NewError(api.KindIO, op+" poll", err).WithContext("fd", c.fd)
		}
		if n == 0 {
			return api.Errorf(api.KindTimeout, op, "no progress within %s", timeout).WithContext("fd", c.fd)
		}
		return nil
	}
}

// Readable reports, without blocking, whether a read on fd would make
// progress: data is queued or the peer hung up.
func Readable(fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			return false
		}
		return fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	}
}

// Close closes fd.
func Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return api.NewError(api.KindIO, "close", err).WithContext("fd", fd)
	}
	return nil
}

// Shutdown shuts down both directions of fd, waking any blocked reader.
func Shutdown(fd int) error {
	if err := unix.Shutdown(fd, unix.SHUT_RDWR); err != nil {
		return api.NewError(api.KindIO, "shutdown", err).WithContext("fd", fd)
	}
	return nil
}
