//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netfd

import (
	"time"

	"github.com/momentics/hioload-http/api"
)

var ErrWouldBlock = api.Errorf(api.KindTimeout, "read", "no data ready")

var errNotSupported = api.Errorf(api.KindIO, "netfd", "raw descriptors are supported on linux only")

type Conn struct {
	fd           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func New(fd int, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{fd: fd, ReadTimeout: readTimeout, WriteTimeout: writeTimeout}
}

func (c *Conn) FD() int                       { return c.fd }
func (c *Conn) Read(p []byte) (int, error)    { return 0, errNotSupported }
func (c *Conn) TryRead(p []byte) (int, error) { return 0, errNotSupported }
func (c *Conn) Write(p []byte) (int, error)   { return 0, errNotSupported }

func Readable(fd int) bool  { return false }
func Close(fd int) error    { return errNotSupported }
func Shutdown(fd int) error { return errNotSupported }
