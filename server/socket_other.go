//go:build !linux

// File: server/socket_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/momentics/hioload-http/api"
)

var errNotSupported = api.Errorf(api.KindIO, "server", "raw socket engine is supported on linux only")

func listen(host string, port, backlog int) (int, string, error) { return -1, "", errNotSupported }
func accept(lfd int) (int, string, error)                        { return -1, "", errNotSupported }
func tuneConn(fd int) error                                      { return nil }
func shutdownListener(fd int) error                              { return nil }
func closeListener(fd int) error                                 { return nil }

type acceptAction int

const (
	acceptRetry acceptAction = iota
	acceptBackoff
	acceptFatal
)

func classifyAcceptErr(err error) acceptAction { return acceptFatal }

const acceptBackoffDelay = 10 * time.Millisecond
