//go:build linux

// File: server/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-http/api"
)

// listen opens a blocking IPv4/IPv6 listening socket with SO_REUSEADDR and
// returns it with the bound address.
func listen(host string, port, backlog int) (int, string, error) {
	ip, err := resolve(host)
	if err != nil {
		return -1, "", err
	}

	family := unix.AF_INET
	var sa unix.Sockaddr
	if v4 := ip.To4(); v4 != nil {
		a := &unix.SockaddrInet4{Port: port}
		copy(a.Addr[:], v4)
		sa = a
	} else {
		family = unix.AF_INET6
		a := &unix.SockaddrInet6{Port: port}
		copy(a.Addr[:], ip.To16())
		sa = a
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, "", api.NewError(api.KindIO, "socket", err)
	}
	fail := func(op string, err error) (int, string, error) {
		_ = unix.Close(fd)
		return -1, "", api.NewError(api.KindIO, op, err).WithContext("addr", net.JoinHostPort(host, strconv.Itoa(port)))
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	return fd, sockaddrString(bound), nil
}

func resolve(host string) (net.IP, error) {
	if host == "" {
		return net.IPv4zero, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return nil, api.Errorf(api.KindInvalidArgument, "resolve", "cannot resolve host %q: %v", host, err)
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// accept blocks for the next connection. The returned descriptor is
// non-blocking; reads and writes wait in poll(2) with the configured timeouts.
func accept(lfd int) (int, string, error) {
	fd, sa, err := unix.Accept4(lfd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, "", err
	}
	return fd, sockaddrString(sa), nil
}

// tuneConn disables Nagle; responses are written whole.
func tuneConn(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return api.NewError(api.KindIO, "setsockopt TCP_NODELAY", err).WithContext("fd", fd)
	}
	return nil
}

// acceptAction classifies accept errors.
type acceptAction int

const (
	acceptRetry acceptAction = iota
	acceptBackoff
	acceptFatal
)

func classifyAcceptErr(err error) acceptAction {
	switch err {
	case unix.EINTR, unix.ECONNABORTED, unix.EAGAIN, unix.EPROTO:
		return acceptRetry
	case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
		return acceptBackoff
	default:
		return acceptFatal
	}
}

const acceptBackoffDelay = 10 * time.Millisecond

func shutdownListener(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_RDWR)
}

func closeListener(fd int) error {
	return unix.Close(fd)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return "unknown"
	}
}
