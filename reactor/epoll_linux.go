//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-http/api"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Epoll implements api.Multiplexer using Linux epoll.
type Epoll struct {
	epfd     int
	opts     Options
	dispatch Callback
	log      *zap.Logger

	mu  sync.RWMutex
	fds map[int]api.Interest

	running   atomic.Bool
	stopped   atomic.Bool
	closeOnce sync.Once
	events    []unix.EpollEvent
}

var _ api.Multiplexer = (*Epoll)(nil)

// New creates an epoll instance dispatching ready descriptors to cb.
func New(opts Options, cb Callback) (*Epoll, error) {
	if cb == nil {
		return nil, api.Errorf(api.KindInvalidArgument, "reactor new", "nil dispatch callback")
	}
	opts.setDefaults()
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.NewError(api.KindIO, "epoll create", err)
	}
	return &Epoll{
		epfd:     epfd,
		opts:     opts,
		dispatch: cb,
		log:      opts.Logger,
		fds:      make(map[int]api.Interest),
		events:   make([]unix.EpollEvent, opts.MaxEvents),
	}, nil
}

// Register makes fd non-blocking and adds it to the epoll watch list. A
// descriptor that is already registered is removed and added again with the
// new interest, never merged.
func (r *Epoll) Register(fd int, interest api.Interest) error {
	if fd < 0 {
		return invalidDescriptor(fd, nil)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		if err == unix.EBADF {
			return invalidDescriptor(fd, err)
		}
		return api.NewError(api.KindIO, "reactor register", err).WithContext("fd", fd)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fds[fd]; ok {
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		delete(r.fds, fd)
	}
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if err == unix.EBADF || err == unix.EPERM {
			return invalidDescriptor(fd, err)
		}
		return api.NewError(api.KindIO, "epoll ctl add", err).WithContext("fd", fd)
	}
	r.fds[fd] = interest
	return nil
}

// Deregister removes fd from the epoll watch list. Removing a descriptor that
// is not registered is not an error.
func (r *Epoll) Deregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fds[fd]; !ok {
		return nil
	}
	delete(r.fds, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF && err != unix.ENOENT {
		return api.NewError(api.KindIO, "epoll ctl del", err).WithContext("fd", fd)
	}
	return nil
}

// Registered reports whether fd is currently watched.
func (r *Epoll) Registered(fd int) bool {
	r.mu.RLock()
	_, ok := r.fds[fd]
	r.mu.RUnlock()
	return ok
}

// Len returns the number of watched descriptors.
func (r *Epoll) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fds)
}

// Run waits for readiness until Stop is called. EINTR is retried; any other
// wait error ends the loop and is returned.
func (r *Epoll) Run() error {
	if !r.running.CompareAndSwap(false, true) {
		return api.Errorf(api.KindInvalidArgument, "reactor run", "already running")
	}
	defer r.running.Store(false)

	timeout := int(r.opts.WaitTimeout / time.Millisecond)
	if timeout <= 0 {
		timeout = 1
	}
	for !r.stopped.Load() {
		n, err := unix.EpollWait(r.epfd, r.events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return api.NewError(api.KindIO, "epoll wait", err)
		}
		for i := 0; i < n; i++ {
			fd := int(r.events[i].Fd)
			// an earlier callback in this batch may have removed it
			if !r.Registered(fd) {
				continue
			}
			r.invoke(fd)
		}
	}
	return nil
}

// invoke runs the dispatch callback, keeping the loop alive on panics.
func (r *Epoll) invoke(fd int) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("reactor callback panic", zap.Int("fd", fd), zap.Any("panic", p))
		}
	}()
	r.dispatch(fd)
}

// Stop makes Run return after the current wait, at most WaitTimeout later.
// A stopped multiplexer cannot be run again.
func (r *Epoll) Stop() {
	r.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (r *Epoll) Stopped() bool {
	return r.stopped.Load()
}

// Close releases the epoll descriptor. Registered descriptors are not closed.
func (r *Epoll) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.Stop()
		r.mu.Lock()
		r.fds = make(map[int]api.Interest)
		r.mu.Unlock()
		if cerr := unix.Close(r.epfd); cerr != nil {
			err = api.NewError(api.KindIO, "epoll close", cerr)
		}
	})
	return err
}

func toEpollEvents(interest api.Interest) uint32 {
	var ev uint32
	if interest&api.InterestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&api.InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if interest&api.InterestEdge != 0 {
		ev |= unix.EPOLLET
	}
	if interest&api.InterestPeerClose != 0 {
		ev |= unix.EPOLLRDHUP
	}
	return ev
}

func invalidDescriptor(fd int, cause error) error {
	err := ErrInvalidDescriptor
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidDescriptor, cause)
	}
	return api.NewError(api.KindInvalidArgument, "reactor register", err).WithContext("fd", fd)
}
