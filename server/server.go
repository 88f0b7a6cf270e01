// File: server/server.go
// Package server accepts TCP connections on a raw listening socket, serves
// HTTP/1.1 on a worker pool and hands upgraded WebSockets to the hub.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/control"
	"github.com/momentics/hioload-http/http1"
	"github.com/momentics/hioload-http/hub"
	"github.com/momentics/hioload-http/internal/concurrency"
	"github.com/momentics/hioload-http/internal/netfd"
)

var (
	ErrAlreadyRunning = api.NewError(api.KindRejected, "server run", errors.New("server already running"))
	ErrStopped        = api.NewError(api.KindRejected, "server run", errors.New("server stopped"))
)

// Server is the connection engine.
type Server struct {
	cfg        Config
	log        *zap.Logger
	router     *Router
	middleware []Middleware

	pool    *concurrency.Pool
	hub     *hub.Hub
	metrics *control.Metrics
	probes  *control.Probes

	lfd  int
	addr string

	running  atomic.Bool
	stopping atomic.Bool

	// live holds fds owned by HTTP workers; RequestStop shuts them down.
	liveMu sync.Mutex
	live   map[int]struct{}

	acceptDone chan struct{}

	hookMu sync.Mutex
	hooks  []func()

	stopOnce  sync.Once
	closeOnce sync.Once
}

var _ api.GracefulShutdown = (*Server)(nil)

// New builds a server. Routes and hub handlers are registered before Run.
func New(cfg Config, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		log:        zap.NewNop(),
		router:     NewRouter(),
		metrics:    control.NewMetrics(),
		probes:     control.NewProbes(),
		lfd:        -1,
		live:       make(map[int]struct{}),
		acceptDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	h, err := hub.New(s.cfg.Hub, s.log.Named("hub"))
	if err != nil {
		return nil, err
	}
	s.hub = h

	if s.cfg.StaticDir != "" {
		prefix := s.cfg.StaticPrefix
		dir := s.cfg.StaticDir
		s.GET(prefix, func(req *http1.Request) (*http1.Response, error) {
			return http1.ServeStatic(dir, prefix, req), nil
		})
	}
	return s, nil
}

// Use appends middleware for routes registered afterwards.
func (s *Server) Use(mw ...Middleware) {
	s.mustNotRun()
	s.middleware = append(s.middleware, mw...)
}

// Handle registers h for method and path. It panics once the server runs.
func (s *Server) Handle(method http1.Method, path string, h Handler) {
	s.mustNotRun()
	if h == nil {
		panic("server: nil handler for " + path)
	}
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	s.router.Add(method, path, h)
}

// GET registers h for GET requests to path.
func (s *Server) GET(path string, h Handler) { s.Handle(http1.MethodGet, path, h) }

// POST registers h for POST requests to path.
func (s *Server) POST(path string, h Handler) { s.Handle(http1.MethodPost, path, h) }

// PUT registers h for PUT requests to path.
func (s *Server) PUT(path string, h Handler) { s.Handle(http1.MethodPut, path, h) }

// DELETE registers h for DELETE requests to path.
func (s *Server) DELETE(path string, h Handler) { s.Handle(http1.MethodDelete, path, h) }

// PATCH registers h for PATCH requests to path.
func (s *Server) PATCH(path string, h Handler) { s.Handle(http1.MethodPatch, path, h) }

// HEAD registers h for HEAD requests to path.
func (s *Server) HEAD(path string, h Handler) { s.Handle(http1.MethodHead, path, h) }

// OPTIONS registers h for OPTIONS requests to path.
func (s *Server) OPTIONS(path string, h Handler) { s.Handle(http1.MethodOptions, path, h) }

func (s *Server) mustNotRun() {
	if s.running.Load() {
		panic("server: route registration after Run")
	}
}

// Run binds the listening socket, activates the hub and starts the acceptor.
// It returns once the server accepts connections.
func (s *Server) Run() error {
	if s.stopping.Load() {
		return ErrStopped
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	lfd, addr, err := listen(s.cfg.Host, s.cfg.Port, s.cfg.Backlog)
	if err != nil {
		s.running.Store(false)
		return err
	}
	if err := s.hub.Activate(); err != nil {
		_ = closeListener(lfd)
		s.running.Store(false)
		return err
	}
	s.lfd = lfd
	s.addr = addr
	s.pool = concurrency.NewPool(s.cfg.Workers, s.log.Named("pool"))
	s.registerProbes()

	go s.acceptLoop()
	s.log.Info("listening",
		zap.String("addr", addr),
		zap.Int("workers", s.pool.NumWorkers()),
		zap.Int("routes", s.router.Len()))
	return nil
}

func (s *Server) registerProbes() {
	control.RegisterRuntimeProbes(s.probes)
	s.probes.Register("pool.workers", func() any { return s.pool.NumWorkers() })
	s.probes.Register("pool.queued", func() any { return s.pool.Queued() })
	s.probes.Register("http.live_connections", func() any { return s.liveCount() })
	s.probes.Register("hub.connections", func() any { return s.hub.Len() })
	s.probes.Register("hub.messages_in", func() any { return s.hub.Stats().MessagesIn })
	s.probes.Register("hub.messages_out", func() any { return s.hub.Stats().MessagesOut })
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	for {
		fd, peer, err := accept(s.lfd)
		if err != nil {
			if s.stopping.Load() {
				return
			}
			switch classifyAcceptErr(err) {
			case acceptRetry:
				s.log.Debug("accept retry", zap.Error(err))
				continue
			case acceptBackoff:
				s.log.Warn("accept backoff", zap.Error(err))
				time.Sleep(acceptBackoffDelay)
				continue
			default:
				s.log.Error("accept failed, acceptor exits", zap.Error(err))
				return
			}
		}
		if s.stopping.Load() {
			_ = netfd.Close(fd)
			return
		}
		s.metrics.ConnectionsAccepted.Add(1)
		if err := tuneConn(fd); err != nil {
			s.log.Debug("tune connection", zap.Error(err))
		}
		s.track(fd)
		if err := s.pool.Submit(func() { s.serveConn(fd, peer) }); err != nil {
			s.metrics.RejectedTasks.Add(1)
			s.log.Warn("connection rejected", zap.Int("fd", fd), zap.Error(err))
			s.closeTracked(fd)
		}
	}
}

func (s *Server) track(fd int) {
	s.liveMu.Lock()
	s.live[fd] = struct{}{}
	s.liveMu.Unlock()
}

// release forgets fd without closing it; ownership moves to the caller.
func (s *Server) release(fd int) {
	s.liveMu.Lock()
	delete(s.live, fd)
	s.liveMu.Unlock()
}

// closeTracked closes fd under the live lock so RequestStop never shuts down
// a recycled descriptor.
func (s *Server) closeTracked(fd int) {
	s.liveMu.Lock()
	delete(s.live, fd)
	_ = netfd.Close(fd)
	s.liveMu.Unlock()
}

func (s *Server) liveCount() int {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return len(s.live)
}

// RequestStop signals every component to stop and returns immediately.
// Calling it more than once is a no-op.
func (s *Server) RequestStop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		s.log.Info("stop requested")
		if s.running.Load() {
			if err := shutdownListener(s.lfd); err != nil {
				s.log.Debug("shutdown listener", zap.Error(err))
			}
			s.pool.RequestStop()
		}

		s.liveMu.Lock()
		for fd := range s.live {
			_ = netfd.Shutdown(fd)
		}
		s.liveMu.Unlock()

		s.hub.Stop()

		s.hookMu.Lock()
		hooks := append([]func(){}, s.hooks...)
		s.hookMu.Unlock()
		for _, fn := range hooks {
			s.runHook(fn)
		}
	})
}

func (s *Server) runHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("shutdown hook panic", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// WaitForExit blocks until the acceptor and every worker have exited, then
// closes the listening socket.
func (s *Server) WaitForExit() {
	if !s.running.Load() {
		return
	}
	<-s.acceptDone
	s.pool.WaitForExit()
	s.closeOnce.Do(func() {
		if err := closeListener(s.lfd); err != nil {
			s.log.Debug("close listener", zap.Error(err))
		}
	})
}

// Stop performs RequestStop followed by WaitForExit.
func (s *Server) Stop() {
	s.RequestStop()
	s.WaitForExit()
}

// OnShutdown registers fn to run during RequestStop.
func (s *Server) OnShutdown(fn func()) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

// Addr returns the bound address, or the configured one before Run.
func (s *Server) Addr() string {
	if s.addr != "" {
		return s.addr
	}
	return s.cfg.Addr()
}

func (s *Server) Config() Config            { return s.cfg }
func (s *Server) Logger() *zap.Logger       { return s.log }
func (s *Server) Metrics() *control.Metrics { return s.metrics }
func (s *Server) Probes() *control.Probes   { return s.probes }
func (s *Server) Hub() *hub.Hub             { return s.hub }
func (s *Server) Router() *Router           { return s.router }
func (s *Server) Running() bool             { return s.running.Load() && !s.stopping.Load() }
