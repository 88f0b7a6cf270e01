// File: hub/hub.go
// Package hub multiplexes every upgraded WebSocket onto one goroutine driven
// by an edge-triggered epoll reactor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hub

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/internal/affinity"
	"github.com/momentics/hioload-http/protocol"
	"github.com/momentics/hioload-http/reactor"
)

// Config tunes the hub.
type Config struct {
	MaxEvents   int           `mapstructure:"max_events"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	// MaxMessageSize bounds one inbound WebSocket message.
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	// SlowHandlerThreshold logs handlers that hold the hub goroutine longer.
	SlowHandlerThreshold time.Duration `mapstructure:"slow_handler_threshold"`
	// PinLoop binds the hub goroutine's thread to the CPU-th allowed CPU.
	PinLoop bool `mapstructure:"pin_loop"`
	CPU     int  `mapstructure:"cpu"`
}

// DefaultConfig returns the hub defaults.
func DefaultConfig() Config {
	return Config{
		MaxEvents:            reactor.DefaultMaxEvents,
		WaitTimeout:          reactor.DefaultWaitTimeout,
		MaxMessageSize:       protocol.DefaultMaxMessageSize,
		SlowHandlerThreshold: 50 * time.Millisecond,
	}
}

type (
	OpenHandler    func(c *Conn)
	MessageHandler func(c *Conn, msg protocol.Message)
	CloseHandler   func(c *Conn)
)

// Stats is a snapshot of hub counters.
type Stats struct {
	Connections int
	Opened      int64
	Closed      int64
	MessagesIn  int64
	MessagesOut int64
	SlowCalls   int64
}

// Hub owns upgraded connections. Handlers run on the hub goroutine, one at a
// time; a slow handler delays every other connection.
type Hub struct {
	cfg  Config
	log  *zap.Logger
	mux  *reactor.Epoll
	wake *waker

	nextID atomic.Uint64

	// pendMu guards pending, the stopping transition and wake-up signals,
	// so nothing is queued after Stop drains the queue.
	pendMu  sync.Mutex
	pending *queue.Queue // *Conn to register, closeRequest to remove

	mu    sync.RWMutex
	conns map[uint64]*Conn
	byFD  map[int]*Conn

	onOpen    OpenHandler
	onMessage MessageHandler
	onClose   CloseHandler

	activated atomic.Bool
	stopping  atomic.Bool
	stopOnce  sync.Once
	done      chan struct{}

	opened, closed, msgIn, msgOut, slow atomic.Int64
}

// New creates a hub with its own multiplexer and wake-up descriptor. The
// loop does not run until Activate.
func New(cfg Config, log *zap.Logger) (*Hub, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = protocol.DefaultMaxMessageSize
	}
	h := &Hub{
		cfg:     cfg,
		log:     log,
		pending: queue.New(),
		conns:   make(map[uint64]*Conn),
		byFD:    make(map[int]*Conn),
		done:    make(chan struct{}),
	}
	mux, err := reactor.New(reactor.Options{
		MaxEvents:   cfg.MaxEvents,
		WaitTimeout: cfg.WaitTimeout,
		Logger:      log,
	}, h.dispatch)
	if err != nil {
		return nil, err
	}
	w, err := newWaker()
	if err != nil {
		_ = mux.Close()
		return nil, err
	}
	if err := mux.Register(w.fd, api.InterestRead|api.InterestEdge); err != nil {
		w.close()
		_ = mux.Close()
		return nil, err
	}
	h.mux, h.wake = mux, w
	return h, nil
}

// OnOpen sets the handler invoked once a connection is registered.
func (h *Hub) OnOpen(fn OpenHandler) {
	h.mu.Lock()
	h.onOpen = fn
	h.mu.Unlock()
}

// OnMessage sets the handler invoked per complete text or binary message.
func (h *Hub) OnMessage(fn MessageHandler) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

// OnClose sets the handler invoked when a connection leaves the hub.
func (h *Hub) OnClose(fn CloseHandler) {
	h.mu.Lock()
	h.onClose = fn
	h.mu.Unlock()
}

// MessageOptions returns the WebSocket options the hub expects new
// connections to be created with. Reads are incremental: a partial frame
// never holds the hub goroutine.
func (h *Hub) MessageOptions() protocol.Options {
	return protocol.Options{MaxMessageSize: h.cfg.MaxMessageSize, Incremental: true, Logger: h.log}
}

// closeRequest asks the hub goroutine to remove a connection.
type closeRequest struct{ c *Conn }

// AddConnection hands ws to the hub and returns its id. Registration happens
// on the hub goroutine. After Stop the socket is closed and rejected.
func (h *Hub) AddConnection(ws *protocol.WebSocket) (uint64, error) {
	h.pendMu.Lock()
	if h.stopping.Load() {
		h.pendMu.Unlock()
		_ = ws.Close(protocol.CloseGoingAway)
		return 0, api.Errorf(api.KindRejected, "hub add", "hub is stopped")
	}
	c := &Conn{ID: h.nextID.Add(1), ws: ws, hub: h}
	h.pending.Add(c)
	h.signalLocked()
	h.pendMu.Unlock()
	return c.ID, nil
}

// requestClose queues c for removal on the hub goroutine. During Stop the
// request is dropped; Stop closes every connection itself.
func (h *Hub) requestClose(c *Conn) {
	h.pendMu.Lock()
	defer h.pendMu.Unlock()
	if h.stopping.Load() {
		return
	}
	h.pending.Add(closeRequest{c: c})
	h.signalLocked()
}

// signalLocked wakes the loop; pendMu must be held.
func (h *Hub) signalLocked() {
	if err := h.wake.signal(); err != nil {
		h.log.Warn("hub wake failed", zap.Error(err))
	}
}

// Activate starts the hub loop on its own goroutine.
func (h *Hub) Activate() error {
	if h.stopping.Load() {
		return api.Errorf(api.KindRejected, "hub activate", "hub is stopped")
	}
	if !h.activated.CompareAndSwap(false, true) {
		return api.Errorf(api.KindInvalidArgument, "hub activate", "already active")
	}
	go h.loop()
	return nil
}

func (h *Hub) loop() {
	defer close(h.done)
	if h.cfg.PinLoop {
		if err := affinity.Pin(h.cfg.CPU); err != nil {
			h.log.Warn("hub loop not pinned", zap.Int("cpu", h.cfg.CPU), zap.Error(err))
		} else {
			h.log.Info("hub loop pinned", zap.Int("cpu", h.cfg.CPU))
		}
	}
	h.log.Debug("hub loop started")
	h.drainPending()
	if err := h.mux.Run(); err != nil {
		h.log.Error("hub multiplexer failed", zap.Error(err))
	}
	h.log.Debug("hub loop exited")
}

// Stop ends the loop, waits for it, then closes every remaining connection
// with 1001 (going away), invoking the close handler for each.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.pendMu.Lock()
		h.stopping.Store(true)
		h.pendMu.Unlock()
		h.mux.Stop()
		_ = h.wake.signal()
		if h.activated.Load() {
			<-h.done
		}

		h.mu.RLock()
		remaining := make([]*Conn, 0, len(h.conns))
		for _, c := range h.conns {
			remaining = append(remaining, c)
		}
		h.mu.RUnlock()
		for _, c := range remaining {
			h.remove(c, protocol.CloseGoingAway)
		}

		// handed over but never registered
		h.pendMu.Lock()
		for h.pending.Length() > 0 {
			if c, ok := h.pending.Remove().(*Conn); ok {
				_ = c.ws.Close(protocol.CloseGoingAway)
			}
		}
		h.pendMu.Unlock()

		if err := h.mux.Close(); err != nil {
			h.log.Warn("hub multiplexer close", zap.Error(err))
		}
		h.wake.close()
		h.log.Info("hub stopped", zap.Int64("opened", h.opened.Load()), zap.Int64("closed", h.closed.Load()))
	})
}

// dispatch is the reactor callback; it always runs on the hub goroutine.
func (h *Hub) dispatch(fd int) {
	if fd == h.wake.fd {
		h.wake.drain()
		h.drainPending()
		return
	}
	h.mu.RLock()
	c := h.byFD[fd]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	h.service(c)
}

func (h *Hub) drainPending() {
	for {
		h.pendMu.Lock()
		if h.pending.Length() == 0 {
			h.pendMu.Unlock()
			return
		}
		item := h.pending.Remove()
		h.pendMu.Unlock()

		switch v := item.(type) {
		case closeRequest:
			h.remove(v.c, v.c.requestedCode())
		case *Conn:
			if h.stopping.Load() {
				_ = v.ws.Close(protocol.CloseGoingAway)
				continue
			}
			h.register(v)
		}
	}
}

func (h *Hub) register(c *Conn) {
	fd := c.ws.FD()
	if err := h.mux.Register(fd, api.InterestRead|api.InterestEdge|api.InterestPeerClose); err != nil {
		h.log.Warn("hub register failed", zap.Uint64("conn", c.ID), zap.Int("fd", fd), zap.Error(err))
		_ = c.ws.Close(protocol.CloseInternalServerErr)
		return
	}
	h.mu.Lock()
	h.conns[c.ID] = c
	h.byFD[fd] = c
	onOpen := h.onOpen
	h.mu.Unlock()
	h.opened.Add(1)

	if onOpen != nil {
		h.call(c, "open", func() { onOpen(c) })
	}
	// bytes that arrived with the upgrade request produce no edge
	if !c.isClosed() && c.ws.HasPending() {
		h.service(c)
	}
}

// service decodes messages until the socket would block, as edge-triggered
// readiness will not be reported again for data already queued. A partial
// frame stays buffered in the WebSocket until the next edge.
func (h *Hub) service(c *Conn) {
	for !c.isClosed() && c.ws.HasPending() {
		if code := c.requestedCode(); code != 0 {
			h.remove(c, code)
			return
		}
		msg, err := c.ws.ReadMessage()
		if errors.Is(err, protocol.ErrIncomplete) {
			return
		}
		if err != nil {
			code := protocol.CloseNormalClosure
			if api.IsKind(err, api.KindProtocolViolation) {
				code = protocol.CloseProtocolError
				h.log.Debug("websocket protocol violation", zap.Uint64("conn", c.ID), zap.Error(err))
			}
			h.remove(c, code)
			return
		}
		if msg.Opcode == protocol.OpClose {
			h.remove(c, msg.CloseCode())
			return
		}
		h.msgIn.Add(1)

		h.mu.RLock()
		onMessage := h.onMessage
		h.mu.RUnlock()
		if onMessage != nil {
			h.call(c, "message", func() { onMessage(c, msg) })
		}
	}
}

// remove deregisters, erases and closes c exactly once.
func (h *Hub) remove(c *Conn, code int) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	fd := c.ws.FD()
	if err := h.mux.Deregister(fd); err != nil {
		h.log.Debug("hub deregister", zap.Int("fd", fd), zap.Error(err))
	}
	h.mu.Lock()
	delete(h.conns, c.ID)
	if h.byFD[fd] == c {
		delete(h.byFD, fd)
	}
	onClose := h.onClose
	h.mu.Unlock()

	if onClose != nil {
		h.call(c, "close", func() { onClose(c) })
	}
	if err := c.ws.Close(code); err != nil {
		h.log.Debug("websocket close", zap.Uint64("conn", c.ID), zap.Error(err))
	}
	h.closed.Add(1)
}

// call runs a user handler, timing it and recovering panics.
func (h *Hub) call(c *Conn, kind string, fn func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("hub handler panicked",
				zap.String("handler", kind),
				zap.Uint64("conn", c.ID),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"))
		}
		if d := time.Since(start); h.cfg.SlowHandlerThreshold > 0 && d > h.cfg.SlowHandlerThreshold {
			h.slow.Add(1)
			h.log.Warn("slow hub handler",
				zap.String("handler", kind),
				zap.Uint64("conn", c.ID),
				zap.Duration("elapsed", d))
		}
	}()
	fn()
}

// Broadcast sends data to every registered connection and returns how many
// sends succeeded.
func (h *Hub) Broadcast(op protocol.Opcode, data []byte) int {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.Send(op, data); err != nil {
			h.log.Debug("broadcast send failed", zap.Uint64("conn", c.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Send sends data to the connection with the given id.
func (h *Hub) Send(id uint64, op protocol.Opcode, data []byte) error {
	h.mu.RLock()
	c := h.conns[id]
	h.mu.RUnlock()
	if c == nil {
		return api.Errorf(api.KindInvalidArgument, "hub send", "no connection %d", id)
	}
	return c.Send(op, data)
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.Len(),
		Opened:      h.opened.Load(),
		Closed:      h.closed.Load(),
		MessagesIn:  h.msgIn.Load(),
		MessagesOut: h.msgOut.Load(),
		SlowCalls:   h.slow.Load(),
	}
}
