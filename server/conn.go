// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection HTTP loop. A worker owns the descriptor from accept until
// close, or until an upgrade moves it into the hub.

package server

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/http1"
	"github.com/momentics/hioload-http/internal/netfd"
	"github.com/momentics/hioload-http/protocol"
)

type httpConn struct {
	fd     int
	conn   *netfd.Conn
	reader *http1.Reader
	log    *zap.Logger
	owned  bool
}

// release returns the descriptor and forgets it; the caller becomes its owner.
func (c *httpConn) release() int {
	c.owned = false
	return c.fd
}

func (c *httpConn) write(resp *http1.Response) error {
	_, err := resp.WriteTo(c.conn)
	return err
}

func (s *Server) serveConn(fd int, peer string) {
	s.metrics.ConnectionsActive.Add(1)
	defer s.metrics.ConnectionsActive.Add(-1)

	nc := netfd.New(fd, s.cfg.ReadTimeout, s.cfg.WriteTimeout)
	c := &httpConn{
		fd:   fd,
		conn: nc,
		reader: http1.NewReader(nc, http1.ReaderOptions{
			MaxHeaderBytes: s.cfg.MaxHeaderBytes,
			MaxBodyBytes:   s.cfg.MaxBodyBytes,
		}),
		log: s.log.With(
			zap.Int("fd", fd),
			zap.String("peer", peer),
			zap.String("session", uuid.NewString())),
		owned: true,
	}
	c.log.Debug("connection opened")

	s.serveHTTP(c)

	if c.owned {
		s.closeTracked(fd)
		c.log.Debug("connection closed")
	}
}

// serveHTTP runs request/response cycles until the connection must end.
func (s *Server) serveHTTP(c *httpConn) {
	for {
		raw, err := c.reader.ReadFullRequest()
		if err != nil {
			s.readFailed(c, err)
			return
		}

		req, err := http1.ParseRequest(raw)
		if err != nil {
			s.metrics.BadRequests.Add(1)
			c.log.Debug("bad request", zap.Error(err))
			s.respond(c, nil, http1.Error(400, "Bad Request"), false)
			return
		}
		s.metrics.Requests.Add(1)

		if req.Method == http1.MethodUnknown {
			s.respond(c, req, http1.Error(405, "Method Not Allowed"), false)
			return
		}

		if req.IsWebSocketUpgrade() {
			s.upgrade(c, req)
			return
		}

		resp := s.dispatch(c, req)
		keep := req.KeepAlive() && !s.stopping.Load()
		if err := s.respond(c, req, resp, keep); err != nil || !keep {
			return
		}
	}
}

// readFailed answers framing errors with a 4xx while the peer still listens.
func (s *Server) readFailed(c *httpConn, err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.log.Debug("peer closed")
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.log.Debug("peer closed mid-request")
	case api.IsKind(err, api.KindTimeout):
		c.log.Debug("read timeout")
	case api.IsKind(err, api.KindProtocolViolation):
		s.metrics.BadRequests.Add(1)
		code := 400
		switch {
		case errors.Is(err, http1.ErrHeaderTooLarge):
			code = 431
		case errors.Is(err, http1.ErrBodyTooLarge):
			code = 413
		}
		c.log.Debug("request rejected", zap.Int("status", code), zap.Error(err))
		s.respond(c, nil, http1.Error(code, http1.StatusText(code)), false)
	default:
		c.log.Debug("read failed", zap.Error(err))
	}
}

// dispatch resolves the route and runs the handler. Handler errors, panics
// and nil responses become 500.
func (s *Server) dispatch(c *httpConn, req *http1.Request) (resp *http1.Response) {
	h, ok := s.router.Lookup(req.Method, req.Path)
	if !ok {
		return http1.NotFound(req.Path)
	}

	defer func() {
		if r := recover(); r != nil {
			s.metrics.HandlerErrors.Add(1)
			c.log.Error("handler panic",
				zap.String("method", req.RawMethod),
				zap.String("path", req.Path),
				zap.String("panic", fmt.Sprint(r)))
			resp = http1.Error(500, "Internal Server Error")
		}
	}()

	resp, err := h(req)
	if err != nil {
		s.metrics.HandlerErrors.Add(1)
		c.log.Warn("handler error", zap.String("path", req.Path), zap.Error(err))
		return http1.Error(500, "Internal Server Error")
	}
	if resp == nil {
		s.metrics.HandlerErrors.Add(1)
		c.log.Warn("handler returned no response", zap.String("path", req.Path))
		return http1.Error(500, "Internal Server Error")
	}
	return resp
}

// respond writes resp on a private copy: Connection: close when the loop
// ends, body dropped for HEAD with the Content-Length kept.
func (s *Server) respond(c *httpConn, req *http1.Request, resp *http1.Response, keep bool) error {
	out := resp.Clone()
	if !keep {
		out.SetHeader("Connection", "close")
	}
	if req != nil && req.Method == http1.MethodHead {
		if _, ok := out.Header("Content-Length"); !ok {
			out.SetHeader("Content-Length", strconv.Itoa(len(out.Body)))
		}
		out.Body = nil
	}
	s.metrics.ObserveStatus(out.StatusCode)

	if err := c.write(out); err != nil {
		c.log.Debug("write failed", zap.Int("status", out.StatusCode), zap.Error(err))
		return err
	}
	if req != nil {
		c.log.Debug("request served",
			zap.String("method", req.RawMethod),
			zap.String("path", req.Path),
			zap.Int("status", out.StatusCode))
	}
	return nil
}

// upgrade completes the handshake and moves the descriptor, together with
// any bytes read past the request, into the hub.
func (s *Server) upgrade(c *httpConn, req *http1.Request) {
	if req.Method != http1.MethodGet {
		s.respond(c, req, http1.Error(400, "WebSocket upgrade requires GET"), false)
		return
	}
	if s.stopping.Load() {
		s.respond(c, req, http1.Error(503, "Service Unavailable"), false)
		return
	}
	if err := s.respond(c, req, http1.WebSocketUpgrade(req.WebSocketKey()), true); err != nil {
		return
	}

	buffered := append([]byte(nil), c.reader.Buffered()...)
	fd := c.release()
	s.release(fd)

	opts := s.hub.MessageOptions()
	opts.ReadTimeout = s.cfg.ReadTimeout
	opts.WriteTimeout = s.cfg.WriteTimeout
	opts.Logger = c.log
	ws := protocol.NewWebSocket(fd, buffered, opts)

	s.metrics.Upgrades.Add(1)
	id, err := s.hub.AddConnection(ws)
	if err != nil {
		c.log.Debug("hub rejected connection", zap.Error(err))
		return
	}
	c.log.Debug("upgraded", zap.Uint64("ws_id", id), zap.String("path", req.Path))
}
