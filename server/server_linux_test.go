//go:build linux

package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-http/http1"
	"github.com/momentics/hioload-http/hub"
	"github.com/momentics/hioload-http/protocol"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Workers = 2
	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	cfg.Hub.WaitTimeout = 50 * time.Millisecond
	return cfg
}

func hello(*http1.Request) (*http1.Response, error) {
	return http1.Text(200, "OK"), nil
}

// startServer builds a server, lets setup register routes and runs it.
func startServer(t *testing.T, cfg Config, setup func(s *Server)) *Server {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	s.GET("/hello", hello)
	if setup != nil {
		setup(s)
	}
	require.NoError(t, s.Run())
	t.Cleanup(s.Stop)
	return s
}

type client struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func dial(t *testing.T, s *Server) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return &client{t: t, conn: conn, br: bufio.NewReader(conn)}
}

func (c *client) send(raw string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, raw)
	require.NoError(c.t, err)
}

func (c *client) read(method string) (*http.Response, string) {
	c.t.Helper()
	resp, err := http.ReadResponse(c.br, &http.Request{Method: method})
	require.NoError(c.t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	_ = resp.Body.Close()
	return resp, string(body)
}

func (c *client) expectClosed() {
	c.t.Helper()
	_, err := c.br.ReadByte()
	assert.ErrorIs(c.t, err, io.EOF)
}

func get(path string, extra ...string) string {
	return "GET " + path + " HTTP/1.1\r\nHost: test\r\n" + strings.Join(extra, "") + "\r\n"
}

func TestServerServesHello(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := dial(t, s)

	c.send(get("/hello"))
	resp, body := c.read("GET")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", body)
	assert.Equal(t, "2", resp.Header.Get("Content-Length"))
}

func TestServerNotFoundNamesPath(t *testing.T) {
	s := startServer(t, testConfig(), nil)
	c := dial(t, s)

	c.send(get("/nowhere/else"))
	resp, body := c.read("GET")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Not Found: /nowhere/else", body)
}

func TestServerRoutingExactBeatsPrefix(t *testing.T) {
	s := startServer(t, testConfig(), func(s *Server) {
		s.GET("/api", func(*http1.Request) (*http1.Response, error) { return http1.Text(200, "prefix"), nil })
		s.GET("/api/users", func(*http1.Request) (*http1.Response, error) { return http1.Text(200, "exact"), nil })
	})
	c := dial(t, s)

	c.send(get("/api/users"))
	_, body := c.read("GET")
	assert.Equal(t, "exact", body)

	c.send(get("/api/orders/7"))
	_, body = c.read("GET")
	assert.Equal(t, "prefix", body)
}

func TestServerKeepAlive(t *testing.T) {
	s := startServer(t, testConfig(), nil)

	t.Run("http11 stays open", func(t *testing.T) {
		c := dial(t, s)
		for i := 0; i < 3; i++ {
			c.send(get("/hello"))
			resp, body := c.read("GET")
			assert.Equal(t, "OK", body)
			assert.Empty(t, resp.Header.Get("Connection"))
		}
	})

	t.Run("connection close ends", func(t *testing.T) {
		c := dial(t, s)
		c.send(get("/hello", "Connection: close\r\n"))
		resp, body := c.read("GET")
		assert.Equal(t, "OK", body)
		assert.Equal(t, "close", resp.Header.Get("Connection"))
		c.expectClosed()
	})

	t.Run("http10 ends", func(t *testing.T) {
		c := dial(t, s)
		c.send("GET /hello HTTP/1.0\r\n\r\n")
		resp, body := c.read("GET")
		assert.Equal(t, "OK", body)
		assert.Equal(t, "close", resp.Header.Get("Connection"))
		c.expectClosed()
	})
}

func TestServerPipelinedRequests(t *testing.T) {
	s := startServer(t, testConfig(), func(s *Server) {
		s.POST("/echo", func(req *http1.Request) (*http1.Response, error) {
			return http1.Text(200, string(req.Body)), nil
		})
	})
	c := dial(t, s)

	c.send(get("/hello") +
		"POST /echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nfirst" +
		"POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nsec\r\n3\r\nond\r\n0\r\n\r\n")

	_, body := c.read("GET")
	assert.Equal(t, "OK", body)
	_, body = c.read("POST")
	assert.Equal(t, "first", body)
	_, body = c.read("POST")
	assert.Equal(t, "second", body)
}

func TestServerConcurrentClientsWithSmallPool(t *testing.T) {
	const clients = 16
	cfg := testConfig()
	cfg.Workers = 3
	s := startServer(t, cfg, func(s *Server) {
		for i := 0; i < clients; i++ {
			body := fmt.Sprintf("route-%d", i)
			s.GET(fmt.Sprintf("/r/%d", i), func(*http1.Request) (*http1.Response, error) {
				time.Sleep(5 * time.Millisecond)
				return http1.Text(200, body), nil
			})
		}
	})

	var g errgroup.Group
	for i := 0; i < clients; i++ {
		i := i
		g.Go(func() error {
			conn, err := net.DialTimeout("tcp", s.Addr(), 2*time.Second)
			if err != nil {
				return err
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
			if _, err := fmt.Fprintf(conn, "GET /r/%d HTTP/1.1\r\nConnection: close\r\n\r\n", i); err != nil {
				return err
			}
			resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if want := fmt.Sprintf("route-%d", i); string(body) != want {
				return fmt.Errorf("client %d: got %q, want %q", i, body, want)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(clients), s.Metrics().ConnectionsAccepted.Load())
	assert.GreaterOrEqual(t, s.Metrics().StatusCount(2), int64(clients))
}

func TestServerRejectsBadInput(t *testing.T) {
	s := startServer(t, testConfig(), func(s *Server) {
		s.POST("/upload", func(req *http1.Request) (*http1.Response, error) {
			return http1.Text(200, "stored"), nil
		})
	})

	t.Run("unknown method", func(t *testing.T) {
		c := dial(t, s)
		c.send("BREW /pot HTTP/1.1\r\n\r\n")
		resp, _ := c.read("BREW")
		assert.Equal(t, 405, resp.StatusCode)
		assert.Equal(t, "close", resp.Header.Get("Connection"))
		c.expectClosed()
	})

	t.Run("malformed chunk", func(t *testing.T) {
		c := dial(t, s)
		c.send("POST /upload HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\nabc\r\n0\r\n\r\n")
		resp, _ := c.read("POST")
		assert.Equal(t, 400, resp.StatusCode)
		c.expectClosed()
	})

	t.Run("bad content length", func(t *testing.T) {
		c := dial(t, s)
		c.send("POST /upload HTTP/1.1\r\nContent-Length: -4\r\n\r\n")
		resp, _ := c.read("POST")
		assert.Equal(t, 400, resp.StatusCode)
		c.expectClosed()
	})

	assert.GreaterOrEqual(t, s.Metrics().BadRequests.Load(), int64(2))
}

func TestServerHeaderLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHeaderBytes = 256
	s := startServer(t, cfg, nil)
	c := dial(t, s)

	c.send(get("/hello", "X-Big: "+strings.Repeat("a", 512)+"\r\n"))
	resp, _ := c.read("GET")
	assert.Equal(t, 431, resp.StatusCode)
}

func TestServerHandlerFailuresBecome500(t *testing.T) {
	s := startServer(t, testConfig(), func(s *Server) {
		s.GET("/err", func(*http1.Request) (*http1.Response, error) { return nil, errors.New("boom") })
		s.GET("/panic", func(*http1.Request) (*http1.Response, error) { panic("kaboom") })
		s.GET("/nil", func(*http1.Request) (*http1.Response, error) { return nil, nil })
	})
	c := dial(t, s)

	for _, path := range []string{"/err", "/panic", "/nil"} {
		c.send(get(path))
		resp, _ := c.read("GET")
		assert.Equal(t, 500, resp.StatusCode, path)
	}
	// the connection survives handler failures
	c.send(get("/hello"))
	_, body := c.read("GET")
	assert.Equal(t, "OK", body)
	assert.Equal(t, int64(3), s.Metrics().HandlerErrors.Load())
}

func TestServerHeadStripsBody(t *testing.T) {
	s := startServer(t, testConfig(), func(s *Server) {
		s.HEAD("/hello", hello)
	})
	c := dial(t, s)

	c.send("HEAD /hello HTTP/1.1\r\n\r\n")
	resp, body := c.read("HEAD")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int64(2), resp.ContentLength)
	assert.Empty(t, body)

	// a stray body would corrupt the next response
	c.send(get("/hello"))
	_, body = c.read("GET")
	assert.Equal(t, "OK", body)
}

func TestServerMiddleware(t *testing.T) {
	cfg := testConfig()
	s, err := New(cfg, WithMiddleware(func(next Handler) Handler {
		return func(req *http1.Request) (*http1.Response, error) {
			resp, err := next(req)
			if resp != nil {
				resp.SetHeader("X-Engine", "hioload")
			}
			return resp, err
		}
	}))
	require.NoError(t, err)
	v1 := s.Group("/v1")
	v1.GET("/ping", func(*http1.Request) (*http1.Response, error) { return http1.Text(200, "pong"), nil })
	require.NoError(t, s.Run())
	t.Cleanup(s.Stop)

	c := dial(t, s)
	c.send(get("/v1/ping"))
	resp, body := c.read("GET")
	assert.Equal(t, "pong", body)
	assert.Equal(t, "hioload", resp.Header.Get("X-Engine"))
}

func TestServerGroupRegistersEveryVerb(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	ok := func(*http1.Request) (*http1.Response, error) { return http1.Text(200, "ok"), nil }
	g := s.Group("/api/")
	g.GET("/r", ok)
	g.POST("/r", ok)
	g.PUT("/r", ok)
	g.DELETE("/r", ok)
	g.PATCH("/r", ok)
	g.HEAD("/r", ok)
	g.OPTIONS("/r", ok)

	for _, m := range []http1.Method{
		http1.MethodGet, http1.MethodPost, http1.MethodPut, http1.MethodDelete,
		http1.MethodPatch, http1.MethodHead, http1.MethodOptions,
	} {
		_, found := s.Router().Lookup(m, "/api/r")
		assert.True(t, found, "method %v", m)
	}
	assert.Equal(t, 7, s.Router().Len())
}

func TestServerStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.css"), []byte("body{}"), 0o644))
	cfg := testConfig()
	cfg.StaticDir = dir
	s := startServer(t, cfg, nil)
	c := dial(t, s)

	c.send(get("/assets/app.css"))
	resp, body := c.read("GET")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "body{}", body)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")

	c.send(get("/assets/../../etc/passwd"))
	resp, _ = c.read("GET")
	assert.Contains(t, []int{403, 404}, resp.StatusCode)
}

func TestServerLifecycle(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	s.GET("/hello", hello)

	var hooks atomic.Int32
	s.OnShutdown(func() { hooks.Add(1) })
	s.OnShutdown(func() { panic("hook failure is contained") })

	require.NoError(t, s.Run())
	assert.ErrorIs(t, s.Run(), ErrAlreadyRunning)
	assert.NotContains(t, s.Addr(), ":0")
	assert.Panics(t, func() { s.GET("/late", hello) })

	s.RequestStop()
	s.RequestStop()
	s.WaitForExit()
	s.Stop()
	assert.Equal(t, int32(1), hooks.Load())
	assert.False(t, s.Running())

	_, err = net.DialTimeout("tcp", s.Addr(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServerStopUnblocksIdleConnections(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = time.Minute
	s, err := New(cfg)
	require.NoError(t, err)
	s.GET("/hello", hello)
	require.NoError(t, s.Run())

	c := dial(t, s)
	c.send(get("/hello"))
	_, body := c.read("GET")
	require.Equal(t, "OK", body)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a keep-alive connection was idle")
	}
	c.expectClosed()
}

func TestServerWebSocketEcho(t *testing.T) {
	s := startServer(t, testConfig(), func(s *Server) {
		s.Hub().OnMessage(func(c *hub.Conn, msg protocol.Message) {
			_ = c.Send(msg.Opcode, msg.Data)
		})
	})

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, 101, resp.StatusCode)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("hello hub")))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "hello hub", string(data))

	big := make([]byte, 3*protocol.MaxBinaryFrameSize+17)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, big))
	kind, data, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, big, data)

	assert.Equal(t, int64(1), s.Metrics().Upgrades.Load())
	assert.Equal(t, 1, s.Hub().Len())
}

func TestServerWebSocketGoingAwayOnStop(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Run())

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/chat", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
}
