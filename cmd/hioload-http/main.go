// File: cmd/hioload-http/main.go
// Package main runs the demo server: a few HTTP routes, static assets,
// counters on /metrics and a WebSocket hub that echoes binary frames and
// broadcasts text to every client.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/control"
	"github.com/momentics/hioload-http/http1"
	"github.com/momentics/hioload-http/hub"
	"github.com/momentics/hioload-http/internal/logging"
	"github.com/momentics/hioload-http/protocol"
	"github.com/momentics/hioload-http/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON/TOML config file")
	port := flag.Int("port", -1, "listen port, overrides the config file")
	static := flag.String("static", "", "directory served under the static prefix, overrides the config file")
	report := flag.Duration("report", 0, "log counters at this interval (0 disables)")
	flag.Parse()

	if err := run(*configPath, *port, *static, *report); err != nil {
		fmt.Fprintln(os.Stderr, "hioload-http:", err)
		os.Exit(1)
	}
}

func run(configPath string, port int, static string, report time.Duration) error {
	cfg, v, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if port >= 0 {
		cfg.Port = port
	}
	if static != "" {
		cfg.StaticDir = static
	}

	log, level, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if configPath != "" {
		reloader := control.NewReloader(v, log.Named("reload"))
		reloader.OnReload(control.LevelHook(level, "log.level", log))
		reloader.Watch()
	}

	srv, err := server.New(cfg, server.WithLogger(log))
	if err != nil {
		return err
	}
	registerRoutes(srv)
	registerHub(srv.Hub(), log.Named("chat"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv.OnShutdown(stop)

	if err := srv.Run(); err != nil {
		return err
	}
	log.Info("hioload-http started", zap.String("addr", srv.Addr()))

	if report > 0 {
		go reportLoop(ctx, srv, log, report)
	}

	<-ctx.Done()
	log.Info("shutting down")
	srv.Stop()
	return nil
}

func registerRoutes(srv *server.Server) {
	srv.GET("/hello", func(*http1.Request) (*http1.Response, error) {
		return http1.Text(200, "OK"), nil
	})
	srv.HEAD("/hello", func(*http1.Request) (*http1.Response, error) {
		return http1.Text(200, "OK"), nil
	})
	srv.GET("/greet", func(req *http1.Request) (*http1.Response, error) {
		name, ok := req.QueryParam("name")
		if !ok || name == "" {
			name = "stranger"
		}
		return http1.HTML(200, "<p>Hello, "+name+"</p>"), nil
	})
	srv.POST("/echo", func(req *http1.Request) (*http1.Response, error) {
		ct := req.Header("content-type")
		if ct == "" {
			ct = "application/octet-stream"
		}
		return http1.NewResponse(200).SetHeader("Content-Type", ct).SetBody(req.Body), nil
	})
	srv.GET("/home", func(*http1.Request) (*http1.Response, error) {
		return http1.Redirect("/hello", false), nil
	})
	srv.GET("/metrics", func(*http1.Request) (*http1.Response, error) {
		body, err := json.Marshal(map[string]any{
			"counters": srv.Metrics().Snapshot(),
			"probes":   srv.Probes().Dump(),
		})
		if err != nil {
			return nil, err
		}
		return http1.JSON(200, body), nil
	})
}

// registerHub wires the chat behaviour: text goes to everyone, binary is
// echoed to its sender.
func registerHub(h *hub.Hub, log *zap.Logger) {
	h.OnOpen(func(c *hub.Conn) {
		log.Info("client joined", zap.Uint64("id", c.ID), zap.Int("clients", h.Len()))
		_ = c.SendText(fmt.Sprintf("welcome #%d", c.ID))
	})
	h.OnMessage(func(c *hub.Conn, msg protocol.Message) {
		switch msg.Opcode {
		case protocol.OpText:
			n := h.Broadcast(protocol.OpText, msg.Data)
			log.Debug("broadcast", zap.Uint64("from", c.ID), zap.Int("delivered", n))
		default:
			if err := c.Send(msg.Opcode, msg.Data); err != nil {
				log.Debug("echo failed", zap.Uint64("id", c.ID), zap.Error(err))
			}
		}
	})
	h.OnClose(func(c *hub.Conn) {
		log.Info("client left", zap.Uint64("id", c.ID))
	})
}

func reportLoop(ctx context.Context, srv *server.Server, log *zap.Logger, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap := srv.Metrics().Snapshot()
			fields := make([]zap.Field, 0, len(snap))
			for k, v := range snap {
				fields = append(fields, zap.Any(k, v))
			}
			fields = append(fields, zap.Int("ws_clients", srv.Hub().Len()))
			log.Info("stats", fields...)
		}
	}
}
