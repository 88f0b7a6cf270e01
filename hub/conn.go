// File: hub/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package hub

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-http/protocol"
)

// Conn is a WebSocket registered with a hub.
type Conn struct {
	ID  uint64
	ws  *protocol.WebSocket
	hub *Hub

	closed    atomic.Bool
	closeCode atomic.Int32 // requested by Close, 0 when none

	valMu sync.Mutex
	vals  map[string]any
}

// Send sends a complete message on this connection.
func (c *Conn) Send(op protocol.Opcode, data []byte) error {
	if err := c.ws.Send(op, data); err != nil {
		return err
	}
	c.hub.msgOut.Add(1)
	return nil
}

// SendText sends a text message.
func (c *Conn) SendText(s string) error { return c.Send(protocol.OpText, []byte(s)) }

// Close asks the hub to remove the connection and close it with code. It is
// safe from any goroutine: removal and the close handler run on the hub
// goroutine, which is the only reader of the socket.
func (c *Conn) Close(code int) {
	if code <= 0 {
		code = protocol.CloseNormalClosure
	}
	if c.isClosed() || !c.closeCode.CompareAndSwap(0, int32(code)) {
		return
	}
	c.hub.requestClose(c)
}

func (c *Conn) requestedCode() int { return int(c.closeCode.Load()) }

// WebSocket exposes the underlying socket.
func (c *Conn) WebSocket() *protocol.WebSocket { return c.ws }

// Set attaches a value to the connection.
func (c *Conn) Set(key string, v any) {
	c.valMu.Lock()
	if c.vals == nil {
		c.vals = make(map[string]any)
	}
	c.vals[key] = v
	c.valMu.Unlock()
}

// Get returns a value set with Set.
func (c *Conn) Get(key string) (any, bool) {
	c.valMu.Lock()
	defer c.valMu.Unlock()
	v, ok := c.vals[key]
	return v, ok
}

func (c *Conn) isClosed() bool { return c.closed.Load() }
