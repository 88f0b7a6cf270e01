// File: protocol/websocket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket is the server side of an upgraded connection, reading and writing
// frames directly on the socket descriptor.

package protocol

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/internal/bufpool"
	"github.com/momentics/hioload-http/internal/netfd"
)

const (
	readChunk = 4096
	// input buffers grown past this by one large frame are not kept
	maxIdleInput = 64 << 10
)

// ErrIncomplete is returned by ReadMessage in incremental mode when the
// socket has no more bytes and the next message is not complete yet. The
// partial input is kept for the next call.
var ErrIncomplete = api.Errorf(api.KindTimeout, "websocket read", "message incomplete")

// Options configures a WebSocket.
type Options struct {
	// MaxMessageSize bounds one reassembled message. Zero means DefaultMaxMessageSize.
	MaxMessageSize int64
	// ReadTimeout bounds the wait for the rest of a partially received frame.
	// Unused in incremental mode.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Incremental makes ReadMessage return ErrIncomplete instead of waiting
	// when the descriptor would block.
	Incremental bool
	Logger      *zap.Logger
}

// Message is a complete data message.
type Message struct {
	Opcode Opcode
	Data   []byte
}

// Text returns the payload as a string.
func (m Message) Text() string { return string(m.Data) }

// CloseCode returns the status code of an OpClose message.
func (m Message) CloseCode() int {
	code, _ := ParseClosePayload(m.Data)
	return code
}

// WebSocket owns one upgraded descriptor. Reads must come from a single
// goroutine; sends are serialized internally and may come from any goroutine.
// The descriptor is closed under the write lock, so no send can reach a
// descriptor number the kernel has already reused.
type WebSocket struct {
	fd   int
	conn *netfd.Conn
	in   []byte // received, not yet decoded
	opts Options
	log  *zap.Logger

	state     atomic.Int32
	writeMu   sync.Mutex
	released  bool // fd closed; guarded by writeMu
	closeOnce sync.Once

	fragOp Opcode
	frag   []byte
}

// NewWebSocket takes ownership of fd. buffered holds bytes that arrived after
// the upgrade request and must be parsed before anything read from fd.
func NewWebSocket(fd int, buffered []byte, opts Options) *WebSocket {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ws := &WebSocket{
		fd:   fd,
		conn: netfd.New(fd, opts.ReadTimeout, opts.WriteTimeout),
		in:   append(make([]byte, 0, max(len(buffered), readChunk)), buffered...),
		opts: opts,
		log:  log.With(zap.Int("fd", fd)),
	}
	ws.state.Store(int32(StateOpen))
	return ws
}

// FD returns the underlying descriptor.
func (ws *WebSocket) FD() int { return ws.fd }

// State returns the current lifecycle state.
func (ws *WebSocket) State() State { return State(ws.state.Load()) }

// HasPending reports whether ReadMessage can make progress without waiting:
// bytes are buffered locally or the socket is readable.
func (ws *WebSocket) HasPending() bool {
	if len(ws.in) > 0 {
		return true
	}
	return netfd.Readable(ws.fd)
}

// ReadMessage returns the next complete text or binary message. Pings are
// answered with pongs and pongs are dropped. A close frame is echoed, moves
// the socket to StateClosing and is returned as an OpClose message.
// Unmasked client frames are a protocol violation.
func (ws *WebSocket) ReadMessage() (Message, error) {
	for {
		if ws.State() != StateOpen {
			return Message{}, api.ErrConnectionClosed
		}
		f, err := ws.nextFrame()
		if err != nil {
			return Message{}, ws.readFailed(err)
		}
		if !f.Masked {
			return Message{}, ws.fail(ErrUnmaskedFrame, CloseProtocolError)
		}

		switch f.Opcode {
		case OpPing:
			if err := ws.SendFrame(OpPong, f.Payload, true); err != nil {
				return Message{}, err
			}
		case OpPong:
		case OpClose:
			code, _ := ParseClosePayload(f.Payload)
			ws.peerClosed(code)
			return Message{Opcode: OpClose, Data: f.Payload}, nil
		case OpText, OpBinary:
			if ws.frag != nil {
				return Message{}, ws.fail(ErrInterleavedMessage, CloseProtocolError)
			}
			if f.Fin {
				return ws.complete(f.Opcode, f.Payload)
			}
			ws.fragOp, ws.frag = f.Opcode, f.Payload
		case OpContinuation:
			if ws.frag == nil {
				return Message{}, ws.fail(ErrUnexpectedContinue, CloseProtocolError)
			}
			if int64(len(ws.frag)+len(f.Payload)) > ws.opts.MaxMessageSize {
				return Message{}, ws.fail(ErrFrameTooLarge, CloseMessageTooBig)
			}
			ws.frag = append(ws.frag, f.Payload...)
			if f.Fin {
				op, data := ws.fragOp, ws.frag
				ws.frag = nil
				return ws.complete(op, data)
			}
		}
	}
}

func (ws *WebSocket) complete(op Opcode, data []byte) (Message, error) {
	if op == OpText && !utf8.Valid(data) {
		return Message{}, ws.fail(ErrInvalidUTF8, CloseInvalidPayloadData)
	}
	return Message{Opcode: op, Data: data}, nil
}

// nextFrame decodes one frame from the input buffer, reading more from the
// descriptor until a whole frame is present.
func (ws *WebSocket) nextFrame() (*Frame, error) {
	for {
		n, err := frameLen(ws.in, ws.opts.MaxMessageSize)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			f, err := ReadFrame(bytes.NewReader(ws.in[:n]), ws.opts.MaxMessageSize)
			ws.consume(n)
			return f, err
		}
		if err := ws.fill(); err != nil {
			if errors.Is(err, io.EOF) && len(ws.in) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func (ws *WebSocket) fill() error {
	ws.in = slices.Grow(ws.in, readChunk)
	buf := ws.in[len(ws.in):cap(ws.in)]
	var (
		n   int
		err error
	)
	if ws.opts.Incremental {
		n, err = ws.conn.TryRead(buf)
	} else {
		n, err = ws.conn.Read(buf)
	}
	ws.in = ws.in[:len(ws.in)+n]
	return err
}

func (ws *WebSocket) consume(n int) {
	rest := copy(ws.in, ws.in[n:])
	ws.in = ws.in[:rest]
	if rest == 0 && cap(ws.in) > maxIdleInput {
		ws.in = nil
	}
}

func (ws *WebSocket) readFailed(err error) error {
	switch {
	case errors.Is(err, netfd.ErrWouldBlock):
		return ErrIncomplete
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		ws.state.Store(int32(StateClosed))
		return api.NewError(api.KindConnectionClosed, "websocket read", err)
	case errors.Is(err, ErrFrameTooLarge):
		return ws.fail(err, CloseMessageTooBig)
	case api.IsKind(err, api.KindProtocolViolation):
		return ws.fail(err, CloseProtocolError)
	}
	return err
}

// fail sends a close frame with code and returns err.
func (ws *WebSocket) fail(err error, code int) error {
	ws.log.Debug("websocket protocol failure", zap.Error(err), zap.Int("close_code", code))
	if ws.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		_ = ws.write(AppendFrame(nil, OpClose, closePayload(code, ""), true, nil), true)
	}
	return err
}

// peerClosed echoes the peer's close code unless we already sent our own.
func (ws *WebSocket) peerClosed(code int) {
	if ws.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		echo := code
		if code == CloseNoStatusRcvd {
			echo = 0
		}
		_ = ws.write(AppendFrame(nil, OpClose, closePayload(echo, ""), true, nil), true)
	}
}

// Send sends a complete message. Binary messages larger than
// MaxBinaryFrameSize are fragmented; text goes out as one frame.
func (ws *WebSocket) Send(op Opcode, data []byte) error {
	if op != OpBinary || len(data) <= MaxBinaryFrameSize {
		return ws.SendFrame(op, data, true)
	}
	buf := bufpool.Default().Get(len(data) + (len(data)/MaxBinaryFrameSize+1)*MaxFrameHeaderLen)
	defer func() { bufpool.Default().Put(buf) }()
	frameOp := OpBinary
	for len(data) > 0 {
		n := min(len(data), MaxBinaryFrameSize)
		buf = AppendFrame(buf, frameOp, data[:n], n == len(data), nil)
		data = data[n:]
		frameOp = OpContinuation
	}
	return ws.write(buf, false)
}

// SendText sends a text message.
func (ws *WebSocket) SendText(s string) error { return ws.Send(OpText, []byte(s)) }

// SendBinary sends a binary message.
func (ws *WebSocket) SendBinary(b []byte) error { return ws.Send(OpBinary, b) }

// Ping sends a ping carrying payload.
func (ws *WebSocket) Ping(payload []byte) error { return ws.SendFrame(OpPing, payload, true) }

// SendFrame writes one frame. It fails once the socket is no longer open.
func (ws *WebSocket) SendFrame(op Opcode, payload []byte, fin bool) error {
	if ws.State() != StateOpen {
		return api.ErrConnectionClosed
	}
	if op.IsControl() && len(payload) > MaxControlPayloadLen {
		return api.Errorf(api.KindInvalidArgument, "websocket send", "control payload %d > %d", len(payload), MaxControlPayloadLen)
	}
	buf := AppendFrame(bufpool.Default().Get(len(payload)+MaxFrameHeaderLen), op, payload, fin, nil)
	err := ws.write(buf, false)
	bufpool.Default().Put(buf)
	return err
}

// write sends buf under the write lock. Data and ping/pong frames need an
// open socket; a close frame only needs the descriptor to still be ours.
func (ws *WebSocket) write(buf []byte, closeFrame bool) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if ws.released || (!closeFrame && ws.State() != StateOpen) {
		return api.ErrConnectionClosed
	}
	_, err := ws.conn.Write(buf)
	return err
}

// Close sends a close frame with code (when still open) and closes the
// descriptor. Further calls are no-ops.
func (ws *WebSocket) Close(code int) error {
	var err error
	ws.closeOnce.Do(func() {
		if ws.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
			if werr := ws.write(AppendFrame(nil, OpClose, closePayload(code, ""), true, nil), true); werr != nil {
				ws.log.Debug("close frame not delivered", zap.Error(werr))
			}
		}
		ws.writeMu.Lock()
		defer ws.writeMu.Unlock()
		ws.released = true
		ws.state.Store(int32(StateClosed))
		err = netfd.Close(ws.fd)
	})
	return err
}
