// File: http1/response.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package http1

import (
	"bytes"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/momentics/hioload-http/protocol"
)

var statusText = map[int]string{
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

// StatusText returns the reason phrase for code, or "Unknown".
func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "Unknown"
}

// Response is an HTTP response under construction.
type Response struct {
	Version    string
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

// NewResponse returns an empty HTTP/1.1 response with the standard reason phrase.
func NewResponse(code int) *Response {
	return &Response{
		Version:    Version11,
		StatusCode: code,
		StatusText: StatusText(code),
		Headers:    make(map[string]string),
	}
}

// SetHeader sets a header, replacing any existing header with the same name
// regardless of case.
func (r *Response) SetHeader(name, value string) *Response {
	for k := range r.Headers {
		if k != name && strings.EqualFold(k, name) {
			delete(r.Headers, k)
		}
	}
	r.Headers[name] = value
	return r
}

// Header looks up a header case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	if v, ok := r.Headers[name]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// SetBody replaces the body.
func (r *Response) SetBody(b []byte) *Response {
	r.Body = b
	return r
}

// Bytes serializes the response: status line, headers in name order,
// Content-Length when not set explicitly, blank line, body. 1xx and 204
// responses never get a computed Content-Length.
func (r *Response) Bytes() []byte {
	var b bytes.Buffer
	version := r.Version
	if version == "" {
		version = Version11
	}
	text := r.StatusText
	if text == "" {
		text = StatusText(r.StatusCode)
	}
	b.WriteString(version)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(r.StatusCode))
	b.WriteByte(' ')
	b.WriteString(text)
	b.WriteString("\r\n")

	names := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(r.Headers[k])
		b.WriteString("\r\n")
	}
	if _, ok := r.Header("Content-Length"); !ok && r.allowsBody() {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(r.Body)))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(r.Body)
	return b.Bytes()
}

// Clone returns a copy that can be modified without touching r.
func (r *Response) Clone() *Response {
	c := *r
	c.Headers = make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		c.Headers[k] = v
	}
	return &c
}

// WriteTo writes the serialized response to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	return int64(n), err
}

func (r *Response) allowsBody() bool {
	return r.StatusCode >= 200 && r.StatusCode != 204 && r.StatusCode != 304
}

func withBody(code int, contentType string, body []byte) *Response {
	return NewResponse(code).
		SetHeader("Content-Type", contentType).
		SetBody(body)
}

// Text returns a text/plain response.
func Text(code int, body string) *Response {
	return withBody(code, "text/plain; charset=utf-8", []byte(body))
}

// JSON returns an application/json response. body must already be encoded.
func JSON(code int, body []byte) *Response {
	return withBody(code, "application/json", body)
}

// HTML returns a text/html response.
func HTML(code int, body string) *Response {
	return withBody(code, "text/html; charset=utf-8", []byte(body))
}

// Status returns a text response whose body is the reason phrase.
func Status(code int) *Response {
	return Text(code, StatusText(code))
}

// Error returns a text response carrying msg.
func Error(code int, msg string) *Response {
	return Text(code, msg)
}

// NotFound returns a 404 naming the missing path.
func NotFound(path string) *Response {
	return Text(404, "Not Found: "+path)
}

// Redirect returns a 301 or 302 pointing at location.
func Redirect(location string, permanent bool) *Response {
	code := 302
	if permanent {
		code = 301
	}
	return NewResponse(code).SetHeader("Location", location)
}

// FromFile loads path into a 200 response. An empty contentType is detected
// from the file contents. A missing or unreadable file yields a 404.
func FromFile(path, contentType string) *Response {
	data, err := os.ReadFile(path)
	if err != nil {
		return NotFound(path)
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return withBody(200, contentType, data)
}

// WebSocketUpgrade returns the 101 handshake answer for a Sec-WebSocket-Key.
func WebSocketUpgrade(key string) *Response {
	return NewResponse(101).
		SetHeader("Upgrade", "websocket").
		SetHeader("Connection", "Upgrade").
		SetHeader("Sec-WebSocket-Accept", protocol.ComputeAcceptKey(key))
}
