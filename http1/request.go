// File: http1/request.go
// Package http1 implements the HTTP/1.1 message model: incremental request
// framing over a socket, request parsing and response serialization.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package http1

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/momentics/hioload-http/api"
)

// Method is an enumerated request method.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodGet
	MethodPost
	MethodPut
	MethodDelete
	MethodPatch
	MethodHead
	MethodOptions
)

var methodNames = [...]string{
	MethodUnknown: "UNKNOWN",
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodPatch:   "PATCH",
	MethodHead:    "HEAD",
	MethodOptions: "OPTIONS",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return methodNames[MethodUnknown]
}

// ParseMethod maps a verb to its Method. Verbs are case-sensitive; anything
// unrecognized is MethodUnknown.
func ParseMethod(s string) Method {
	switch s {
	case "GET":
		return MethodGet
	case "POST":
		return MethodPost
	case "PUT":
		return MethodPut
	case "DELETE":
		return MethodDelete
	case "PATCH":
		return MethodPatch
	case "HEAD":
		return MethodHead
	case "OPTIONS":
		return MethodOptions
	default:
		return MethodUnknown
	}
}

const (
	Version11 = "HTTP/1.1"
	Version10 = "HTTP/1.0"
)

// Request is a parsed HTTP request. It is not modified after ParseRequest.
type Request struct {
	Method Method
	// RawMethod is the verb as sent, kept for logging unknown methods.
	RawMethod string
	Path      string
	Version   string
	// Headers maps lower-cased names to trimmed values; later duplicates win.
	Headers map[string]string
	// Query maps parameter names to raw values; later duplicates win.
	Query map[string]string
	Body  []byte
}

// ParseRequest parses one complete raw message as produced by
// Reader.ReadFullRequest. A chunked body is decoded; otherwise the body is the
// remaining bytes, limited by Content-Length when present.
func ParseRequest(raw []byte) (*Request, error) {
	head, rest := raw, []byte(nil)
	if i := bytes.Index(raw, headerTerminator); i >= 0 {
		head, rest = raw[:i], raw[i+len(headerTerminator):]
	}

	lines := strings.Split(string(head), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return nil, errMalformed("empty request")
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return nil, errMalformed("bad request line %q", strings.TrimSpace(lines[0]))
	}
	req := &Request{
		Method:    ParseMethod(fields[0]),
		RawMethod: fields[0],
		Headers:   make(map[string]string, len(lines)-1),
		Query:     make(map[string]string),
	}
	target := fields[1]
	if q := strings.IndexByte(target, '?'); q >= 0 {
		req.Path = target[:q]
		req.Query = parseQuery(target[q+1:])
	} else {
		req.Path = target
	}
	if len(fields) > 2 {
		req.Version = fields[2]
	}

	for _, line := range lines[1:] {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		if key == "" {
			continue
		}
		req.Headers[key] = strings.TrimSpace(line[colon+1:])
	}

	switch {
	case isChunkedValue(req.Headers["transfer-encoding"]):
		body, err := DecodeChunked(rest)
		if err != nil {
			return nil, err
		}
		req.Body = body
	case req.Headers["content-length"] != "":
		n, err := strconv.Atoi(req.Headers["content-length"])
		if err != nil || n < 0 {
			return nil, ErrBadContentLength
		}
		if n > len(rest) {
			return nil, api.Errorf(api.KindProtocolViolation, "http parse",
				"body shorter than content-length: %d < %d", len(rest), n)
		}
		req.Body = rest[:n]
	default:
		req.Body = rest
	}
	return req, nil
}

// parseQuery splits on '&' then on the first '='. A parameter without '='
// maps to the empty string. Values are not percent-decoded.
func parseQuery(s string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			params[pair[:eq]] = pair[eq+1:]
		} else {
			params[pair] = ""
		}
	}
	return params
}

// Header returns the value of the named header, matched case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// QueryParam returns the named query parameter and whether it was present.
func (r *Request) QueryParam(name string) (string, bool) {
	v, ok := r.Query[name]
	return v, ok
}

// IsWebSocketUpgrade reports an upgrade request: Upgrade is "websocket" and a
// Sec-WebSocket-Key is present.
func (r *Request) IsWebSocketUpgrade() bool {
	if !strings.EqualFold(r.Headers["upgrade"], "websocket") {
		return false
	}
	_, ok := r.Headers["sec-websocket-key"]
	return ok
}

// WebSocketKey returns the Sec-WebSocket-Key header verbatim.
func (r *Request) WebSocketKey() string {
	return r.Headers["sec-websocket-key"]
}

// KeepAlive reports whether the connection may serve another request after
// this one: HTTP/1.1 without "Connection: close".
func (r *Request) KeepAlive() bool {
	if r.Version != Version11 {
		return false
	}
	return !headerHasToken(r.Headers["connection"], "close")
}

// headerHasToken checks a comma-separated header value for token, case-insensitive.
func headerHasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

func isChunkedValue(v string) bool {
	return strings.Contains(strings.ToLower(v), "chunked")
}
