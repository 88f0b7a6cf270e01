// Package api
// Author: momentics <momentics@gmail.com>
//
// Error kinds and the structured error carried from sockets, parsers and codecs
// up to the point where a connection is torn down.

package api

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error by how the engine reacts to it.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindIO is a transport failure on a descriptor; the connection is closed.
	KindIO
	// KindProtocolViolation is malformed HTTP or WebSocket input.
	KindProtocolViolation
	// KindConnectionClosed means the peer closed or the session has ended.
	KindConnectionClosed
	// KindTimeout is an expired read or write deadline.
	KindTimeout
	// KindRejected is work refused because a component is shutting down.
	KindRejected
	// KindInvalidArgument is a bad descriptor, size or configuration value.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindProtocolViolation:
		return "protocol violation"
	case KindConnectionClosed:
		return "connection closed"
	case KindTimeout:
		return "timeout"
	case KindRejected:
		return "rejected"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Kind sentinels; errors.Is(err, ErrTimeout) holds for any *Error of that kind.
var (
	ErrIO                = &Error{Kind: KindIO}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
	ErrConnectionClosed  = &Error{Kind: KindConnectionClosed}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrRejected          = &Error{Kind: KindRejected}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
)

// Error represents a structured error with kind, operation and context.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Context map[string]any
}

// NewError creates a new structured error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.String())
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels: a target *Error with no Op and no cause matches by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
