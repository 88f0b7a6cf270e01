// File: http1/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package http1

import "github.com/momentics/hioload-http/api"

var (
	ErrHeaderTooLarge   = api.Errorf(api.KindProtocolViolation, "http read", "header section too large")
	ErrBodyTooLarge     = api.Errorf(api.KindProtocolViolation, "http read", "body too large")
	ErrMalformedChunk   = api.Errorf(api.KindProtocolViolation, "http chunked", "malformed chunk framing")
	ErrBadContentLength = api.Errorf(api.KindProtocolViolation, "http read", "invalid content-length")
)

func errMalformed(format string, args ...any) error {
	return api.Errorf(api.KindProtocolViolation, "http parse", format, args...)
}
