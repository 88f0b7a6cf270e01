// File: http1/chunked.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package http1

import (
	"bytes"
	"strconv"
	"strings"
)

// maxChunkSize bounds a single chunk-size line value.
const maxChunkSize = 1 << 40

// DecodeChunked decodes a complete chunked body: hex size lines (extensions
// after ';' ignored), data, CRLF, up to the zero-size chunk. Trailers are
// dropped. Truncated or non-hex framing yields ErrMalformedChunk.
func DecodeChunked(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body))
	pos := 0
	for {
		nl := bytes.Index(body[pos:], crlf)
		if nl < 0 {
			return nil, ErrMalformedChunk
		}
		size, err := parseChunkSize(body[pos : pos+nl])
		if err != nil {
			return nil, err
		}
		pos += nl + len(crlf)
		if size == 0 {
			return out, nil
		}
		if size > len(body)-pos-len(crlf) {
			return nil, ErrMalformedChunk
		}
		out = append(out, body[pos:pos+size]...)
		pos += size
		if !bytes.HasPrefix(body[pos:], crlf) {
			return nil, ErrMalformedChunk
		}
		pos += len(crlf)
	}
}

// AppendChunked appends payload to dst using chunked framing with chunks of at
// most size bytes, followed by the terminating zero chunk.
func AppendChunked(dst, payload []byte, size int) []byte {
	if size <= 0 {
		size = len(payload)
	}
	for len(payload) > 0 {
		n := min(size, len(payload))
		dst = strconv.AppendInt(dst, int64(n), 16)
		dst = append(dst, crlf...)
		dst = append(dst, payload[:n]...)
		dst = append(dst, crlf...)
		payload = payload[n:]
	}
	return append(dst, "0\r\n\r\n"...)
}

func parseChunkSize(line []byte) (int, error) {
	s := string(line)
	if semi := strings.IndexByte(s, ';'); semi >= 0 {
		s = s[:semi]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformedChunk
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil || n > maxChunkSize {
		return 0, ErrMalformedChunk
	}
	return int(n), nil
}
