// File: http1/reader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reader frames complete HTTP/1.1 requests from a byte stream. Bytes read past
// the end of a message stay buffered for the next call, so pipelined requests
// and data sent right after an upgrade request are never lost.

package http1

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

var (
	crlf             = []byte("\r\n")
	headerTerminator = []byte("\r\n\r\n")
)

const (
	DefaultMaxHeaderBytes = 64 << 10
	DefaultMaxBodyBytes   = 8 << 20
	defaultReadSize       = 4096
)

// ReaderOptions bounds what a Reader accepts.
type ReaderOptions struct {
	MaxHeaderBytes int
	MaxBodyBytes   int
	ReadSize       int
}

func (o *ReaderOptions) setDefaults() {
	if o.MaxHeaderBytes <= 0 {
		o.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.ReadSize <= 0 {
		o.ReadSize = defaultReadSize
	}
}

// Reader reads whole requests from src. It is owned by a single connection
// and is not safe for concurrent use.
type Reader struct {
	src     io.Reader
	opts    ReaderOptions
	buf     []byte
	scratch []byte
}

// NewReader wraps src.
func NewReader(src io.Reader, opts ReaderOptions) *Reader {
	opts.setDefaults()
	return &Reader{
		src:     src,
		opts:    opts,
		scratch: make([]byte, opts.ReadSize),
	}
}

// Buffered returns bytes already read from src but not yet consumed by a
// request. The slice is valid until the next call to ReadFullRequest.
func (r *Reader) Buffered() []byte {
	return r.buf
}

// ReadFullRequest returns the raw bytes of exactly one request: the header
// section through the blank line plus the body as framed on the wire
// (chunked framing is kept intact for ParseRequest to decode).
//
// io.EOF is returned when the peer closed cleanly between requests and
// io.ErrUnexpectedEOF when it closed mid-message.
func (r *Reader) ReadFullRequest() ([]byte, error) {
	r.skipLeadingCRLF()
	hdrEnd, err := r.readHeaders()
	if err != nil {
		return nil, err
	}

	head := r.buf[:hdrEnd]
	end := hdrEnd
	if te, ok := headerValue(head, "transfer-encoding"); ok && isChunkedValue(te) {
		if end, err = r.scanChunked(hdrEnd); err != nil {
			return nil, err
		}
	} else if cl, ok := headerValue(head, "content-length"); ok {
		n, perr := strconv.Atoi(cl)
		if perr != nil || n < 0 {
			return nil, ErrBadContentLength
		}
		if n > r.opts.MaxBodyBytes {
			return nil, ErrBodyTooLarge
		}
		end = hdrEnd + n
		if err = r.fill(end); err != nil {
			return nil, err
		}
	}

	msg := make([]byte, end)
	copy(msg, r.buf[:end])
	r.buf = r.buf[:copy(r.buf, r.buf[end:])]
	return msg, nil
}

// skipLeadingCRLF drops empty lines between pipelined requests.
func (r *Reader) skipLeadingCRLF() {
	i := 0
	for i+1 < len(r.buf) && r.buf[i] == '\r' && r.buf[i+1] == '\n' {
		i += 2
	}
	if i > 0 {
		r.buf = r.buf[:copy(r.buf, r.buf[i:])]
	}
}

// readHeaders returns the offset just past the header terminator.
func (r *Reader) readHeaders() (int, error) {
	from := 0
	for {
		if i := bytes.Index(r.buf[from:], headerTerminator); i >= 0 {
			end := from + i + len(headerTerminator)
			if end > r.opts.MaxHeaderBytes {
				return 0, ErrHeaderTooLarge
			}
			return end, nil
		}
		if len(r.buf) > r.opts.MaxHeaderBytes {
			return 0, ErrHeaderTooLarge
		}
		from = max(0, len(r.buf)-len(headerTerminator)+1)
		if err := r.readMore(); err != nil {
			if errors.Is(err, io.EOF) && len(r.buf) > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
	}
}

// scanChunked walks chunk framing starting at pos and returns the offset just
// past the final CRLF of the trailer section.
func (r *Reader) scanChunked(pos int) (int, error) {
	total := 0
	for {
		lineEnd, err := r.findCRLF(pos)
		if err != nil {
			return 0, err
		}
		size, err := parseChunkSize(r.buf[pos:lineEnd])
		if err != nil {
			return 0, err
		}
		pos = lineEnd + len(crlf)

		if size == 0 {
			for {
				lineEnd, err = r.findCRLF(pos)
				if err != nil {
					return 0, err
				}
				empty := lineEnd == pos
				pos = lineEnd + len(crlf)
				if empty {
					return pos, nil
				}
			}
		}

		total += size
		if total > r.opts.MaxBodyBytes {
			return 0, ErrBodyTooLarge
		}
		if err = r.fill(pos + size + len(crlf)); err != nil {
			return 0, err
		}
		if !bytes.Equal(r.buf[pos+size:pos+size+len(crlf)], crlf) {
			return 0, ErrMalformedChunk
		}
		pos += size + len(crlf)
	}
}

// findCRLF returns the index of the next CRLF at or after from, reading more
// input as needed. Lines longer than MaxHeaderBytes are rejected.
func (r *Reader) findCRLF(from int) (int, error) {
	for {
		if from <= len(r.buf) {
			if i := bytes.Index(r.buf[from:], crlf); i >= 0 {
				return from + i, nil
			}
		}
		if len(r.buf)-from > r.opts.MaxHeaderBytes {
			return 0, ErrMalformedChunk
		}
		if err := r.readMore(); err != nil {
			return 0, eofToUnexpected(err)
		}
	}
}

// fill reads until at least n bytes are buffered.
func (r *Reader) fill(n int) error {
	for len(r.buf) < n {
		if err := r.readMore(); err != nil {
			return eofToUnexpected(err)
		}
	}
	return nil
}

func (r *Reader) readMore() error {
	n, err := r.src.Read(r.scratch)
	if n > 0 {
		r.buf = append(r.buf, r.scratch[:n]...)
		return nil
	}
	if err == nil {
		// A zero-byte read without error; treat as no progress and retry.
		return nil
	}
	return err
}

func eofToUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// headerValue scans a raw header section for name (case-insensitive). The
// last occurrence wins, matching ParseRequest.
func headerValue(head []byte, name string) (string, bool) {
	var (
		val   string
		found bool
	)
	lines := bytes.Split(head, crlf)
	for _, line := range lines[1:] {
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(line[:colon])), name) {
			val, found = strings.TrimSpace(string(line[colon+1:])), true
		}
	}
	return val, found
}
