package http1

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderContentLength(t *testing.T) {
	raw := "POST /a HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc"
	r := NewReader(strings.NewReader(raw), ReaderOptions{})
	msg, err := r.ReadFullRequest()
	require.NoError(t, err)
	assert.Equal(t, raw, string(msg))

	_, err = r.ReadFullRequest()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderPipelinedRequests(t *testing.T) {
	one := "GET /1 HTTP/1.1\r\n\r\n"
	two := "POST /2 HTTP/1.1\r\nContent-Length: 2\r\n\r\nok"
	three := "GET /3 HTTP/1.1\r\n\r\n"
	r := NewReader(strings.NewReader(one+two+"\r\n"+three), ReaderOptions{})

	for _, want := range []string{one, two, three} {
		msg, err := r.ReadFullRequest()
		require.NoError(t, err)
		assert.Equal(t, want, string(msg))
	}
}

func TestReaderOneByteAtATime(t *testing.T) {
	body := bytes.Repeat([]byte("z"), 300)
	raw := AppendChunked([]byte("PUT /up HTTP/1.1\r\nTransfer-Encoding: chunked\r\nTrailer-Test: 1\r\n\r\n"), body, 64)
	raw = append(raw[:len(raw)-2], "X-Trailer: t\r\n\r\n"...)

	r := NewReader(iotest.OneByteReader(bytes.NewReader(raw)), ReaderOptions{ReadSize: 1})
	msg, err := r.ReadFullRequest()
	require.NoError(t, err)
	assert.Equal(t, raw, msg)

	req, err := ParseRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, body, req.Body)
}

// The same payload framed by Content-Length and by chunked encoding parses to
// the same body.
func TestChunkedAndContentLengthAgree(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 1000)

	cl := append([]byte("POST /x HTTP/1.1\r\nContent-Length: 10000\r\n\r\n"), payload...)
	ch := AppendChunked([]byte("POST /x HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"), payload, 777)

	var bodies [][]byte
	for _, raw := range [][]byte{cl, ch} {
		msg, err := NewReader(bytes.NewReader(raw), ReaderOptions{}).ReadFullRequest()
		require.NoError(t, err)
		req, err := ParseRequest(msg)
		require.NoError(t, err)
		bodies = append(bodies, req.Body)
	}
	assert.Equal(t, payload, bodies[0])
	assert.Equal(t, bodies[0], bodies[1])
}

func TestReaderKeepsBytesAfterRequest(t *testing.T) {
	raw := "GET /ws HTTP/1.1\r\nUpgrade: websocket\r\n\r\n\x81\x02hi"
	r := NewReader(strings.NewReader(raw), ReaderOptions{})
	_, err := r.ReadFullRequest()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x81\x02hi"), r.Buffered())
}

func TestReaderErrors(t *testing.T) {
	_, err := NewReader(strings.NewReader("GET / HTTP/1.1\r\nHost: x"), ReaderOptions{}).ReadFullRequest()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = NewReader(strings.NewReader("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"), ReaderOptions{}).ReadFullRequest()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = NewReader(strings.NewReader("POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n"), ReaderOptions{}).ReadFullRequest()
	assert.ErrorIs(t, err, ErrBadContentLength)

	_, err = NewReader(strings.NewReader("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n"), ReaderOptions{}).ReadFullRequest()
	assert.ErrorIs(t, err, ErrMalformedChunk)

	_, err = NewReader(strings.NewReader("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabcXY0\r\n\r\n"), ReaderOptions{}).ReadFullRequest()
	assert.ErrorIs(t, err, ErrMalformedChunk)

	huge := "GET / HTTP/1.1\r\nX: " + strings.Repeat("a", 2048)
	_, err = NewReader(strings.NewReader(huge), ReaderOptions{MaxHeaderBytes: 1024}).ReadFullRequest()
	assert.ErrorIs(t, err, ErrHeaderTooLarge)

	_, err = NewReader(strings.NewReader("POST / HTTP/1.1\r\nContent-Length: 2000\r\n\r\n"), ReaderOptions{MaxBodyBytes: 1000}).ReadFullRequest()
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestDecodeChunked(t *testing.T) {
	out, err := DecodeChunked([]byte("4\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "Wikipedia in\r\n\r\nchunks.", string(out))

	for _, bad := range []string{"", "4\r\nWi", "g\r\nabc\r\n0\r\n\r\n", "\r\n", "3\r\nabcd\r\n0\r\n\r\n"} {
		_, err := DecodeChunked([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformedChunk, "input %q", bad)
	}
}
