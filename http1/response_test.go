package http1

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseSerialization(t *testing.T) {
	resp := Text(200, "OK").SetHeader("X-B", "2").SetHeader("X-A", "1")
	got := string(resp.Bytes())

	assert.True(t, strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n"))
	assert.True(t, strings.HasSuffix(got, "\r\n\r\nOK"))
	assert.Contains(t, got, "Content-Length: 2\r\n")
	assert.Less(t, strings.Index(got, "X-A: 1"), strings.Index(got, "X-B: 2"))
}

func TestResponseExplicitContentLengthWins(t *testing.T) {
	resp := Text(200, "").SetHeader("content-length", "42")
	got := string(resp.Bytes())
	assert.Equal(t, 1, strings.Count(strings.ToLower(got), "content-length"))
	assert.Contains(t, got, "content-length: 42\r\n")
}

func TestSetHeaderReplacesCaseInsensitively(t *testing.T) {
	resp := NewResponse(200).SetHeader("Content-Type", "a").SetHeader("content-type", "b")
	assert.Len(t, resp.Headers, 1)
	v, ok := resp.Header("CONTENT-TYPE")
	assert.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestFactories(t *testing.T) {
	nf := NotFound("/missing")
	assert.Equal(t, 404, nf.StatusCode)
	assert.Contains(t, string(nf.Body), "/missing")

	r := Redirect("/new", true)
	assert.Equal(t, 301, r.StatusCode)
	loc, _ := r.Header("Location")
	assert.Equal(t, "/new", loc)
	assert.Equal(t, 302, Redirect("/tmp", false).StatusCode)

	j := JSON(201, []byte(`{"a":1}`))
	ct, _ := j.Header("Content-Type")
	assert.Equal(t, "application/json", ct)
	assert.Equal(t, "Created", j.StatusText)

	assert.Equal(t, "Service Unavailable", string(Status(503).Body))
	assert.Equal(t, "Unknown", StatusText(799))
}

func TestWebSocketUpgradeResponse(t *testing.T) {
	resp := WebSocketUpgrade("dGhlIHNhbXBsZSBub25jZQ==")
	got := string(resp.Bytes())
	assert.True(t, strings.HasPrefix(got, "HTTP/1.1 101 Switching Protocols\r\n"))
	assert.Contains(t, got, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n")
	assert.NotContains(t, got, "Content-Length")
	assert.True(t, strings.HasSuffix(got, "\r\n\r\n"))
}

func TestFromFileDetectsType(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "blob")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(p, png, 0o644))

	resp := FromFile(p, "")
	assert.Equal(t, 200, resp.StatusCode)
	ct, _ := resp.Header("Content-Type")
	assert.Equal(t, "image/png", ct)

	assert.Equal(t, 404, FromFile(filepath.Join(dir, "nope"), "").StatusCode)
}

func TestServeStatic(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>home</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "css", "site.css"), []byte("body{}"), 0o644))
	outside := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	t.Cleanup(func() { _ = os.Remove(outside) })

	get := func(path string) *Response {
		return ServeStatic(root, "/static", &Request{Method: MethodGet, Path: path})
	}

	css := get("/static/css/site.css")
	assert.Equal(t, 200, css.StatusCode)
	ct, _ := css.Header("Content-Type")
	assert.Equal(t, "text/css; charset=utf-8", ct)
	assert.Equal(t, "body{}", string(css.Body))

	idx := get("/static/")
	assert.Equal(t, 200, idx.StatusCode)
	assert.Equal(t, "<h1>home</h1>", string(idx.Body))

	assert.Equal(t, 404, get("/static/none.js").StatusCode)
	assert.Equal(t, 403, get("/static/../secret.txt").StatusCode)
	assert.Equal(t, 403, get("/static/css/../../secret.txt").StatusCode)
}

func TestServeStaticSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "x.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(other, filepath.Join(root, "link")))

	resp := ServeStatic(root, "", &Request{Path: "/link/x.txt"})
	assert.Equal(t, 403, resp.StatusCode)
}
