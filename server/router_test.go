package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-http/http1"
)

func textHandler(body string) Handler {
	return func(*http1.Request) (*http1.Response, error) {
		return http1.Text(200, body), nil
	}
}

func lookupBody(t *testing.T, r *Router, m http1.Method, path string) string {
	t.Helper()
	h, ok := r.Lookup(m, path)
	require.True(t, ok, "no route for %s %s", m, path)
	resp, err := h(&http1.Request{Method: m, Path: path})
	require.NoError(t, err)
	return string(resp.Body)
}

func TestRouterExactBeatsPrefix(t *testing.T) {
	r := NewRouter()
	r.Add(http1.MethodGet, "/api", textHandler("api"))
	r.Add(http1.MethodGet, "/api/users", textHandler("users"))

	assert.Equal(t, "api", lookupBody(t, r, http1.MethodGet, "/api"))
	assert.Equal(t, "users", lookupBody(t, r, http1.MethodGet, "/api/users"))
	assert.Equal(t, "users", lookupBody(t, r, http1.MethodGet, "/api/users/42"))
	assert.Equal(t, "api", lookupBody(t, r, http1.MethodGet, "/api/orders"))
}

func TestRouterLongestPrefixIsDeterministic(t *testing.T) {
	r := NewRouter()
	// registration order must not matter
	r.Add(http1.MethodGet, "/a/b/c", textHandler("abc"))
	r.Add(http1.MethodGet, "/a", textHandler("a"))
	r.Add(http1.MethodGet, "/a/b", textHandler("ab"))

	for i := 0; i < 50; i++ {
		assert.Equal(t, "abc", lookupBody(t, r, http1.MethodGet, "/a/b/c/d"))
		assert.Equal(t, "ab", lookupBody(t, r, http1.MethodGet, "/a/b/x"))
	}
}

func TestRouterMethodsAreSeparate(t *testing.T) {
	r := NewRouter()
	r.Add(http1.MethodPost, "/items", textHandler("create"))

	_, ok := r.Lookup(http1.MethodGet, "/items")
	assert.False(t, ok)
	assert.Equal(t, "create", lookupBody(t, r, http1.MethodPost, "/items"))
}

func TestRouterNoMatch(t *testing.T) {
	r := NewRouter()
	r.Add(http1.MethodGet, "/hello", textHandler("hi"))

	_, ok := r.Lookup(http1.MethodGet, "/bye")
	assert.False(t, ok)
	_, ok = r.Lookup(http1.MethodGet, "/hell")
	assert.False(t, ok)
}

func TestRouterReplace(t *testing.T) {
	r := NewRouter()
	r.Add(http1.MethodGet, "/v", textHandler("old"))
	r.Add(http1.MethodGet, "/v", textHandler("new"))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "new", lookupBody(t, r, http1.MethodGet, "/v"))
	assert.Equal(t, "new", lookupBody(t, r, http1.MethodGet, "/v/deeper"))
}
