// File: http1/static.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package http1

import (
	"os"
	"path/filepath"
	"strings"
)

var extTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".wasm": "application/wasm",
	".pdf":  "application/pdf",
}

// ContentTypeFor maps a file extension to a MIME type. Unknown extensions
// return "", leaving detection to FromFile.
func ContentTypeFor(path string) string {
	return extTypes[strings.ToLower(filepath.Ext(path))]
}

// ServeStatic serves req.Path with prefix stripped from the directory base.
// Paths that resolve outside base get 403; a directory resolves to its
// index.html; anything missing gets 404.
func ServeStatic(base, prefix string, req *Request) *Response {
	rel := strings.TrimPrefix(req.Path, prefix)
	rel = strings.TrimLeft(rel, "/")
	if strings.ContainsRune(rel, 0) {
		return Error(400, "Invalid static path: "+req.Path)
	}

	root, err := filepath.Abs(base)
	if err != nil {
		return Error(500, "Invalid static root")
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if !within(root, full) {
		return Error(403, "Access denied.")
	}
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		if !within(root, resolved) {
			return Error(403, "Access denied.")
		}
		full = resolved
	}

	info, err := os.Stat(full)
	if err != nil {
		return Text(404, "File not found: "+req.Path)
	}
	if info.IsDir() {
		full = filepath.Join(full, "index.html")
		if _, err := os.Stat(full); err != nil {
			return Text(404, "File not found: "+req.Path)
		}
	}
	return FromFile(full, ContentTypeFor(full))
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
