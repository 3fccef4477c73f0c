package middleware

import (
	"io/fs"
	"net/http"
	"strings"
)

// reservedPrefixes are never answered with the front-end bundle.
var reservedPrefixes = []string{"/api/", "/ws/", "/health", "/metrics"}

// SPAHandler serves a built single-page front end. Unknown paths fall back
// to index.html so client-side routes survive a reload.
type SPAHandler struct {
	fs        http.FileSystem
	files     http.Handler
	indexHTML []byte
}

func NewSPAHandler(fsys fs.FS) *SPAHandler {
	index, _ := fs.ReadFile(fsys, "index.html")
	httpFS := http.FS(fsys)
	return &SPAHandler{
		fs:        httpFS,
		files:     http.FileServer(httpFS),
		indexHTML: index,
	}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}

	for _, p := range reservedPrefixes {
		if strings.HasPrefix(r.URL.Path, p) {
			http.NotFound(w, r)
			return
		}
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path != "" {
		if f, err := h.fs.Open(path); err == nil {
			stat, err := f.Stat()
			f.Close()
			if err == nil && !stat.IsDir() {
				h.files.ServeHTTP(w, r)
				return
			}
		}
	}

	if h.indexHTML == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(h.indexHTML)
}
