package ui

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed assets
var Assets embed.FS

// GetFS returns the UI filesystem rooted at the assets directory
func GetFS() fs.FS {
	assetsFS, err := fs.Sub(Assets, "assets")
	if err != nil {
		panic(err)
	}
	return assetsFS
}

// AssetHandler serves /index.html and /assets/*. index.html is never cached
// so a redirect after registration always shows the current page.
func AssetHandler() http.HandlerFunc {
	assetsFS := GetFS()

	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/assets/")
		name = strings.TrimPrefix(path.Clean("/"+name), "/")
		if name == "" {
			name = "index.html"
		}

		content, err := fs.ReadFile(assetsFS, name)
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}

		switch path.Ext(name) {
		case ".html":
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		case ".css":
			w.Header().Set("Content-Type", "text/css; charset=utf-8")
		case ".js":
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		case ".svg":
			w.Header().Set("Content-Type", "image/svg+xml")
		}

		w.Write(content)
	}
}
