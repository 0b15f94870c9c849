package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f0f0f0"/><path d="M65 45h70v110l-12-8-11 8-12-8-11 8-12-8-12 8z" fill="none" stroke="#999" stroke-width="6"/><line x1="80" y1="75" x2="120" y2="75" stroke="#999" stroke-width="6"/><line x1="80" y1="95" x2="120" y2="95" stroke="#999" stroke-width="6"/><text x="100" y="180" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">RECEIPT</text></svg>`

// StaticFileServer serves uploaded receipt images, falling back to a
// placeholder for entries whose image was never uploaded or has been removed.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderSVG))
	})
}
