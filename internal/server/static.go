package server

import (
	"net/http"
	"path/filepath"
)

// indexPage is served for the site root.
const indexPage = "candidates.html"

// handleStatic serves the front end from the static directory, answering the
// root with the candidates page.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, indexPage))
		return
	}
	http.FileServer(http.Dir(s.cfg.StaticDir)).ServeHTTP(w, r)
}
