package api

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var contentTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".jpeg":  "image/jpeg",
	".jpg":   "image/jpeg",
	".png":   "image/png",
	".gif":   "image/gif",
	".css":   "text/css",
	".js":    "text/javascript",
	".woff2": "application/font-woff",
	".woff":  "application/font-woff",
	".ttf":   "application/font-ttf",
	".svg":   "image/svg+xml",
	".eot":   "application/vnd.ms-fontobject",
	".oft":   "application/x-font-otf",
}

var validPath = regexp.MustCompile(`^[a-zA-Z0-9_\-./]+$`)

func ContentType(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func staticHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// filter raw path, so escaped chars like %61 are rejected
		path := r.URL.EscapedPath()
		if path == "/" {
			path = "/index.html"
		}

		if strings.Contains(path, "..") || !validPath.MatchString(path) {
			notFound(w, r)
			return
		}

		b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path)))
		if err != nil {
			log.Debug().Err(err).Msg("[api] static")
			notFound(w, r)
			return
		}

		Response(w, b, ContentType(path))
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", MimeText)
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 Not Found: " + r.URL.RequestURI()))
}
