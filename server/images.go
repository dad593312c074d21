package server

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"

	"go.uber.org/zap"
)

// handleDownloadImage fetches ?url= and returns it as an attachment so the
// client can save images the search surfaced.
func (s *Server) handleDownloadImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Image URL is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "Image URL must be an absolute http(s) URL")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Image URL must be an absolute http(s) URL")
		return
	}
	resp, err := s.opts.ImageClient.Do(req)
	if err != nil {
		s.logger.Warn("image download failed", zap.String("url", raw), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to download image")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("image download failed", zap.String("url", raw), zap.Int("status", resp.StatusCode))
		writeError(w, http.StatusInternalServerError, "Failed to download image")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": imageFilename(u)}))
	if resp.ContentLength >= 0 {
		w.Header().Set("Content-Length", fmt.Sprint(resp.ContentLength))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("image copy interrupted", zap.Error(err))
	}
}

// imageFilename is the last path segment of u, or "image".
func imageFilename(u *url.URL) string {
	name := path.Base(u.Path)
	switch name {
	case "", ".", "/":
		return "image"
	}
	return name
}
