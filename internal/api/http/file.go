package http

import (
	"io"
	"net/http"

	"gatekeeper-backend/internal/logger"

	"github.com/gorilla/mux"
)

// handleFile proxies a chat photo to the browser. The path segment is an
// encrypted file id issued by the status projection; resolved file paths are
// cached because the platform rate-limits getFile.
func (h *Handler) handleFile(w http.ResponseWriter, r *http.Request) {
	opaque := mux.Vars(r)["id"]

	fileID, err := h.encryptor.Decrypt(opaque)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	path, err := h.filePaths.Wrap(fileID, func() (string, error) {
		return h.files.GetFilePath(r.Context(), fileID)
	})
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, h.files.FileURL(path), nil)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		logger.WithComponent("file-proxy").Warn("Could not fetch file", "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if resp.StatusCode == http.StatusOK {
		w.Header().Set("Cache-Control", "max-age=7200")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
