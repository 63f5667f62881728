package apihttp

import (
	"errors"
	"net/http"
	"strings"

	"mediaengine/internal/domain"
)

// handleDownloadByID drives the queue over a download record created by the
// catalog API:
//
//	GET    /downloads/{id}          current record
//	POST   /downloads/{id}          enqueue and start
//	DELETE /downloads/{id}[?purge]  stop; purge also deletes record and files
func (s *Server) handleDownloadByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/downloads/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "download not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getDownload(w, r, id)
	case http.MethodPost:
		s.queueDownload(w, r, id)
	case http.MethodDelete:
		s.stopDownload(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET, POST or DELETE")
	}
}

func (s *Server) getDownload(w http.ResponseWriter, r *http.Request, id string) {
	d, err := s.store.GetDownload(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) queueDownload(w http.ResponseWriter, r *http.Request, id string) {
	d, err := s.store.GetDownload(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if d.Status.Terminal() {
		writeError(w, http.StatusConflict, "already_finished", "download already reached a terminal status")
		return
	}

	s.queue.AddDownload(d)
	s.queue.StartDownloads()
	writeJSON(w, http.StatusAccepted, d)
}

func (s *Server) stopDownload(w http.ResponseWriter, r *http.Request, id string) {
	s.queue.StopDownloading(r.Context(), id)
	if truthyQuery(r.URL.Query().Get("purge")) {
		s.queue.CleanUpDownload(r.Context(), id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "download not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "store_error", err.Error())
}
