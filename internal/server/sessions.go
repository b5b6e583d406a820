package server

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/54b3r/graphchat-go/internal/ingestion"
	"github.com/54b3r/graphchat-go/internal/logging"
	"github.com/54b3r/graphchat-go/internal/session"
)

// multipartMemory is how much of an upload ParseMultipartForm keeps in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

// handleCreateSession handles POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Create(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("server: create session", slog.Any("error", err))
		http.Error(w, "could not create session", http.StatusInternalServerError)
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, st)
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.sessions.Snapshot(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("server: load session",
			slog.String("session_id", id),
			slog.Any("error", err),
		)
		http.Error(w, "could not load session", http.StatusInternalServerError)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, st)
}

// handleUpload handles POST /api/sessions/{id}/pdfs. Files are read from the
// "files" and "file" multipart fields and ingested one at a time. A file
// that fails to ingest is reported in its stats and does not stop the rest.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.uploader == nil {
		http.Error(w, "PDF ingestion is not configured", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")

	if r.ContentLength > s.cfg.MaxUploadBytes {
		http.Error(w, "upload exceeds the size limit", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload exceeds the size limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "expected a multipart form upload", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var headers []*multipart.FileHeader
	headers = append(headers, r.MultipartForm.File["files"]...)
	headers = append(headers, r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}

	resp := uploadResponse{SessionID: id, Files: make([]ingestion.Stats, 0, len(headers))}
	for _, fh := range headers {
		resp.Files = append(resp.Files, s.ingestOne(r, id, fh))
	}
	log.Info("server: upload complete",
		slog.String("session_id", id),
		slog.Int("files", len(resp.Files)),
	)
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *Server) ingestOne(r *http.Request, sessionID string, fh *multipart.FileHeader) ingestion.Stats {
	log := logging.FromContext(r.Context())

	f, err := fh.Open()
	if err != nil {
		log.Warn("server: open upload", slog.String("file", fh.Filename), slog.Any("error", err))
		return ingestion.Stats{FileName: fh.Filename, Error: err.Error()}
	}
	defer f.Close()

	st, err := s.uploader.IngestFile(r.Context(), sessionID, fh.Filename, f)
	if err != nil {
		log.Warn("server: ingest upload", slog.String("file", fh.Filename), slog.Any("error", err))
		if st.FileName == "" {
			st.FileName = fh.Filename
		}
		st.Error = err.Error()
	}
	return st
}
