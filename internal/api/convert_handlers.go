package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nas2net/oss-relay/internal/converter"
	"github.com/nas2net/oss-relay/internal/extract"
	"github.com/nas2net/oss-relay/internal/registry"
	"github.com/nas2net/oss-relay/internal/relay"
)

type convertRequest struct {
	Text string `json:"text"`
}

// convertURL handles POST /convert_url. It registers a task for every URL
// occurrence in the text and starts converting in the background. Text
// without URLs still yields a (terminal) task so clients can treat both
// cases uniformly.
func (s *Server) convertURL(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	occs := extract.URLs(req.Text)
	task, err := s.registry.Create(req.Text, occs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	if task.Total > 0 {
		go s.converter.Run(s.baseCtx, task)
	}
	writeJSON(w, http.StatusAccepted, task)
}

// getProgress handles GET /progress/{task_id}.
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.registry.Get(taskID)
	if err != nil {
		if errors.Is(err, registry.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// streamProgress handles GET /progress/{task_id}/stream as server-sent
// events. One event is sent per recorded result; the stream closes after the
// terminal snapshot.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	updates, cancel, err := s.registry.Subscribe(taskID)
	if err != nil {
		if errors.Is(err, registry.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case task, open := <-updates:
			if !open {
				return
			}
			if err := writeSSE(w, task); err != nil {
				s.logger.Debug("sse write failed", zap.String("task_id", taskID), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, task relay.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write sse payload: %w", err)
	}
	return nil
}

// uploadFile handles POST /upload_file multipart uploads: the file is stored
// directly and a presigned link returned.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close() //nolint:errcheck // read-only descriptor

	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	filename := converter.SanitizeFilename(header.Filename)
	if filename == "" {
		filename = "upload.bin"
	}
	suffix, err := s.suffixes.NewSuffix()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate object key")
		return
	}
	key := converter.ObjectKey(s.cfg.Storage.Prefix, filename, suffix)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.objects.Put(r.Context(), key, contentType, data); err != nil {
		s.logger.Error("upload store failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to store file")
		return
	}
	presigned, err := s.objects.Presign(r.Context(), key, s.cfg.PresignTTL())
	if err != nil {
		s.logger.Error("upload presign failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to presign file")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"url":        presigned,
		"filename":   filename,
		"object_key": key,
		"expires_in": int64(s.cfg.PresignTTL().Seconds()),
	})
}
