package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/webplatform/sandboxd/engine"
)

// Server exposes the session engine over HTTP.
type Server struct {
	logger         *zap.Logger
	engine         *engine.Engine
	maxUploadBytes int64
	httpServer     *http.Server
}

// New creates the HTTP server listening on addr. maxUploadBytes bounds the
// accepted artifact size.
func New(logger *zap.Logger, eng *engine.Engine, addr string, maxUploadBytes int64) *Server {
	s := &Server{
		logger:         logger,
		engine:         eng,
		maxUploadBytes: maxUploadBytes,
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the route table, exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /result/{session_id}", s.handleResult)
	mux.HandleFunc("POST /cleanup/{session_id}", s.handleCleanup)
	return mux
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "File too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}
	defer file.Close()

	artifact, err := io.ReadAll(file)
	if err != nil {
		if isTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "File too large"})
			return
		}
		s.logger.Warn("failed to read upload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}

	id, err := s.engine.Submit(r.Context(), artifact, header.Filename)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
			return
		}
		s.logger.Error("submit failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	res, err := s.engine.Poll(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
			return
		}
		s.logger.Error("poll failed", zap.String("session_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	switch res.Outcome {
	case engine.OutcomeRunning:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "still running"})
	case engine.OutcomeFinished:
		writeJSON(w, http.StatusOK, map[string]string{"logs": string(res.Logs)})
	case engine.OutcomeFailed:
		// Abnormal termination is a finished-with-failure result, not an
		// API error.
		writeJSON(w, http.StatusOK, map[string]string{
			"logs":   string(res.Logs),
			"status": "failed",
			"error":  res.Reason,
		})
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	if err := s.engine.Cleanup(r.Context(), id); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
			return
		}
		s.logger.Error("cleanup failed", zap.String("session_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned up"})
}

// isTooLarge reports whether err came from the MaxBytesReader cap.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
