// Package server exposes the memory service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dotsetgreg/dotrecall/pkg/logger"
	"github.com/dotsetgreg/dotrecall/pkg/memory"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

type Options struct {
	Addr           string
	AllowedOrigins []string
}

type Server struct {
	memory *memory.Service
	opts   Options
	router chi.Router
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(svc *memory.Service, opts Options) *Server {
	s := &Server{memory: svc, opts: opts}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", UserHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/chat", s.handleChat)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}", s.handleSessionDetail)
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Routes exposes the route tree for inspection, e.g. with chi.Walk.
func (s *Server) Routes() chi.Routes {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("server", "HTTP server listening", map[string]interface{}{"addr": s.opts.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.InfoC("server", "HTTP server stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := s.memory.HandleTurn(r.Context(), memory.TurnRequest{
		SessionID: req.SessionID,
		UserID:    userFrom(r),
		Message:   req.Message,
	})
	if err != nil {
		writeMemoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.memory.ListSessions(r.Context(), userFrom(r))
	if err != nil {
		writeMemoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.memory.SessionDetail(r.Context(), userFrom(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeMemoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type userKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userKey{}).(string)
	return userID
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.DebugCF("server", "HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}

// statusFor maps memory errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, memory.ErrInvalidTurn):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, memory.ErrSessionOwnership):
		return http.StatusForbidden
	case errors.Is(err, memory.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeMemoryError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.ErrorCF("server", "Request failed", map[string]interface{}{
			"path":       r.URL.Path,
			"user_id":    userFrom(r),
			"request_id": middleware.GetReqID(r.Context()),
			"error":      err.Error(),
		})
		msg = http.StatusText(status)
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("server", "Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}
