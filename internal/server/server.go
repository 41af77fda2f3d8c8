// Package server exposes sync triggers over HTTP for the admin page.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentic-research/contentsync/internal/journal"
	"github.com/agentic-research/contentsync/internal/store"
	"github.com/agentic-research/contentsync/internal/syncer"
)

// Version is reported by /api/status.
var Version = "dev"

// Runner runs syncs.
type Runner interface {
	SyncAll(ctx context.Context) (*syncer.Report, error)
	SyncSheets(ctx context.Context, titles ...string) (*syncer.Report, error)
}

// RunLog lists past runs.
type RunLog interface {
	Recent(ctx context.Context, n int) ([]journal.Run, error)
}

// Config holds the HTTP settings.
type Config struct {
	// Token, when set, is required as a bearer token on every POST.
	Token      string
	CORSOrigin string
	// SyncTimeout bounds one sync request. Zero means 5 minutes.
	SyncTimeout time.Duration
}

// Server is the HTTP trigger.
type Server struct {
	runner Runner
	runs   RunLog
	cfg    Config
	logger *zap.Logger
}

// New returns a Server. runs may be nil.
func New(runner Runner, runs RunLog, cfg Config, logger *zap.Logger) *Server {
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.SyncTimeout == 0 {
		cfg.SyncTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{runner: runner, runs: runs, cfg: cfg, logger: logger}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/sync-data", s.authorized(s.handleSyncAll))
	mux.HandleFunc("POST /api/sync/{sheet}", s.authorized(s.handleSyncSheet))
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return s.withMiddleware(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("http listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "online", "version": Version})
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SyncTimeout)
	defer cancel()
	rep, err := s.runner.SyncAll(ctx)
	s.respond(w, rep, err)
}

func (s *Server) handleSyncSheet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SyncTimeout)
	defer cancel()
	rep, err := s.runner.SyncSheets(ctx, r.PathValue("sheet"))
	s.respond(w, rep, err)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "journal is not configured")
		return
	}
	n := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		n = parsed
	}
	runs, err := s.runs.Recent(r.Context(), n)
	if err != nil {
		s.logger.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		out = append(out, map[string]any{
			"id":          run.ID,
			"kind":        run.Kind,
			"target":      run.Target,
			"started_at":  run.StartedAt,
			"finished_at": run.FinishedAt,
			"changed":     run.Changed,
			"roots":       run.Roots,
			"nodes":       run.Nodes,
			"backup":      run.Backup,
			"error":       run.Err,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) respond(w http.ResponseWriter, rep *syncer.Report, err error) {
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	msg := "Данные успешно обновлены"
	if !rep.Changed {
		msg = "Данные не изменились"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     msg,
		"count":       rep.Stats.Nodes,
		"categories":  rep.Stats.Roots,
		"changed":     rep.Changed,
		"run_id":      rep.RunID,
		"diagnostics": rep.Diagnostics,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrNoSuchSheet):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.cfg.CORSOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("took", time.Since(started)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
