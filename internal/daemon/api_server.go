package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"conveyor/internal/api"
	"conveyor/internal/config"
	"conveyor/internal/logging"
)

const defaultHistoryPageSize = 50

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	mux    *http.ServeMux

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	// /healthz stays open so probes work regardless of token configuration.
	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/stats", authMiddleware(token, srv.handleStats))
	mux.HandleFunc("/api/pipelines", authMiddleware(token, srv.handlePipelines))
	mux.HandleFunc("/api/pipelines/", authMiddleware(token, srv.handlePipelineByID))
	mux.HandleFunc("/api/history", authMiddleware(token, srv.handleHistory))
	srv.mux = mux
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	// The http.Server is rebuilt per start because Shutdown leaves it unusable.
	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.listener = listener
	s.server = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.server = nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status()
	checks := make([]api.PreflightResult, 0, len(status.Preflight))
	for _, check := range status.Preflight {
		checks = append(checks, api.PreflightResult{
			Name:   check.Name,
			Passed: check.Passed,
			Detail: check.Detail,
		})
	}
	payload := api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		Workers:       status.Workers,
		HistoryDBPath: status.HistoryDBPath,
		LockFilePath:  status.LockFilePath,
		Stats:         api.FromStats(status.Engine, status.Hub),
		Preflight:     checks,
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sched, conns := s.daemon.EngineStats()
	s.writeJSON(w, http.StatusOK, api.FromStats(sched, conns))
}

func (s *apiServer) handlePipelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []string
	for _, value := range r.URL.Query()["status"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}
	pipelines := s.daemon.ListPipelines(statuses)
	sorted := api.SortPipelinesNewestFirst(api.FromPipelines(pipelines))
	s.writeJSON(w, http.StatusOK, api.PipelineListResponse{Pipelines: sorted})
}

func (s *apiServer) handlePipelineByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/pipelines/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}

	if pipeline, jobs, ok := s.daemon.DescribePipeline(id); ok {
		detail := api.Detail(pipeline, jobs)
		detail.Jobs = api.SortJobsOldestFirst(detail.Jobs)
		s.writeJSON(w, http.StatusOK, api.PipelineDetailResponse{Detail: detail})
		return
	}

	// Fall back to the archive for pipelines the scheduler has never seen,
	// such as those from a previous daemon run.
	rec, jobs, err := s.daemon.HistoryDetail(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.PipelineDetailResponse{Detail: api.FromHistoryDetail(rec, jobs)})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := defaultHistoryPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := s.daemon.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryListResponse{Entries: api.FromHistoryPipelines(records)})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s == nil || s.logger == nil {
		return logging.NewNop()
	}
	return s.logger
}
