package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskbeat/internal/config"
	"taskbeat/internal/logging"
	"taskbeat/internal/payload"
	"taskbeat/internal/queue"
	"taskbeat/internal/services"
	"taskbeat/internal/task"
)

const maxRequestBody = 8 << 20

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		token:  cfg.API.Token,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/queues/{queue}/$beat", s.handleBeat)
	mux.HandleFunc("POST /{queue}/$beat", s.handleBeat)
	mux.HandleFunc("POST /api/queues/{queue}/entries", s.handleEnqueue)
	mux.HandleFunc("GET /api/queues/{queue}/entries", s.handleList)
	mux.HandleFunc("GET /api/queues/{queue}/stats", s.handleStats)
	mux.HandleFunc("GET /api/entries/{id}", s.handleEntry)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return withRequestID(authMiddleware(s.token, mux.ServeHTTP))
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
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

// queueName returns the path queue when the daemon serves it.
func (s *apiServer) queueName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("queue")
	if name != s.daemon.QueueName() {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown queue %q", name))
		return "", false
	}
	return name, true
}

func (s *apiServer) handleBeat(w http.ResponseWriter, r *http.Request) {
	name, ok := s.queueName(w, r)
	if !ok {
		return
	}
	s.daemon.Beat(r.Context(), name)
	s.writeJSON(w, http.StatusOK, struct{}{})
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.queueName(w, r); !ok {
		return
	}
	var req task.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	entry, err := s.daemon.Tasks().Enqueue(r.Context(), req)
	if err != nil {
		var invalid *payload.ValidationError
		switch {
		case errors.As(err, &invalid):
			s.writeJSON(w, http.StatusUnprocessableEntity, invalid.OperationOutcome())
		case errors.Is(err, services.ErrValidation):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	name, ok := s.queueName(w, r)
	if !ok {
		return
	}
	filter := queue.ListFilter{Queue: name, Source: strings.TrimSpace(r.URL.Query().Get("source"))}
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	entries, err := s.daemon.Store().List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*queue.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	name, ok := s.queueName(w, r)
	if !ok {
		return
	}
	stats, err := s.daemon.Store().Stats(r.Context(), name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"queue": name, "counts": stats})
}

func (s *apiServer) handleEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.daemon.Store().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if queue.IsNotFound(err) {
			s.writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// withRequestID tags each request with an id, echoing X-Request-ID when the
// caller sent one.
func withRequestID(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}
