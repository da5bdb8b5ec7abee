package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"hookflow/internal/domain"
	"hookflow/internal/logging"
	"hookflow/internal/scheduler"
	"hookflow/internal/store"
)

// StatsSource exposes engine counters for /metrics.
type StatsSource interface {
	Stats() scheduler.Stats
}

type Server struct {
	r     *chi.Mux
	repo  store.Store
	stats StatsSource
	now   func() time.Time
}

func NewServer(repo store.Store, stats StatsSource) http.Handler {
	return NewServerWithDebug(repo, stats, false)
}

func NewServerWithDebug(repo store.Store, stats StatsSource, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logging.RequestLogger, recoverer)

	s := &Server{r: r, repo: repo, stats: stats, now: func() time.Time { return time.Now().UTC() }}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.createTask)
		r.Get("/", s.listTasks)
		r.Get("/{id}", s.getTask)
		r.Put("/{id}", s.updateTask)
		r.Delete("/{id}", s.deleteTask)
	})

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "hookflow_up 1")
	if s.stats == nil {
		return
	}
	st := s.stats.Stats()
	fmt.Fprintf(w, "hookflow_engine_cycles_total %d\n", st.Cycles)
	fmt.Fprintf(w, "hookflow_engine_fetch_errors_total %d\n", st.FetchErrors)
	fmt.Fprintf(w, "hookflow_engine_tasks_executed_total %d\n", st.Executed)
	fmt.Fprintf(w, "hookflow_engine_tasks_failed_total %d\n", st.Failed)
	fmt.Fprintf(w, "hookflow_engine_tasks_skipped_total %d\n", st.Skipped)
	fmt.Fprintf(w, "hookflow_engine_save_errors_total %d\n", st.SaveErrors)
}

type createTaskReq struct {
	Name               string            `json:"name"`
	URL                string            `json:"url"`
	Method             string            `json:"method"`
	Payload            *string           `json:"payload"`
	Headers            map[string]string `json:"headers"`
	Timeout            *int              `json:"timeout"`
	MaxRetries         *int              `json:"max_retries"`
	RetryInterval      *int              `json:"retry_interval"`
	RecurrenceType     string            `json:"recurrence_type"`
	RecurrenceInterval int               `json:"recurrence_interval"`
	ScheduleAt         *time.Time        `json:"schedule_at"`
	Active             *bool             `json:"active"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := domain.Task{
		Name:               req.Name,
		URL:                strings.TrimSpace(req.URL),
		Method:             normalizeMethod(req.Method),
		Payload:            req.Payload,
		Headers:            req.Headers,
		Timeout:            intOr(req.Timeout, 60),
		MaxRetries:         intOr(req.MaxRetries, 3),
		RetryInterval:      intOr(req.RetryInterval, 5),
		RecurrenceType:     domain.Recurrence(req.RecurrenceType),
		RecurrenceInterval: req.RecurrenceInterval,
		ScheduleAt:         s.now(),
		Active:             true,
	}
	if t.RecurrenceType == "" {
		t.RecurrenceType = domain.RecurNone
	}
	if req.ScheduleAt != nil {
		t.ScheduleAt = req.ScheduleAt.UTC()
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if err := validateTask(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.repo.Create(r.Context(), t)
	if err != nil {
		log.Error().Err(err).Msg("create task")
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	w.Header().Set("Location", "/tasks/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.repo.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list tasks")
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type updateTaskReq struct {
	Name               *string            `json:"name"`
	URL                *string            `json:"url"`
	Method             *string            `json:"method"`
	Payload            *string            `json:"payload"`
	Headers            *map[string]string `json:"headers"`
	Timeout            *int               `json:"timeout"`
	MaxRetries         *int               `json:"max_retries"`
	RetryInterval      *int               `json:"retry_interval"`
	RecurrenceType     *string            `json:"recurrence_type"`
	RecurrenceInterval *int               `json:"recurrence_interval"`
	ScheduleAt         *time.Time         `json:"schedule_at"`
	NextExecutionAt    *time.Time         `json:"next_execution_at"`
	Active             *bool              `json:"active"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.load(w, r)
	if !ok {
		return
	}

	var req updateTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Update only the provided fields
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.URL != nil {
		t.URL = strings.TrimSpace(*req.URL)
	}
	if req.Method != nil {
		t.Method = normalizeMethod(*req.Method)
	}
	if req.Payload != nil {
		t.Payload = req.Payload
	}
	if req.Headers != nil {
		t.Headers = *req.Headers
	}
	if req.Timeout != nil {
		t.Timeout = *req.Timeout
	}
	if req.MaxRetries != nil {
		t.MaxRetries = *req.MaxRetries
	}
	if req.RetryInterval != nil {
		t.RetryInterval = *req.RetryInterval
	}
	if req.RecurrenceType != nil {
		t.RecurrenceType = domain.Recurrence(*req.RecurrenceType)
	}
	if req.RecurrenceInterval != nil {
		t.RecurrenceInterval = *req.RecurrenceInterval
	}
	if req.ScheduleAt != nil {
		t.ScheduleAt = req.ScheduleAt.UTC()
	}
	if req.NextExecutionAt != nil {
		next := req.NextExecutionAt.UTC()
		t.NextExecutionAt = &next
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if err := validateTask(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.repo.Save(r.Context(), t); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		log.Error().Err(err).Str("task_id", t.ID).Msg("update task")
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		log.Error().Err(err).Str("task_id", id).Msg("delete task")
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) (domain.Task, bool) {
	id := chi.URLParam(r, "id")
	t, err := s.repo.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return domain.Task{}, false
	}
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("get task")
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return domain.Task{}, false
	}
	return t, true
}

// validateTask checks the client-supplied definition. Unrecognized
// recurrence types are accepted; the engine reschedules them at its fallback
// horizon.
func validateTask(t domain.Task) error {
	if t.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.ParseRequestURI(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if strings.ContainsAny(t.Method, " \t\r\n") {
		return fmt.Errorf("invalid method %q", t.Method)
	}
	if t.Timeout < 0 || t.MaxRetries < 0 || t.RetryInterval < 0 {
		return errors.New("timeout, max_retries and retry_interval must be >= 0")
	}
	return nil
}

func normalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return http.MethodGet
	}
	return m
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// recoverer turns a handler panic into a logged 500 with a JSON error body.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error().
				Interface("panic", rec).
				Str("request_id", middleware.GetReqID(r.Context())).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
