package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nullstack-solutions/stubsync/internal/adminsync"
	"github.com/nullstack-solutions/stubsync/internal/stubs"
)

// Server exposes the sync core's read and write-intent surface to the UI
// layer over a local HTTP port, plus a websocket feed carrying re-render
// triggers and conflict toasts.
type Server struct {
	store     *stubs.Store
	mutator   *adminsync.Mutator
	scheduler *adminsync.Scheduler
	hub       *Hub
	logger    stubs.Logger
	router    chi.Router
}

type ServerOptions struct {
	Hub    *Hub
	Logger stubs.Logger
}

func NewServer(store *stubs.Store, mutator *adminsync.Mutator, scheduler *adminsync.Scheduler, opts ServerOptions) *Server {
	s := &Server{
		store:     store,
		mutator:   mutator,
		scheduler: scheduler,
		hub:       opts.Hub,
		logger:    opts.Logger,
	}
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/mappings", s.handleList)
		r.Get("/mappings/filter", s.handleFilter)
		r.Get("/mappings/{id}", s.handleGet)
		r.Post("/mappings", s.handleCreate)
		r.Put("/mappings/{id}", s.handleUpdate)
		r.Delete("/mappings/{id}", s.handleDelete)
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)
		if s.hub != nil {
			r.Get("/events", s.hub.handleSubscribe)
		}
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	items := s.store.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m := s.store.Get(id)
	if m == nil {
		writeError(w, http.StatusNotFound, "mapping not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria := stubs.FilterCriteria{
		Method:   q.Get("method"),
		URL:      q.Get("url"),
		Scenario: q.Get("scenario"),
	}
	if raw := q.Get("priority"); raw != "" {
		priority, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
		criteria.Priority = priority
	}
	items := s.store.Filter(criteria)
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var m stubs.Mapping
	if !decodeBody(w, r, &m) {
		return
	}
	created, err := s.mutator.Create(r.Context(), m)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var m stubs.Mapping
	if !decodeBody(w, r, &m) {
		return
	}
	updated, err := s.mutator.Update(r.Context(), id, m)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mutator.Delete(r.Context(), id); err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"store":     s.store.Stats(),
		"scheduler": s.scheduler.Status(),
	})
}

// handleRefresh triggers an on-demand full sync. A refresh that lands while
// one is already running is dropped by the in-flight guard, which still
// counts as accepted.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	go func() {
		if err := s.scheduler.FullSync(context.Background()); err != nil {
			s.logf("manual refresh failed: %v", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, adminsync.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, adminsync.ErrNetwork):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		var httpErr *adminsync.HTTPError
		if errors.As(err, &httpErr) {
			writeError(w, httpErr.StatusCode, httpErr.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
