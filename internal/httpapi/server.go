package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/monitor"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/stats"
)

// Engine is the control surface the API drives.
type Engine interface {
	AddTarget(ctx context.Context, t *domain.Target) (*domain.Target, error)
	UpdateTarget(ctx context.Context, id domain.TargetID, u domain.TargetUpdate) (*domain.Target, error)
	RemoveTarget(ctx context.Context, id domain.TargetID) error
	ForceCheck(ctx context.Context, id domain.TargetID) (domain.CheckResult, error)
	SendReport(ctx context.Context, owner string) (stats.Report, error)
	Monitoring(id domain.TargetID) bool
}

// Reader is the read side of the registry.
type Reader interface {
	repo.TargetStore
	repo.ResultStore
	repo.IncidentStore
	repo.NotificationStore
}

type Server struct {
	Logger *zap.Logger
	Engine Engine
	Store  Reader
	Stats  *stats.Aggregator
}

func NewServer(l *zap.Logger, e Engine, store Reader, agg *stats.Aggregator) *Server {
	if agg == nil {
		agg = stats.New(store)
	}
	return &Server{Logger: l, Engine: e, Store: store, Stats: agg}
}

// Limits are per-IP request rates for the read and the mutating routes.
type Limits struct {
	PublicRPM, PublicBurst int
	AdminRPM, AdminBurst   int
}

func (s *Server) Router(keys apimw.Keys, origins []string, lim Limits) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(apimw.RequestLogger(s.Logger))
	r.Use(apimw.Metrics)
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(lim.PublicRPM, lim.PublicBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/targets", s.handleListTargets)
			r.Get("/targets/{id}", s.handleGetTarget)
			r.Get("/targets/{id}/history", s.handleHistory)
			r.Get("/targets/{id}/incidents", s.handleIncidents)
			r.Get("/targets/{id}/stats", s.handleTargetStats)
			r.Get("/owners/{owner}/summary", s.handleOwnerSummary)
			r.Get("/notifications", s.handleNotifications)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(lim.AdminRPM, lim.AdminBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/targets", s.handleAddTarget)
			r.Patch("/targets/{id}", s.handleUpdateTarget)
			r.Delete("/targets/{id}", s.handleDeleteTarget)
			r.Post("/targets/{id}/start", s.handleSetActive(true))
			r.Post("/targets/{id}/stop", s.handleSetActive(false))
			r.Post("/targets/{id}/check", s.handleForceCheck)
			r.Post("/owners/{owner}/report", s.handleSendReport)
		})
	})
	return r
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, repo.ErrDuplicate):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTarget):
		code = http.StatusBadRequest
	case errors.Is(err, monitor.ErrNothingToReport):
		code = http.StatusUnprocessableEntity
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.Logger.Error("api_error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func targetID(r *http.Request) domain.TargetID {
	return domain.TargetID(chi.URLParam(r, "id"))
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 1000 {
		return 1000
	}
	return n
}

// ---- handlers ----

type addPayload struct {
	URL             string `json:"url"`
	OwnerID         string `json:"owner_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	IntervalSeconds int    `json:"interval_seconds"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	MaxRetries      *int   `json:"max_retries"`
	TrackContent    bool   `json:"track_content"`
	Active          *bool  `json:"active"`
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var p addPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad payload"})
		return
	}
	if !isValidHTTPURL(p.URL) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url must be an absolute http(s) URL"})
		return
	}

	t := domain.NewTarget(strings.TrimSpace(p.OwnerID), normalizeHTTPURL(p.URL))
	t.Name, t.Description, t.TrackContent = p.Name, p.Description, p.TrackContent
	// zero means the engine default
	t.IntervalSeconds, t.TimeoutSeconds = p.IntervalSeconds, p.TimeoutSeconds
	t.MaxRetries = domain.RetriesUnset
	if p.MaxRetries != nil {
		t.MaxRetries = *p.MaxRetries
	}
	if p.Active != nil {
		t.Active = *p.Active
	}

	added, err := s.Engine.AddTarget(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Store.ListTargets(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ts == nil {
		ts = []domain.Target{}
	}
	writeJSON(w, http.StatusOK, ts)
}

type targetView struct {
	*domain.Target
	Monitoring bool    `json:"monitoring"`
	Uptime     float64 `json:"uptime_percentage"`
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.GetTarget(r.Context(), targetID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, targetView{Target: t, Monitoring: s.Engine.Monitoring(t.ID), Uptime: t.UptimePercentage()})
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	var u domain.TargetUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad payload"})
		return
	}
	if u.Empty() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "nothing to update"})
		return
	}
	t, err := s.Engine.UpdateTarget(r.Context(), targetID(r), u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.RemoveTarget(r.Context(), targetID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.Engine.UpdateTarget(r.Context(), targetID(r), domain.TargetUpdate{Active: &active})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, targetView{Target: t, Monitoring: s.Engine.Monitoring(t.ID), Uptime: t.UptimePercentage()})
	}
}

func (s *Server) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.ForceCheck(r.Context(), targetID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": res.Status(),
		"result": res,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := targetID(r)
	if _, err := s.Store.GetTarget(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	hs, err := s.Store.History(r.Context(), id, limitParam(r, 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if hs == nil {
		hs = []domain.HealthCheck{}
	}
	writeJSON(w, http.StatusOK, hs)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	id := targetID(r)
	if _, err := s.Store.GetTarget(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	incs, err := s.Store.Incidents(r.Context(), id, limitParam(r, 20))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if incs == nil {
		incs = []domain.Incident{}
	}
	writeJSON(w, http.StatusOK, incs)
}

func (s *Server) handleTargetStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Stats.TargetStats(r.Context(), targetID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOwnerSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Stats.OwnerSummary(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleSendReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Engine.SendReport(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := s.Store.Notifications(r.Context(), r.URL.Query().Get("recipient"), limitParam(r, 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ns == nil {
		ns = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}
