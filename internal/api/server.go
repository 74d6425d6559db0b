// Package api serves the consumption endpoints for analyses and alerts and
// accepts change events over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/risk-engine/internal/events"
	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/recompute"
	"github.com/sells-group/risk-engine/internal/store"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
	requestTimeout    = 30 * time.Second
)

// Submitter schedules recomputes.
type Submitter interface {
	Submit(t model.Trigger) bool
}

// Server holds the handler dependencies.
type Server struct {
	store  store.Store
	submit Submitter
	stats  *recompute.Stats
	now    func() time.Time
	log    *zap.Logger
}

// New creates a Server. stats may be nil, in which case /stats reports zeros.
func New(st store.Store, submit Submitter, stats *recompute.Stats) *Server {
	if stats == nil {
		stats = &recompute.Stats{}
	}
	return &Server{
		store:  st,
		submit: submit,
		stats:  stats,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "api")),
	}
}

// Handler builds the router. An empty allowedOrigins permits any origin.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/events", s.handleEvent)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/analysis", s.handleGetAnalysis)
		r.Post("/refresh", s.handleRefresh)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Get("/count", s.handleCountAlerts)
			r.Post("/ack", s.handleAckAll)
			r.Post("/{alertID}/ack", s.handleAckOne)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("health check: store unreachable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev events.ChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	trig, err := ev.Trigger(s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.accept(w, trig)
}

// analysisResponse is the current analysis plus its staleness. Stale is set
// while the most recent recompute for the user has failed.
type analysisResponse struct {
	*model.RiskAnalysis
	Stale       bool                    `json:"stale"`
	LastFailure *model.RecomputeFailure `json:"last_failure,omitempty"`
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	a, err := s.store.GetAnalysis(r.Context(), userID)
	if err != nil {
		s.internalError(w, "get analysis", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "no analysis for user")
		return
	}

	failure, err := s.store.GetFailure(r.Context(), userID)
	if err != nil {
		s.internalError(w, "get failure", err)
		return
	}

	writeJSON(w, http.StatusOK, analysisResponse{
		RiskAnalysis: a,
		Stale:        failure != nil,
		LastFailure:  failure,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if _, err := s.store.GetProfile(r.Context(), userID); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown user")
			return
		}
		s.internalError(w, "get profile", err)
		return
	}
	s.accept(w, model.Trigger{UserID: userID, Source: model.SourceRefresh, At: s.now().UTC()})
}

func (s *Server) accept(w http.ResponseWriter, trig model.Trigger) {
	started := s.submit.Submit(trig)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"user_id":   trig.UserID,
		"source":    trig.Source,
		"coalesced": !started,
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	filter, err := parseAlertFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := s.store.ListAlerts(r.Context(), userID, filter)
	if err != nil {
		s.internalError(w, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []model.RiskAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func parseAlertFilter(r *http.Request) (store.AlertFilter, error) {
	q := r.URL.Query()
	f := store.AlertFilter{Limit: defaultAlertLimit}

	if v := q.Get("unacknowledged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, eris.Errorf("invalid unacknowledged %q", v)
		}
		f.UnacknowledgedOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, eris.Errorf("invalid limit %q", v)
		}
		f.Limit = min(n, maxAlertLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, eris.Errorf("invalid offset %q", v)
		}
		f.Offset = n
	}
	return f, nil
}

func (s *Server) handleCountAlerts(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CountUnacknowledged(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.internalError(w, "count alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unacknowledged": n})
}

func (s *Server) handleAckAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.AcknowledgeAll(r.Context(), chi.URLParam(r, "userID"), s.now().UTC())
	if err != nil {
		s.internalError(w, "acknowledge alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"acknowledged": n})
}

func (s *Server) handleAckOne(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	alertID := chi.URLParam(r, "alertID")

	err := s.store.AcknowledgeAlert(r.Context(), userID, alertID, s.now().UTC())
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found or already acknowledged")
		return
	}
	if err != nil {
		s.internalError(w, "acknowledge alert", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
