package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/3B132016/tws/internal/metrics"
	"github.com/3B132016/tws/internal/model"
	"github.com/3B132016/tws/internal/recorder"
)

// Server is the read-only HTTP API over recorded results.
type Server struct {
	router  *mux.Router
	server  *http.Server
	rec     recorder.Recorder
	metrics *metrics.Recorder
	log     zerolog.Logger
}

// New creates a server listening on addr. A nil metrics recorder disables /metrics.
func New(addr string, rec recorder.Recorder, m *metrics.Recorder, log zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		rec:     rec,
		metrics: m,
		log:     log.With().Str("component", "server").Logger(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLoggingMiddleware)

	if reg := s.metrics.Registry(); reg != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.summary).Methods(http.MethodGet)
	api.HandleFunc("/results", s.results).Methods(http.MethodGet)
	api.HandleFunc("/results/{security}", s.result).Methods(http.MethodGet)
	api.HandleFunc("/runs/latest", s.latestRun).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeError(w, http.StatusNotFound, "not found")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// resultView replaces the infinite score of an empty sweep with null.
type resultView struct {
	SecurityID         string                 `json:"security_id"`
	BestParams         *model.DetectionParams `json:"best_params"`
	BestScore          *float64               `json:"best_score"`
	ScoreIsLowerBetter bool                   `json:"score_is_lower_better"`
	Scorer             string                 `json:"scorer"`
	Evaluated          int                    `json:"evaluated"`
	Scored             int                    `json:"scored"`
	CompletedAt        time.Time              `json:"completed_at"`
}

func newResultView(r model.OptimizationResult) resultView {
	v := resultView{
		SecurityID:         r.SecurityID,
		BestParams:         r.BestParams,
		ScoreIsLowerBetter: r.ScoreIsLowerBetter,
		Scorer:             r.Scorer,
		Evaluated:          r.Evaluated,
		Scored:             r.Scored,
		CompletedAt:        r.CompletedAt,
	}
	if r.HasBest() && !math.IsInf(r.BestScore, 0) {
		score := r.BestScore
		v.BestScore = &score
	}
	return v
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	summary, err := s.rec.LatestSummary(recorder.ScopePortfolio)
	if s.handleErr(w, err) {
		return
	}
	horizons := make([]model.HorizonStats, 0, len(summary))
	for _, h := range summary.Horizons() {
		horizons = append(horizons, summary[h])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"horizons": horizons})
}

func (s *Server) results(w http.ResponseWriter, _ *http.Request) {
	results, err := s.rec.LatestResults()
	if s.handleErr(w, err) {
		return
	}
	views := make([]resultView, 0, len(results))
	for _, r := range results {
		views = append(views, newResultView(r))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": views, "count": len(views)})
}

func (s *Server) result(w http.ResponseWriter, r *http.Request) {
	security := mux.Vars(r)["security"]
	res, err := s.rec.LatestResult(security)
	if s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, newResultView(*res))
}

func (s *Server) latestRun(w http.ResponseWriter, _ *http.Request) {
	run, err := s.rec.LatestScanRun()
	if s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleErr writes an error response and reports whether it did.
func (s *Server) handleErr(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, recorder.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error().Err(err).Msg("recorder query failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}
