package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/providers/omdb"
	"moviestream/searchservice/internal/search"
)

// MovieGateway is the upstream catalog surface the proxy route forwards to.
type MovieGateway interface {
	Enabled() bool
	Fetch(ctx context.Context, term string) (int, []byte, error)
	Health() omdb.HealthSnapshot
}

// TrendingService answers the top-N popular searches listing.
type TrendingService interface {
	ListTrending(ctx context.Context, limit int) []domain.TrendingEntry
}

const (
	maxQueryLength   = 500
	maxInputBodySize = 4 * 1024

	msgAPIKeyMissing    = "OMDb API key not configured."
	msgUpstreamFallback = "Failed to fetch movies from OMDb"
	msgProxyInternal    = "Failed to fetch movies due to an internal server error."
)

type Server struct {
	gateway  MovieGateway
	trending TrendingService
	sessions *search.Sessions
	logger   *slog.Logger
	limitMax int
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithTrending(trending TrendingService) ServerOption {
	return func(s *Server) {
		s.trending = trending
	}
}

func WithSessions(sessions *search.Sessions) ServerOption {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// WithTrendingLimitMax caps the limit query parameter on /trending.
func WithTrendingLimitMax(limit int) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.limitMax = limit
		}
	}
}

func NewServer(gateway MovieGateway, options ...ServerOption) *Server {
	server := &Server{
		gateway:  gateway,
		logger:   slog.Default(),
		limitMax: 50,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/movies", s.handleMovies)
	mux.HandleFunc("/trending", s.handleTrending)
	mux.HandleFunc("/search/session", s.handleSessionCreate)
	mux.HandleFunc("/search/session/input", s.handleSessionInput)
	mux.HandleFunc("/search/session/state", s.handleSessionState)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "movie-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if s.gateway != nil {
		payload["upstream"] = s.gateway.Health()
	}
	if s.sessions != nil {
		payload["sessions"] = s.sessions.Len()
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleMovies is the single-route proxy to the upstream catalog. Its wire
// contract predates this service: errors are a flat {"error": message} object
// and successful upstream bodies pass through verbatim.
func (s *Server) handleMovies(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/movies" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.gateway == nil || !s.gateway.Enabled() {
		writeFlatError(w, http.StatusInternalServerError, msgAPIKeyMissing)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if len(query) > maxQueryLength {
		writeFlatError(w, http.StatusBadRequest, "query too long (max 500 characters)")
		return
	}

	status, body, err := s.gateway.Fetch(r.Context(), query)
	if err != nil {
		if errors.Is(err, omdb.ErrNotConfigured) {
			writeFlatError(w, http.StatusInternalServerError, msgAPIKeyMissing)
			return
		}
		s.logger.Warn("upstream fetch failed",
			slog.String("query", truncate(query, 80)),
			slog.String("error", err.Error()),
		)
		writeFlatError(w, http.StatusInternalServerError, msgProxyInternal)
		return
	}

	if status < 200 || status > 299 {
		message := msgUpstreamFallback
		var upstream struct {
			Error string `json:"Error"`
		}
		if json.Unmarshal(body, &upstream) == nil && strings.TrimSpace(upstream.Error) != "" {
			message = upstream.Error
		}
		s.logger.Warn("upstream returned error status",
			slog.Int("status", status),
			slog.String("query", truncate(query, 80)),
		)
		writeFlatError(w, status, message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/trending" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.trending == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []domain.TrendingEntry{}})
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
			return
		}
		limit = parsed
	}
	if s.limitMax > 0 && limit > s.limitMax {
		limit = s.limitMax
	}

	items := s.trending.ListTrending(r.Context(), limit)
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/session" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.sessions == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "sessions are not configured")
		return
	}

	id, controller, ok := s.sessions.Create()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "too many active sessions")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    id,
		"state": controller.Snapshot(),
	})
}

func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/session/input" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.sessions == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "sessions are not configured")
		return
	}

	var input struct {
		ID   string `json:"id"`
		Term string `json:"term"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInputBodySize)).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if strings.TrimSpace(input.ID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	if len(input.Term) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "term too long (max 500 characters)")
		return
	}

	controller, ok := s.sessions.Get(input.ID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}
	controller.OnInputChange(input.Term)
	writeJSON(w, http.StatusOK, controller.Snapshot())
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/session/state" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.sessions == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "sessions are not configured")
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	controller, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, controller.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeFlatError matches the proxy route's historical error shape.
func writeFlatError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
