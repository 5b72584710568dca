package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/providers/omdb"
	"moviestream/searchservice/internal/search"
)

type fakeGateway struct {
	enabled  bool
	status   int
	body     string
	err      error
	lastTerm string
}

func (f *fakeGateway) Enabled() bool { return f.enabled }

func (f *fakeGateway) Fetch(_ context.Context, term string) (int, []byte, error) {
	f.lastTerm = term
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.status, []byte(f.body), nil
}

func (f *fakeGateway) Health() omdb.HealthSnapshot {
	return omdb.HealthSnapshot{Configured: f.enabled}
}

type fakeTrending struct {
	items     []domain.TrendingEntry
	lastLimit int
}

func (f *fakeTrending) ListTrending(_ context.Context, limit int) []domain.TrendingEntry {
	f.lastLimit = limit
	return f.items
}

func decodeFlatError(t *testing.T, body []byte) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, body)
	}
	return payload["error"]
}

func TestMoviesProxyWithoutAPIKey(t *testing.T) {
	server := NewServer(&fakeGateway{enabled: false})

	req := httptest.NewRequest(http.MethodGet, "/movies?query=batman", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeFlatError(t, rec.Body.Bytes()); got != "OMDb API key not configured." {
		t.Fatalf("error = %q", got)
	}
}

func TestMoviesProxyPassesUpstreamBodyVerbatim(t *testing.T) {
	upstreamBody := `{"Response":"True","Search":[{"Title":"Batman","Year":"1989","Poster":"N/A","imdbID":"tt0096895"}]}`
	gateway := &fakeGateway{enabled: true, status: http.StatusOK, body: upstreamBody}
	server := NewServer(gateway)

	req := httptest.NewRequest(http.MethodGet, "/movies?query=batman", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != upstreamBody {
		t.Fatalf("body not verbatim:\n got %s\nwant %s", got, upstreamBody)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type = %q", ct)
	}
	if gateway.lastTerm != "batman" {
		t.Fatalf("gateway term = %q", gateway.lastTerm)
	}
}

func TestMoviesProxyForwardsEmptyQuery(t *testing.T) {
	gateway := &fakeGateway{enabled: true, status: http.StatusOK, body: `{"Response":"True","Search":[]}`}
	server := NewServer(gateway)

	req := httptest.NewRequest(http.MethodGet, "/movies", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// Default-term substitution happens at the gateway, not here.
	if gateway.lastTerm != "" {
		t.Fatalf("gateway term = %q, want empty", gateway.lastTerm)
	}
}

func TestMoviesProxyMirrorsUpstreamErrorStatus(t *testing.T) {
	gateway := &fakeGateway{enabled: true, status: http.StatusUnauthorized, body: `{"Error":"Invalid API key!"}`}
	server := NewServer(gateway)

	req := httptest.NewRequest(http.MethodGet, "/movies?query=batman", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want mirrored 401", rec.Code)
	}
	if got := decodeFlatError(t, rec.Body.Bytes()); got != "Invalid API key!" {
		t.Fatalf("error = %q", got)
	}
}

func TestMoviesProxyUpstreamErrorWithoutMessage(t *testing.T) {
	gateway := &fakeGateway{enabled: true, status: http.StatusBadGateway, body: `not json`}
	server := NewServer(gateway)

	req := httptest.NewRequest(http.MethodGet, "/movies?query=batman", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeFlatError(t, rec.Body.Bytes()); got != msgUpstreamFallback {
		t.Fatalf("error = %q, want fallback", got)
	}
}

func TestMoviesProxyTransportError(t *testing.T) {
	gateway := &fakeGateway{enabled: true, err: context.DeadlineExceeded}
	server := NewServer(gateway)

	req := httptest.NewRequest(http.MethodGet, "/movies?query=batman", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeFlatError(t, rec.Body.Bytes()); got != msgProxyInternal {
		t.Fatalf("error = %q", got)
	}
}

func TestMoviesMethodNotAllowed(t *testing.T) {
	server := NewServer(&fakeGateway{enabled: true})

	req := httptest.NewRequest(http.MethodPost, "/movies", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTrendingEndpoint(t *testing.T) {
	trendingSvc := &fakeTrending{items: []domain.TrendingEntry{
		{SearchTerm: "batman", Count: 7, MovieID: "tt0096895"},
		{SearchTerm: "dune", Count: 3, MovieID: "tt1160419"},
	}}
	server := NewServer(&fakeGateway{enabled: true}, WithTrending(trendingSvc))

	req := httptest.NewRequest(http.MethodGet, "/trending?limit=2", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Items []domain.TrendingEntry `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 2 || payload.Items[0].SearchTerm != "batman" {
		t.Fatalf("unexpected items: %#v", payload.Items)
	}
	if trendingSvc.lastLimit != 2 {
		t.Fatalf("limit = %d", trendingSvc.lastLimit)
	}
}

func TestTrendingRejectsInvalidLimit(t *testing.T) {
	server := NewServer(&fakeGateway{enabled: true}, WithTrending(&fakeTrending{}))

	for _, raw := range []string{"abc", "-1", "0"} {
		req := httptest.NewRequest(http.MethodGet, "/trending?limit="+raw, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%q: status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestTrendingClampsLimit(t *testing.T) {
	trendingSvc := &fakeTrending{}
	server := NewServer(&fakeGateway{enabled: true}, WithTrending(trendingSvc), WithTrendingLimitMax(10))

	req := httptest.NewRequest(http.MethodGet, "/trending?limit=5000", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if trendingSvc.lastLimit != 10 {
		t.Fatalf("limit = %d, want clamp to 10", trendingSvc.lastLimit)
	}
}

func TestTrendingWithoutServiceReturnsEmptyList(t *testing.T) {
	server := NewServer(&fakeGateway{enabled: true})

	req := httptest.NewRequest(http.MethodGet, "/trending", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

type sessionGateway struct{}

func (sessionGateway) Search(context.Context, string) (domain.SearchOutcome, error) {
	return domain.SearchOutcome{OK: true, Results: []domain.MovieRecord{{ID: "tt0096895", Title: "Batman"}}}, nil
}

func newSessionServer(t *testing.T) *Server {
	t.Helper()
	sessions := search.NewSessions(func() *search.Controller {
		return search.NewController(sessionGateway{}, search.WithDebounceInterval(15*time.Millisecond))
	}, time.Minute, nil)
	return NewServer(&fakeGateway{enabled: true}, WithSessions(sessions))
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	server := newSessionServer(t)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search/session", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.ID == "" {
		t.Fatalf("create response: %v (%s)", err, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search/session/input",
		strings.NewReader(`{"id":"`+created.ID+`","term":"batman"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("input status = %d (%s)", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(time.Second)
	for {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/session/state?id="+created.ID, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("state status = %d", rec.Code)
		}
		var state domain.SessionState
		if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		if len(state.Results) == 1 && state.Results[0].ID == "tt0096895" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("results never arrived, last state: %s", rec.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionInputUnknownID(t *testing.T) {
	server := newSessionServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search/session/input",
		strings.NewReader(`{"id":"nope","term":"batman"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionInputRequiresID(t *testing.T) {
	server := newSessionServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search/session/input",
		strings.NewReader(`{"term":"batman"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionStateUnknownID(t *testing.T) {
	server := newSessionServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/session/state?id=nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newSessionServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("status field = %v", payload["status"])
	}
	if _, ok := payload["upstream"]; !ok {
		t.Fatal("upstream health missing")
	}
}
