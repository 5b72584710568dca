package omdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)
	return NewClient(Config{
		APIKey:  "test-key",
		BaseURL: upstream.URL,
		Client:  upstream.Client(),
	})
}

func TestSearchParsesAndNormalizesHits(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("s")
		if r.URL.Query().Get("apikey") != "test-key" {
			t.Errorf("apikey not forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"Response": "True",
			"Search": [
				{"Title":"Batman","Year":"1989","Poster":"N/A","imdbID":"tt0096895"},
				{"Title":"Batman Returns","Year":"1992","Poster":"https://img.example/br.jpg","imdbID":"tt0103776"}
			]
		}`))
	})

	outcome, err := client.Search(context.Background(), "batman")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotQuery != "batman" {
		t.Fatalf("upstream query = %q", gotQuery)
	}
	if !outcome.OK {
		t.Fatal("outcome.OK = false")
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("results = %d", len(outcome.Results))
	}
	first := outcome.Results[0]
	if first.ID != "tt0096895" || first.Title != "Batman" || first.Year != "1989" {
		t.Fatalf("unexpected first result: %#v", first)
	}
	if first.PosterURL != "" {
		t.Fatalf("sentinel poster should be empty, got %q", first.PosterURL)
	}
	if outcome.Results[1].PosterURL != "https://img.example/br.jpg" {
		t.Fatalf("real poster url lost: %#v", outcome.Results[1])
	}
}

func TestSearchSurfacesUpstreamLogicalFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Response":"False","Error":"Movie not found!"}`))
	})

	outcome, err := client.Search(context.Background(), "zzqqnoexist")
	if err != nil {
		t.Fatalf("logical failure must not be a transport error: %v", err)
	}
	if outcome.OK {
		t.Fatal("outcome.OK = true for Response False")
	}
	if outcome.Message != "Movie not found!" {
		t.Fatalf("message = %q", outcome.Message)
	}
	if len(outcome.Results) != 0 {
		t.Fatalf("results should be empty: %#v", outcome.Results)
	}
}

func TestSearchErrorsOnUpstreamStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"Response":"False","Error":"Invalid API key!"}`))
	})

	_, err := client.Search(context.Background(), "batman")
	if err == nil {
		t.Fatal("expected error for non-200 upstream status")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("error should carry the status: %v", err)
	}
}

func TestFetchMirrorsUpstreamStatusAndBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"Error":"Invalid API key!"}`))
	})

	status, body, err := client.Fetch(context.Background(), "batman")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(string(body), "Invalid API key!") {
		t.Fatalf("body not mirrored: %q", body)
	}
}

func TestFetchUsesDefaultQueryWhenEmpty(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("s")
		_, _ = w.Write([]byte(`{"Response":"True","Search":[]}`))
	})

	if _, _, err := client.Fetch(context.Background(), "   "); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotQuery != "batman" {
		t.Fatalf("default query = %q, want batman", gotQuery)
	}
}

func TestFetchWithoutAPIKey(t *testing.T) {
	client := NewClient(Config{})
	if client.Enabled() {
		t.Fatal("client without key reports enabled")
	}
	_, _, err := client.Fetch(context.Background(), "batman")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSearchRejectsMalformedJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Response": "True", "Search": [`))
	})

	if _, err := client.Search(context.Background(), "batman"); err == nil {
		t.Fatal("expected parse error for truncated body")
	}
}

func TestSearchSkipsHitsWithoutID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"Response":"True",
			"Search":[
				{"Title":"Nameless","Year":"2000","Poster":"N/A","imdbID":""},
				{"Title":"Batman","Year":"1989","Poster":"N/A","imdbID":"tt0096895"}
			]
		}`))
	})

	outcome, err := client.Search(context.Background(), "batman")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(outcome.Results) != 1 || outcome.Results[0].ID != "tt0096895" {
		t.Fatalf("hit without id should be dropped: %#v", outcome.Results)
	}
}

func TestFetchSurvivesCallerCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Response":"True","Search":[]}`))
	})

	// The fetch is shared across collapsed callers, so one caller's
	// cancellation must not poison the upstream request for its peers.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, body, err := client.Fetch(ctx, "batman")
	if err != nil {
		t.Fatalf("fetch after caller cancellation: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(string(body), `"Response":"True"`) {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestHealthTracksOutcomes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Response":"True","Search":[]}`))
	})

	if _, _, err := client.Fetch(context.Background(), "batman"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	health := client.Health()
	if !health.Configured {
		t.Fatal("configured = false")
	}
	if health.TotalRequests != 1 || health.TotalFailures != 0 {
		t.Fatalf("unexpected health counters: %#v", health)
	}
	if health.LastSuccessAt == nil {
		t.Fatal("lastSuccessAt not recorded")
	}
}
