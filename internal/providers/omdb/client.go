package omdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/metrics"
)

const (
	defaultBaseURL = "https://www.omdbapi.com/"
	// defaultQuery is used when the caller provides no term, mirroring the
	// proxy contract for a bare GET /movies.
	defaultQuery  = "batman"
	redisCacheKey = "msearch:omdb:"

	maxBodyBytes = 512 * 1024
)

// ErrNotConfigured is returned when no upstream API key is present.
var ErrNotConfigured = errors.New("omdb api key not configured")

type Client struct {
	apiKey    string
	baseURL   string
	userAgent string
	http      *http.Client
	redis     *redis.Client
	cacheTTL  time.Duration
	group     singleflight.Group
	health    healthState
}

type Config struct {
	APIKey    string
	BaseURL   string
	UserAgent string
	Client    *http.Client
	Redis     *redis.Client
	CacheTTL  time.Duration
}

// searchPage is the upstream search envelope: Response is "True"/"False",
// Search carries hits on success and Error a message on logical failure.
type searchPage struct {
	Response string `json:"Response"`
	Search   []hit  `json:"Search"`
	Error    string `json:"Error"`
}

type hit struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	Poster string `json:"Poster"`
	ImdbID string `json:"imdbID"`
}

type fetchResult struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Minute
	}
	return &Client{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: strings.TrimSpace(cfg.UserAgent),
		http:      httpClient,
		redis:     cfg.Redis,
		cacheTTL:  cacheTTL,
	}
}

func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Fetch performs the upstream search request and returns the raw status and
// body so the proxy route can mirror them verbatim. Concurrent fetches for
// the same term are collapsed into one upstream request, and successful
// bodies are cached in Redis when available.
func (c *Client) Fetch(ctx context.Context, term string) (int, []byte, error) {
	if !c.Enabled() {
		return 0, nil, ErrNotConfigured
	}

	query := strings.TrimSpace(term)
	if query == "" {
		query = defaultQuery
	}
	cacheKey := strings.ToLower(query)

	if c.redis != nil {
		data, err := c.redis.Get(ctx, redisCacheKey+cacheKey).Bytes()
		if err == nil {
			metrics.CacheHitsTotal.Inc()
			return http.StatusOK, data, nil
		}
		metrics.CacheMissesTotal.Inc()
	}

	value, err, _ := c.group.Do(cacheKey, func() (any, error) {
		// The fetch is shared between collapsed callers, so the first
		// caller's cancellation must not fail its peers. The HTTP client
		// timeout still bounds the request.
		return c.fetchUpstream(context.WithoutCancel(ctx), query, cacheKey)
	})
	if err != nil {
		return 0, nil, err
	}
	result := value.(fetchResult)
	return result.Status, result.Body, nil
}

func (c *Client) fetchUpstream(ctx context.Context, query, cacheKey string) (fetchResult, error) {
	params := url.Values{
		"apikey": {c.apiKey},
		"s":      {query},
	}
	reqURL := c.baseURL + "/?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fetchResult{}, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.health.recordFailure(err, time.Since(start))
		metrics.UpstreamRequestsTotal.WithLabelValues("error").Inc()
		return fetchResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.health.recordFailure(err, time.Since(start))
		metrics.UpstreamRequestsTotal.WithLabelValues("error").Inc()
		return fetchResult{}, err
	}

	c.health.recordSuccess(time.Since(start))
	metrics.UpstreamRequestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusOK && c.redis != nil {
		_ = c.redis.Set(ctx, redisCacheKey+cacheKey, body, c.cacheTTL).Err()
	}
	return fetchResult{Status: resp.StatusCode, Body: body}, nil
}

// Search fetches and normalizes a result page for the controller. A logical
// upstream failure (Response "False") is not an error: it comes back as
// OK=false with the upstream message.
func (c *Client) Search(ctx context.Context, term string) (domain.SearchOutcome, error) {
	status, body, err := c.Fetch(ctx, term)
	if err != nil {
		return domain.SearchOutcome{}, err
	}
	if status != http.StatusOK {
		return domain.SearchOutcome{}, fmt.Errorf("omdb HTTP %d: %s", status, truncateBody(body))
	}

	var page searchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return domain.SearchOutcome{}, fmt.Errorf("omdb response: %w", err)
	}

	if !strings.EqualFold(page.Response, "True") {
		return domain.SearchOutcome{OK: false, Message: page.Error}, nil
	}

	results := make([]domain.MovieRecord, 0, len(page.Search))
	for _, h := range page.Search {
		if strings.TrimSpace(h.ImdbID) == "" {
			continue
		}
		results = append(results, domain.MovieRecord{
			ID:        h.ImdbID,
			Title:     h.Title,
			Year:      h.Year,
			PosterURL: domain.NormalizePoster(h.Poster),
		})
	}
	return domain.SearchOutcome{OK: true, Results: results}, nil
}

func truncateBody(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
