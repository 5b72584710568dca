package trending

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"moviestream/searchservice/internal/domain"
	"moviestream/searchservice/internal/metrics"
	"moviestream/searchservice/internal/search"
)

const (
	defaultListLimit = 5
	// Every lost CAS means some other session committed, so a writer can
	// conflict at most once per concurrent peer; the cap only guards
	// against a store that never converges.
	maxUpdateAttempts = 256
)

// Aggregator maintains per-term popularity counters in the counter store and
// answers top-N queries. Every store failure is logged and swallowed: a search
// result stays valid even when its count update fails.
//
// Terms are keyed exactly as dispatched, case and whitespace included, so
// "Batman" and "batman" accumulate separately.
type Aggregator struct {
	store    Store
	logger   *slog.Logger
	retryCfg search.RetryConfig
	limitMax int
	collator *collate.Collator
}

type Option func(*Aggregator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithRetryConfig(cfg search.RetryConfig) Option {
	return func(a *Aggregator) {
		a.retryCfg = cfg
	}
}

// WithListLimitMax caps the limit callers may request from ListTrending.
func WithListLimitMax(limit int) Option {
	return func(a *Aggregator) {
		if limit > 0 {
			a.limitMax = limit
		}
	}
}

// New builds an aggregator over the given store. A nil store degrades every
// operation to a soft no-op.
func New(store Store, opts ...Option) *Aggregator {
	agg := &Aggregator{
		store:    store,
		logger:   slog.Default(),
		retryCfg: search.DefaultRetryConfig(),
		collator: collate.New(language.Und),
	}
	for _, opt := range opts {
		opt(agg)
	}
	return agg
}

// RecordSearch increments the counter for term, creating the entry with the
// representative movie on first sight. The atomic store fast path is preferred;
// otherwise an optimistic read-compare-set loop closes the lost-update race of
// a plain read-then-write.
func (a *Aggregator) RecordSearch(ctx context.Context, term string, representative domain.MovieRecord) {
	if a.store == nil {
		a.logger.Debug("trending store not configured, skipping count update",
			slog.String("term", term))
		return
	}
	representative.PosterURL = domain.NormalizePoster(representative.PosterURL)

	var created bool
	err := search.RetryWithBackoff(ctx, a.retryCfg, func() error {
		var err error
		created, err = a.recordOnce(ctx, term, representative)
		return err
	})
	if err != nil {
		metrics.TrendingUpdatesTotal.WithLabelValues("failed").Inc()
		a.logger.Warn("trending count update failed",
			slog.String("term", term),
			slog.String("error", err.Error()),
		)
		return
	}

	outcome := "incremented"
	if created {
		outcome = "created"
	}
	metrics.TrendingUpdatesTotal.WithLabelValues(outcome).Inc()
	a.logger.Debug("trending count updated",
		slog.String("term", term),
		slog.Bool("created", created),
	)
}

func (a *Aggregator) recordOnce(ctx context.Context, term string, representative domain.MovieRecord) (bool, error) {
	if atomic, ok := a.store.(AtomicIncrementer); ok {
		return atomic.IncrementOrCreate(ctx, term, representative)
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		entry, found, err := a.store.Find(ctx, term)
		if err != nil {
			return false, err
		}
		if !found {
			err := a.store.Create(ctx, domain.TrendingEntry{
				SearchTerm: term,
				Count:      1,
				MovieID:    representative.ID,
				Title:      representative.Title,
				PosterURL:  representative.PosterURL,
			})
			if errors.Is(err, ErrExists) {
				// Another session created it first; re-read and increment.
				metrics.TrendingConflictRetries.Inc()
				continue
			}
			return err == nil, err
		}
		err = a.store.Update(ctx, term, entry.Count+1, entry.Count)
		if errors.Is(err, ErrConflict) {
			metrics.TrendingConflictRetries.Inc()
			continue
		}
		return false, err
	}
	return false, ErrConflict
}

// ListTrending returns up to limit entries ordered by count descending.
// Equal counts are broken by collation order of the term, so the listing is
// stable across calls. Store failures yield an empty slice, never an error.
func (a *Aggregator) ListTrending(ctx context.Context, limit int) []domain.TrendingEntry {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if a.limitMax > 0 && limit > a.limitMax {
		limit = a.limitMax
	}
	if a.store == nil {
		return []domain.TrendingEntry{}
	}

	entries, err := a.store.Top(ctx, limit)
	if err != nil {
		a.logger.Warn("trending listing failed", slog.String("error", err.Error()))
		return []domain.TrendingEntry{}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return a.collator.CompareString(entries[i].SearchTerm, entries[j].SearchTerm) < 0
	})
	if entries == nil {
		entries = []domain.TrendingEntry{}
	}
	return entries
}
