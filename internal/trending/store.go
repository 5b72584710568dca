package trending

import (
	"context"
	"errors"

	"moviestream/searchservice/internal/domain"
)

var (
	// ErrExists is returned by Create when an entry for the term is already present.
	ErrExists = errors.New("trending entry already exists")
	// ErrConflict is returned by Update when the stored count no longer matches
	// the expected value the caller read.
	ErrConflict = errors.New("trending entry changed concurrently")
)

// Store is the counter-store surface the aggregator issues requests against:
// equality lookup, create, compare-and-set update and an ordered bounded listing.
// The store is the sole writer of truth; this process never caches counts.
type Store interface {
	Find(ctx context.Context, term string) (domain.TrendingEntry, bool, error)
	Create(ctx context.Context, entry domain.TrendingEntry) error
	Update(ctx context.Context, term string, count, expected int64) error
	Top(ctx context.Context, limit int) ([]domain.TrendingEntry, error)
}

// AtomicIncrementer is an optional fast path for stores that can perform
// increment-or-create in a single atomic operation, avoiding the
// read-then-write round trip entirely.
type AtomicIncrementer interface {
	IncrementOrCreate(ctx context.Context, term string, representative domain.MovieRecord) (created bool, err error)
}
