package domain

import (
	"strings"
	"unicode/utf8"
)

// PosterSentinel is the "no image" marker the upstream catalog uses in place
// of a real poster URL.
const PosterSentinel = "N/A"

// MinQueryLength is the trimmed length below which a query is never dispatched.
const MinQueryLength = 3

// MovieRecord is one normalized search hit from the upstream catalog.
// The record is immutable once built; the sentinel poster value is already
// resolved to an empty string.
type MovieRecord struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Year      string  `json:"year,omitempty"`
	PosterURL string  `json:"posterUrl,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
}

// SearchOutcome is the gateway result consumed by the search controller.
// OK=false carries the upstream's own logical failure ("no results" etc.)
// in Message; it is not a transport error.
type SearchOutcome struct {
	OK      bool          `json:"ok"`
	Results []MovieRecord `json:"results"`
	Message string        `json:"message,omitempty"`
}

// TrendingEntry is the persisted popularity counter for one search term.
// Representative fields are set on first creation and never changed by
// subsequent increments.
type TrendingEntry struct {
	SearchTerm string `json:"searchTerm"`
	Count      int64  `json:"count"`
	MovieID    string `json:"movieId,omitempty"`
	Title      string `json:"title,omitempty"`
	PosterURL  string `json:"posterUrl,omitempty"`
}

// SessionState is the UI-facing state owned by one search controller.
type SessionState struct {
	RawTerm       string        `json:"rawTerm"`
	DebouncedTerm string        `json:"debouncedTerm"`
	Results       []MovieRecord `json:"results"`
	IsLoading     bool          `json:"isLoading"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
}

// Dispatchable reports whether a raw term is long enough to reach the
// gateway after trimming.
func Dispatchable(term string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(term)) >= MinQueryLength
}

// NormalizePoster resolves the upstream "no image" sentinel to an absent value.
func NormalizePoster(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == PosterSentinel {
		return ""
	}
	return trimmed
}
