package trending

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"moviestream/searchservice/internal/domain"
)

const (
	redisCountsKey   = "msearch:trending:counts"
	redisEntryPrefix = "msearch:trending:entry:"
)

// RedisStore keeps one hash per term for the representative fields plus the
// authoritative count, and mirrors the count into a sorted set for the
// ordered top-N listing. Increment-or-create runs inside a single MULTI/EXEC
// block, so concurrent increments never lose updates.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func entryKey(term string) string {
	return redisEntryPrefix + term
}

func (r *RedisStore) IncrementOrCreate(ctx context.Context, term string, representative domain.MovieRecord) (bool, error) {
	pipe := r.client.TxPipeline()
	createdCmd := pipe.HSetNX(ctx, entryKey(term), "searchTerm", term)
	pipe.HSetNX(ctx, entryKey(term), "movieId", representative.ID)
	pipe.HSetNX(ctx, entryKey(term), "title", representative.Title)
	pipe.HSetNX(ctx, entryKey(term), "posterUrl", representative.PosterURL)
	pipe.HIncrBy(ctx, entryKey(term), "count", 1)
	pipe.ZIncrBy(ctx, redisCountsKey, 1, term)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return createdCmd.Val(), nil
}

func (r *RedisStore) Find(ctx context.Context, term string) (domain.TrendingEntry, bool, error) {
	fields, err := r.client.HGetAll(ctx, entryKey(term)).Result()
	if err != nil {
		return domain.TrendingEntry{}, false, err
	}
	if len(fields) == 0 {
		return domain.TrendingEntry{}, false, nil
	}
	return entryFromFields(term, fields), true, nil
}

func (r *RedisStore) Create(ctx context.Context, entry domain.TrendingEntry) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, entryKey(entry.SearchTerm)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, entryKey(entry.SearchTerm),
				"searchTerm", entry.SearchTerm,
				"movieId", entry.MovieID,
				"title", entry.Title,
				"posterUrl", entry.PosterURL,
				"count", entry.Count,
			)
			pipe.ZAdd(ctx, redisCountsKey, redis.Z{Score: float64(entry.Count), Member: entry.SearchTerm})
			return nil
		})
		return err
	}, entryKey(entry.SearchTerm))
	if errors.Is(err, redis.TxFailedErr) {
		return ErrExists
	}
	return err
}

func (r *RedisStore) Update(ctx context.Context, term string, count, expected int64) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, entryKey(term), "count").Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrConflict
			}
			return err
		}
		if current != expected {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, entryKey(term), "count", count)
			pipe.ZAdd(ctx, redisCountsKey, redis.Z{Score: float64(count), Member: term})
			return nil
		})
		return err
	}, entryKey(term))
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (r *RedisStore) Top(ctx context.Context, limit int) ([]domain.TrendingEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	members, err := r.client.ZRevRangeWithScores(ctx, redisCountsKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, member := range members {
		term, _ := member.Member.(string)
		cmds[i] = pipe.HGetAll(ctx, entryKey(term))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	entries := make([]domain.TrendingEntry, 0, len(members))
	for i, member := range members {
		term, _ := member.Member.(string)
		entry := entryFromFields(term, cmds[i].Val())
		entry.Count = int64(member.Score)
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func entryFromFields(term string, fields map[string]string) domain.TrendingEntry {
	count, _ := strconv.ParseInt(fields["count"], 10, 64)
	return domain.TrendingEntry{
		SearchTerm: term,
		Count:      count,
		MovieID:    fields["movieId"],
		Title:      fields["title"],
		PosterURL:  fields["posterUrl"],
	}
}
