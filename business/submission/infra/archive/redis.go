package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fd1az/arbitrage-pipeline/business/submission/app"
	"github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

var _ app.Archive = (*Redis)(nil)

const defaultRedisPrefix = "arb:submission:"

// RedisConfig holds connection parameters for the redis archive.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires archived records; zero keeps them.
	TTL time.Duration
}

// Redis stores records as JSON values with a sorted-set index by update time.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithCause(err),
			apperror.WithContext("redis archive ping "+cfg.Addr))
	}
	return NewRedisFromClient(rdb, cfg.Prefix, cfg.TTL), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *Redis) recordKey(id string) string { return s.prefix + id }
func (s *Redis) indexKey() string         { return s.prefix + "index" }

// Save writes the record and indexes it by its update time.
func (s *Redis) Save(ctx context.Context, r domain.Record) error {
	data, err := encode(r)
	if err != nil {
		return err
	}

	id := r.BundleID.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.recordKey(id), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(r.UpdatedAt.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperror.New(apperror.CodeArchiveWriteFailed,
			apperror.WithCause(err),
			apperror.WithContext("redis save "+id))
	}
	return nil
}

// Get returns the record for bundleID.
func (s *Redis) Get(ctx context.Context, bundleID uuid.UUID) (domain.Record, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(bundleID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Record{}, notFound(bundleID.String())
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("redis: get record: %w", err)
	}
	return decode(data)
}

// Recent returns up to limit records, newest first. Index entries whose
// record has expired are skipped.
func (s *Redis) Recent(ctx context.Context, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget records: %w", err)
	}

	out := make([]domain.Record, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		r, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if len(stale) > 0 {
		_ = s.rdb.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	return out, nil
}

// Close closes the connection.
func (s *Redis) Close() error { return s.rdb.Close() }
