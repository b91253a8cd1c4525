// Package archive persists terminal submission records.
package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fd1az/arbitrage-pipeline/business/submission/app"
	"github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
	"github.com/fd1az/arbitrage-pipeline/internal/config"
)

// Backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// DefaultMemoryCapacity bounds the in-memory archive.
const DefaultMemoryCapacity = 10_000

// Open connects the backend selected by cfg.
func Open(ctx context.Context, cfg config.ArchiveConfig) (app.Archive, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(DefaultMemoryCapacity), nil
	case BackendRedis:
		return NewRedis(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case BackendPostgres:
		return NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithContext(fmt.Sprintf("unknown archive backend %q", cfg.Backend)))
	}
}

func encode(r domain.Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, apperror.New(apperror.CodeArchiveWriteFailed,
			apperror.WithCause(err),
			apperror.WithContext("encode record "+r.BundleID.String()))
	}
	return data, nil
}

func decode(data []byte) (domain.Record, error) {
	var r domain.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

func notFound(id string) error {
	return apperror.New(apperror.CodeNotFound, apperror.WithContext("submission record "+id))
}
