package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

// Runs against a live server when ARB_TEST_REDIS_ADDR is set.
func TestRedis_Live(t *testing.T) {
	addr := os.Getenv("ARB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ARB_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "arbtest:" + uuid.NewString() + ":"

	s, err := NewRedis(ctx, RedisConfig{Addr: addr, Prefix: prefix, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	older := record(domain.StateExpired)
	newer := record(domain.StateIncluded)
	newer.UpdatedAt = older.UpdatedAt.Add(time.Second)
	for _, r := range []domain.Record{older, newer} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.Get(ctx, newer.BundleID)
	if err != nil || got.State != domain.StateIncluded {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if _, err := s.Get(ctx, uuid.New()); !apperror.HasCode(err, apperror.CodeNotFound) {
		t.Errorf("missing record: err = %v", err)
	}

	recent, err := s.Recent(ctx, 10)
	if err != nil || len(recent) != 2 || recent[0].BundleID != newer.BundleID {
		t.Errorf("Recent = %v, %v", recent, err)
	}
}
