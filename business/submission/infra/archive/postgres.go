package archive

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fd1az/arbitrage-pipeline/business/submission/app"
	"github.com/fd1az/arbitrage-pipeline/business/submission/domain"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ app.Archive = (*Postgres)(nil)

// Postgres stores records in the submission_records table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and applies pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithCause(err),
			apperror.WithContext("postgres archive connect"))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithCause(err),
			apperror.WithContext("postgres archive ping"))
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// migrate applies embedded migrations in filename order, tracking them in
// schema_migrations.
func (p *Postgres) migrate(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := p.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		if err := p.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)",
			entry.Name(),
		).Scan(&applied); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}

		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", entry.Name()); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Save upserts r.
func (p *Postgres) Save(ctx context.Context, r domain.Record) error {
	data, err := encode(r)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO submission_records (bundle_id, opportunity_id, kind, route, state, reason, target_block, included_block, attempts, resubmissions, expected_profit, submitted_at, updated_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (bundle_id) DO UPDATE SET
			state = EXCLUDED.state,
			reason = EXCLUDED.reason,
			target_block = EXCLUDED.target_block,
			included_block = EXCLUDED.included_block,
			attempts = EXCLUDED.attempts,
			resubmissions = EXCLUDED.resubmissions,
			updated_at = EXCLUDED.updated_at,
			record = EXCLUDED.record`,
		r.BundleID, r.OpportunityID, string(r.Kind), r.Route, string(r.State), string(r.Reason),
		int64(r.TargetBlock), int64(r.IncludedBlock), r.Attempts, r.Resubmissions,
		r.ExpectedProfit.String(), r.SubmittedAt, r.UpdatedAt, data,
	)
	if err != nil {
		return apperror.New(apperror.CodeArchiveWriteFailed,
			apperror.WithCause(err),
			apperror.WithContext("postgres save "+r.BundleID.String()))
	}
	return nil
}

// Get returns the record for bundleID.
func (p *Postgres) Get(ctx context.Context, bundleID uuid.UUID) (domain.Record, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		"SELECT record FROM submission_records WHERE bundle_id = $1", bundleID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, notFound(bundleID.String())
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("postgres: get record %s: %w", bundleID, err)
	}
	return decode(data)
}

// Recent returns up to limit records, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		"SELECT record FROM submission_records ORDER BY updated_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list records: %w", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		r, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close shuts down the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
