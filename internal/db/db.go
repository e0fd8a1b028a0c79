package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool and verifies the database is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables the core needs if they do not exist yet.
// Safe to run on every boot.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS packages (
			id                  UUID PRIMARY KEY,
			name                TEXT NOT NULL,
			credits             INT NOT NULL CHECK (credits >= 0),
			duration_days       INT NOT NULL CHECK (duration_days > 0),
			max_free_revisions  INT NOT NULL DEFAULT 0,
			revision_unit_cost  INT NOT NULL DEFAULT 1,
			is_active           BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id                 UUID PRIMARY KEY,
			user_id            UUID NOT NULL,
			package_id         UUID NOT NULL REFERENCES packages(id),
			remaining_credits  INT NOT NULL CHECK (remaining_credits >= 0),
			start_date         TIMESTAMPTZ NOT NULL,
			end_date           TIMESTAMPTZ NOT NULL,
			is_active          BOOLEAN NOT NULL DEFAULT TRUE,
			cancelled_at       TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_active
			ON subscriptions (user_id) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS service_types (
			id                   UUID PRIMARY KEY,
			name                 TEXT NOT NULL,
			base_credit_cost     INT NOT NULL CHECK (base_credit_cost >= 0),
			priority_cost_low    INT NOT NULL DEFAULT 0,
			priority_cost_medium INT NOT NULL DEFAULT 1,
			priority_cost_high   INT NOT NULL DEFAULT 2,
			attributes           JSONB NOT NULL DEFAULT '[]',
			is_active            BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id                     UUID PRIMARY KEY,
			client_id              UUID NOT NULL,
			provider_id            UUID,
			service_type_id        UUID NOT NULL REFERENCES service_types(id),
			subscription_id        UUID NOT NULL REFERENCES subscriptions(id),
			status                 TEXT NOT NULL,
			priority               INT NOT NULL,
			credit_cost            INT NOT NULL,
			base_credit_cost       INT NOT NULL,
			priority_credit_cost   INT NOT NULL,
			current_revision_count INT NOT NULL DEFAULT 0,
			total_revisions        INT NOT NULL DEFAULT 0,
			is_revision            BOOLEAN NOT NULL DEFAULT FALSE,
			revision_type          TEXT,
			attribute_responses    JSONB NOT NULL DEFAULT '[]',
			rating                 INT,
			rating_comment         TEXT,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at           TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_open
			ON requests (created_at) WHERE provider_id IS NULL AND status = 'PENDING'`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id         UUID PRIMARY KEY,
			user_id    UUID NOT NULL,
			title      TEXT NOT NULL,
			message    TEXT NOT NULL,
			link       TEXT,
			is_read    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user
			ON notifications (user_id, created_at DESC)`,
	}

	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
