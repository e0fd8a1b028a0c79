package sweeper

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudo-init-do/skillhub/internal/ledger"
)

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore { return &PgStore{db: db} }

const subscriptionCols = `id, user_id, package_id, remaining_credits, start_date, end_date, is_active, cancelled_at`

func (p *PgStore) ExpiringActive(ctx context.Context, now time.Time, withinDays int) ([]ledger.Subscription, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions
		 WHERE is_active AND end_date >= $1 AND end_date <= $1 + make_interval(days => $2)`,
		now, withinDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Subscription
	for rows.Next() {
		var s ledger.Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.PackageID, &s.RemainingCredits,
			&s.StartDate, &s.EndDate, &s.IsActive, &s.CancelledAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PgStore) ExpiredActive(ctx context.Context, now time.Time) ([]ledger.Subscription, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions
		 WHERE is_active AND end_date < $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Subscription
	for rows.Next() {
		var s ledger.Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.PackageID, &s.RemainingCredits,
			&s.StartDate, &s.EndDate, &s.IsActive, &s.CancelledAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Deactivate flips is_active off. Re-running on an already-inactive row
// matches nothing and reports false, which is what makes the sweep
// idempotent.
func (p *PgStore) Deactivate(ctx context.Context, id string) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE subscriptions SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
