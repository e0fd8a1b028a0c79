package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the pgx-backed Store.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore { return &PgStore{db: db} }

const subscriptionCols = `id, user_id, package_id, remaining_credits, start_date, end_date, is_active, cancelled_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.PackageID, &s.RemainingCredits,
		&s.StartDate, &s.EndDate, &s.IsActive, &s.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *PgStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (p *PgStore) ActiveForUser(ctx context.Context, userID string, now time.Time) (*Subscription, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions
		 WHERE user_id = $1 AND is_active AND end_date >= $2
		 ORDER BY end_date DESC LIMIT 1`, userID, now)
	sub, err := scanSubscription(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveSubscription
	}
	return sub, err
}

func (p *PgStore) DebitIfEnough(ctx context.Context, id string, amount int) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE subscriptions SET remaining_credits = remaining_credits - $2
		 WHERE id = $1 AND remaining_credits >= $2`, id, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PgStore) AddCredits(ctx context.Context, id string, amount int) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE subscriptions SET remaining_credits = remaining_credits + $2
		 WHERE id = $1`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PgStore) Insert(ctx context.Context, s *Subscription) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO subscriptions (id, user_id, package_id, remaining_credits, start_date, end_date, is_active, cancelled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.PackageID, s.RemainingCredits, s.StartDate, s.EndDate, s.IsActive, s.CancelledAt)
	return err
}

func (p *PgStore) DeactivateForUser(ctx context.Context, userID string) error {
	_, err := p.db.Exec(ctx,
		`UPDATE subscriptions SET is_active = FALSE WHERE user_id = $1 AND is_active`, userID)
	return err
}

func (p *PgStore) GetPackage(ctx context.Context, id string) (*Package, error) {
	var pkg Package
	err := p.db.QueryRow(ctx,
		`SELECT id, name, credits, duration_days, max_free_revisions, revision_unit_cost, is_active
		 FROM packages WHERE id = $1`, id).
		Scan(&pkg.ID, &pkg.Name, &pkg.Credits, &pkg.DurationDays,
			&pkg.MaxFreeRevisions, &pkg.RevisionUnitCost, &pkg.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}
