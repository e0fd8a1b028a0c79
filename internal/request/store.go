package request

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sudo-init-do/skillhub/internal/pricing"
)

// PgStore is the pgx-backed Store. The debit/refund pairings run as single
// transactions; the conditional update on the subscriptions table decides
// whether the whole transaction lands.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore { return &PgStore{db: db} }

const requestCols = `id, client_id, provider_id, service_type_id, subscription_id, status, priority,
	credit_cost, base_credit_cost, priority_credit_cost, current_revision_count, total_revisions,
	is_revision, revision_type, attribute_responses, rating, rating_comment, created_at, completed_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var priority int
	err := row.Scan(&r.ID, &r.ClientID, &r.ProviderID, &r.ServiceTypeID, &r.SubscriptionID,
		&r.Status, &priority, &r.CreditCost, &r.BaseCreditCost, &r.PriorityCreditCost,
		&r.CurrentRevisionCount, &r.TotalRevisions, &r.IsRevision, &r.RevisionType,
		&r.AttributeResponses, &r.Rating, &r.RatingComment, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Priority = pricing.Priority(priority)
	return &r, nil
}

func (p *PgStore) Get(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRow(ctx, `SELECT `+requestCols+` FROM requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PgStore) CreateWithDebit(ctx context.Context, r *Request) (bool, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE subscriptions SET remaining_credits = remaining_credits - $2
		 WHERE id = $1 AND remaining_credits >= $2`, r.SubscriptionID, r.CreditCost)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO requests (id, client_id, service_type_id, subscription_id, status, priority,
		   credit_cost, base_credit_cost, priority_credit_cost, attribute_responses, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ClientID, r.ServiceTypeID, r.SubscriptionID, r.Status, int(r.Priority),
		r.CreditCost, r.BaseCreditCost, r.PriorityCreditCost, r.AttributeResponses, r.CreatedAt)
	if err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// Claim assigns and approves in one statement. The provider_id IS NULL guard
// is what loses the race for the second claimant.
func (p *PgStore) Claim(ctx context.Context, id, providerID string) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE requests SET provider_id = $2, status = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4 AND provider_id IS NULL`,
		id, providerID, StatusApproved, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PgStore) Transition(ctx context.Context, id string, from, to Status, completedAt *time.Time) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE requests SET status = $3, completed_at = COALESCE($4, completed_at), updated_at = NOW()
		 WHERE id = $1 AND status = $2`, id, from, to, completedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PgStore) RevisionWithDebit(ctx context.Context, id string, from Status, subscriptionID string, debit int, kind pricing.RevisionKind) (bool, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if debit > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE subscriptions SET remaining_credits = remaining_credits - $2
			 WHERE id = $1 AND remaining_credits >= $2`, subscriptionID, debit)
		if err != nil {
			return false, err
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE requests SET status = $3,
		   current_revision_count = current_revision_count + 1,
		   total_revisions = total_revisions + 1,
		   is_revision = TRUE,
		   revision_type = $4,
		   credit_cost = credit_cost + $5,
		   updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, from, StatusRevisionRequested, string(kind), debit)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	return true, tx.Commit(ctx)
}

func (p *PgStore) CancelWithRefund(ctx context.Context, id, subscriptionID string, refund int) (bool, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE requests SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, StatusCancelled, StatusCompleted, StatusCancelled)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if refund > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE subscriptions SET remaining_credits = remaining_credits + $2
			 WHERE id = $1`, subscriptionID, refund)
		if err != nil {
			return false, err
		}
	}

	return true, tx.Commit(ctx)
}

func (p *PgStore) Rate(ctx context.Context, id string, rating int, comment *string) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`UPDATE requests SET rating = $2, rating_comment = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4 AND rating IS NULL`,
		id, rating, comment, StatusCompleted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PgStore) ListOpen(ctx context.Context) ([]Request, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+requestCols+` FROM requests
		 WHERE provider_id IS NULL AND status = $1
		 ORDER BY created_at`, StatusPending)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (p *PgStore) ListForUser(ctx context.Context, userID string) ([]Request, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+requestCols+` FROM requests
		 WHERE client_id = $1 OR provider_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	defer rows.Close()
	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
