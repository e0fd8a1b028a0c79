package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore { return &PgStore{db: db} }

func (p *PgStore) Insert(ctx context.Context, n *Notification) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO notifications (id, user_id, title, message, link, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		n.ID, n.UserID, n.Title, n.Message, n.Link, n.CreatedAt)
	return err
}

func (p *PgStore) MarkRead(ctx context.Context, id, userID string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already-read: already-read matches above.
		var exists bool
		if err := p.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)`,
			id, userID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (p *PgStore) MarkAllRead(ctx context.Context, userID string) error {
	_, err := p.db.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	return err
}

func (p *PgStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := p.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).
		Scan(&count)
	return count, err
}

func (p *PgStore) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(ctx,
		`SELECT id, user_id, title, message, link, is_read, created_at
		 FROM notifications WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PgStore) ExistsSince(ctx context.Context, userID, title string, since time.Time) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE user_id = $1 AND title = $2 AND created_at >= $3
		 )`, userID, title, since).Scan(&exists)
	return exists, err
}
