package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/skillhub/internal/metrics"
)

var ErrNotFound = errors.New("notify: notification not found")

// Store persists notification rows.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
	ExistsSince(ctx context.Context, userID, title string, since time.Time) (bool, error)
}

// Pusher is the live channel. ErrNotConnected from Send means no stream is
// registered for the user; any other error is a dead stream the registry has
// already cleaned up.
type Pusher interface {
	Send(userID string, payload any) error
}

// ErrNotConnected is returned by a Pusher when the user has no open stream.
var ErrNotConnected = errors.New("notify: user not connected")

// Dispatcher writes the durable row first and then attempts the live push.
// Push failures are swallowed and logged: the toast is best-effort, the row
// and the unread count are the guarantee.
type Dispatcher struct {
	store  Store
	pusher Pusher
	log    *slog.Logger
	now    func() time.Time
}

func NewDispatcher(store Store, pusher Pusher, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, pusher: pusher, log: log, now: time.Now}
}

// Notify persists and then pushes. The returned ID is the durable row's; an
// error means the row was not written.
func (d *Dispatcher) Notify(ctx context.Context, userID string, typ PayloadType, title, message string, link *string) (string, error) {
	n := &Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Link:      link,
		CreatedAt: d.now(),
	}
	if err := d.store.Insert(ctx, n); err != nil {
		return "", err
	}
	metrics.NotificationsCreated.Inc()

	payload := Payload{Type: typ, Title: title, Message: message, Link: link, Timestamp: n.CreatedAt}
	if err := d.pusher.Send(userID, payload); err != nil {
		if errors.Is(err, ErrNotConnected) {
			metrics.RealtimePushes.WithLabelValues("offline").Inc()
		} else {
			metrics.RealtimePushes.WithLabelValues("failed").Inc()
			d.log.Warn("live push failed", "user", userID, "err", err)
		}
	} else {
		metrics.RealtimePushes.WithLabelValues("ok").Inc()
	}

	return n.ID, nil
}

// MarkRead flips one notification. Idempotent: re-marking a read row is fine.
func (d *Dispatcher) MarkRead(ctx context.Context, id, userID string) error {
	return d.store.MarkRead(ctx, id, userID)
}

// MarkAllRead flips every unread notification the user has.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) error {
	return d.store.MarkAllRead(ctx, userID)
}

// UnreadCount backs the badge in the client UI.
func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int, error) {
	return d.store.UnreadCount(ctx, userID)
}

// List returns the user's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	return d.store.List(ctx, userID, limit)
}

// HasRecent reports whether a notification with this title was already sent
// to the user since the given instant. The sweeper's dedup check.
func (d *Dispatcher) HasRecent(ctx context.Context, userID, title string, since time.Time) (bool, error) {
	return d.store.ExistsSince(ctx, userID, title, since)
}
