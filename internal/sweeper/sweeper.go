// Package sweeper is the scheduled subscription-expiry pass. It does not
// schedule itself: cmd/sweeper (or the admin endpoint) triggers a run.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sudo-init-do/skillhub/internal/cache"
	"github.com/sudo-init-do/skillhub/internal/ledger"
	"github.com/sudo-init-do/skillhub/internal/metrics"
	"github.com/sudo-init-do/skillhub/internal/notify"
)

const (
	TitleExpiringSoon = "Subscription expiring soon"
	TitleExpired      = "Subscription expired"

	// dedupWindow is how far back a matching notification suppresses a new
	// one, for both the warning and the expiry notice.
	dedupWindow = 7 * 24 * time.Hour
)

// SubscriptionStore is the slice of subscription persistence the sweep reads
// and flips.
type SubscriptionStore interface {
	ExpiringActive(ctx context.Context, now time.Time, withinDays int) ([]ledger.Subscription, error)
	ExpiredActive(ctx context.Context, now time.Time) ([]ledger.Subscription, error)
	Deactivate(ctx context.Context, id string) (bool, error)
}

// Notifier is the dispatcher surface the sweep drives.
type Notifier interface {
	Notify(ctx context.Context, userID string, typ notify.PayloadType, title, message string, link *string) (string, error)
	HasRecent(ctx context.Context, userID, title string, since time.Time) (bool, error)
}

// Report is the structured result of one sweep.
type Report struct {
	ExpiringNotified   int      `json:"expiring_notified"`
	ExpiredNotified    int      `json:"expired_notified"`
	ExpiredDeactivated int      `json:"expired_deactivated"`
	Errors             []string `json:"errors"`
}

type Sweeper struct {
	subs     SubscriptionStore
	notifier Notifier
	cache    cache.Invalidator
	log      *slog.Logger
	warnDays int
}

func New(subs SubscriptionStore, n Notifier, inv cache.Invalidator, log *slog.Logger, warnDays int) *Sweeper {
	if warnDays <= 0 {
		warnDays = 7
	}
	return &Sweeper{subs: subs, notifier: n, cache: inv, log: log, warnDays: warnDays}
}

// Run executes one sweep against the given instant. Idempotent: re-running
// for the same instant adds no notifications and deactivates nothing new.
// Per-item failures land in the report instead of aborting the batch.
func (s *Sweeper) Run(ctx context.Context, now time.Time) Report {
	metrics.SweepsRun.Inc()
	var report Report

	expiring, err := s.subs.ExpiringActive(ctx, now, s.warnDays)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list expiring: %v", err))
	}
	for _, sub := range expiring {
		daysRemaining := int(sub.EndDate.Sub(now).Hours() / 24)
		if daysRemaining != s.warnDays {
			continue
		}
		sent, err := s.notifyOnce(ctx, now, sub.UserID, TitleExpiringSoon,
			fmt.Sprintf("Your subscription expires in %d days. Renew to keep your remaining %d credits usable.",
				s.warnDays, sub.RemainingCredits))
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("expiring %s: %v", sub.ID, err))
			continue
		}
		if sent {
			report.ExpiringNotified++
		}
	}

	expired, err := s.subs.ExpiredActive(ctx, now)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list expired: %v", err))
	}
	for _, sub := range expired {
		sent, err := s.notifyOnce(ctx, now, sub.UserID, TitleExpired,
			"Your subscription has expired. Purchase a new package to keep opening requests.")
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("expired notify %s: %v", sub.ID, err))
			// Still deactivate: one user's notification failure must not keep
			// the lapsed row active.
		} else if sent {
			report.ExpiredNotified++
		}

		flipped, err := s.subs.Deactivate(ctx, sub.ID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("deactivate %s: %v", sub.ID, err))
			continue
		}
		if flipped {
			report.ExpiredDeactivated++
			s.cache.Invalidate(ctx, "subscription", sub.ID, "user:"+sub.UserID)
		}
	}

	s.log.Info("sweep finished",
		"expiring_notified", report.ExpiringNotified,
		"expired_notified", report.ExpiredNotified,
		"expired_deactivated", report.ExpiredDeactivated,
		"errors", len(report.Errors))
	return report
}

// notifyOnce sends unless a matching notification already exists inside the
// dedup window. Returns whether a notification was created.
func (s *Sweeper) notifyOnce(ctx context.Context, now time.Time, userID, title, message string) (bool, error) {
	recent, err := s.notifier.HasRecent(ctx, userID, title, now.Add(-dedupWindow))
	if err != nil {
		return false, err
	}
	if recent {
		return false, nil
	}
	link := "/subscription"
	if _, err := s.notifier.Notify(ctx, userID, notify.TypeGeneral, title, message, &link); err != nil {
		return false, err
	}
	return true, nil
}
