package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/skillhub/internal/cache"
	"github.com/sudo-init-do/skillhub/internal/metrics"
)

var (
	ErrNotFound             = errors.New("ledger: subscription not found")
	ErrPackageNotFound      = errors.New("ledger: package not found")
	ErrNoActiveSubscription = errors.New("ledger: no active subscription")
)

// InsufficientCreditsError reports a debit the balance could not cover.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Available)
}

// Store is the persistence the ledger runs on. DebitIfEnough must be a single
// conditional update — the "matched zero rows" result is the only
// insufficient-balance signal; there is no read-then-write.
type Store interface {
	Get(ctx context.Context, id string) (*Subscription, error)
	ActiveForUser(ctx context.Context, userID string, now time.Time) (*Subscription, error)
	DebitIfEnough(ctx context.Context, id string, amount int) (bool, error)
	AddCredits(ctx context.Context, id string, amount int) error
	Insert(ctx context.Context, sub *Subscription) error
	DeactivateForUser(ctx context.Context, userID string) error
	GetPackage(ctx context.Context, id string) (*Package, error)
}

// Service enforces the credit rules: balances never go negative, refunds are
// explicit credits, a user holds at most one active subscription.
type Service struct {
	store Store
	cache cache.Invalidator
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, inv cache.Invalidator, log *slog.Logger) *Service {
	return &Service{store: store, cache: inv, log: log, now: time.Now}
}

// Debit atomically spends amount from the subscription. Concurrent debits
// against the same subscription are linearized by the conditional update.
func (s *Service) Debit(ctx context.Context, subscriptionID string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("ledger: negative debit %d", amount)
	}
	ok, err := s.store.DebitIfEnough(ctx, subscriptionID, amount)
	if err != nil {
		return err
	}
	if !ok {
		sub, err := s.store.Get(ctx, subscriptionID)
		if err != nil {
			return err
		}
		metrics.InsufficientCredits.Inc()
		return InsufficientCreditsError{Required: amount, Available: sub.RemainingCredits}
	}
	metrics.CreditsDebited.Add(float64(amount))
	s.cache.Invalidate(ctx, "subscription", subscriptionID)
	return nil
}

// Credit adds amount back to the subscription, e.g. a cancellation refund.
// Never expressed as a negative debit.
func (s *Service) Credit(ctx context.Context, subscriptionID string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("ledger: negative credit %d", amount)
	}
	if err := s.store.AddCredits(ctx, subscriptionID, amount); err != nil {
		return err
	}
	metrics.CreditsRefunded.Add(float64(amount))
	s.cache.Invalidate(ctx, "subscription", subscriptionID)
	return nil
}

// Active returns the user's current subscription: is_active and not yet past
// end_date. Expiry flips happen asynchronously in the sweeper, so the time
// filter here is what actually guards spending on a lapsed row.
func (s *Service) Active(ctx context.Context, userID string) (*Subscription, error) {
	return s.store.ActiveForUser(ctx, userID, s.now())
}

// Package resolves the package a subscription was bought from.
func (s *Service) Package(ctx context.Context, packageID string) (*Package, error) {
	return s.store.GetPackage(ctx, packageID)
}

// Purchase creates a subscription from a package, deactivating any prior
// active one so the at-most-one rule holds even when the sweeper lags. The
// registration-time free grant goes through this same path.
func (s *Service) Purchase(ctx context.Context, userID, packageID string) (*Subscription, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, ErrPackageNotFound
	}

	if err := s.store.DeactivateForUser(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now()
	sub := &Subscription{
		ID:               uuid.New().String(),
		UserID:           userID,
		PackageID:        pkg.ID,
		RemainingCredits: pkg.Credits,
		StartDate:        now,
		EndDate:          now.AddDate(0, 0, pkg.DurationDays),
		IsActive:         true,
	}
	if err := s.store.Insert(ctx, sub); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, "subscription", sub.ID, "user:"+userID)
	s.log.Info("subscription created", "user", userID, "package", pkg.Name, "credits", pkg.Credits)
	return sub, nil
}
