package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sudo-init-do/skillhub/internal/cache"
)

// memStore honors the same conditional-update semantics as the pg store,
// guarded by a mutex so concurrency tests exercise real interleavings.
type memStore struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	packages map[string]*Package
}

func newMemStore() *memStore {
	return &memStore{subs: map[string]*Subscription{}, packages: map[string]*Package{}}
}

func (m *memStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ActiveForUser(_ context.Context, userID string, now time.Time) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Subscription
	for _, s := range m.subs {
		if s.UserID == userID && s.IsActive && !s.EndDate.Before(now) {
			if best == nil || s.EndDate.After(best.EndDate) {
				best = s
			}
		}
	}
	if best == nil {
		return nil, ErrNoActiveSubscription
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) DebitIfEnough(_ context.Context, id string, amount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.RemainingCredits < amount {
		return false, nil
	}
	s.RemainingCredits -= amount
	return true, nil
}

func (m *memStore) AddCredits(_ context.Context, id string, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	s.RemainingCredits += amount
	return nil
}

func (m *memStore) Insert(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *memStore) DeactivateForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
		}
	}
	return nil
}

func (m *memStore) GetPackage(_ context.Context, id string) (*Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	cp := *p
	return &cp, nil
}

func testService(store *memStore) *Service {
	svc := NewService(store, cache.Noop{}, slog.New(slog.NewTextHandler(testWriter{}, nil)))
	return svc
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func seedSub(store *memStore, id, userID string, credits int, end time.Time) {
	store.subs[id] = &Subscription{
		ID: id, UserID: userID, PackageID: "pkg", RemainingCredits: credits,
		StartDate: end.AddDate(0, -1, 0), EndDate: end, IsActive: true,
	}
}

func TestDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("debit leaves remainder", func(t *testing.T) {
		store := newMemStore()
		seedSub(store, "s1", "u1", 5, time.Now().Add(72*time.Hour))
		svc := testService(store)

		// base 3 + medium surcharge 1
		if err := svc.Debit(ctx, "s1", 4); err != nil {
			t.Fatalf("debit: %v", err)
		}
		sub, _ := store.Get(ctx, "s1")
		if sub.RemainingCredits != 1 {
			t.Errorf("remaining = %d, want 1", sub.RemainingCredits)
		}
	})

	t.Run("insufficient leaves balance untouched", func(t *testing.T) {
		store := newMemStore()
		seedSub(store, "s1", "u1", 1, time.Now().Add(72*time.Hour))
		svc := testService(store)

		err := svc.Debit(ctx, "s1", 4)
		var ice InsufficientCreditsError
		if !errors.As(err, &ice) {
			t.Fatalf("expected InsufficientCreditsError, got %v", err)
		}
		if ice.Required != 4 || ice.Available != 1 {
			t.Errorf("error detail = %+v, want required 4 available 1", ice)
		}
		sub, _ := store.Get(ctx, "s1")
		if sub.RemainingCredits != 1 {
			t.Errorf("remaining = %d, want 1", sub.RemainingCredits)
		}
	})

	t.Run("unknown subscription", func(t *testing.T) {
		svc := testService(newMemStore())
		if err := svc.Debit(ctx, "nope", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		store := newMemStore()
		seedSub(store, "s1", "u1", 5, time.Now().Add(72*time.Hour))
		if err := testService(store).Debit(ctx, "s1", -1); err == nil {
			t.Error("expected error for negative debit")
		}
	})
}

func TestDebit_ConcurrentNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedSub(store, "s1", "u1", 5, time.Now().Add(72*time.Hour))
	svc := testService(store)

	var wg sync.WaitGroup
	var okCount int32
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Debit(ctx, "s1", 1); err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sub, _ := store.Get(ctx, "s1")
	if okCount != 5 {
		t.Errorf("successful debits = %d, want 5", okCount)
	}
	if sub.RemainingCredits != 0 {
		t.Errorf("remaining = %d, want 0", sub.RemainingCredits)
	}
	if sub.RemainingCredits < 0 {
		t.Fatal("balance went negative")
	}
}

func TestCredit(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedSub(store, "s1", "u1", 2, time.Now().Add(72*time.Hour))
	svc := testService(store)

	if err := svc.Credit(ctx, "s1", 4); err != nil {
		t.Fatalf("credit: %v", err)
	}
	sub, _ := store.Get(ctx, "s1")
	if sub.RemainingCredits != 6 {
		t.Errorf("remaining = %d, want 6", sub.RemainingCredits)
	}
}

func TestActive(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("expired row is not active", func(t *testing.T) {
		store := newMemStore()
		seedSub(store, "s1", "u1", 5, now.Add(-24*time.Hour))
		_, err := testService(store).Active(ctx, "u1")
		if !errors.Is(err, ErrNoActiveSubscription) {
			t.Errorf("expected ErrNoActiveSubscription, got %v", err)
		}
	})

	t.Run("deactivated row is not active", func(t *testing.T) {
		store := newMemStore()
		seedSub(store, "s1", "u1", 5, now.Add(72*time.Hour))
		store.subs["s1"].IsActive = false
		_, err := testService(store).Active(ctx, "u1")
		if !errors.Is(err, ErrNoActiveSubscription) {
			t.Errorf("expected ErrNoActiveSubscription, got %v", err)
		}
	})

	t.Run("live row is returned", func(t *testing.T) {
		store := newMemStore()
		seedSub(store, "s1", "u1", 5, now.Add(72*time.Hour))
		sub, err := testService(store).Active(ctx, "u1")
		if err != nil {
			t.Fatalf("active: %v", err)
		}
		if sub.ID != "s1" {
			t.Errorf("got %s, want s1", sub.ID)
		}
	})
}

func TestPurchase_ReplacesActiveSubscription(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.packages["p1"] = &Package{
		ID: "p1", Name: "Starter", Credits: 10, DurationDays: 30,
		MaxFreeRevisions: 1, RevisionUnitCost: 2, IsActive: true,
	}
	seedSub(store, "old", "u1", 3, time.Now().Add(72*time.Hour))
	svc := testService(store)

	sub, err := svc.Purchase(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if sub.RemainingCredits != 10 {
		t.Errorf("credits = %d, want 10", sub.RemainingCredits)
	}

	// At most one active subscription per user.
	active, err := svc.Active(ctx, "u1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != sub.ID {
		t.Errorf("active = %s, want the new subscription %s", active.ID, sub.ID)
	}
	old, _ := store.Get(ctx, "old")
	if old.IsActive {
		t.Error("previous subscription should be deactivated")
	}
}

func TestPurchase_InactivePackage(t *testing.T) {
	store := newMemStore()
	store.packages["p1"] = &Package{ID: "p1", Credits: 10, DurationDays: 30}
	_, err := testService(store).Purchase(context.Background(), "u1", "p1")
	if !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("expected ErrPackageNotFound, got %v", err)
	}
}
