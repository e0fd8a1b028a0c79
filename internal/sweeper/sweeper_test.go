package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sudo-init-do/skillhub/internal/cache"
	"github.com/sudo-init-do/skillhub/internal/ledger"
	"github.com/sudo-init-do/skillhub/internal/notify"
)

type memSubs struct {
	mu            sync.Mutex
	subs          map[string]*ledger.Subscription
	deactivateErr map[string]error
}

func newMemSubs() *memSubs {
	return &memSubs{subs: map[string]*ledger.Subscription{}, deactivateErr: map[string]error{}}
}

func (m *memSubs) add(id, userID string, endDate time.Time, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[id] = &ledger.Subscription{
		ID: id, UserID: userID, PackageID: "pkg", RemainingCredits: credits,
		EndDate: endDate, IsActive: true,
	}
}

func (m *memSubs) ExpiringActive(_ context.Context, now time.Time, withinDays int) ([]ledger.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(time.Duration(withinDays) * 24 * time.Hour)
	var out []ledger.Subscription
	for _, s := range m.subs {
		if s.IsActive && s.EndDate.After(now) && !s.EndDate.After(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSubs) ExpiredActive(_ context.Context, now time.Time) ([]ledger.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Subscription
	for _, s := range m.subs {
		if s.IsActive && !s.EndDate.After(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSubs) Deactivate(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deactivateErr[id]; err != nil {
		return false, err
	}
	s, ok := m.subs[id]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	return true, nil
}

// memNotifier records notifications and answers HasRecent from them, like the
// dispatcher over its store would.
type memNotifier struct {
	mu    sync.Mutex
	notes []struct {
		UserID  string
		Title   string
		Created time.Time
	}
	failFor map[string]error
	clock   func() time.Time
}

func newMemNotifier(clock func() time.Time) *memNotifier {
	return &memNotifier{failFor: map[string]error{}, clock: clock}
}

func (m *memNotifier) Notify(_ context.Context, userID string, _ notify.PayloadType, title, _ string, _ *string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[userID]; err != nil {
		return "", err
	}
	m.notes = append(m.notes, struct {
		UserID  string
		Title   string
		Created time.Time
	}{userID, title, m.clock()})
	return fmt.Sprintf("n%d", len(m.notes)), nil
}

func (m *memNotifier) HasRecent(_ context.Context, userID, title string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notes {
		if n.UserID == userID && n.Title == title && !n.Created.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memNotifier) count(userID, title string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := 0
	for _, n := range m.notes {
		if n.UserID == userID && n.Title == title {
			c++
		}
	}
	return c
}

type sink struct{}

func (sink) Write(p []byte) (int, error) { return len(p), nil }

func newTestSweeper(subs *memSubs, n *memNotifier) *Sweeper {
	log := slog.New(slog.NewTextHandler(sink{}, nil))
	return New(subs, n, cache.Noop{}, log, 7)
}

var runAt = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func TestExpiringWarning(t *testing.T) {
	ctx := context.Background()

	t.Run("fires at exactly warn days", func(t *testing.T) {
		subs := newMemSubs()
		subs.add("s7", "u7", runAt.Add(7*24*time.Hour), 5)           // exactly 7 days
		subs.add("s6", "u6", runAt.Add(6*24*time.Hour+time.Hour), 3) // 6 days
		subs.add("s8", "u8", runAt.Add(8*24*time.Hour), 3)           // outside the window
		n := newMemNotifier(func() time.Time { return runAt })
		s := newTestSweeper(subs, n)

		report := s.Run(ctx, runAt)
		if report.ExpiringNotified != 1 {
			t.Errorf("expiring_notified = %d, want 1", report.ExpiringNotified)
		}
		if n.count("u7", TitleExpiringSoon) != 1 {
			t.Errorf("u7 warnings = %d, want 1", n.count("u7", TitleExpiringSoon))
		}
		if n.count("u6", TitleExpiringSoon) != 0 || n.count("u8", TitleExpiringSoon) != 0 {
			t.Error("only the exactly-7-days subscription should warn")
		}
	})

	t.Run("rerun is silent", func(t *testing.T) {
		subs := newMemSubs()
		subs.add("s7", "u7", runAt.Add(7*24*time.Hour), 5)
		n := newMemNotifier(func() time.Time { return runAt })
		s := newTestSweeper(subs, n)

		first := s.Run(ctx, runAt)
		second := s.Run(ctx, runAt)
		if first.ExpiringNotified != 1 || second.ExpiringNotified != 0 {
			t.Errorf("runs notified %d then %d, want 1 then 0",
				first.ExpiringNotified, second.ExpiringNotified)
		}
		if n.count("u7", TitleExpiringSoon) != 1 {
			t.Errorf("warnings = %d, want 1 total", n.count("u7", TitleExpiringSoon))
		}
	})
}

func TestExpiredSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("notifies and deactivates", func(t *testing.T) {
		subs := newMemSubs()
		subs.add("dead", "u1", runAt.Add(-time.Hour), 2)
		subs.add("live", "u2", runAt.Add(30*24*time.Hour), 9)
		n := newMemNotifier(func() time.Time { return runAt })
		s := newTestSweeper(subs, n)

		report := s.Run(ctx, runAt)
		if report.ExpiredNotified != 1 || report.ExpiredDeactivated != 1 {
			t.Errorf("report = %+v, want one notified and one deactivated", report)
		}
		if subs.subs["dead"].IsActive {
			t.Error("expired subscription should be deactivated")
		}
		if !subs.subs["live"].IsActive {
			t.Error("live subscription must be untouched")
		}
	})

	t.Run("rerun does nothing", func(t *testing.T) {
		subs := newMemSubs()
		subs.add("dead", "u1", runAt.Add(-time.Hour), 2)
		n := newMemNotifier(func() time.Time { return runAt })
		s := newTestSweeper(subs, n)

		_ = s.Run(ctx, runAt)
		second := s.Run(ctx, runAt)
		if second.ExpiredNotified != 0 || second.ExpiredDeactivated != 0 {
			t.Errorf("second run = %+v, want all zeros", second)
		}
		if n.count("u1", TitleExpired) != 1 {
			t.Errorf("expiry notices = %d, want 1", n.count("u1", TitleExpired))
		}
	})

	t.Run("notification failure still deactivates", func(t *testing.T) {
		subs := newMemSubs()
		subs.add("dead", "u1", runAt.Add(-time.Hour), 2)
		n := newMemNotifier(func() time.Time { return runAt })
		n.failFor["u1"] = errors.New("store down")
		s := newTestSweeper(subs, n)

		report := s.Run(ctx, runAt)
		if len(report.Errors) != 1 {
			t.Fatalf("errors = %v, want the notify failure recorded", report.Errors)
		}
		if subs.subs["dead"].IsActive {
			t.Error("deactivation must proceed despite the notification failure")
		}
		if report.ExpiredDeactivated != 1 {
			t.Errorf("expired_deactivated = %d, want 1", report.ExpiredDeactivated)
		}
	})

	t.Run("one bad item does not abort the batch", func(t *testing.T) {
		subs := newMemSubs()
		subs.add("bad", "u1", runAt.Add(-time.Hour), 0)
		subs.add("good", "u2", runAt.Add(-2*time.Hour), 0)
		subs.deactivateErr["bad"] = errors.New("deadlock")
		n := newMemNotifier(func() time.Time { return runAt })
		s := newTestSweeper(subs, n)

		report := s.Run(ctx, runAt)
		if !subs.subs["bad"].IsActive {
			t.Error("failed deactivate should leave the row active")
		}
		if subs.subs["good"].IsActive {
			t.Error("the other subscription must still be processed")
		}
		found := false
		for _, e := range report.Errors {
			if strings.Contains(e, "bad") {
				found = true
			}
		}
		if !found {
			t.Errorf("errors = %v, want the bad item reported", report.Errors)
		}
	})
}
