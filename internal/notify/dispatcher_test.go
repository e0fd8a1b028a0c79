package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]*Notification
	fail bool
}

func newMemStore() *memStore { return &memStore{rows: map[string]*Notification{}} }

func (m *memStore) Insert(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("insert failed")
	}
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *memStore) MarkRead(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.IsRead = true
	return nil
}

func (m *memStore) MarkAllRead(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.rows {
		if n.UserID == userID {
			n.IsRead = true
		}
	}
	return nil
}

func (m *memStore) UnreadCount(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.rows {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *memStore) List(_ context.Context, userID string, _ int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.rows {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memStore) ExistsSince(_ context.Context, userID, title string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.rows {
		if n.UserID == userID && n.Title == title && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// pushRecorder fakes the live channel. err controls what Send returns.
type pushRecorder struct {
	mu   sync.Mutex
	sent []Payload
	err  error
}

func (p *pushRecorder) Send(_ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, payload.(Payload))
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestNotify(t *testing.T) {
	ctx := context.Background()

	t.Run("persists then pushes", func(t *testing.T) {
		store := newMemStore()
		push := &pushRecorder{}
		d := NewDispatcher(store, push, testLogger())

		link := "/requests/r1"
		id, err := d.Notify(ctx, "u1", TypeStatusChange, "Delivered", "check it", &link)
		if err != nil {
			t.Fatalf("notify: %v", err)
		}
		row, ok := store.rows[id]
		if !ok {
			t.Fatal("durable row missing")
		}
		if row.IsRead {
			t.Error("new notification must start unread")
		}
		if len(push.sent) != 1 || push.sent[0].Type != TypeStatusChange || push.sent[0].Title != "Delivered" {
			t.Errorf("pushed frame = %+v", push.sent)
		}
	})

	t.Run("push failure does not fail notify", func(t *testing.T) {
		store := newMemStore()
		push := &pushRecorder{err: errors.New("broken pipe")}
		d := NewDispatcher(store, push, testLogger())

		id, err := d.Notify(ctx, "u1", TypeGeneral, "Hello", "msg", nil)
		if err != nil {
			t.Fatalf("push failure must be swallowed, got %v", err)
		}
		if _, ok := store.rows[id]; !ok {
			t.Error("row must persist even when the push fails")
		}
	})

	t.Run("offline user still gets the row", func(t *testing.T) {
		store := newMemStore()
		d := NewDispatcher(store, &pushRecorder{err: ErrNotConnected}, testLogger())

		if _, err := d.Notify(ctx, "u1", TypeGeneral, "Hello", "msg", nil); err != nil {
			t.Fatalf("offline push must be silent: %v", err)
		}
		if count, _ := d.UnreadCount(ctx, "u1"); count != 1 {
			t.Errorf("unread count = %d, want 1", count)
		}
	})

	t.Run("store failure is the caller's problem", func(t *testing.T) {
		store := newMemStore()
		store.fail = true
		push := &pushRecorder{}
		d := NewDispatcher(store, push, testLogger())

		if _, err := d.Notify(ctx, "u1", TypeGeneral, "Hello", "msg", nil); err == nil {
			t.Fatal("expected error when the durable write fails")
		}
		if len(push.sent) != 0 {
			t.Error("must not push when the row was not written")
		}
	})
}

func TestReadTracking(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d := NewDispatcher(store, &pushRecorder{err: ErrNotConnected}, testLogger())

	id1, _ := d.Notify(ctx, "u1", TypeGeneral, "one", "m", nil)
	id2, _ := d.Notify(ctx, "u1", TypeGeneral, "two", "m", nil)
	_, _ = d.Notify(ctx, "u2", TypeGeneral, "other user", "m", nil)

	if count, _ := d.UnreadCount(ctx, "u1"); count != 2 {
		t.Fatalf("unread = %d, want 2", count)
	}

	if err := d.MarkRead(ctx, id1, "u1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if count, _ := d.UnreadCount(ctx, "u1"); count != 1 {
		t.Errorf("unread after mark = %d, want 1", count)
	}

	// Re-marking is idempotent.
	if err := d.MarkRead(ctx, id1, "u1"); err != nil {
		t.Errorf("second mark read: %v", err)
	}

	// Another user's row is invisible.
	if err := d.MarkRead(ctx, id2, "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user mark read: got %v, want ErrNotFound", err)
	}

	if err := d.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if count, _ := d.UnreadCount(ctx, "u1"); count != 0 {
		t.Errorf("unread after mark-all = %d, want 0", count)
	}
	if count, _ := d.UnreadCount(ctx, "u2"); count != 1 {
		t.Errorf("u2 unread = %d, want untouched 1", count)
	}
}

func TestHasRecent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d := NewDispatcher(store, &pushRecorder{err: ErrNotConnected}, testLogger())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	if _, err := d.Notify(ctx, "u1", TypeGeneral, "Subscription expiring soon", "7 days left", nil); err != nil {
		t.Fatalf("notify: %v", err)
	}

	got, err := d.HasRecent(ctx, "u1", "Subscription expiring soon", base.Add(-7*24*time.Hour))
	if err != nil || !got {
		t.Errorf("HasRecent inside window = %v, %v; want true", got, err)
	}

	got, _ = d.HasRecent(ctx, "u1", "Subscription expiring soon", base.Add(time.Hour))
	if got {
		t.Error("HasRecent with a later cutoff should be false")
	}

	got, _ = d.HasRecent(ctx, "u1", "Subscription expired", base.Add(-7*24*time.Hour))
	if got {
		t.Error("different title must not match")
	}
}
