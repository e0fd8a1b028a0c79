// Package realtime owns the per-user live push channel: one open stream per
// connected user, replaced on reconnect, kept alive by heartbeats, and
// removed on the first failed write.
package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sudo-init-do/skillhub/internal/notify"
)

// Stream is the minimal surface the registry needs from a transport
// connection. *websocket.Conn satisfies it.
type Stream interface {
	WriteJSON(v interface{}) error
	Close() error
}

type conn struct {
	stream  Stream
	writeMu sync.Mutex
	done    chan struct{}
}

func (c *conn) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.stream.WriteJSON(v)
}

// Registry is the process-wide userID → stream map. It is an owned,
// injected dependency, not a package-level singleton.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]*conn
	heartbeat time.Duration
	log       *slog.Logger
	now       func() time.Time
}

func NewRegistry(heartbeat time.Duration, log *slog.Logger) *Registry {
	return &Registry{
		conns:     make(map[string]*conn),
		heartbeat: heartbeat,
		log:       log,
		now:       time.Now,
	}
}

// Connect registers the stream for the user, silently superseding any prior
// one (a new browser tab wins; no multiplexing). It sends the one-time
// connected frame and starts the heartbeat. The returned release func
// removes this stream if it is still the registered one — safe to call after
// being superseded.
func (r *Registry) Connect(userID string, s Stream) (release func()) {
	c := &conn{stream: s, done: make(chan struct{})}

	r.mu.Lock()
	if old, ok := r.conns[userID]; ok {
		close(old.done)
		_ = old.stream.Close()
	}
	r.conns[userID] = c
	r.mu.Unlock()

	_ = c.write(notify.Payload{Type: notify.TypeConnected, Timestamp: r.now()})
	go r.heartbeatLoop(userID, c)

	return func() { r.drop(userID, c) }
}

// Disconnect removes whatever stream the user has. Idempotent.
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	c, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	r.mu.Unlock()
	if ok {
		close(c.done)
		_ = c.stream.Close()
	}
}

// Send pushes a payload to the user's stream. Returns notify.ErrNotConnected
// when no stream is registered. A write failure removes the stale handle so
// later sends don't keep hitting a dead connection.
func (r *Registry) Send(userID string, payload any) error {
	r.mu.Lock()
	c, ok := r.conns[userID]
	r.mu.Unlock()
	if !ok {
		return notify.ErrNotConnected
	}

	if err := c.write(payload); err != nil {
		r.drop(userID, c)
		return err
	}
	return nil
}

// Connected reports whether the user currently has a registered stream.
func (r *Registry) Connected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}

// drop removes the conn only if it is still the one registered for the user,
// so a superseded connection's cleanup can't evict its replacement.
func (r *Registry) drop(userID string, c *conn) {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if ok && cur == c {
		delete(r.conns, userID)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		close(c.done)
		_ = c.stream.Close()
	}
}

type heartbeatFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// heartbeatLoop keeps intermediary proxies from idling out the stream. Each
// connection heartbeats independently; a dead client only stalls its own
// loop until the write fails and the handle is dropped.
func (r *Registry) heartbeatLoop(userID string, c *conn) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(heartbeatFrame{Type: "heartbeat", Timestamp: r.now()}); err != nil {
				r.log.Debug("heartbeat failed, dropping stream", "user", userID, "err", err)
				r.drop(userID, c)
				return
			}
		}
	}
}
