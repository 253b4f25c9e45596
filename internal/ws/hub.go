package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/wire"
)

// Conn is the transport-layer handle the registry owns. *websocket.Conn
// satisfies it; tests substitute an in-memory fake.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// handle binds one live connection to an identity. Writes are serialized
// because the underlying websocket allows a single writer.
type handle struct {
	conn    Conn
	writeMu sync.Mutex
}

func (h *handle) write(env wire.Envelope) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteJSON(env)
}

// Hub is the connection registry: the single source of truth for which
// identities are reachable right now. One handle per identity,
// last-write-wins when the same identity connects twice.
type Hub struct {
	presence domain.PresenceStore

	mu      sync.RWMutex
	handles map[string]*handle
	records map[string]domain.PresenceRecord
}

func NewHub(presence domain.PresenceStore) *Hub {
	return &Hub{
		presence: presence,
		handles:  make(map[string]*handle),
		records:  make(map[string]domain.PresenceRecord),
	}
}

// Register binds identity to conn, marks it reachable and announces the
// change to every other connection. A previous handle for the same
// identity is closed and superseded.
func (h *Hub) Register(identity string, conn Conn) {
	now := time.Now()

	h.mu.Lock()
	old, had := h.handles[identity]
	if had {
		old.conn.Close()
	}
	h.handles[identity] = &handle{conn: conn}
	h.records[identity] = domain.PresenceRecord{Identity: identity, Reachable: true, LastSeen: now}
	h.mu.Unlock()

	// A reconnect supersedes silently; the identity never went offline.
	if !had {
		h.broadcastPresence(identity, true, now)
	}
	h.persistOnline(identity, true, now)
}

// Unregister removes the binding on transport close and reports whether it
// did. A stale disconnect of a handle that was already superseded by
// Register is a no-op returning false; the identity is still reachable and
// its state must not be torn down.
func (h *Hub) Unregister(identity string, conn Conn) bool {
	now := time.Now()

	h.mu.Lock()
	cur, ok := h.handles[identity]
	if !ok || cur.conn != conn {
		h.mu.Unlock()
		return false
	}
	delete(h.handles, identity)
	h.records[identity] = domain.PresenceRecord{Identity: identity, Reachable: false, LastSeen: now}
	h.mu.Unlock()

	h.broadcastPresence(identity, false, now)
	h.persistOnline(identity, false, now)
	return true
}

// Reachable reports whether identity has a live connection.
func (h *Hub) Reachable(identity string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.handles[identity]
	return ok
}

// Status returns a presence snapshot for an explicit poll. Identities the
// hub has never seen read as unreachable with a zero last-seen.
func (h *Hub) Status(identity string) domain.PresenceRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rec, ok := h.records[identity]; ok {
		return rec
	}
	return domain.PresenceRecord{Identity: identity}
}

// Emit sends one event to identity. Returns false when the identity is
// unreachable or the write fails; a failed connection is closed and will be
// cleaned up by its reader's Unregister.
func (h *Hub) Emit(identity string, eventType string, payload any) bool {
	h.mu.RLock()
	hd, ok := h.handles[identity]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	env, err := wire.NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("ws: encode %s for %s: %v", eventType, identity, err)
		return false
	}
	if err := hd.write(env); err != nil {
		hd.conn.Close()
		return false
	}
	return true
}

// broadcastPresence pushes a presence_changed event to every connection
// except the subject's own.
func (h *Hub) broadcastPresence(identity string, reachable bool, at time.Time) {
	env, err := wire.NewEnvelope(wire.EventPresenceChanged, wire.PresenceChanged{
		Identity:  identity,
		Reachable: reachable,
		LastSeen:  at,
	})
	if err != nil {
		log.Printf("ws: encode presence_changed: %v", err)
		return
	}

	h.mu.RLock()
	targets := make([]*handle, 0, len(h.handles))
	for id, hd := range h.handles {
		if id != identity {
			targets = append(targets, hd)
		}
	}
	h.mu.RUnlock()

	for _, hd := range targets {
		if err := hd.write(env); err != nil {
			hd.conn.Close()
		}
	}
}

// persistOnline mirrors the presence flip to the external store. Fire and
// forget: presence is best-effort and a store failure is not fatal.
func (h *Hub) persistOnline(identity string, online bool, at time.Time) {
	if h.presence == nil {
		return
	}
	go func() {
		if err := h.presence.SetOnline(context.Background(), identity, online, at); err != nil {
			log.Printf("ws: persist presence for %s: %v", identity, err)
		}
	}()
}
