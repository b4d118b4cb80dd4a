package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arenabook/chatcore/internal/cache"
	"github.com/arenabook/chatcore/internal/gateway"
)

// Key identifies a conversation before a room id exists.
type Key struct {
	CounterpartyKind string
	CounterpartyID   string
	ContextID        string
}

func (k Key) String() string {
	return k.CounterpartyKind + "/" + k.CounterpartyID + "/" + k.ContextID
}

// ProvisioningError reports a rejected create-room call. It aborts the
// caller's operation and leaves the resolver's index untouched; there is no
// retry loop without new user intent.
type ProvisioningError struct {
	Key Key
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision room for %s: %v", e.Key, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Resolver maps counterparty/context pairs to room ids. Rooms are created
// lazily, on first actual intent to communicate, and concurrent
// provisioning attempts for the same key collapse into one create-room
// call via per-key request coalescing.
type Resolver struct {
	api     gateway.RoomAPI
	cache   *cache.Cache
	logger  *zap.Logger
	timeout time.Duration

	mu    sync.Mutex
	index map[Key]string

	group singleflight.Group
}

// NewResolver creates a resolver. cache may be nil (no durable index).
func NewResolver(api gateway.RoomAPI, c *cache.Cache, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		api:     api,
		cache:   c,
		logger:  logger,
		timeout: timeout,
		index:   make(map[Key]string),
	}
}

// Handle is the resolved view of one conversation. RoomID is empty while
// the room is provisional.
type Handle struct {
	key Key
	r   *Resolver
}

// Resolve returns a handle for the counterparty/context pair. Known rooms
// (in-memory index first, then the durable cache index) resolve
// immediately; otherwise the handle stays provisional until
// EnsureProvisioned is called.
func (r *Resolver) Resolve(counterpartyKind, counterpartyID, contextID string) *Handle {
	key := Key{counterpartyKind, counterpartyID, contextID}

	r.mu.Lock()
	_, known := r.index[key]
	r.mu.Unlock()

	if !known && r.cache != nil {
		if roomID, ok := r.cache.LookupRoomID(counterpartyKind, counterpartyID, contextID); ok {
			r.mu.Lock()
			r.index[key] = roomID
			r.mu.Unlock()
		}
	}
	return &Handle{key: key, r: r}
}

// Key returns the conversation key behind the handle.
func (h *Handle) Key() Key { return h.key }

// RoomID returns the resolved room id, or "" while provisional.
func (h *Handle) RoomID() string {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.r.index[h.key]
}

// EnsureProvisioned returns the room id, creating the room on the server
// if needed. Concurrent calls for the same key are coalesced into a single
// create-room request; every caller receives the same room id. A caller
// whose context expires is unblocked without cancelling the shared call.
func (h *Handle) EnsureProvisioned(ctx context.Context) (string, error) {
	if roomID := h.RoomID(); roomID != "" {
		return roomID, nil
	}

	ch := h.r.group.DoChan(h.key.String(), func() (any, error) {
		// Re-check under coalescing: a prior winner may have filled the
		// index between our RoomID check and this call.
		if roomID := h.RoomID(); roomID != "" {
			return roomID, nil
		}
		callCtx, cancel := context.WithTimeout(context.Background(), h.r.timeout)
		defer cancel()

		room, err := h.r.api.CreateRoom(callCtx, h.key.CounterpartyKind, h.key.CounterpartyID, h.key.ContextID)
		if err != nil {
			return nil, &ProvisioningError{Key: h.key, Err: err}
		}

		h.r.mu.Lock()
		h.r.index[h.key] = room.ID
		h.r.mu.Unlock()
		if h.r.cache != nil {
			h.r.cache.SaveRoomID(h.key.CounterpartyKind, h.key.CounterpartyID, h.key.ContextID, room.ID)
		}
		h.r.logger.Info("room provisioned",
			zap.String("room_id", room.ID), zap.String("key", h.key.String()))
		return room.ID, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Record stores a known room id directly, e.g. from a prior room list
// fetch or an authoritative get-room response.
func (r *Resolver) Record(key Key, roomID string) {
	r.mu.Lock()
	r.index[key] = roomID
	r.mu.Unlock()
	if r.cache != nil {
		r.cache.SaveRoomID(key.CounterpartyKind, key.CounterpartyID, key.ContextID, roomID)
	}
}
