package cache

import (
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/arenabook/chatcore/internal/msgstore"
)

// Snapshot is the cached state of one room: the ordered messages as last
// seen, written on every store mutation and read once when a session
// attaches. It is a bridge over the reload/offline gap, not a source of
// truth; the authoritative fetch supersedes it wholesale.
type Snapshot struct {
	RoomID    string
	Messages  []msgstore.Envelope
	UpdatedAt int64
}

// Cache is the durable client-side cache. All writes are best-effort:
// failures are logged and swallowed, never surfaced to the user.
type Cache struct {
	db     *DB
	logger *zap.Logger
}

// New creates a cache over an opened, migrated database.
func New(db *DB, logger *zap.Logger) *Cache {
	return &Cache{db: db, logger: logger}
}

// SaveSnapshot persists a room snapshot, replacing any prior one.
func (c *Cache) SaveSnapshot(roomID string, messages []msgstore.Envelope) {
	data, err := json.Marshal(messages)
	if err != nil {
		c.logger.Warn("cache snapshot encode failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	_, err = c.db.Exec(`
		INSERT INTO room_snapshots (room_id, messages, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at`,
		roomID, string(data), time.Now().UnixMilli())
	if err != nil {
		c.logger.Warn("cache snapshot write failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

// LoadSnapshot returns the cached snapshot for a room, if any.
func (c *Cache) LoadSnapshot(roomID string) (*Snapshot, bool) {
	var data string
	var updatedAt int64
	err := c.db.QueryRow(`
		SELECT messages, updated_at FROM room_snapshots WHERE room_id = ?`,
		roomID).Scan(&data, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache snapshot read failed", zap.String("room_id", roomID), zap.Error(err))
		return nil, false
	}
	var messages []msgstore.Envelope
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		c.logger.Warn("cache snapshot decode failed", zap.String("room_id", roomID), zap.Error(err))
		return nil, false
	}
	return &Snapshot{RoomID: roomID, Messages: messages, UpdatedAt: updatedAt}, true
}

// SaveRoomID records the counterparty/context -> room mapping so resolution
// short-circuits across reloads.
func (c *Cache) SaveRoomID(counterpartyKind, counterpartyID, contextID, roomID string) {
	_, err := c.db.Exec(`
		INSERT INTO room_index (counterparty_kind, counterparty_id, context_id, room_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(counterparty_kind, counterparty_id, context_id) DO UPDATE SET
			room_id = excluded.room_id,
			updated_at = excluded.updated_at`,
		counterpartyKind, counterpartyID, contextID, roomID, time.Now().UnixMilli())
	if err != nil {
		c.logger.Warn("room index write failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

// LookupRoomID returns the cached room id for a counterparty/context pair.
func (c *Cache) LookupRoomID(counterpartyKind, counterpartyID, contextID string) (string, bool) {
	var roomID string
	err := c.db.QueryRow(`
		SELECT room_id FROM room_index
		WHERE counterparty_kind = ? AND counterparty_id = ? AND context_id = ?`,
		counterpartyKind, counterpartyID, contextID).Scan(&roomID)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		c.logger.Warn("room index read failed", zap.Error(err))
		return "", false
	}
	return roomID, true
}
