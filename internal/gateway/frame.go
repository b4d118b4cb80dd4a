package gateway

import "github.com/arenabook/chatcore/internal/msgstore"

// Frame kinds exchanged with the messaging backend.
const (
	// Outbound.
	KindRoomJoin    = "room.join"
	KindMessageSend = "message.send"
	KindTypingSet   = "typing.set"
	KindReadMark    = "read.mark"

	// Inbound.
	KindRoomJoined  = "room.joined"
	KindMessageNew  = "message.new"
	KindMessageAck  = "message.ack"
	KindTyping      = "typing"
	KindReadUpdated = "read.updated"
)

// Frame is one JSON event on the transport. Fields are populated per Kind;
// unused fields are omitted on the wire.
type Frame struct {
	Kind         string             `json:"kind"`
	RoomID       string             `json:"room_id,omitempty"`
	LocalID      string             `json:"local_id,omitempty"`
	ServerID     string             `json:"server_id,omitempty"`
	Content      string             `json:"content,omitempty"`
	Type         string             `json:"type,omitempty"`
	Sender       string             `json:"sender,omitempty"`
	IsTyping     bool               `json:"is_typing,omitempty"`
	UptoServerID string             `json:"upto_server_id,omitempty"`
	SentAt       int64              `json:"sent_at,omitempty"`
	Envelope     *msgstore.Envelope `json:"envelope,omitempty"`
}
