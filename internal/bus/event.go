package bus

import "time"

// Event kinds published by the core. Subscribers filter by namespace
// prefix, e.g. "wire." receives every inbound transport event.
const (
	KindConnStateChanged = "conn.state_changed"

	KindWireRoomJoined  = "wire.room_joined"
	KindWireMessageNew  = "wire.message_new"
	KindWireMessageAck  = "wire.message_ack"
	KindWireTyping      = "wire.typing"
	KindWireReadUpdated = "wire.read_updated"

	KindSessionUpdated    = "session.updated"
	KindSessionSendFailed = "session.send_failed"
	KindSessionTyping     = "session.typing"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
