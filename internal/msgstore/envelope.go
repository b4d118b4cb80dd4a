package msgstore

// Delivery is the client-side delivery state of an outgoing envelope.
type Delivery string

const (
	// DeliveryPending marks an optimistically appended local send that the
	// server has not yet acknowledged.
	DeliveryPending Delivery = "pending"
	// DeliverySent marks a server-acknowledged envelope.
	DeliverySent Delivery = "sent"
	// DeliveryFailed marks a send that errored or timed out waiting for an
	// ack. Failed envelopes stay visible and are user-retryable.
	DeliveryFailed Delivery = "failed"
)

// Envelope is one message plus its delivery metadata. LocalID is generated
// client-side and stays stable for the envelope's lifetime; ServerID is
// empty until the server acknowledges the message.
//
// Server ids are fixed-width, time-sortable strings (ULID-style), so
// comparing two ServerID values lexicographically orders them by
// assignment time. Read cursors depend on this.
type Envelope struct {
	LocalID  string   `json:"local_id"`
	ServerID string   `json:"server_id,omitempty"`
	Sender   string   `json:"sender"`
	Content  string   `json:"content"`
	Type     string   `json:"type"`
	SentAt   int64    `json:"sent_at"` // unix milliseconds
	IsRead   bool     `json:"is_read"`
	Delivery Delivery `json:"delivery"`
}
