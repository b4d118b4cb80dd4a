package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arenabook/chatcore/internal/bus"
	"github.com/arenabook/chatcore/internal/gateway"
)

// ErrNotConnected is returned by Emit when no transport connection is up.
var ErrNotConnected = errors.New("not connected")

// ErrConnectionFailed wraps transport establishment failures. Recoverable:
// Connect may be called again.
var ErrConnectionFailed = errors.New("connection failed")

// Options tune the manager's timeouts and reconnect policy.
type Options struct {
	ConnectTimeout   time.Duration
	ReconnectBackoff time.Duration
	MaxAttempts      int
}

// Manager owns the single transport connection shared by every chat
// session in the process. It serializes all state transitions, multiplexes
// inbound frames onto the bus, and replays room joins after every
// (re)connect so consumers never observe "connected but not in my room".
type Manager struct {
	transport gateway.Transport
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options

	mu         sync.Mutex
	state      State
	conn       gateway.Conn
	credential string
	joined     map[string]struct{}
	gen        int
	userClosed bool
}

// NewManager creates a manager in the Disconnected state.
func NewManager(transport gateway.Transport, b *bus.Bus, opts Options, logger *zap.Logger) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Manager{
		transport: transport,
		bus:       b,
		logger:    logger,
		opts:      opts,
		state:     Disconnected,
		joined:    make(map[string]struct{}),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the transport is up.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Subscribe delegates to the bus; the manager publishes conn.* and wire.*
// events.
func (m *Manager) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return m.bus.Subscribe(namespace, bufSize)
}

// Connect establishes the transport connection. Idempotent: calling it
// while Connected, Connecting or Reconnecting is a no-op. The dial is
// bounded by the configured connect timeout.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.credential = credential
	m.userClosed = false
	m.transition(Connecting)
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	c, err := m.transport.Dial(dialCtx, credential)
	if err != nil {
		m.mu.Lock()
		m.transition(Disconnected)
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	m.mu.Lock()
	if m.userClosed || m.state != Connecting {
		// Disconnect landed while the dial was in flight: the late
		// completion must not install a connection.
		m.mu.Unlock()
		_ = c.Close()
		return nil
	}
	m.conn = c
	m.gen++
	gen := m.gen
	m.transition(Connected)
	m.replayJoinsLocked()
	m.mu.Unlock()

	go m.readLoop(c, gen)
	return nil
}

// Disconnect tears down the transport. User-initiated: no reconnect is
// attempted.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.userClosed = true
	c := m.conn
	m.conn = nil
	if m.state != Disconnected {
		m.transition(Disconnected)
	}
	m.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// JoinRoom registers a room subscription and emits room.join when
// connected. The subscription survives reconnects: it is replayed on every
// transition into Connected.
func (m *Manager) JoinRoom(roomID string) error {
	m.mu.Lock()
	m.joined[roomID] = struct{}{}
	c := m.conn
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || c == nil {
		return nil
	}
	return c.WriteFrame(&gateway.Frame{Kind: gateway.KindRoomJoin, RoomID: roomID})
}

// LeaveRoom drops a room subscription from the replay set.
func (m *Manager) LeaveRoom(roomID string) {
	m.mu.Lock()
	delete(m.joined, roomID)
	m.mu.Unlock()
}

// Emit writes a frame on the live connection.
func (m *Manager) Emit(f *gateway.Frame) error {
	m.mu.Lock()
	c := m.conn
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || c == nil {
		return ErrNotConnected
	}
	return c.WriteFrame(f)
}

// readLoop pumps inbound frames onto the bus until the connection dies.
// gen guards against a stale loop acting on behalf of a newer connection.
func (m *Manager) readLoop(c gateway.Conn, gen int) {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			m.onTransportLoss(gen, err)
			return
		}
		m.publishFrame(f)
	}
}

func (m *Manager) publishFrame(f *gateway.Frame) {
	var kind string
	switch f.Kind {
	case gateway.KindRoomJoined:
		kind = bus.KindWireRoomJoined
	case gateway.KindMessageNew:
		kind = bus.KindWireMessageNew
	case gateway.KindMessageAck:
		kind = bus.KindWireMessageAck
	case gateway.KindTyping:
		kind = bus.KindWireTyping
	case gateway.KindReadUpdated:
		kind = bus.KindWireReadUpdated
	default:
		m.logger.Debug("ignoring unknown frame kind", zap.String("kind", f.Kind))
		return
	}
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: f})
}

// onTransportLoss handles a dead connection: Reconnecting, then retry with
// backoff until the budget is exhausted, then Disconnected.
func (m *Manager) onTransportLoss(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.userClosed || m.state != Connected {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.transition(Reconnecting)
	credential := m.credential
	m.mu.Unlock()

	m.logger.Warn("transport lost, reconnecting", zap.Error(cause))

	backoff := m.opts.ReconnectBackoff
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		time.Sleep(backoff)
		backoff *= 2

		m.mu.Lock()
		if m.userClosed || m.state != Reconnecting {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
		c, err := m.transport.Dial(dialCtx, credential)
		cancel()
		if err != nil {
			m.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		m.mu.Lock()
		if m.userClosed || m.state != Reconnecting {
			m.mu.Unlock()
			_ = c.Close()
			return
		}
		m.conn = c
		m.gen++
		newGen := m.gen
		m.transition(Connected)
		m.replayJoinsLocked()
		m.mu.Unlock()

		m.logger.Info("reconnected", zap.Int("attempt", attempt))
		go m.readLoop(c, newGen)
		return
	}

	m.mu.Lock()
	if m.state == Reconnecting {
		m.transition(Disconnected)
	}
	m.mu.Unlock()
	m.logger.Error("reconnect budget exhausted", zap.Int("attempts", m.opts.MaxAttempts))
}

// replayJoinsLocked re-emits room.join for every registered room. Called
// with the lock held immediately after entering Connected.
func (m *Manager) replayJoinsLocked() {
	c := m.conn
	for roomID := range m.joined {
		if err := c.WriteFrame(&gateway.Frame{Kind: gateway.KindRoomJoin, RoomID: roomID}); err != nil {
			m.logger.Warn("room join replay failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
}

// transition moves to a new state and publishes the change. Caller holds
// the lock; invalid transitions are programming errors and are logged.
func (m *Manager) transition(to State) {
	if err := checkTransition(m.state, to); err != nil {
		m.logger.Error("connection state machine violation", zap.Error(err))
		return
	}
	from := m.state
	m.state = to
	m.bus.Publish(bus.Event{
		Kind:      bus.KindConnStateChanged,
		Timestamp: time.Now(),
		Payload:   StateChange{From: from, To: to},
	})
}
