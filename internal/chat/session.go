package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arenabook/chatcore/internal/bus"
	"github.com/arenabook/chatcore/internal/conn"
	"github.com/arenabook/chatcore/internal/gateway"
	"github.com/arenabook/chatcore/internal/msgstore"
	"github.com/arenabook/chatcore/internal/room"
	"github.com/arenabook/chatcore/internal/typing"
)

// ErrNotReady is returned by operations on a session that is not in the
// Ready state.
var ErrNotReady = errors.New("session not ready")

// ErrUnknownMessage is returned by Retry for a localId the store does not
// hold.
var ErrUnknownMessage = errors.New("unknown message")

// Session is one open conversation. It composes the message store, the
// typing debouncer, the room handle and the shared connection into the
// object a UI surface attaches to.
type Session struct {
	client *Client
	handle *room.Handle
	store  *msgstore.Store
	deb    *typing.Debouncer
	logger *zap.Logger

	mu        sync.Mutex
	state     sessionState
	roomID    string
	ackTimers map[string]*time.Timer
	closed    bool

	unsub func()
	done  chan struct{}
}

func newSession(c *Client, handle *room.Handle) *Session {
	s := &Session{
		client:    c,
		handle:    handle,
		logger:    c.logger.With(zap.String("conversation", handle.Key().String())),
		state:     stateIdle,
		ackTimers: make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	s.store = msgstore.New(s.onStoreChange)
	s.deb = typing.New(c.cfg.TypingWindow, c.cfg.RemoteTyperExpiry, s.emitTyping)
	return s
}

// init drives Idle -> Initializing -> Ready: cache hydration first so the
// UI shows something before the network round trip, then the authoritative
// fetch, which supersedes the cached bridge state.
func (s *Session) init(ctx context.Context) error {
	s.transition(stateInitializing)

	roomID := s.handle.RoomID()
	if roomID != "" {
		s.mu.Lock()
		s.roomID = roomID
		s.mu.Unlock()

		if snap, ok := s.client.cache.LoadSnapshot(roomID); ok {
			s.store.Hydrate(snap.Messages)
		}
		if err := s.client.conn.JoinRoom(roomID); err != nil {
			s.logger.Warn("room join emit failed", zap.Error(err))
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.client.cfg.FetchTimeout)
		_, history, err := s.client.api.GetRoom(fetchCtx, roomID)
		cancel()
		if err != nil {
			s.transition(stateClosing)
			s.transition(stateIdle)
			return fmt.Errorf("fetch room history: %w", err)
		}
		s.store.ApplyAuthoritative(history)
	}

	ch, unsub := s.client.bus.Subscribe("wire.", 256)
	s.unsub = unsub
	go s.eventLoop(ch)

	s.transition(stateReady)
	return nil
}

// RoomID returns the resolved room id, or "" while provisional.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Messages returns the ordered message snapshot.
func (s *Session) Messages() []msgstore.Envelope {
	return s.store.Snapshot()
}

// ConnectionState returns the shared connection state.
func (s *Session) ConnectionState() conn.State {
	return s.client.conn.State()
}

// RemoteTypers returns the counterparties currently typing in this room.
func (s *Session) RemoteTypers() []string {
	return s.deb.RemoteTypers(s.typingKey())
}

// Send provisions the room if needed, appends an optimistic Pending
// envelope, and emits it over the transport. The returned localId
// identifies the envelope for Retry. An ack timeout marks the envelope
// Failed if no confirmation arrives.
func (s *Session) Send(ctx context.Context, content string) (string, error) {
	if s.currentState() != stateReady {
		return "", ErrNotReady
	}

	roomID, err := s.ensureRoom(ctx)
	if err != nil {
		return "", err
	}

	// Sending ends the current typing burst.
	s.deb.Flush(s.typingKey())

	localID := uuid.NewString()
	env := msgstore.Envelope{
		LocalID:  localID,
		Sender:   s.client.userID,
		Content:  content,
		Type:     "text",
		SentAt:   time.Now().UnixMilli(),
		Delivery: msgstore.DeliveryPending,
	}
	s.store.Append(env)
	s.emitSend(roomID, localID, content)
	return localID, nil
}

// Retry re-emits a Failed envelope with its original localId. On success
// the same envelope, not a new one, transitions to Sent.
func (s *Session) Retry(ctx context.Context, localID string) error {
	if s.currentState() != stateReady {
		return ErrNotReady
	}
	env, ok := s.store.Get(localID)
	if !ok {
		return ErrUnknownMessage
	}
	if env.Delivery != msgstore.DeliveryFailed {
		return nil
	}

	roomID, err := s.ensureRoom(ctx)
	if err != nil {
		return err
	}
	s.store.MarkDelivery(localID, msgstore.DeliveryPending)
	s.emitSend(roomID, localID, env.Content)
	return nil
}

// SetTyping feeds the debouncer: true on each keystroke, false on focus
// loss. Outbound signals are debounced with a trailing window; this call
// never blocks on the network.
func (s *Session) SetTyping(isTyping bool) {
	if s.currentState() != stateReady {
		return
	}
	if isTyping {
		s.deb.OnLocalInput(s.typingKey())
	} else {
		s.deb.Flush(s.typingKey())
	}
}

// MarkVisible reports that the conversation is on screen, emitting a read
// acknowledgment for everything received so far.
func (s *Session) MarkVisible(ctx context.Context) {
	if s.currentState() != stateReady {
		return
	}
	roomID := s.RoomID()
	if roomID == "" {
		return
	}
	err := s.client.conn.Emit(&gateway.Frame{Kind: gateway.KindReadMark, RoomID: roomID})
	if errors.Is(err, conn.ErrNotConnected) {
		// Fall back to the REST endpoint so the read state still lands.
		if err := s.client.api.MarkRead(ctx, roomID); err != nil {
			s.logger.Warn("mark read fallback failed", zap.Error(err))
		}
	}
}

// Close detaches from the conversation: stops the typing debouncer,
// flushes a final cache snapshot, discards the in-memory store, and
// releases the room subscription. Completions arriving afterwards are
// discarded. The session ends Idle and may be reopened via Client.Open.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	roomID := s.roomID
	for _, t := range s.ackTimers {
		t.Stop()
	}
	s.ackTimers = make(map[string]*time.Timer)
	s.mu.Unlock()

	s.transition(stateClosing)
	s.deb.Close()
	if s.unsub != nil {
		s.unsub()
	}
	close(s.done)

	if roomID != "" {
		s.client.cache.SaveSnapshot(roomID, s.store.Snapshot())
		s.client.conn.LeaveRoom(roomID)
	}
	s.store.Reset()
	s.transition(stateIdle)

	s.client.sessionClosed(s)
}

// ensureRoom returns the room id, lazily provisioning it on first intent
// to communicate. Concurrent provisioning attempts (e.g. a typing signal
// and a send in the same tick) collapse into one create-room call.
func (s *Session) ensureRoom(ctx context.Context) (string, error) {
	if roomID := s.RoomID(); roomID != "" {
		return roomID, nil
	}
	roomID, err := s.handle.EnsureProvisioned(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return roomID, nil
	}
	first := s.roomID == ""
	s.roomID = roomID
	s.mu.Unlock()

	if first {
		if err := s.client.conn.JoinRoom(roomID); err != nil {
			s.logger.Warn("room join emit failed", zap.Error(err))
		}
	}
	return roomID, nil
}

// emitSend writes the message.send frame and arms the ack timeout. An
// emit failure while disconnected is not terminal: the envelope stays
// Pending and the timeout marks it Failed if no ack ever arrives.
func (s *Session) emitSend(roomID, localID, content string) {
	err := s.client.conn.Emit(&gateway.Frame{
		Kind:    gateway.KindMessageSend,
		RoomID:  roomID,
		LocalID: localID,
		Content: content,
		Type:    "text",
	})
	if err != nil {
		s.logger.Warn("send emit failed", zap.String("local_id", localID), zap.Error(err))
	}
	s.armAckTimeout(localID)
}

func (s *Session) armAckTimeout(localID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if t, ok := s.ackTimers[localID]; ok {
		t.Stop()
	}
	s.ackTimers[localID] = time.AfterFunc(s.client.cfg.AckTimeout, func() {
		s.onAckTimeout(localID)
	})
	s.mu.Unlock()
}

func (s *Session) onAckTimeout(localID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.ackTimers, localID)
	s.mu.Unlock()

	env, ok := s.store.Get(localID)
	if !ok || env.Delivery != msgstore.DeliveryPending {
		return
	}
	s.store.MarkDelivery(localID, msgstore.DeliveryFailed)
	s.logger.Warn("ack timeout", zap.String("local_id", localID))
	s.client.bus.Publish(bus.Event{
		Kind:      bus.KindSessionSendFailed,
		Timestamp: time.Now(),
		Payload:   map[string]string{"room_id": s.RoomID(), "local_id": localID},
	})
}

// eventLoop applies inbound wire events for this session's room in the
// order they arrived on the transport. It exits when the session closes.
func (s *Session) eventLoop(ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			f, ok := evt.Payload.(*gateway.Frame)
			if !ok || f.RoomID != s.RoomID() || f.RoomID == "" {
				continue
			}
			s.applyFrame(evt.Kind, f)
		case <-s.done:
			return
		}
	}
}

func (s *Session) applyFrame(kind string, f *gateway.Frame) {
	switch kind {
	case bus.KindWireMessageNew:
		if f.Envelope == nil {
			return
		}
		env := *f.Envelope
		if env.Sender == s.client.userID && env.LocalID != "" {
			// Our own message echoed back: reconcile, don't duplicate.
			s.cancelAckTimer(env.LocalID)
			s.store.MergeServerAck(env.LocalID, env.ServerID, env)
			return
		}
		s.store.ReceiveRemote(env)
	case bus.KindWireMessageAck:
		s.cancelAckTimer(f.LocalID)
		s.store.MergeServerAck(f.LocalID, f.ServerID, msgstore.Envelope{
			Sender:  s.client.userID,
			Content: f.Content,
			Type:    f.Type,
			SentAt:  f.SentAt,
		})
	case bus.KindWireTyping:
		s.deb.OnRemoteSignal(s.typingKey(), f.Sender, f.IsTyping)
		s.client.bus.Publish(bus.Event{
			Kind:      bus.KindSessionTyping,
			Timestamp: time.Now(),
			Payload:   map[string]string{"room_id": f.RoomID},
		})
	case bus.KindWireReadUpdated:
		s.store.MarkRead(s.client.userID, f.UptoServerID)
	case bus.KindWireRoomJoined:
		s.logger.Debug("room joined", zap.String("room_id", f.RoomID))
	}
}

func (s *Session) cancelAckTimer(localID string) {
	s.mu.Lock()
	if t, ok := s.ackTimers[localID]; ok {
		t.Stop()
		delete(s.ackTimers, localID)
	}
	s.mu.Unlock()
}

// typingKey keys the debouncer by conversation, not room id, so typing
// works while the room is still provisional.
func (s *Session) typingKey() string {
	return s.handle.Key().String()
}

// emitTyping is the debouncer's outbound emitter. A typing=true before the
// room exists triggers provisioning in the background, coalesced with any
// concurrent send.
func (s *Session) emitTyping(_ string, isTyping bool) {
	roomID := s.RoomID()
	if roomID == "" {
		if !isTyping {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.client.cfg.FetchTimeout)
			defer cancel()
			roomID, err := s.ensureRoom(ctx)
			if err != nil {
				s.logger.Warn("typing provisioning failed", zap.Error(err))
				return
			}
			// The burst may have ended while provisioning was in flight;
			// a typing=true for it now would be stale.
			if s.currentState() != stateReady || !s.deb.LocalActive(s.typingKey()) {
				return
			}
			s.writeTyping(roomID, true)
		}()
		return
	}
	s.writeTyping(roomID, isTyping)
}

func (s *Session) writeTyping(roomID string, isTyping bool) {
	err := s.client.conn.Emit(&gateway.Frame{
		Kind:     gateway.KindTypingSet,
		RoomID:   roomID,
		IsTyping: isTyping,
	})
	if err != nil && !errors.Is(err, conn.ErrNotConnected) {
		s.logger.Warn("typing emit failed", zap.Error(err))
	}
}

func (s *Session) currentState() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to sessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkTransition(s.state, to); err != nil {
		s.logger.Error("session state machine violation", zap.Error(err))
		return
	}
	s.state = to
}

// onStoreChange flushes a snapshot to the cache and notifies UI
// subscribers after every store mutation.
func (s *Session) onStoreChange() {
	s.mu.Lock()
	roomID := s.roomID
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if roomID != "" {
		s.client.cache.SaveSnapshot(roomID, s.store.Snapshot())
	}
	s.client.bus.Publish(bus.Event{
		Kind:      bus.KindSessionUpdated,
		Timestamp: time.Now(),
		Payload:   map[string]string{"room_id": roomID},
	})
}
