package msgstore

import (
	"sync"
)

// Store is the in-memory ordered message log for the currently attached
// room. Ordering is by SentAt with stable insertion: ties keep arrival
// order, and inserts never re-sort the whole log.
//
// The store owns envelopes exclusively; Snapshot returns copies.
type Store struct {
	mu        sync.Mutex
	ordered   []*Envelope
	byLocalID map[string]*Envelope
	byServer  map[string]*Envelope
	onChange  func()
}

// New creates an empty store. onChange, if non-nil, is invoked after every
// mutation (used to flush snapshots to the local cache). It is called with
// the store lock released.
func New(onChange func()) *Store {
	return &Store{
		byLocalID: make(map[string]*Envelope),
		byServer:  make(map[string]*Envelope),
		onChange:  onChange,
	}
}

// Append inserts an optimistic local send. The envelope is stored with
// whatever Delivery it carries (normally DeliveryPending) so the UI
// reflects the send before the round trip completes. Appending an already
// known LocalID updates the existing envelope in place instead; a LocalID
// is never present twice.
func (s *Store) Append(env Envelope) {
	s.mu.Lock()
	if existing, ok := s.byLocalID[env.LocalID]; ok {
		existing.Content = env.Content
		existing.Type = env.Type
		existing.Delivery = env.Delivery
		s.mu.Unlock()
		s.changed()
		return
	}
	s.insertLocked(&env)
	s.mu.Unlock()
	s.changed()
}

// MergeServerAck reconciles a server confirmation with the optimistic
// envelope identified by localID: the envelope is updated in place, never
// appended again. If no envelope carries localID (pending state wiped by a
// reload), the ack is applied as a remote envelope instead. Replaying the
// same ack any number of times yields the same final sequence.
func (s *Store) MergeServerAck(localID, serverID string, serverFields Envelope) {
	s.mu.Lock()
	env, ok := s.byLocalID[localID]
	if !ok {
		// Unknown local id (pending state wiped by a reload): treat the
		// server copy as a remote message.
		serverFields.LocalID = localID
		serverFields.ServerID = serverID
		s.receiveRemoteLocked(serverFields)
		s.mu.Unlock()
		s.changed()
		return
	}
	if env.ServerID == serverID && env.Delivery == DeliverySent {
		s.mu.Unlock()
		return
	}
	env.ServerID = serverID
	env.Delivery = DeliverySent
	if serverFields.SentAt > 0 && serverFields.SentAt != env.SentAt {
		env.SentAt = serverFields.SentAt
		s.reinsertLocked(env)
	}
	s.byServer[serverID] = env
	s.mu.Unlock()
	s.changed()
}

// ReceiveRemote appends a message that originated elsewhere. Envelopes
// whose ServerID is already known are merged in place, so replaying a
// server event is a no-op.
func (s *Store) ReceiveRemote(env Envelope) {
	s.mu.Lock()
	s.receiveRemoteLocked(env)
	s.mu.Unlock()
	s.changed()
}

func (s *Store) receiveRemoteLocked(env Envelope) {
	if env.ServerID != "" {
		if existing, ok := s.byServer[env.ServerID]; ok {
			existing.Content = env.Content
			existing.IsRead = existing.IsRead || env.IsRead
			return
		}
	}
	if env.Delivery == "" {
		env.Delivery = DeliverySent
	}
	s.insertLocked(&env)
}

// Hydrate bulk-loads envelopes from a cache snapshot without firing the
// change hook. Only valid on an empty store, before the authoritative
// history arrives.
func (s *Store) Hydrate(envs []Envelope) {
	s.mu.Lock()
	for i := range envs {
		env := envs[i]
		if _, ok := s.byLocalID[env.LocalID]; ok {
			continue
		}
		if env.ServerID != "" {
			if _, ok := s.byServer[env.ServerID]; ok {
				continue
			}
		}
		s.insertLocked(&env)
	}
	s.mu.Unlock()
}

// ApplyAuthoritative replaces the store's contents with the server's
// history. The cache-hydrated bridge state is superseded, never merged:
// the authoritative sequence wins wholesale. Local envelopes that the
// server has not seen yet (no ServerID) are carried over so an in-flight
// optimistic send survives the swap.
func (s *Store) ApplyAuthoritative(history []Envelope) {
	s.mu.Lock()
	var carry []*Envelope
	for _, env := range s.ordered {
		if env.ServerID == "" {
			carry = append(carry, env)
		}
	}
	s.ordered = nil
	s.byLocalID = make(map[string]*Envelope)
	s.byServer = make(map[string]*Envelope)
	for i := range history {
		env := history[i]
		if env.ServerID != "" {
			if _, ok := s.byServer[env.ServerID]; ok {
				continue
			}
		}
		if env.Delivery == "" {
			env.Delivery = DeliverySent
		}
		s.insertLocked(&env)
	}
	for _, env := range carry {
		// The history may already contain the carried send under its
		// localId (ack lost before a reload). The authoritative copy
		// wins; re-inserting would duplicate the logical message.
		if env.LocalID != "" {
			if _, ok := s.byLocalID[env.LocalID]; ok {
				continue
			}
		}
		s.insertLocked(env)
	}
	s.mu.Unlock()
	s.changed()
}

// MarkDelivery updates the delivery state of the envelope with the given
// LocalID. Returns false if the envelope is unknown.
func (s *Store) MarkDelivery(localID string, d Delivery) bool {
	s.mu.Lock()
	env, ok := s.byLocalID[localID]
	if ok {
		env.Delivery = d
	}
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// MarkRead marks the given user's outgoing acknowledged envelopes with
// ServerID <= uptoServerID as read. Incoming messages are never marked
// here; the counterparty's read state arrives as a remote event. The
// comparison relies on server ids being lexicographically ordered (see
// Envelope.ServerID).
func (s *Store) MarkRead(sender, uptoServerID string) {
	s.mu.Lock()
	for _, env := range s.ordered {
		if env.Sender != sender || env.ServerID == "" {
			continue
		}
		if env.ServerID <= uptoServerID {
			env.IsRead = true
		}
	}
	s.mu.Unlock()
	s.changed()
}

// Get returns a copy of the envelope with the given LocalID.
func (s *Store) Get(localID string) (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.byLocalID[localID]
	if !ok {
		return Envelope{}, false
	}
	return *env, true
}

// Snapshot returns a copy of the ordered message sequence.
func (s *Store) Snapshot() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, len(s.ordered))
	for i, env := range s.ordered {
		out[i] = *env
	}
	return out
}

// Len returns the number of envelopes in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ordered)
}

// Reset discards the store's contents. Used when detaching from a room;
// the caller flushes the final snapshot to the cache first.
func (s *Store) Reset() {
	s.mu.Lock()
	s.ordered = nil
	s.byLocalID = make(map[string]*Envelope)
	s.byServer = make(map[string]*Envelope)
	s.mu.Unlock()
}

// insertLocked places env at its stable position: after every envelope
// with SentAt <= env.SentAt. Linear scan from the tail keeps the common
// append case O(1) and avoids reordering jitter.
func (s *Store) insertLocked(env *Envelope) {
	i := len(s.ordered)
	for i > 0 && s.ordered[i-1].SentAt > env.SentAt {
		i--
	}
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = env

	if env.LocalID != "" {
		s.byLocalID[env.LocalID] = env
	}
	if env.ServerID != "" {
		s.byServer[env.ServerID] = env
	}
}

// reinsertLocked moves env to the position its (updated) SentAt demands.
func (s *Store) reinsertLocked(env *Envelope) {
	for i, e := range s.ordered {
		if e == env {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	i := len(s.ordered)
	for i > 0 && s.ordered[i-1].SentAt > env.SentAt {
		i--
	}
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = env
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
