package typing

import (
	"sync"
	"time"
)

// Emitter is called with the outbound typing signal for a room. The
// debouncer guarantees alternating true/false per room: exactly one
// typing=true per burst of keystrokes and exactly one typing=false when
// the burst ends.
type Emitter func(roomID string, isTyping bool)

type localState struct {
	timer       *time.Timer
	outstanding bool
}

// Debouncer converts raw keystrokes into rate-limited typing signals with
// a trailing timeout, and tracks which remote parties are currently typing
// with an independent hard expiry.
type Debouncer struct {
	window       time.Duration
	remoteExpiry time.Duration
	emit         Emitter

	mu     sync.Mutex
	local  map[string]*localState
	remote map[string]map[string]*time.Timer // roomID -> sender -> expiry
	closed bool
}

// New creates a debouncer. window is the trailing quiet period before
// typing=false; remoteExpiry bounds how long a remote typing indicator may
// live without a refresh.
func New(window, remoteExpiry time.Duration, emit Emitter) *Debouncer {
	return &Debouncer{
		window:       window,
		remoteExpiry: remoteExpiry,
		emit:         emit,
		local:        make(map[string]*localState),
		remote:       make(map[string]map[string]*time.Timer),
	}
}

// OnLocalInput records a keystroke. The first keystroke after a quiet
// period emits typing=true immediately; subsequent keystrokes only reset
// the trailing timer.
func (d *Debouncer) OnLocalInput(roomID string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	st, ok := d.local[roomID]
	if !ok {
		st = &localState{}
		d.local[roomID] = st
	}
	first := !st.outstanding
	st.outstanding = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(d.window, func() { d.expireLocal(roomID) })
	d.mu.Unlock()

	if first {
		d.emit(roomID, true)
	}
}

func (d *Debouncer) expireLocal(roomID string) {
	d.mu.Lock()
	st, ok := d.local[roomID]
	if !ok || !st.outstanding || d.closed {
		d.mu.Unlock()
		return
	}
	st.outstanding = false
	st.timer = nil
	d.mu.Unlock()

	d.emit(roomID, false)
}

// Flush cancels the trailing timer and emits typing=false immediately if a
// typing=true is outstanding. Called on focus loss and on send: a stale
// typing indicator must never outlive the input it described.
func (d *Debouncer) Flush(roomID string) {
	d.mu.Lock()
	st, ok := d.local[roomID]
	if !ok || !st.outstanding {
		d.mu.Unlock()
		return
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.outstanding = false
	closed := d.closed
	d.mu.Unlock()

	if !closed {
		d.emit(roomID, false)
	}
}

// OnRemoteSignal applies a counterparty typing signal. A true signal
// (re)arms the hard expiry; a false signal removes the typer. At most one
// entry exists per (room, sender).
func (d *Debouncer) OnRemoteSignal(roomID, sender string, isTyping bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	typers, ok := d.remote[roomID]
	if !ok {
		if !isTyping {
			return
		}
		typers = make(map[string]*time.Timer)
		d.remote[roomID] = typers
	}
	if t, ok := typers[sender]; ok {
		t.Stop()
		delete(typers, sender)
	}
	if isTyping {
		var t *time.Timer
		t = time.AfterFunc(d.remoteExpiry, func() {
			d.mu.Lock()
			// A refresh may have re-armed while this closure waited on
			// the lock; only the current timer may remove the entry.
			if typers, ok := d.remote[roomID]; ok && typers[sender] == t {
				delete(typers, sender)
			}
			d.mu.Unlock()
		})
		typers[sender] = t
	}
}

// LocalActive reports whether a typing=true is outstanding for the room.
func (d *Debouncer) LocalActive(roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.local[roomID]
	return ok && st.outstanding
}

// RemoteTypers returns the senders currently typing in the room.
func (d *Debouncer) RemoteTypers(roomID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	typers := d.remote[roomID]
	out := make([]string, 0, len(typers))
	for sender := range typers {
		out = append(out, sender)
	}
	return out
}

// Close flushes every outstanding local signal and stops all timers.
func (d *Debouncer) Close() {
	d.mu.Lock()
	var flush []string
	for roomID, st := range d.local {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		if st.outstanding {
			st.outstanding = false
			flush = append(flush, roomID)
		}
	}
	for _, typers := range d.remote {
		for _, t := range typers {
			t.Stop()
		}
	}
	d.remote = make(map[string]map[string]*time.Timer)
	d.closed = true
	d.mu.Unlock()

	for _, roomID := range flush {
		d.emit(roomID, false)
	}
}
