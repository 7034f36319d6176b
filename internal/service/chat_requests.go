package service

import "sync"

// ChatRequestTracker gates a room's group chat behind unanimous consent:
// one member requests, everyone else must accept before chat starts. One
// pending request per room; a decline cancels it for everyone. State is
// in-memory only, like presence.
type ChatRequestTracker struct {
	mu       sync.Mutex
	pending  map[string]string              // roomCode -> requesting username
	accepted map[string]map[string]struct{} // roomCode -> users who accepted
}

func NewChatRequestTracker() *ChatRequestTracker {
	return &ChatRequestTracker{
		pending:  make(map[string]string),
		accepted: make(map[string]map[string]struct{}),
	}
}

// Request opens a chat request from a user. The requester counts as
// having accepted. Returns false if a request is already pending.
func (t *ChatRequestTracker) Request(roomCode, from string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[roomCode]; ok {
		return false
	}
	t.pending[roomCode] = from
	t.accepted[roomCode] = map[string]struct{}{from: {}}
	return true
}

// Respond records a user's answer. A decline cancels the pending request.
// An accept reports whether every user in present has now accepted; when
// it has, the request is consumed.
func (t *ChatRequestTracker) Respond(roomCode, username string, accepted bool, present []string) (started, cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[roomCode]; !ok {
		return false, false
	}
	if !accepted {
		t.resetLocked(roomCode)
		return false, true
	}
	t.accepted[roomCode][username] = struct{}{}
	for _, u := range present {
		if _, ok := t.accepted[roomCode][u]; !ok {
			return false, false
		}
	}
	t.resetLocked(roomCode)
	return true, false
}

// Cancel drops any pending request for the room.
func (t *ChatRequestTracker) Cancel(roomCode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(roomCode)
}

// Pending returns the requesting username, if any.
func (t *ChatRequestTracker) Pending(roomCode string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	from, ok := t.pending[roomCode]
	return from, ok
}

func (t *ChatRequestTracker) resetLocked(roomCode string) {
	delete(t.pending, roomCode)
	delete(t.accepted, roomCode)
}
