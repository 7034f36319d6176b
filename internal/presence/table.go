package presence

import (
	"sort"
	"sync"
)

// Table tracks which usernames are live in each room for this process.
// It mirrors open connections only: a restart empties it, join/leave
// rebuild it. Injected into handlers rather than held as package state.
type Table struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewTable() *Table {
	return &Table{
		rooms: make(map[string]map[string]struct{}),
	}
}

// Join adds the user to the room's set and returns the updated set.
func (t *Table) Join(code, username string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.rooms[code]
	if !ok {
		users = make(map[string]struct{})
		t.rooms[code] = users
	}
	users[username] = struct{}{}
	return snapshot(users)
}

// Leave removes the user and returns the updated set. The room entry is
// dropped entirely once its last user leaves.
func (t *Table) Leave(code, username string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.rooms[code]
	if !ok {
		return nil
	}
	delete(users, username)
	if len(users) == 0 {
		delete(t.rooms, code)
		return nil
	}
	return snapshot(users)
}

// Snapshot returns the current set for the room.
func (t *Table) Snapshot(code string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return snapshot(t.rooms[code])
}

func snapshot(users map[string]struct{}) []string {
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
