package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"debugsync/internal/cache"
	"debugsync/internal/model"
	"debugsync/internal/presence"
	"debugsync/internal/repository"
)

// RoomService is the single authority for reconciling buffer state and
// membership when a connection joins, edits, saves, or leaves a room.
type RoomService struct {
	rooms         repository.RoomRepo
	bufferCache   cache.BufferCache
	chatCache     cache.ChatCache
	sessionCache  cache.SessionCache
	presenceCache cache.PresenceCache
	presence      *presence.Table
	broadcaster   Broadcaster

	// Serializes membership/admin mutation per room code. Buffer edits and
	// cursor updates stay lock-free: last writer wins.
	locksMu   sync.Mutex
	roomLocks map[string]*sync.Mutex
}

// NewRoomService creates a new room service
func NewRoomService(
	rooms repository.RoomRepo,
	bufferCache cache.BufferCache,
	chatCache cache.ChatCache,
	sessionCache cache.SessionCache,
	presenceCache cache.PresenceCache,
	presenceTable *presence.Table,
) *RoomService {
	return &RoomService{
		rooms:         rooms,
		bufferCache:   bufferCache,
		chatCache:     chatCache,
		sessionCache:  sessionCache,
		presenceCache: presenceCache,
		presence:      presenceTable,
		roomLocks:     make(map[string]*sync.Mutex),
	}
}

// SetBroadcaster injects the WebSocket hub after construction.
func (s *RoomService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *RoomService) roomLock(code string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.roomLocks[code]
	if !ok {
		l = &sync.Mutex{}
		s.roomLocks[code] = l
	}
	return l
}

// JoinResult carries everything the joining connection needs.
type JoinResult struct {
	Username string   `json:"username"`
	Admin    string   `json:"admin"`
	IsAdmin  bool     `json:"isAdmin"`
	Members  []string `json:"members"`
	Present  []string `json:"present"`
	Buffer   string   `json:"buffer"`
}

// ResolveUsername picks the identity for a connection: the one it already
// carries, else the client-supplied hint, else one synthesized from the
// connection ID so a join never blocks on missing identity.
func ResolveUsername(assigned, hint, connID string) string {
	if assigned != "" {
		return assigned
	}
	if hint != "" {
		return hint
	}
	suffix := connID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "user-" + suffix
}

// Join attaches a connection to a room. The first user ever to create the
// room record becomes its admin; a lost creation race means a concurrent
// joiner got there first and this caller proceeds as a plain member.
// Store failures degrade to an empty room rather than failing the join.
func (s *RoomService) Join(ctx context.Context, connID, roomCode, username string) *JoinResult {
	res := &JoinResult{Username: username}

	lock := s.roomLock(roomCode)
	lock.Lock()
	room, err := s.rooms.FindByCode(ctx, roomCode)
	if err != nil {
		log.Printf("join %s: durable lookup failed: %v", roomCode, err)
		room = nil
	} else if room == nil {
		now := time.Now()
		room = &model.Room{
			Code:      roomCode,
			Admin:     username,
			Members:   []string{username},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if cerr := s.rooms.Create(ctx, room); cerr != nil {
			if errors.Is(cerr, repository.ErrRoomExists) {
				// Lost the first-join race; the room exists now.
				room, err = s.rooms.FindByCode(ctx, roomCode)
				if err != nil || room == nil {
					log.Printf("join %s: re-read after create race failed: %v", roomCode, err)
					room = nil
				} else {
					s.addMemberLocked(ctx, room, username)
				}
			} else {
				log.Printf("join %s: create failed: %v", roomCode, cerr)
				room = nil
			}
		}
	} else {
		s.addMemberLocked(ctx, room, username)
	}
	lock.Unlock()

	if room != nil {
		res.Admin = room.Admin
		res.IsAdmin = username == room.Admin
		res.Members = room.Members
	}

	res.Buffer = s.resolveBuffer(ctx, roomCode, room)
	s.seedChatMirror(ctx, roomCode, room)

	if err := s.sessionCache.Set(ctx, &model.Session{
		ConnID:      connID,
		Username:    username,
		RoomCode:    roomCode,
		ConnectedAt: time.Now(),
	}); err != nil {
		log.Printf("join %s: session cache write failed: %v", roomCode, err)
	}

	res.Present = s.presence.Join(roomCode, username)
	if err := s.presenceCache.Add(ctx, roomCode, username); err != nil {
		log.Printf("join %s: presence mirror add failed: %v", roomCode, err)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToRoom(roomCode, "admin_snapshot", map[string]interface{}{
			"admin":   res.Admin,
			"members": res.Members,
		})
		s.broadcaster.BroadcastToRoom(roomCode, "presence_snapshot", map[string]interface{}{
			"users": res.Present,
		})
	}

	return res
}

func (s *RoomService) addMemberLocked(ctx context.Context, room *model.Room, username string) {
	if room.HasMember(username) {
		return
	}
	if err := s.rooms.AddMember(ctx, room.Code, username); err != nil {
		log.Printf("join %s: member add failed: %v", room.Code, err)
		return
	}
	room.Members = append(room.Members, username)
}

// resolveBuffer prefers the cached buffer, which reflects edits since the
// last explicit save, over the durable field.
func (s *RoomService) resolveBuffer(ctx context.Context, roomCode string, room *model.Room) string {
	cached, err := s.bufferCache.Get(ctx, roomCode)
	if err != nil {
		log.Printf("join %s: buffer cache read failed: %v", roomCode, err)
	} else if cached != "" {
		return cached
	}
	if room != nil {
		return room.Buffer
	}
	return ""
}

func (s *RoomService) seedChatMirror(ctx context.Context, roomCode string, room *model.Room) {
	if room == nil || len(room.Chat) == 0 {
		return
	}
	mirror, err := s.chatCache.Get(ctx, roomCode)
	if err != nil {
		log.Printf("join %s: chat mirror read failed: %v", roomCode, err)
		return
	}
	if mirror != nil {
		return
	}
	if err := s.chatCache.Set(ctx, roomCode, room.Chat); err != nil {
		log.Printf("join %s: chat mirror seed failed: %v", roomCode, err)
	}
}

// ApplyEdit overwrites the cached buffer (last writer wins, no merge) and
// fans the new text out to everyone else. Durability waits for Save.
func (s *RoomService) ApplyEdit(ctx context.Context, roomCode, senderID, buffer string) {
	if err := s.bufferCache.Set(ctx, roomCode, buffer); err != nil {
		log.Printf("edit %s: buffer cache write failed: %v", roomCode, err)
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToOthers(roomCode, senderID, "buffer_update", map[string]string{
			"buffer": buffer,
		})
	}
}

// CursorMove rebroadcasts a cursor position tagged with the sender's
// username and stable display color. Nothing is stored.
func (s *RoomService) CursorMove(roomCode, senderID, username string, cursor model.Cursor) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastToOthers(roomCode, senderID, "cursor_update", map[string]interface{}{
		"line":     cursor.Line,
		"column":   cursor.Column,
		"username": username,
		"color":    model.CursorColor(username),
	})
}

// ChangeLanguage rebroadcasts an editor language switch.
func (s *RoomService) ChangeLanguage(roomCode, senderID, language string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastToOthers(roomCode, senderID, "language_changed", map[string]string{
		"language": language,
	})
}

// Save persists the buffer: one durable update writes the new buffer field
// and appends the history entry together, then the cache is refreshed.
// A durable failure is surfaced so the caller can report it.
func (s *RoomService) Save(ctx context.Context, roomCode, buffer, username string) error {
	snap := model.Snapshot{
		Buffer:    buffer,
		Timestamp: time.Now(),
		Author:    username,
	}
	if err := s.rooms.SaveSnapshot(ctx, roomCode, snap); err != nil {
		return fmt.Errorf("failed to save room %s: %w", roomCode, err)
	}
	if err := s.bufferCache.Set(ctx, roomCode, buffer); err != nil {
		log.Printf("save %s: buffer cache refresh failed: %v", roomCode, err)
	}
	return nil
}

// Chat broadcasts the message to the whole room (sender included, so
// everyone sees one consistent order), then appends it to the cache
// mirror and the durable log.
func (s *RoomService) Chat(ctx context.Context, roomCode, username, text string) error {
	msg := model.ChatMessage{
		Sender:    username,
		Text:      text,
		Timestamp: time.Now(),
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToRoom(roomCode, "chat_message", msg)
	}
	if err := s.chatCache.Append(ctx, roomCode, msg); err != nil {
		log.Printf("chat %s: mirror append failed: %v", roomCode, err)
	}
	if err := s.rooms.AppendChat(ctx, roomCode, msg); err != nil {
		return fmt.Errorf("failed to persist chat for room %s: %w", roomCode, err)
	}
	return nil
}

// Kick removes target from the room. Only the admin may kick; any other
// requester is a silent no-op so admin identity is never confirmed to
// non-admins. Returns whether the kick was applied.
func (s *RoomService) Kick(ctx context.Context, roomCode, requester, target string) (bool, error) {
	lock := s.roomLock(roomCode)
	lock.Lock()
	room, err := s.rooms.FindByCode(ctx, roomCode)
	if err != nil {
		lock.Unlock()
		return false, err
	}
	if room == nil || requester != room.Admin {
		lock.Unlock()
		return false, nil
	}
	if err := s.rooms.RemoveMember(ctx, roomCode, target); err != nil {
		lock.Unlock()
		return false, err
	}
	lock.Unlock()

	members := room.Members[:0:0]
	for _, m := range room.Members {
		if m != target {
			members = append(members, m)
		}
	}

	present := s.presence.Leave(roomCode, target)
	if err := s.presenceCache.Remove(ctx, roomCode, target); err != nil {
		log.Printf("kick %s: presence mirror remove failed: %v", roomCode, err)
	}

	if s.broadcaster != nil {
		s.broadcaster.SendToUser(roomCode, target, "kicked", map[string]string{
			"roomCode": roomCode,
		})
		s.broadcaster.Detach(roomCode, target)
		s.broadcaster.BroadcastToRoom(roomCode, "admin_snapshot", map[string]interface{}{
			"admin":   room.Admin,
			"members": members,
		})
		s.broadcaster.BroadcastToRoom(roomCode, "presence_snapshot", map[string]interface{}{
			"users": present,
		})
	}
	return true, nil
}

// Leave detaches a connection's user from live presence. The durable
// member list is untouched: only Kick and room deletion shrink it.
func (s *RoomService) Leave(ctx context.Context, connID, roomCode, username string) {
	if err := s.sessionCache.Delete(ctx, connID); err != nil {
		log.Printf("leave: session cache delete failed: %v", err)
	}
	if roomCode == "" || username == "" {
		return
	}
	present := s.presence.Leave(roomCode, username)
	if err := s.presenceCache.Remove(ctx, roomCode, username); err != nil {
		log.Printf("leave %s: presence mirror remove failed: %v", roomCode, err)
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToRoom(roomCode, "presence_snapshot", map[string]interface{}{
			"users": present,
		})
	}
}

// Present returns the live usernames attached to the room in this process.
func (s *RoomService) Present(roomCode string) []string {
	return s.presence.Snapshot(roomCode)
}

// ChatHistory returns the durable chat log, empty for unknown rooms.
func (s *RoomService) ChatHistory(ctx context.Context, roomCode string) ([]model.ChatMessage, error) {
	room, err := s.rooms.FindByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	if room == nil || room.Chat == nil {
		return []model.ChatMessage{}, nil
	}
	return room.Chat, nil
}

// SnapshotHistory returns the durable save history, empty for unknown rooms.
func (s *RoomService) SnapshotHistory(ctx context.Context, roomCode string) ([]model.Snapshot, error) {
	room, err := s.rooms.FindByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	if room == nil || room.History == nil {
		return []model.Snapshot{}, nil
	}
	return room.History, nil
}

// DeleteRoom removes the durable record and every cache entry for the code.
func (s *RoomService) DeleteRoom(ctx context.Context, roomCode string) error {
	if err := s.rooms.Delete(ctx, roomCode); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomCode, err)
	}
	for _, del := range []func(context.Context, string) error{
		s.bufferCache.Delete,
		s.chatCache.Delete,
		s.presenceCache.Delete,
	} {
		if err := del(ctx, roomCode); err != nil {
			log.Printf("delete %s: cache cleanup failed: %v", roomCode, err)
		}
	}
	return nil
}

// NewRoomCode mints a 6-char code with no durable record behind it yet.
func (s *RoomService) NewRoomCode(ctx context.Context) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	const codeLen = 6

	for attempts := 0; attempts < 10; attempts++ {
		b := make([]byte, codeLen)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}

		code := make([]byte, codeLen)
		for i := range code {
			code[i] = chars[int(b[i])%len(chars)]
		}
		codeStr := string(code)

		room, err := s.rooms.FindByCode(ctx, codeStr)
		if err != nil {
			return "", err
		}
		if room == nil {
			return codeStr, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique room code")
}
