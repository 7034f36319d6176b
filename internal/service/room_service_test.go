package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"debugsync/internal/cache"
	"debugsync/internal/model"
	"debugsync/internal/presence"
	"debugsync/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis instance and a redis client for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

// fakeRoomRepo is an in-memory RoomRepo with the same duplicate-key and
// single-document-update semantics as the Mongo implementation.
type fakeRoomRepo struct {
	mu       sync.Mutex
	rooms    map[string]*model.Room
	failFind bool
	failSave bool
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{rooms: make(map[string]*model.Room)}
}

func (f *fakeRoomRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (f *fakeRoomRepo) FindByCode(ctx context.Context, code string) (*model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFind {
		return nil, errors.New("durable store down")
	}
	room, ok := f.rooms[code]
	if !ok {
		return nil, nil
	}
	cp := *room
	cp.Members = append([]string(nil), room.Members...)
	cp.Chat = append([]model.ChatMessage(nil), room.Chat...)
	cp.History = append([]model.Snapshot(nil), room.History...)
	return &cp, nil
}

func (f *fakeRoomRepo) Create(ctx context.Context, room *model.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[room.Code]; ok {
		return repository.ErrRoomExists
	}
	cp := *room
	f.rooms[room.Code] = &cp
	return nil
}

func (f *fakeRoomRepo) AddMember(ctx context.Context, code, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[code]
	if !ok {
		return nil
	}
	for _, m := range room.Members {
		if m == username {
			return nil
		}
	}
	room.Members = append(room.Members, username)
	return nil
}

func (f *fakeRoomRepo) RemoveMember(ctx context.Context, code, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[code]
	if !ok {
		return nil
	}
	kept := room.Members[:0]
	for _, m := range room.Members {
		if m != username {
			kept = append(kept, m)
		}
	}
	room.Members = kept
	return nil
}

func (f *fakeRoomRepo) SaveSnapshot(ctx context.Context, code string, snap model.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errors.New("durable store down")
	}
	room, ok := f.rooms[code]
	if !ok {
		room = &model.Room{Code: code, CreatedAt: snap.Timestamp}
		f.rooms[code] = room
	}
	room.Buffer = snap.Buffer
	room.History = append(room.History, snap)
	room.UpdatedAt = snap.Timestamp
	return nil
}

func (f *fakeRoomRepo) AppendChat(ctx context.Context, code string, msg model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[code]
	if !ok {
		room = &model.Room{Code: code, CreatedAt: msg.Timestamp}
		f.rooms[code] = room
	}
	room.Chat = append(room.Chat, msg)
	room.UpdatedAt = msg.Timestamp
	return nil
}

func (f *fakeRoomRepo) Delete(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, code)
	return nil
}

func (f *fakeRoomRepo) get(code string) *model.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[code]
}

// fakeBroadcaster records every fan-out call.
type fanout struct {
	Kind    string // room, others, user, detach
	Room    string
	Sender  string
	User    string
	MsgType string
	Payload interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []fanout
}

func (b *fakeBroadcaster) BroadcastToRoom(roomCode, msgType string, payload interface{}) {
	b.record(fanout{Kind: "room", Room: roomCode, MsgType: msgType, Payload: payload})
}

func (b *fakeBroadcaster) BroadcastToOthers(roomCode, senderID, msgType string, payload interface{}) {
	b.record(fanout{Kind: "others", Room: roomCode, Sender: senderID, MsgType: msgType, Payload: payload})
}

func (b *fakeBroadcaster) SendToUser(roomCode, username, msgType string, payload interface{}) bool {
	b.record(fanout{Kind: "user", Room: roomCode, User: username, MsgType: msgType, Payload: payload})
	return true
}

func (b *fakeBroadcaster) Detach(roomCode, username string) {
	b.record(fanout{Kind: "detach", Room: roomCode, User: username})
}

func (b *fakeBroadcaster) record(f fanout) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, f)
}

func (b *fakeBroadcaster) byType(msgType string) []fanout {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []fanout
	for _, e := range b.events {
		if e.MsgType == msgType {
			out = append(out, e)
		}
	}
	return out
}

func (b *fakeBroadcaster) kicks() []fanout {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []fanout
	for _, e := range b.events {
		if e.Kind == "user" && e.MsgType == "kicked" {
			out = append(out, e)
		}
	}
	return out
}

func setupService(t *testing.T) (*RoomService, *fakeRoomRepo, *fakeBroadcaster, *redis.Client) {
	_, rdb := setupTestRedis(t)
	repo := newFakeRoomRepo()
	svc := NewRoomService(
		repo,
		cache.NewBufferCache(rdb),
		cache.NewChatCache(rdb),
		cache.NewSessionCache(rdb),
		cache.NewPresenceCache(rdb),
		presence.NewTable(),
	)
	b := &fakeBroadcaster{}
	svc.SetBroadcaster(b)
	return svc, repo, b, rdb
}

func TestResolveUsername(t *testing.T) {
	assert.Equal(t, "alice", ResolveUsername("alice", "bob", "conn-1234"))
	assert.Equal(t, "bob", ResolveUsername("", "bob", "conn-1234"))
	assert.Equal(t, "user-1234", ResolveUsername("", "", "conn-1234"))
	assert.Equal(t, "user-ab", ResolveUsername("", "", "ab"))
}

func TestFirstJoinBecomesAdmin(t *testing.T) {
	svc, repo, _, _ := setupService(t)
	ctx := context.Background()

	res := svc.Join(ctx, "c1", "abc123", "alice")

	assert.Equal(t, "alice", res.Admin)
	assert.True(t, res.IsAdmin)
	assert.Equal(t, []string{"alice"}, res.Members)
	assert.Equal(t, "", res.Buffer)

	room := repo.get("abc123")
	require.NotNil(t, room)
	assert.Equal(t, "alice", room.Admin)
}

func TestSecondJoinIsNotAdmin(t *testing.T) {
	svc, repo, _, _ := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	res := svc.Join(ctx, "c2", "abc123", "bob")

	assert.Equal(t, "alice", res.Admin)
	assert.False(t, res.IsAdmin)
	assert.ElementsMatch(t, []string{"alice", "bob"}, res.Members)
	assert.ElementsMatch(t, []string{"alice", "bob"}, repo.get("abc123").Members)
}

func TestConcurrentFirstJoinsElectOneAdmin(t *testing.T) {
	svc, repo, _, _ := setupService(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc.Join(ctx, fmt.Sprintf("c%d", i), "race01", fmt.Sprintf("user%d", i))
		}(i)
	}
	wg.Wait()

	room := repo.get("race01")
	require.NotNil(t, room)
	assert.NotEmpty(t, room.Admin)
	assert.Len(t, room.Members, n)
	// The admin is one of the joiners and every member agrees on it.
	assert.Contains(t, room.Members, room.Admin)
}

func TestRepeatedJoinDoesNotDuplicateMembers(t *testing.T) {
	svc, repo, _, _ := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	svc.Join(ctx, "c2", "abc123", "alice")
	svc.Join(ctx, "c3", "abc123", "alice")

	assert.Equal(t, []string{"alice"}, repo.get("abc123").Members)
}

func TestJoinPrefersCachedBufferOverDurable(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	svc.ApplyEdit(ctx, "abc123", "c1", "print(1)")

	res := svc.Join(ctx, "c2", "abc123", "bob")
	assert.Equal(t, "print(1)", res.Buffer)
}

func TestJoinFallsBackToDurableBuffer(t *testing.T) {
	svc, repo, _, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Room{
		Code:    "abc123",
		Buffer:  "saved text",
		Admin:   "alice",
		Members: []string{"alice"},
	}))

	res := svc.Join(ctx, "c2", "abc123", "bob")
	assert.Equal(t, "saved text", res.Buffer)
}

func TestJoinDegradesWhenDurableStoreDown(t *testing.T) {
	svc, repo, _, _ := setupService(t)
	ctx := context.Background()
	repo.failFind = true

	res := svc.Join(ctx, "c1", "abc123", "alice")

	assert.Equal(t, "alice", res.Username)
	assert.Equal(t, "", res.Admin)
	assert.False(t, res.IsAdmin)
	assert.Equal(t, "", res.Buffer)
	assert.Equal(t, []string{"alice"}, res.Present)
}

func TestJoinSeedsChatMirror(t *testing.T) {
	svc, repo, _, rdb := setupService(t)
	ctx := context.Background()

	msgs := []model.ChatMessage{{Sender: "alice", Text: "hi", Timestamp: time.Now()}}
	require.NoError(t, repo.Create(ctx, &model.Room{
		Code: "abc123", Admin: "alice", Members: []string{"alice"}, Chat: msgs,
	}))

	svc.Join(ctx, "c1", "abc123", "bob")

	mirror, err := cache.NewChatCache(rdb).Get(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, mirror, 1)
	assert.Equal(t, "hi", mirror[0].Text)
}

func TestJoinWritesSessionEntry(t *testing.T) {
	svc, _, _, rdb := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "conn-42", "abc123", "alice")

	sess, err := cache.NewSessionCache(rdb).Get(ctx, "conn-42")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "alice", sess.Username)
	assert.Equal(t, "abc123", sess.RoomCode)
}

func TestApplyEditCachesWithoutDurableWrite(t *testing.T) {
	svc, repo, b, rdb := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	svc.ApplyEdit(ctx, "abc123", "c1", "print(1)")

	cached, err := cache.NewBufferCache(rdb).Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", cached)
	// Durable buffer untouched until an explicit save.
	assert.Equal(t, "", repo.get("abc123").Buffer)

	updates := b.byType("buffer_update")
	require.Len(t, updates, 1)
	assert.Equal(t, "others", updates[0].Kind)
	assert.Equal(t, "c1", updates[0].Sender)
}

func TestSaveWritesBufferAndHistoryTogether(t *testing.T) {
	svc, repo, _, rdb := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	require.NoError(t, svc.Save(ctx, "abc123", "print(1)", "alice"))

	room := repo.get("abc123")
	assert.Equal(t, "print(1)", room.Buffer)
	require.Len(t, room.History, 1)
	assert.Equal(t, "print(1)", room.History[0].Buffer)
	assert.Equal(t, "alice", room.History[0].Author)

	cached, err := cache.NewBufferCache(rdb).Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", cached)
}

func TestSaveSurfacesDurableFailure(t *testing.T) {
	svc, repo, _, _ := setupService(t)
	ctx := context.Background()
	repo.failSave = true

	err := svc.Save(ctx, "abc123", "print(1)", "alice")
	assert.Error(t, err)
}

func TestKickByNonAdminIsSilentNoop(t *testing.T) {
	svc, repo, b, _ := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	svc.Join(ctx, "c2", "abc123", "bob")

	applied, err := svc.Kick(ctx, "abc123", "bob", "alice")
	require.NoError(t, err)
	assert.False(t, applied)

	room := repo.get("abc123")
	assert.Equal(t, "alice", room.Admin)
	assert.ElementsMatch(t, []string{"alice", "bob"}, room.Members)
	assert.Empty(t, b.kicks())
}

func TestKickByAdminRemovesTarget(t *testing.T) {
	svc, repo, b, _ := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	svc.Join(ctx, "c2", "abc123", "bob")

	applied, err := svc.Kick(ctx, "abc123", "alice", "bob")
	require.NoError(t, err)
	assert.True(t, applied)

	assert.Equal(t, []string{"alice"}, repo.get("abc123").Members)
	assert.Equal(t, []string{"alice"}, svc.Present("abc123"))

	kicks := b.kicks()
	require.Len(t, kicks, 1)
	assert.Equal(t, "bob", kicks[0].User)
}

func TestLeaveRemovesPresenceOnly(t *testing.T) {
	svc, repo, b, _ := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	svc.Join(ctx, "c2", "abc123", "bob")
	svc.Leave(ctx, "c2", "abc123", "bob")

	assert.Equal(t, []string{"alice"}, svc.Present("abc123"))
	// Durable membership is monotonic except via Kick or deletion.
	assert.ElementsMatch(t, []string{"alice", "bob"}, repo.get("abc123").Members)

	snaps := b.byType("presence_snapshot")
	require.NotEmpty(t, snaps)
}

func TestLeaveLastUserClearsPresence(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	svc.Leave(ctx, "c1", "abc123", "alice")

	assert.Empty(t, svc.Present("abc123"))
}

func TestLeaveIsIdempotent(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	svc.Leave(ctx, "c1", "abc123", "alice")
	svc.Leave(ctx, "c1", "abc123", "alice")

	assert.Empty(t, svc.Present("abc123"))
}

func TestChatBroadcastsAndPersists(t *testing.T) {
	svc, repo, b, rdb := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	require.NoError(t, svc.Chat(ctx, "abc123", "alice", "hello"))

	msgs := b.byType("chat_message")
	require.Len(t, msgs, 1)
	// Chat echoes to the sender too, for one consistent ordering.
	assert.Equal(t, "room", msgs[0].Kind)

	room := repo.get("abc123")
	require.Len(t, room.Chat, 1)
	assert.Equal(t, "hello", room.Chat[0].Text)

	mirror, err := cache.NewChatCache(rdb).Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Len(t, mirror, 1)
}

func TestCursorMoveTagsUsernameAndColor(t *testing.T) {
	svc, _, b, _ := setupService(t)

	svc.Join(context.Background(), "c1", "abc123", "alice")
	svc.CursorMove("abc123", "c1", "alice", model.Cursor{Line: 3, Column: 7})

	updates := b.byType("cursor_update")
	require.Len(t, updates, 1)
	assert.Equal(t, "others", updates[0].Kind)
	payload := updates[0].Payload.(map[string]interface{})
	assert.Equal(t, "alice", payload["username"])
	assert.Equal(t, model.CursorColor("alice"), payload["color"])
}

func TestDeleteRoomClearsDurableAndCaches(t *testing.T) {
	svc, repo, _, rdb := setupService(t)
	ctx := context.Background()

	svc.Join(ctx, "c1", "abc123", "alice")
	svc.ApplyEdit(ctx, "abc123", "c1", "print(1)")
	require.NoError(t, svc.Chat(ctx, "abc123", "alice", "hi"))

	require.NoError(t, svc.DeleteRoom(ctx, "abc123"))

	assert.Nil(t, repo.get("abc123"))
	cached, err := cache.NewBufferCache(rdb).Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "", cached)
	mirror, err := cache.NewChatCache(rdb).Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Nil(t, mirror)
}

func TestChatAndSnapshotHistoryNilSafe(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := context.Background()

	chat, err := svc.ChatHistory(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, chat)

	history, err := svc.SnapshotHistory(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestNewRoomCodeShapeAndUniqueness(t *testing.T) {
	svc, repo, _, _ := setupService(t)
	ctx := context.Background()

	code, err := svc.NewRoomCode(ctx)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.Nil(t, repo.get(code))
}

// Scenario from the design review: alice creates, bob joins, alice edits
// and saves, bob fails to kick alice, alice kicks bob.
func TestRoomLifecycleScenario(t *testing.T) {
	svc, repo, b, rdb := setupService(t)
	ctx := context.Background()

	res := svc.Join(ctx, "ca", "abc123", "alice")
	assert.True(t, res.IsAdmin)
	assert.Equal(t, "", res.Buffer)

	res = svc.Join(ctx, "cb", "abc123", "bob")
	assert.Equal(t, "alice", res.Admin)
	assert.ElementsMatch(t, []string{"alice", "bob"}, res.Members)

	svc.ApplyEdit(ctx, "abc123", "ca", "print(1)")
	cached, _ := cache.NewBufferCache(rdb).Get(ctx, "abc123")
	assert.Equal(t, "print(1)", cached)
	assert.Equal(t, "", repo.get("abc123").Buffer)

	require.NoError(t, svc.Save(ctx, "abc123", "print(1)", "alice"))
	room := repo.get("abc123")
	assert.Equal(t, "print(1)", room.Buffer)
	require.Len(t, room.History, 1)
	assert.Equal(t, "alice", room.History[0].Author)

	applied, err := svc.Kick(ctx, "abc123", "bob", "alice")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "alice", repo.get("abc123").Admin)

	applied, err = svc.Kick(ctx, "abc123", "alice", "bob")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, []string{"alice"}, repo.get("abc123").Members)
	require.Len(t, b.kicks(), 1)
	assert.Equal(t, "bob", b.kicks()[0].User)
}
