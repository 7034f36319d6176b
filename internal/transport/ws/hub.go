package ws

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client message types
const (
	MsgJoin         MessageType = "join"
	MsgEdit         MessageType = "edit"
	MsgSave         MessageType = "save"
	MsgCursor       MessageType = "cursor"
	MsgLanguage     MessageType = "language_change"
	MsgChat         MessageType = "chat_message"
	MsgChatRequest  MessageType = "chat_request"
	MsgChatResponse MessageType = "chat_response"
	MsgKick         MessageType = "kick"
)

// Server message types
const (
	MsgBufferSnapshot      MessageType = "buffer_snapshot"
	MsgBufferUpdate        MessageType = "buffer_update"
	MsgCursorUpdate        MessageType = "cursor_update"
	MsgLanguageChanged     MessageType = "language_changed"
	MsgPresenceSnapshot    MessageType = "presence_snapshot"
	MsgAdminSnapshot       MessageType = "admin_snapshot"
	MsgKicked              MessageType = "kicked"
	MsgSaveAck             MessageType = "save_ack"
	MsgChatRequestReceived MessageType = "chat_request_received"
	MsgChatStart           MessageType = "chat_start"
	MsgChatCancel          MessageType = "chat_cancel"
	MsgError               MessageType = "error"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages WebSocket connections for rooms. Frames enqueued from one
// sender reach any given receiver in send order: the run loop serializes
// fan-out and each connection drains its own FIFO channel.
type Hub struct {
	// roomCode -> attached connections
	rooms map[string]map[*Connection]struct{}

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *broadcastMessage
}

// Connection represents one participant's WebSocket connection. RoomCode
// and Username are set once at join time, before registration.
type Connection struct {
	ID       string
	RoomCode string
	Username string
	Send     chan []byte

	detached  atomic.Bool
	leaveOnce sync.Once
}

// Detached reports whether the connection was removed from its room (by
// kick) while the channel stays open.
func (c *Connection) Detached() bool {
	return c.detached.Load()
}

// Enqueue marshals an envelope onto the connection's send queue, dropping
// the frame if the queue is full.
func (c *Connection) Enqueue(msgType MessageType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, _ := json.Marshal(&Message{Type: msgType, Payload: data})
	select {
	case c.Send <- frame:
	default:
		// Drop frame if buffer full
	}
}

type broadcastMessage struct {
	RoomCode string
	ExceptID string // skip this sender when set
	Message  *Message
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	h := &Hub{
		rooms:      make(map[string]map[*Connection]struct{}),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *broadcastMessage, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.rooms[conn.RoomCode] == nil {
				h.rooms[conn.RoomCode] = make(map[*Connection]struct{})
			}
			h.rooms[conn.RoomCode][conn] = struct{}{}
			h.mu.Unlock()
			log.Printf("%s attached to room %s", conn.Username, conn.RoomCode)

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.rooms[conn.RoomCode]; ok {
				if _, ok := conns[conn]; ok {
					delete(conns, conn)
					if len(conns) == 0 {
						delete(h.rooms, conn.RoomCode)
					}
				}
			}
			h.mu.Unlock()
			close(conn.Send)
			log.Printf("%s disconnected from room %s", conn.Username, conn.RoomCode)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg.Message)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for conn := range h.rooms[msg.RoomCode] {
				if msg.ExceptID != "" && conn.ID == msg.ExceptID {
					continue
				}
				select {
				case conn.Send <- data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register attaches a connection to its room.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection and closes its send queue.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// BroadcastToRoom sends a message to every connection in a room
// (implements service.Broadcaster).
func (h *Hub) BroadcastToRoom(roomCode string, msgType string, payload interface{}) {
	h.fanout(roomCode, "", msgType, payload)
}

// BroadcastToOthers sends a message to every connection in a room except
// the sender (implements service.Broadcaster).
func (h *Hub) BroadcastToOthers(roomCode, senderID string, msgType string, payload interface{}) {
	h.fanout(roomCode, senderID, msgType, payload)
}

func (h *Hub) fanout(roomCode, exceptID string, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.broadcast <- &broadcastMessage{
		RoomCode: roomCode,
		ExceptID: exceptID,
		Message: &Message{
			Type:    MessageType(msgType),
			Payload: data,
		},
	}
}

// SendToUser delivers a message to the single connection matching
// room+username (implements service.Broadcaster).
func (h *Hub) SendToUser(roomCode, username string, msgType string, payload interface{}) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.rooms[roomCode] {
		if conn.Username == username {
			conn.Enqueue(MessageType(msgType), payload)
			return true
		}
	}
	return false
}

// Detach removes the user's connection from the room without closing its
// send queue; the client keeps the socket and is expected to leave on its
// own (implements service.Broadcaster).
func (h *Hub) Detach(roomCode, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.rooms[roomCode] {
		if conn.Username == username {
			conn.detached.Store(true)
			delete(h.rooms[roomCode], conn)
			if len(h.rooms[roomCode]) == 0 {
				delete(h.rooms, roomCode)
			}
			return
		}
	}
}
