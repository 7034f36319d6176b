package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"debugsync/internal/model"
	"debugsync/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // buffers ride in frames
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	roomSvc  *service.RoomService
	chatReq  *service.ChatRequestTracker
	identity service.Identity
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, roomSvc *service.RoomService, chatReq *service.ChatRequestTracker, identity service.Identity) *Handler {
	return &Handler{
		hub:      hub,
		roomSvc:  roomSvc,
		chatReq:  chatReq,
		identity: identity,
	}
}

// Serve handles GET /v1/ws. Identity comes from a token when one is
// presented; otherwise the client's username hint (or nothing) is used
// and a name is synthesized at join time.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	hint := r.URL.Query().Get("username")
	if token := r.URL.Query().Get("token"); token != "" {
		username, err := h.identity.Verify(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		hint = username
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	conn := &Connection{
		ID:   uuid.New().String(),
		Send: make(chan []byte, 256),
	}

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn, hint)
}

type joinPayload struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username,omitempty"`
}

type editPayload struct {
	RoomCode string `json:"roomCode"`
	Buffer   string `json:"buffer"`
}

type cursorPayload struct {
	RoomCode string `json:"roomCode"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

type languagePayload struct {
	RoomCode string `json:"roomCode"`
	Language string `json:"language"`
}

type chatPayload struct {
	RoomCode string `json:"roomCode"`
	Text     string `json:"text"`
}

type chatResponsePayload struct {
	RoomCode string `json:"roomCode"`
	Accepted bool   `json:"accepted"`
}

type kickPayload struct {
	RoomCode string `json:"roomCode"`
	Target   string `json:"target"`
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection, hint string) {
	defer func() {
		h.leave(conn)
		h.hub.Unregister(conn)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			conn.Enqueue(MsgError, map[string]string{"message": "malformed message"})
			continue
		}
		h.dispatch(conn, &msg, hint)
	}
}

func (h *Handler) dispatch(conn *Connection, msg *Message, hint string) {
	ctx := context.Background()

	if msg.Type == MsgJoin {
		if conn.RoomCode != "" {
			return // already attached
		}
		var p joinPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.RoomCode == "" {
			conn.Enqueue(MsgError, map[string]string{"message": "roomCode required"})
			return
		}
		if p.Username == "" {
			p.Username = hint
		}
		conn.Username = service.ResolveUsername("", p.Username, conn.ID)
		conn.RoomCode = p.RoomCode

		h.hub.Register(conn)
		res := h.roomSvc.Join(ctx, conn.ID, p.RoomCode, conn.Username)
		conn.Enqueue(MsgBufferSnapshot, res)
		return
	}

	// Everything below requires a live room attachment.
	if conn.RoomCode == "" || conn.Detached() {
		return
	}
	roomCode := conn.RoomCode

	switch msg.Type {
	case MsgEdit:
		var p editPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		h.roomSvc.ApplyEdit(ctx, roomCode, conn.ID, p.Buffer)

	case MsgSave:
		var p editPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if err := h.roomSvc.Save(ctx, roomCode, p.Buffer, conn.Username); err != nil {
			log.Printf("save %s by %s failed: %v", roomCode, conn.Username, err)
			conn.Enqueue(MsgSaveAck, map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		conn.Enqueue(MsgSaveAck, map[string]interface{}{"success": true})

	case MsgCursor:
		var p cursorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		h.roomSvc.CursorMove(roomCode, conn.ID, conn.Username, model.Cursor{Line: p.Line, Column: p.Column})

	case MsgLanguage:
		var p languagePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		h.roomSvc.ChangeLanguage(roomCode, conn.ID, p.Language)

	case MsgChat:
		var p chatPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if err := h.roomSvc.Chat(ctx, roomCode, conn.Username, p.Text); err != nil {
			log.Printf("chat %s: %v", roomCode, err)
		}

	case MsgChatRequest:
		if h.chatReq.Request(roomCode, conn.Username) {
			h.hub.BroadcastToOthers(roomCode, conn.ID, string(MsgChatRequestReceived), map[string]string{
				"from": conn.Username,
			})
		}

	case MsgChatResponse:
		var p chatResponsePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		present := h.roomSvc.Present(roomCode)
		started, cancelled := h.chatReq.Respond(roomCode, conn.Username, p.Accepted, present)
		if cancelled {
			h.hub.BroadcastToRoom(roomCode, string(MsgChatCancel), map[string]string{"by": conn.Username})
		}
		if started {
			h.hub.BroadcastToRoom(roomCode, string(MsgChatStart), map[string]interface{}{"users": present})
		}

	case MsgKick:
		var p kickPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		// Unauthorized kicks are a silent no-op; nothing to report either way.
		if _, err := h.roomSvc.Kick(ctx, roomCode, conn.Username, p.Target); err != nil {
			log.Printf("kick %s: %v", roomCode, err)
		}
	}
}

// leave runs disconnect cleanup exactly once per connection, even when a
// disconnect races an in-flight join.
func (h *Handler) leave(conn *Connection) {
	conn.leaveOnce.Do(func() {
		h.roomSvc.Leave(context.Background(), conn.ID, conn.RoomCode, conn.Username)
	})
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
