package service

// Broadcaster interface for WebSocket fan-out (avoids import cycle with
// the transport layer). Delivery is fire-and-forget: a dropped frame is
// superseded by the next one.
type Broadcaster interface {
	// BroadcastToRoom delivers to every connection in the room.
	BroadcastToRoom(roomCode string, msgType string, payload interface{})
	// BroadcastToOthers delivers to every connection except the sender.
	BroadcastToOthers(roomCode, senderID string, msgType string, payload interface{})
	// SendToUser delivers to the single connection matching room+username.
	// Returns false when no such connection is attached.
	SendToUser(roomCode, username string, msgType string, payload interface{}) bool
	// Detach removes the user's connection from the room without closing
	// the underlying channel; the client is expected to navigate away.
	Detach(roomCode, username string)
}
