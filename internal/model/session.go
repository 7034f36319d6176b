package model

import "time"

// Session is the cached per-connection record. It expires after an hour
// as a safety net against orphaned entries if disconnect cleanup is missed.
type Session struct {
	ConnID      string    `json:"connId"`
	Username    string    `json:"username"`
	RoomCode    string    `json:"roomCode"`
	ConnectedAt time.Time `json:"connectedAt"`
}
