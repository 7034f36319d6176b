package model

import "time"

// Room is the durable record for a collaborative session. The Mongo
// document is keyed by Code, which carries a unique index so that two
// near-simultaneous first joins cannot both create the room.
type Room struct {
	Code      string        `json:"code" bson:"code"`
	Buffer    string        `json:"buffer" bson:"buffer"`
	Admin     string        `json:"admin" bson:"admin"`
	Members   []string      `json:"members" bson:"members"`
	Chat      []ChatMessage `json:"chat" bson:"chat"`
	History   []Snapshot    `json:"history" bson:"history"`
	CreatedAt time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// HasMember reports whether username is in the durable member list.
func (r *Room) HasMember(username string) bool {
	for _, m := range r.Members {
		if m == username {
			return true
		}
	}
	return false
}

// ChatMessage is one entry in a room's chat log.
type ChatMessage struct {
	Sender    string    `json:"sender" bson:"sender"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Snapshot is a saved copy of the buffer, attributed to the saving user.
type Snapshot struct {
	Buffer    string    `json:"buffer" bson:"buffer"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Author    string    `json:"author" bson:"author"`
}
