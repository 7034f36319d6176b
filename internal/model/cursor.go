package model

import "hash/fnv"

// Cursor is a transient editor position. It is never persisted; the
// latest update per username wins.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// cursorPalette holds the display colors assigned to remote cursors.
var cursorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

// CursorColor derives a stable display color for a username so every
// participant renders the same user with the same color.
func CursorColor(username string) string {
	h := fnv.New32a()
	h.Write([]byte(username))
	return cursorPalette[int(h.Sum32())%len(cursorPalette)]
}
