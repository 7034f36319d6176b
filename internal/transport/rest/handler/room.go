package handler

import (
	"net/http"

	"debugsync/internal/service"

	"github.com/gorilla/mux"
)

// RoomHandler handles room endpoints
type RoomHandler struct {
	roomSvc *service.RoomService
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(roomSvc *service.RoomService) *RoomHandler {
	return &RoomHandler{
		roomSvc: roomSvc,
	}
}

// Create handles POST /v1/rooms. It only mints an unused code; the room
// record itself is created by the first join.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	code, err := h.roomSvc.NewRoomCode(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"roomCode": code})
}

// Chat handles GET /v1/rooms/{code}/chat
func (h *RoomHandler) Chat(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	chat, err := h.roomSvc.ChatHistory(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"chat": chat})
}

// History handles GET /v1/rooms/{code}/history
func (h *RoomHandler) History(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	history, err := h.roomSvc.SnapshotHistory(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// Delete handles DELETE /v1/rooms/{code}
func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	if err := h.roomSvc.DeleteRoom(r.Context(), code); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
