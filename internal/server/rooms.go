package server

import (
	"net/http"

	"file-exchanger/internal/db"
)

type createRoomReq struct {
	Password string `json:"password"`
}

type joinRoomReq struct {
	RoomID   string `json:"room_id"`
	Password string `json:"password"`
}

type roomResp struct {
	Success bool   `json:"success"`
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

// handleCreateRoom handles POST /api/create-room.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, true)
		return
	}

	room, err := s.rooms.Create(r.Context(), req.Password)
	if err != nil {
		writeError(w, r, err, true)
		return
	}

	s.metrics.RecordRoomCreated()
	s.audit(r, db.Event{Action: db.ActionRoomCreated, Space: db.SpaceRoom, RoomID: room.ID, Success: true})

	writeJSON(w, http.StatusOK, roomResp{
		Success: true,
		RoomID:  room.ID,
		Message: "Room created! ID: " + room.ID,
	})
}

// handleJoinRoom handles POST /api/join-room. Joining only proves the
// password; later requests resend it in X-Password.
func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, true)
		return
	}

	room, err := s.rooms.Join(r.Context(), req.RoomID, req.Password, getClientIP(r))
	if err != nil {
		s.recordAuthFailure(r, req.RoomID, err, "join")
		writeError(w, r, err, true)
		return
	}

	s.metrics.RecordJoin(true)
	s.audit(r, db.Event{Action: db.ActionRoomJoined, Space: db.SpaceRoom, RoomID: room.ID, Success: true})

	writeJSON(w, http.StatusOK, roomResp{
		Success: true,
		RoomID:  room.ID,
		Message: "Joined room " + room.ID,
	})
}

// handleListRooms handles GET /api/rooms.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rooms.List(r.Context()))
}
