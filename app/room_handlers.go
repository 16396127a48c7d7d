package chatrooms

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/chatrooms/core"
	"github.com/putto11262002/chatrooms/pkg/router"
)

type RoomHandler struct {
	rooms   core.RoomStore
	history *core.HistoryLoader
	feed    *core.RoomFeed
}

func NewRoomHandler(rooms core.RoomStore, history *core.HistoryLoader, feed *core.RoomFeed) *RoomHandler {
	return &RoomHandler{rooms: rooms, history: history, feed: feed}
}

// roomIDParam parses the {roomID} path parameter. An id that cannot exist is not found.
func roomIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.ErrRoomNotFound
	}
	return id, nil
}

func (h *RoomHandler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	rooms, err := h.rooms.ListRooms(r.Context())
	if err != nil {
		return err
	}

	views := make([]core.RoomView, 0, len(rooms))
	for i := range rooms {
		views = append(views, rooms[i].View())
	}
	return router.WriteJSON(w, http.StatusOK, views)
}

func (h *RoomHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	user := core.UserFromRequest(r)
	var input core.RoomCreateInput
	if err := decodeAndValidate(r, &input); err != nil {
		return err
	}

	room, err := h.rooms.CreateRoom(r.Context(), user.ID, input)
	if err != nil {
		return err
	}

	h.feed.RoomCreated(room)
	return router.WriteJSON(w, http.StatusCreated, room.View())
}

func (h *RoomHandler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) error {
	user := core.UserFromRequest(r)
	id, err := roomIDParam(r)
	if err != nil {
		return err
	}

	if err := h.rooms.AddParticipant(r.Context(), id, user.ID); err != nil {
		return err
	}

	room, err := h.rooms.GetRoom(r.Context(), id)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, room.View())
}

func (h *RoomHandler) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) error {
	user := core.UserFromRequest(r)
	id, err := roomIDParam(r)
	if err != nil {
		return err
	}

	if err := h.rooms.DeleteRoom(r.Context(), id, user.ID); err != nil {
		return err
	}

	h.feed.RoomDeleted(id)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// RoomMessagesHandler returns the same history a joining socket would replay.
func (h *RoomHandler) RoomMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	user := core.UserFromRequest(r)
	id, err := roomIDParam(r)
	if err != nil {
		return err
	}

	room, err := h.rooms.GetRoom(r.Context(), id)
	if err != nil {
		return err
	}
	if err := core.Authorize(r.Context(), h.rooms, room, user.ID); err != nil {
		return err
	}

	events, _, err := h.history.Load(r.Context(), room.ID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, events)
}
