package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/4k-champ/cozy-flat-match/internal/api/middleware"
	"github.com/4k-champ/cozy-flat-match/internal/metrics"
	"github.com/4k-champ/cozy-flat-match/internal/models"
	"github.com/4k-champ/cozy-flat-match/internal/ws"
)

// nullCounterpart is the path sentinel meaning "no counterpart supplied":
// the server resolves the caller's existing room for the flat, or creates
// one with the caller as the interested user.
const nullCounterpart = "null"

// ResolveRoom handles POST /api/chat/room/{flatId}/{counterpartId}.
// Create-or-get: at most one room exists per (flat, owner, interested)
// triple and re-resolving returns the same room.
func (h *Handler) ResolveRoom(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	flatID, err := strconv.ParseInt(chi.URLParam(r, "flatId"), 10, 64)
	if err != nil || flatID <= 0 {
		h.Error(w, http.StatusBadRequest, "invalid flat id")
		return
	}

	counterpartStr := chi.URLParam(r, "counterpartId")
	if counterpartStr == nullCounterpart || counterpartStr == "" {
		h.resolveWithoutCounterpart(w, r, flatID, identity.UserID)
		return
	}

	counterpartID, err := strconv.ParseInt(counterpartStr, 10, 64)
	if err != nil || counterpartID <= 0 {
		h.Error(w, http.StatusBadRequest, "invalid counterpart user id")
		return
	}
	if counterpartID == identity.UserID {
		h.Error(w, http.StatusBadRequest, "cannot open a chat with yourself")
		return
	}

	flat, err := h.data.GetFlat(r.Context(), flatID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if flat == nil {
		h.Error(w, http.StatusNotFound, "flat not found")
		return
	}

	// The flat owner is always the room's owner participant; the server,
	// not the caller, decides the assignment.
	var ownerID, interestedID int64
	switch {
	case identity.UserID == flat.OwnerID:
		ownerID, interestedID = identity.UserID, counterpartID
	case counterpartID == flat.OwnerID:
		ownerID, interestedID = flat.OwnerID, identity.UserID
	default:
		h.Error(w, http.StatusBadRequest, "counterpart is not a participant for this flat")
		return
	}

	room, created, err := h.data.GetOrCreateRoom(r.Context(), flatID, ownerID, interestedID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to resolve chat room")
		return
	}

	outcome := "existing"
	status := http.StatusOK
	if created {
		outcome = "created"
		status = http.StatusCreated
	}
	metrics.RoomsResolved.WithLabelValues(outcome).Inc()

	h.JSON(w, status, room)
}

func (h *Handler) resolveWithoutCounterpart(w http.ResponseWriter, r *http.Request, flatID, userID int64) {
	room, err := h.data.FindRoomForUser(r.Context(), flatID, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room != nil {
		metrics.RoomsResolved.WithLabelValues("existing").Inc()
		h.JSON(w, http.StatusOK, room)
		return
	}

	flat, err := h.data.GetFlat(r.Context(), flatID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if flat == nil {
		h.Error(w, http.StatusNotFound, "flat not found")
		return
	}
	if flat.OwnerID == userID {
		// The owner has no counterpart to pair with yet.
		h.Error(w, http.StatusNotFound, "no chat room exists for this flat yet")
		return
	}

	created, _, err := h.data.GetOrCreateRoom(r.Context(), flatID, flat.OwnerID, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to resolve chat room")
		return
	}
	metrics.RoomsResolved.WithLabelValues("created").Inc()
	h.JSON(w, http.StatusCreated, created)
}

// roomForParticipant loads a room and verifies the caller participates in it.
func (h *Handler) roomForParticipant(w http.ResponseWriter, r *http.Request) (*models.ChatRoom, *middleware.Identity) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return nil, nil
	}

	roomID, err := strconv.ParseInt(chi.URLParam(r, "chatRoomId"), 10, 64)
	if err != nil || roomID <= 0 {
		h.Error(w, http.StatusBadRequest, "invalid chat room id")
		return nil, nil
	}

	room, err := h.data.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, nil
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "chat room not found")
		return nil, nil
	}
	if room.OwnerID != identity.UserID && room.InterestedUserID != identity.UserID {
		h.Error(w, http.StatusForbidden, "not a participant of this chat room")
		return nil, nil
	}

	return room, identity
}

// GetMessages handles GET /api/chat/messages/{chatRoomId}. Order is not
// guaranteed; clients sort by createdAt.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	room, _ := h.roomForParticipant(w, r)
	if room == nil {
		return
	}

	msgs, err := h.messages.GetRoomMessages(r.Context(), room.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	h.JSON(w, http.StatusOK, msgs)
}

// MarkRead handles PATCH /api/chat/messages/{chatRoomId}/read. Every SENT
// message in the room not sent by the caller becomes READ; senders learn of
// the transition on their receipt feed, and the room feed replays the
// updated messages.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	room, identity := h.roomForParticipant(w, r)
	if room == nil {
		return
	}

	updated, err := h.messages.MarkRead(r.Context(), room.ID, identity.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to mark messages read")
		return
	}

	if len(updated) > 0 && h.feed != nil {
		bySender := make(map[int64][]models.ChatMessage)
		for _, msg := range updated {
			bySender[msg.SenderID] = append(bySender[msg.SenderID], msg)
		}
		for senderID, msgs := range bySender {
			h.feed.Publish(ws.ReadReceiptsKey(senderID), ws.DestReadReceipts, msgs)
		}
		for i := range updated {
			h.feed.Publish(ws.RoomTopic(room.ID), ws.RoomTopic(room.ID), &updated[i])
		}
	}

	h.JSON(w, http.StatusOK, map[string]int{"updated": len(updated)})
}

// GetAllRooms handles GET /api/chat/getAllRooms: the caller's rooms with the
// flat address and counterpart name for the conversation-list view.
func (h *Handler) GetAllRooms(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rooms, err := h.data.ListRoomsForUser(r.Context(), identity.UserID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list chat rooms")
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}

	h.JSON(w, http.StatusOK, rooms)
}
