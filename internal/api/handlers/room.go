package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"streampirex-radio/internal/admission"
	"streampirex-radio/internal/api/middleware"
	"streampirex-radio/internal/identity"
	"streampirex-radio/internal/rooms"
)

// RoomHandler bridges HTTP into the station rooms: the websocket upgrade
// and the REST chat fallback.
type RoomHandler struct {
	hub    *rooms.Hub
	ctrl   *admission.Controller
	secret []byte
}

func NewRoomHandler(hub *rooms.Hub, ctrl *admission.Controller, secret []byte) *RoomHandler {
	return &RoomHandler{hub: hub, ctrl: ctrl, secret: secret}
}

// ServeRoom upgrades to a websocket after checking the room token the
// listen grant carried. Tokens are station-bound, so a token for station 3
// cannot open station 4's room.
func (h *RoomHandler) ServeRoom(c *gin.Context) {
	stationID, ok := stationParam(c)
	if !ok {
		return
	}

	user, ok := identity.VerifyRoomToken(h.secret, c.Query("room_token"), stationID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid room token"})
		return
	}

	// Snapshot before the upgrade; after it the response is the socket.
	var snapshot *rooms.NowPlaying
	if now, _, err := h.ctrl.NowPlaying(stationID); err == nil {
		snapshot = &now
	}

	h.hub.ServeWS(c.Writer, c.Request, stationID, user, snapshot)
}

// PostChat is the REST path into room chat, for clients without a socket.
func (h *RoomHandler) PostChat(c *gin.Context) {
	stationID, ok := stationParam(c)
	if !ok {
		return
	}

	ident := middleware.IdentityFrom(c)
	if ident.Anonymous {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Chat requires an account"})
		return
	}

	var input struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.hub.Chat(stationID, ident.UserID, input.Text); err != nil {
		if errors.Is(err, rooms.ErrChatRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Slow down"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Chat delivery failed"})
		return
	}

	c.Status(http.StatusNoContent)
}
