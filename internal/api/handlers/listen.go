package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"streampirex-radio/internal/admission"
	"streampirex-radio/internal/api/middleware"
	"streampirex-radio/internal/sessions"
)

// ListenHandler is the listener-facing surface: join a station, keep the
// session alive, leave.
type ListenHandler struct {
	ctrl     *admission.Controller
	registry *sessions.Registry
}

func NewListenHandler(ctrl *admission.Controller, registry *sessions.Registry) *ListenHandler {
	return &ListenHandler{ctrl: ctrl, registry: registry}
}

// Listen admits a listener and returns the stream grant.
func (h *ListenHandler) Listen(c *gin.Context) {
	stationID, ok := stationParam(c)
	if !ok {
		return
	}

	var input struct {
		RequestedKbps       int    `json:"requested_bitrate_kbps"`
		RequestedResolution string `json:"requested_resolution"`
	}
	// Body is optional: an empty request means "whatever my tier allows".
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	grant, err := h.ctrl.Listen(c.Request.Context(), admission.Request{
		StationID:           stationID,
		Identity:            middleware.IdentityFrom(c),
		IP:                  c.ClientIP(),
		RequestedKbps:       input.RequestedKbps,
		RequestedResolution: input.RequestedResolution,
	})
	if err != nil {
		writeAdmissionError(c, err)
		return
	}

	c.JSON(http.StatusOK, grant)
}

// Heartbeat refreshes a session and reports bytes served since the last one.
func (h *ListenHandler) Heartbeat(c *gin.Context) {
	var input struct {
		BytesSinceLast int64 `json:"bytes_since_last"`
		ElapsedMs      int64 `json:"elapsed_ms"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	err := h.registry.Heartbeat(c.Param("id"), input.BytesSinceLast, input.ElapsedMs)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// CloseSession ends a session. Idempotent: closing twice is still a 204.
func (h *ListenHandler) CloseSession(c *gin.Context) {
	h.registry.Close(c.Param("id"), sessions.CloseClientLeft)
	c.Status(http.StatusNoContent)
}

// NowPlaying reports the station's current position and listener count.
func (h *ListenHandler) NowPlaying(c *gin.Context) {
	stationID, ok := stationParam(c)
	if !ok {
		return
	}

	now, count, err := h.ctrl.NowPlaying(stationID)
	if err != nil {
		writeAdmissionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"track":          now.Track,
		"offset_ms":      now.OffsetMs,
		"remaining_ms":   now.RemainingMs,
		"is_live":        now.IsLive,
		"listener_count": count,
	})
}

// stationParam parses :id, writing the 400 itself on garbage.
func stationParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid station ID"})
		return 0, false
	}
	return uint(id), true
}

// writeAdmissionError maps controller error kinds onto HTTP. Busy and
// Preparing carry retry hints so well-behaved clients back off.
func writeAdmissionError(c *gin.Context, err error) {
	var aerr *admission.Error
	if !errors.As(err, &aerr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch aerr.Kind {
	case admission.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": aerr.Reason})
	case admission.KindForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": aerr.Reason})
	case admission.KindRateLimited:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": aerr.Reason})
	case admission.KindBusy:
		c.JSON(http.StatusConflict, gin.H{
			"reason":         aerr.Reason,
			"retry_after_ms": aerr.RetryAfterMs,
		})
	case admission.KindPreparing:
		c.JSON(http.StatusAccepted, gin.H{
			"status":         "preparing",
			"job_id":         aerr.JobID,
			"retry_after_ms": aerr.RetryAfterMs,
		})
	case admission.KindBadRequest:
		c.JSON(http.StatusBadRequest, gin.H{"error": aerr.Reason})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": aerr.Reason})
	}
}
