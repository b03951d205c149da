package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"streampirex-radio/internal/bandwidth"
	"streampirex-radio/internal/models"
	"streampirex-radio/internal/rooms"
	"streampirex-radio/internal/sessions"
	"streampirex-radio/internal/transcode"
)

// StatsHandler serves the operator dashboard snapshot.
type StatsHandler struct {
	db       *gorm.DB
	ledger   *bandwidth.Ledger
	registry *sessions.Registry
	hub      *rooms.Hub
}

func NewStatsHandler(db *gorm.DB, ledger *bandwidth.Ledger, registry *sessions.Registry, hub *rooms.Hub) *StatsHandler {
	return &StatsHandler{db: db, ledger: ledger, registry: registry, hub: hub}
}

// GetStats aggregates capacity, sessions, rooms and the transcode backlog.
func (h *StatsHandler) GetStats(c *gin.Context) {
	var totalStations int64
	var liveStations int64
	var queuedJobs int64

	h.db.Model(&models.Station{}).Count(&totalStations)
	h.db.Model(&models.Station{}).Where("is_live = ?", true).Count(&liveStations)
	h.db.Model(&models.TranscodeJob{}).Where("state = ?", transcode.StateQueued).Count(&queuedJobs)

	snap := h.ledger.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"stations": gin.H{
			"total": totalStations,
			"live":  liveStations,
		},
		"bandwidth": gin.H{
			"reserved_bps": snap.GlobalBps,
			"global_cap":   snap.GlobalMaxBps,
			"saturation":   snap.Saturation(),
			"tier_bps":     snap.TierBps,
			"tier_streams": snap.TierStreams,
		},
		"sessions": gin.H{
			"active": h.registry.Count(),
		},
		"rooms":           h.hub.Stats(),
		"transcode_queue": queuedJobs,
	})
}
