package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"streampirex-radio/internal/api/middleware"
	"streampirex-radio/internal/models"
	"streampirex-radio/internal/timeline"
)

// StationHandler is the owner control plane: create stations, replace
// playlists, flip live mode.
type StationHandler struct {
	db *gorm.DB
}

func NewStationHandler(db *gorm.DB) *StationHandler {
	return &StationHandler{db: db}
}

// CreateStation registers a new channel owned by the caller.
func (h *StationHandler) CreateStation(c *gin.Context) {
	var input struct {
		Name         string  `json:"name" binding:"required"`
		Access       string  `json:"access"`
		Price        float64 `json:"price"`
		MaxListeners int     `json:"max_listeners"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	access := input.Access
	if access == "" {
		access = "public"
	}
	switch access {
	case "public", "subscription", "ticketed":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "access must be public, subscription or ticketed"})
		return
	}

	station := models.Station{
		Name:         input.Name,
		OwnerID:      middleware.IdentityFrom(c).UserID,
		Access:       access,
		Price:        input.Price,
		MaxListeners: input.MaxListeners,
	}
	if err := h.db.Create(&station).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create station"})
		return
	}

	c.JSON(http.StatusCreated, station)
}

// GetStation returns one station with its playlist in loop order.
func (h *StationHandler) GetStation(c *gin.Context) {
	stationID, ok := stationParam(c)
	if !ok {
		return
	}

	var station models.Station
	err := h.db.Preload("Playlist", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC")
	}).First(&station, stationID).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Station not found"})
		return
	}

	c.JSON(http.StatusOK, station)
}

// playlistEntryInput accepts either an authoritative duration_ms or the
// edit surface's "mm:ss" string. Exactly one must be present.
type playlistEntryInput struct {
	Title             string `json:"title"`
	SourceURI         string `json:"source_uri" binding:"required"`
	Duration          string `json:"duration"`
	DurationMs        int64  `json:"duration_ms"`
	SourceBitrateKbps int    `json:"source_bitrate_kbps"`
	SourceResolution  string `json:"source_resolution"`
}

// UpdatePlaylist replaces the station's loop wholesale, in request order.
// The loop anchor is untouched: position math absorbs the new durations on
// the next read.
func (h *StationHandler) UpdatePlaylist(c *gin.Context) {
	stationID, ok := stationParam(c)
	if !ok {
		return
	}

	var input struct {
		Entries []playlistEntryInput `json:"entries" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries := make([]models.PlaylistEntry, 0, len(input.Entries))
	for i, in := range input.Entries {
		durationMs := in.DurationMs
		if in.Duration != "" {
			ms, err := timeline.ParseDuration(in.Duration)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			durationMs = ms
		}
		if durationMs <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "entry needs a positive duration"})
			return
		}

		bitrate := in.SourceBitrateKbps
		if bitrate <= 0 {
			bitrate = 320
		}
		resolution := in.SourceResolution
		if resolution == "" {
			resolution = "audio"
		}

		entries = append(entries, models.PlaylistEntry{
			StationID:         stationID,
			SortOrder:         i,
			Title:             in.Title,
			SourceURI:         in.SourceURI,
			DurationMs:        durationMs,
			SourceBitrateKbps: bitrate,
			SourceResolution:  resolution,
		})
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("station_id = ?", stationID).Delete(&models.PlaylistEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.Create(&entries).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update playlist"})
		return
	}

	total, _ := timeline.TotalDurationMs(entries)
	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"entries":           len(entries),
		"total_duration_ms": total,
	})
}

// StartLoop (re)anchors the loop at now and enables it.
func (h *StationHandler) StartLoop(c *gin.Context) {
	stationID, ok := stationParam(c)
	if !ok {
		return
	}

	now := time.Now().UTC()
	err := h.db.Model(&models.Station{}).Where("id = ?", stationID).
		Updates(map[string]interface{}{
			"loop_enabled":    true,
			"loop_started_at": now,
		}).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start loop"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "looping", "loop_started_at": now})
}

// GoLive suspends the loop and points listeners at the live feed.
func (h *StationHandler) GoLive(c *gin.Context) {
	stationID, ok := stationParam(c)
	if !ok {
		return
	}

	var input struct {
		LiveURL string `json:"live_url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.db.Model(&models.Station{}).Where("id = ?", stationID).
		Updates(map[string]interface{}{
			"is_live":  true,
			"live_url": input.LiveURL,
		}).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to go live"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "live"})
}

// EndLive drops the live override. The loop restarts from the top of the
// playlist rather than pretending it kept playing underneath the show.
func (h *StationHandler) EndLive(c *gin.Context) {
	stationID, ok := stationParam(c)
	if !ok {
		return
	}

	now := time.Now().UTC()
	err := h.db.Model(&models.Station{}).Where("id = ?", stationID).
		Updates(map[string]interface{}{
			"is_live":         false,
			"live_url":        "",
			"loop_started_at": now,
		}).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end live"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "looping", "loop_started_at": now})
}
