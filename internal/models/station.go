package models

import (
	"time"

	"gorm.io/gorm"
)

// Station is a logical channel: a looping playlist or a live feed.
type Station struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"` // Soft delete: sessions may outlive the row

	Name    string `json:"name" gorm:"uniqueIndex;not null"`
	OwnerID string `json:"owner_id" gorm:"index;not null"`

	// Access control
	Access string  `json:"access" gorm:"not null;default:'public'"` // public | subscription | ticketed
	Price  float64 `json:"price"`

	MaxListeners int `json:"max_listeners" gorm:"default:0"` // 0 = unlimited

	// Loop playback
	LoopEnabled   bool       `json:"loop_enabled" gorm:"default:false"`
	LoopStartedAt *time.Time `json:"loop_started_at"`

	// Live override. When IsLive, the loop is suspended and LiveURL is served.
	IsLive  bool   `json:"is_live" gorm:"default:false"`
	LiveURL string `json:"live_url"`

	Playlist []PlaylistEntry `json:"playlist" gorm:"foreignKey:StationID;constraint:OnDelete:CASCADE"`
}

// PlaylistEntry is one track slot in a station's loop.
// Durations are authoritative in milliseconds; "mm:ss" strings from the
// edit surface are parsed exactly once at ingestion.
type PlaylistEntry struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StationID  uint   `json:"station_id" gorm:"index;not null"`
	SortOrder  int    `json:"sort_order" gorm:"not null"`
	Title      string `json:"title"`
	SourceURI  string `json:"source_uri" gorm:"not null"`
	DurationMs int64  `json:"duration_ms" gorm:"not null"`

	// Native rendition of the source file
	SourceBitrateKbps int    `json:"source_bitrate_kbps" gorm:"default:320"`
	SourceResolution  string `json:"source_resolution" gorm:"default:'audio'"`
}
