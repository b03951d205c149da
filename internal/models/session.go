package models

import "time"

// ListenerSession is the audit row for one admitted listener.
// The in-memory registry is the authority; this table is the trail.
type ListenerSession struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"` // UUID
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StationID uint   `json:"station_id" gorm:"index;not null"`
	Listener  string `json:"listener" gorm:"index"` // user id or anonymous ip-hash
	Tier      string `json:"tier"`

	BitrateKbps int    `json:"bitrate_kbps"`
	Resolution  string `json:"resolution"` // "audio" for audio-only sessions
	Transcoded  bool   `json:"transcoded"`

	BytesServed int64  `json:"bytes_served"`
	State       string `json:"state" gorm:"index"` // admitted | streaming | draining | closed
	CloseReason string `json:"close_reason"`

	StartedAt       time.Time `json:"started_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}
