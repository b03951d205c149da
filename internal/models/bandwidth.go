package models

import "time"

// BandwidthLog is an advisory served-bytes record appended whenever a
// session's byte counter crosses the configured log interval.
// It never feeds back into admission decisions.
type BandwidthLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	SessionID  string    `json:"session_id" gorm:"index;size:36"`
	StationID  uint      `json:"station_id" gorm:"index"`
	Tier       string    `json:"tier"`
	Bytes      int64     `json:"bytes"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	RecordedAt time.Time `json:"recorded_at" gorm:"index"`
}
