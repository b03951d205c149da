package models

import "time"

// TranscodeJob persists one (source, bitrate, resolution) rendition request.
// Key is the stable content hash; at most one active job exists per key.
type TranscodeJob struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"` // UUID
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Key         string `json:"key" gorm:"index;not null;size:64"`
	SourceURI   string `json:"source_uri" gorm:"not null"`
	BitrateKbps int    `json:"bitrate_kbps" gorm:"not null"`
	Resolution  string `json:"resolution" gorm:"not null"` // "audio" when no video

	State     string `json:"state" gorm:"index;not null"` // queued | running | ready | failed | expired
	OutputURI string `json:"output_uri"`
	FailMsg   string `json:"fail_msg"`
	Permanent bool   `json:"permanent"` // failure that must not be retried (e.g. source missing)

	ReadyAt    *time.Time `json:"ready_at"`
	LastHitAt  *time.Time `json:"last_hit_at"` // TTL is measured from here
	WorkerBeat *time.Time `json:"worker_beat"` // last worker heartbeat while running
	WorkerID   string     `json:"worker_id"`
}
