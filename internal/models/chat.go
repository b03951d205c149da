package models

import "time"

// ChatMessage is the optional persistence of a room broadcast.
// Delivery is best-effort; rows exist for history endpoints only.
type ChatMessage struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	StationID uint      `json:"station_id" gorm:"index;not null"`
	AuthorID  string    `json:"author_id" gorm:"not null"`
	Text      string    `json:"text" gorm:"not null"`
	SentAt    time.Time `json:"sent_at" gorm:"index"`
}
