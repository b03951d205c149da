package rooms

import (
	"encoding/json"
	"time"
)

// Server-emitted message types
const (
	TypeListenerCount = "listener_count"
	TypeNowPlaying    = "now_playing"
	TypeChat          = "chat"
	TypeSignal        = "signal"
	TypeError         = "error"
)

// Client-sent message types
const (
	TypePing = "ping"
)

// NowPlaying is the join-time snapshot of the station's loop position.
type NowPlaying struct {
	Track       string `json:"track"`
	OffsetMs    int64  `json:"offset_ms"`
	RemainingMs int64  `json:"remaining_ms"`
	IsLive      bool   `json:"is_live"`
}

// Message is the single frame format on the room wire, both directions.
// Signal payloads are opaque: the room relays offer/answer/ICE frames
// without inspecting them.
type Message struct {
	Type      string          `json:"type"`
	StationID uint            `json:"station_id,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"` // target peer for signal relay
	Text      string          `json:"text,omitempty"`
	Count     int             `json:"count,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Now       *NowPlaying     `json:"now_playing,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
