package rooms

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrChatRateLimited is surfaced to the boundary as a 429.
var ErrChatRateLimited = errors.New("rooms: chat rate limited")

// RateCheck answers whether an author may post right now. Wired to the
// bandwidth package's per-key sliding window.
type RateCheck func(author string) bool

// ChatSink optionally persists broadcast messages. Best-effort: a failing
// sink never blocks delivery.
type ChatSink func(stationID uint, author, text string, at time.Time)

// Hub indexes rooms by station id. Rooms are created lazily on first join
// and dropped when their last presence leaves.
type Hub struct {
	mu    sync.Mutex
	rooms map[uint]*Room
	clock Clock

	pingInterval time.Duration
	missedLimit  int
	debounce     time.Duration

	rateCheck RateCheck
	chatSink  ChatSink
}

func NewHub(pingInterval time.Duration, missedLimit int, debounce time.Duration, rateCheck RateCheck, chatSink ChatSink) *Hub {
	return &Hub{
		rooms:        make(map[uint]*Room),
		clock:        realClock{},
		pingInterval: pingInterval,
		missedLimit:  missedLimit,
		debounce:     debounce,
		rateCheck:    rateCheck,
		chatSink:     chatSink,
	}
}

// WithClock swaps the clock for tests. Must be called before any room exists.
func (h *Hub) WithClock(c Clock) *Hub {
	h.clock = c
	return h
}

// Room returns the station's room, creating it on first use.
func (h *Hub) Room(stationID uint) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[stationID]
	if !ok {
		room = newRoom(stationID, h.pingInterval, h.missedLimit, h.debounce, h.clock, h.dropEmpty)
		h.rooms[stationID] = room
	}
	return room
}

// Peek returns the room only if it exists.
func (h *Hub) Peek(stationID uint) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[stationID]
	return room, ok
}

func (h *Hub) dropEmpty(stationID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[stationID]
	if !ok {
		return
	}
	room.mu.Lock()
	empty := len(room.presences) == 0
	room.mu.Unlock()
	if empty {
		delete(h.rooms, stationID)
	}
}

// Chat rate-limits the author, persists the message, and broadcasts it.
func (h *Hub) Chat(stationID uint, author, text string) error {
	if h.rateCheck != nil && !h.rateCheck(author) {
		chatRejected.Inc()
		return ErrChatRateLimited
	}

	room := h.Room(stationID)
	room.Chat(author, text)
	if h.chatSink != nil {
		h.chatSink(stationID, author, text, h.clock.Now().UTC())
	}
	return nil
}

// ListenerCount reports the live count without creating a room.
func (h *Hub) ListenerCount(stationID uint) int {
	room, ok := h.Peek(stationID)
	if !ok {
		return 0
	}
	return room.Count()
}

// Stats summarises the hub for the stats endpoint.
func (h *Hub) Stats() map[uint]int {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	out := make(map[uint]int, len(rooms))
	for _, r := range rooms {
		out[r.stationID] = r.Count()
	}
	return out
}

type closer interface {
	CloseConn()
}

// Run sweeps zombie presences until ctx is cancelled. Dead connections are
// closed so their pumps unwind.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		dead := room.sweepZombies()
		for _, conn := range dead {
			if c, ok := conn.(closer); ok {
				c.CloseConn()
			}
		}
		if len(dead) > 0 {
			log.Printf("🧹 Room %d: dropped %d zombie presences", room.stationID, len(dead))
		}
	}
}
