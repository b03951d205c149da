package rooms

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics
var (
	roomPresences = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "radio_room_presences", Help: "Connections across all rooms"},
	)
	chatMessages = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "radio_chat_messages_total", Help: "Chat messages broadcast"},
	)
	chatRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "radio_chat_rejected_total", Help: "Chat messages dropped by rate limit"},
	)
)

func RegisterMetrics() {
	prometheus.MustRegister(roomPresences, chatMessages, chatRejected)
}

// Conn is one attached connection. The websocket client implements it;
// tests plug in fakes.
type Conn interface {
	// Send enqueues a frame. Returns false when the connection's buffer is
	// full (the room then drops the presence as unreachable).
	Send(msg Message) bool
	PeerID() string
}

type presence struct {
	identity string
	lastPing time.Time
}

// Room is the fan-out scope for one station: presence, chat, signalling.
type Room struct {
	mu        sync.Mutex
	stationID uint
	clock     Clock
	presences map[Conn]*presence

	// Presence is zombie after missedLimit * pingInterval without a ping.
	pingInterval time.Duration
	missedLimit  int

	// listener_count emissions are coalesced: at most one per debounce
	// window, carrying the latest count.
	debounce     time.Duration
	countPending bool
	onEmpty      func(stationID uint)
}

// Clock indirection for zombie tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func newRoom(stationID uint, pingInterval time.Duration, missedLimit int, debounce time.Duration, clock Clock, onEmpty func(uint)) *Room {
	return &Room{
		stationID:    stationID,
		clock:        clock,
		presences:    make(map[Conn]*presence),
		pingInterval: pingInterval,
		missedLimit:  missedLimit,
		debounce:     debounce,
		onEmpty:      onEmpty,
	}
}

// Join adds a presence and returns the resulting listener count. The
// caller pairs it with a now-playing snapshot for the join response.
func (r *Room) Join(conn Conn, identity string) int {
	r.mu.Lock()
	r.presences[conn] = &presence{identity: identity, lastPing: r.clock.Now()}
	count := r.liveCountLocked()
	r.scheduleCountLocked()
	r.mu.Unlock()

	roomPresences.Inc()
	return count
}

// Leave removes a presence and re-emits the count.
func (r *Room) Leave(conn Conn) {
	r.mu.Lock()
	if _, ok := r.presences[conn]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.presences, conn)
	empty := len(r.presences) == 0
	r.scheduleCountLocked()
	r.mu.Unlock()

	roomPresences.Dec()
	if empty && r.onEmpty != nil {
		r.onEmpty(r.stationID)
	}
}

// Ping refreshes a presence's heartbeat.
func (r *Room) Ping(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.presences[conn]; ok {
		p.lastPing = r.clock.Now()
	}
}

// Count is the number of non-zombie presences.
func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveCountLocked()
}

func (r *Room) liveCountLocked() int {
	cutoff := r.clock.Now().Add(-time.Duration(r.missedLimit) * r.pingInterval)
	n := 0
	for _, p := range r.presences {
		if !p.lastPing.Before(cutoff) {
			n++
		}
	}
	return n
}

// Chat broadcasts a message to every connection in the room. Best-effort:
// full client buffers drop the frame, not the room.
func (r *Room) Chat(author, text string) {
	msg := Message{
		Type:      TypeChat,
		StationID: r.stationID,
		From:      author,
		Text:      text,
		Timestamp: r.clock.Now().UTC(),
	}
	chatMessages.Inc()
	r.broadcast(msg)
}

// Signal relays an opaque WebRTC frame to the targeted peer.
// Returns false when the peer is not in the room.
func (r *Room) Signal(fromPeer, toPeer string, msg Message) bool {
	msg.Type = TypeSignal
	msg.StationID = r.stationID
	msg.From = fromPeer
	msg.Timestamp = r.clock.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.presences {
		if conn.PeerID() == toPeer {
			conn.Send(msg)
			return true
		}
	}
	return false
}

// Broadcast pushes an already-built frame to all presences.
func (r *Room) broadcast(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.presences {
		conn.Send(msg)
	}
}

// BroadcastNowPlaying pushes a now-playing update to the room.
func (r *Room) BroadcastNowPlaying(now NowPlaying) {
	r.broadcast(Message{
		Type:      TypeNowPlaying,
		StationID: r.stationID,
		Now:       &now,
		Timestamp: r.clock.Now().UTC(),
	})
}

// scheduleCountLocked coalesces listener_count emissions: the first change
// in a window schedules one emission; later changes within the window only
// update what that emission will carry.
func (r *Room) scheduleCountLocked() {
	if r.countPending {
		return
	}
	r.countPending = true
	time.AfterFunc(r.debounce, r.flushCount)
}

func (r *Room) flushCount() {
	r.mu.Lock()
	r.countPending = false
	count := r.liveCountLocked()
	msg := Message{
		Type:      TypeListenerCount,
		StationID: r.stationID,
		Count:     count,
		Timestamp: r.clock.Now().UTC(),
	}
	conns := make([]Conn, 0, len(r.presences))
	for conn := range r.presences {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Send(msg)
	}
}

// sweepZombies drops presences with no ping inside the window and tells
// the caller which connections were removed.
func (r *Room) sweepZombies() []Conn {
	cutoff := r.clock.Now().Add(-time.Duration(r.missedLimit) * r.pingInterval)

	r.mu.Lock()
	var dead []Conn
	for conn, p := range r.presences {
		if p.lastPing.Before(cutoff) {
			delete(r.presences, conn)
			dead = append(dead, conn)
		}
	}
	if len(dead) > 0 {
		r.scheduleCountLocked()
	}
	empty := len(r.presences) == 0
	r.mu.Unlock()

	for range dead {
		roomPresences.Dec()
	}
	if len(dead) > 0 && empty && r.onEmpty != nil {
		r.onEmpty(r.stationID)
	}
	return dead
}
