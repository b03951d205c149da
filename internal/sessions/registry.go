package sessions

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"streampirex-radio/internal/bandwidth"
	"streampirex-radio/internal/models"
	"streampirex-radio/internal/quality"
)

// Metrics
var (
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "radio_active_sessions", Help: "Open listener sessions"},
	)
	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "radio_sessions_closed_total", Help: "Closed sessions by reason"},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	prometheus.MustRegister(activeSessions, sessionsClosed)
}

var ErrSessionNotFound = errors.New("sessions: not found")

// CloseReason mirrors the registry contract.
type CloseReason string

const (
	CloseClientLeft CloseReason = "ClientLeft"
	CloseEvicted    CloseReason = "Evicted"
	CloseError      CloseReason = "Error"
)

// Session states. Admitted on open, streaming after the first heartbeat,
// draining while teardown releases the reservation, then closed.
const (
	StateAdmitted  = "admitted"
	StateStreaming = "streaming"
	StateDraining  = "draining"
	StateClosed    = "closed"
)

// Session is the in-memory authority for one admitted listener.
type Session struct {
	ID            string
	StationID     uint
	Listener      string
	Tier          string
	Plan          quality.Plan
	Reservation   string
	BytesServed   int64
	State         string
	StartedAt     time.Time
	LastHeartbeat time.Time
}

// Event is what subscribers observe. For a given session, Open precedes
// every Heartbeat which precede the single Close; events are emitted under
// the registry lock so that order is what everyone sees.
type Event struct {
	Type      string // "open" | "heartbeat" | "close"
	SessionID string
	StationID uint
	Reason    CloseReason
}

// Clock indirection for eviction tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Registry owns every live session. Handlers never touch sessions
// directly; they call Open/Heartbeat/Close and subscribe to events.
type Registry struct {
	mu       sync.Mutex
	clock    Clock
	ledger   *bandwidth.Ledger
	db       *gorm.DB // audit trail, may be nil in tests
	sessions map[string]*Session

	audioTimeout  time.Duration
	videoTimeout  time.Duration
	sweepInterval time.Duration

	subscribers []func(Event)
}

func NewRegistry(ledger *bandwidth.Ledger, db *gorm.DB, audioTimeout, videoTimeout, sweepInterval time.Duration) *Registry {
	return &Registry{
		clock:         realClock{},
		ledger:        ledger,
		db:            db,
		sessions:      make(map[string]*Session),
		audioTimeout:  audioTimeout,
		videoTimeout:  videoTimeout,
		sweepInterval: sweepInterval,
	}
}

// WithClock swaps the clock. Test hook.
func (r *Registry) WithClock(c Clock) *Registry {
	r.clock = c
	return r
}

// Subscribe registers an observer. Callbacks run under the registry lock
// and must not call back into it.
func (r *Registry) Subscribe(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *Registry) emit(ev Event) {
	for _, fn := range r.subscribers {
		fn(ev)
	}
}

// Open admits a listener. The reservation token is owned by the session
// from here on: every exit path (Close, eviction) releases it.
func (r *Registry) Open(station *models.Station, listener, tier string, plan quality.Plan, reservation string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UTC()
	s := &Session{
		ID:            uuid.NewString(),
		StationID:     station.ID,
		Listener:      listener,
		Tier:          tier,
		Plan:          plan,
		Reservation:   reservation,
		State:         StateAdmitted,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	r.sessions[s.ID] = s
	activeSessions.Set(float64(len(r.sessions)))

	if r.db != nil {
		row := models.ListenerSession{
			ID:              s.ID,
			StationID:       s.StationID,
			Listener:        listener,
			Tier:            tier,
			BitrateKbps:     plan.BitrateKbps,
			Resolution:      plan.Resolution,
			Transcoded:      plan.MustTranscode,
			State:           StateAdmitted,
			StartedAt:       now,
			LastHeartbeatAt: now,
		}
		if err := r.db.Create(&row).Error; err != nil {
			log.Printf("⚠️ Session audit insert failed: %v", err)
		}
	}

	r.emit(Event{Type: "open", SessionID: s.ID, StationID: s.StationID})
	return s.ID
}

// Heartbeat refreshes last-seen and reports served bytes to the ledger
// (advisory accounting only).
func (r *Registry) Heartbeat(sessionID string, bytesSinceLast, elapsedMs int64) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	s.LastHeartbeat = r.clock.Now().UTC()
	s.BytesServed += bytesSinceLast
	startedStreaming := s.State == StateAdmitted
	if startedStreaming {
		s.State = StateStreaming
	}
	token := s.Reservation
	stationID := s.StationID
	r.emit(Event{Type: "heartbeat", SessionID: sessionID, StationID: stationID})
	r.mu.Unlock()

	if startedStreaming && r.db != nil {
		err := r.db.Model(&models.ListenerSession{}).Where("id = ?", sessionID).
			Update("state", StateStreaming).Error
		if err != nil {
			log.Printf("⚠️ Session audit state update failed: %v", err)
		}
	}

	r.ledger.RecordBytes(token, sessionID, stationID, bytesSinceLast, elapsedMs)
	return nil
}

// Close ends a session and returns its reservation. Idempotent: closing a
// closed or unknown session is a no-op.
func (r *Registry) Close(sessionID string, reason CloseReason) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	s.State = StateDraining
	activeSessions.Set(float64(len(r.sessions)))
	r.emit(Event{Type: "close", SessionID: sessionID, StationID: s.StationID, Reason: reason})
	r.mu.Unlock()

	r.ledger.Release(s.Reservation)
	sessionsClosed.WithLabelValues(string(reason)).Inc()

	if r.db != nil {
		err := r.db.Model(&models.ListenerSession{}).Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"state":             StateClosed,
				"close_reason":      string(reason),
				"bytes_served":      s.BytesServed,
				"last_heartbeat_at": s.LastHeartbeat,
			}).Error
		if err != nil {
			log.Printf("⚠️ Session audit close failed: %v", err)
		}
	}
	s.State = StateClosed
}

// Get returns a copy of a live session.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// CountForStation reports live sessions on one station.
func (r *Registry) CountForStation(stationID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.StationID == stationID {
			n++
		}
	}
	return n
}

// Count reports all live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions past their heartbeat timeout. A session exactly at
// the timeout is still alive; one tick past is evicted.
func (r *Registry) Sweep() int {
	now := r.clock.Now().UTC()

	r.mu.Lock()
	var stale []string
	for id, s := range r.sessions {
		timeout := r.audioTimeout
		if s.Plan.Resolution != quality.AudioOnly {
			timeout = r.videoTimeout
		}
		if now.Sub(s.LastHeartbeat) > timeout {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.Close(id, CloseEvicted)
	}
	if len(stale) > 0 {
		log.Printf("🧹 Evicted %d stale sessions", len(stale))
	}

	// Piggyback rate-limiter housekeeping on the sweep tick.
	r.ledger.PruneRateLimits()

	return len(stale)
}

// Run drives the eviction sweeper until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}
