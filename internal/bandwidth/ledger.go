package bandwidth

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"streampirex-radio/internal/config"
	"streampirex-radio/internal/models"
)

// Metrics
var (
	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "radio_admissions_total", Help: "Admission decisions"},
		[]string{"outcome"},
	)
	reservedBps = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "radio_reserved_bps", Help: "Reserved global bandwidth"},
	)
	tierStreams = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "radio_tier_streams", Help: "Active streams per tier"},
		[]string{"tier"},
	)
)

func RegisterMetrics() {
	prometheus.MustRegister(admissionsTotal, reservedBps, tierStreams)
}

// DenyReason explains a refused admission.
type DenyReason string

const (
	DenyGlobalFull  DenyReason = "GlobalFull"
	DenyTierFull    DenyReason = "TierFull"
	DenyRateLimited DenyReason = "RateLimited"
)

// Admission is the result of TryAdmit. When OK, Token must be released
// exactly once (Release is idempotent, so scoped cleanup can be sloppy).
type Admission struct {
	OK     bool
	Token  string
	Reason DenyReason
}

type reservation struct {
	tier         string
	bps          int64
	bytesPending int64 // served bytes since the last BandwidthLog append
}

// LogSink receives advisory served-byte records. Appends must never
// influence admission.
type LogSink interface {
	Append(entry models.BandwidthLog)
}

// Ledger is the process-wide bandwidth authority. One coarse lock guards
// all counters; handlers only talk to it through these methods.
type Ledger struct {
	mu           sync.Mutex
	globalMaxBps int64
	tiers        map[string]config.Tier
	logEveryB    int64

	globalBps    int64
	tierBps      map[string]int64
	tierCount    map[string]int
	reservations map[string]*reservation

	limiter *RateLimiter
	sink    LogSink
}

// NewLedger builds a ledger from config. sink may be nil (logging disabled).
func NewLedger(cfg *config.Config, sink LogSink) *Ledger {
	logEvery := int64(cfg.Bandwidth.LogIntervalMB) * 1024 * 1024
	if logEvery <= 0 {
		logEvery = 10 * 1024 * 1024
	}
	return &Ledger{
		globalMaxBps: cfg.Bandwidth.GlobalMaxBps,
		tiers:        cfg.Bandwidth.Tiers,
		logEveryB:    logEvery,
		tierBps:      make(map[string]int64),
		tierCount:    make(map[string]int),
		reservations: make(map[string]*reservation),
		limiter:      NewRateLimiter(RealClock{}),
		sink:         sink,
	}
}

// TryAdmit reserves estimatedBps for one stream of the given tier.
// Read-decide-reserve is one critical section, so the global invariant
// (sum of reservations <= global cap) holds at every instant.
func (l *Ledger) TryAdmit(tier string, estimatedBps int64) Admission {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, known := l.tiers[tier]
	if !known {
		// Unknown tiers get the most conservative treatment: no streams.
		admissionsTotal.WithLabelValues("tier_full").Inc()
		return Admission{Reason: DenyTierFull}
	}

	if t.MaxStreams > 0 && l.tierCount[tier] >= t.MaxStreams {
		admissionsTotal.WithLabelValues("tier_full").Inc()
		return Admission{Reason: DenyTierFull}
	}
	if l.globalBps+estimatedBps > l.globalMaxBps {
		admissionsTotal.WithLabelValues("global_full").Inc()
		return Admission{Reason: DenyGlobalFull}
	}

	token := uuid.NewString()
	l.reservations[token] = &reservation{tier: tier, bps: estimatedBps}
	l.globalBps += estimatedBps
	l.tierBps[tier] += estimatedBps
	l.tierCount[tier]++

	admissionsTotal.WithLabelValues("ok").Inc()
	reservedBps.Set(float64(l.globalBps))
	tierStreams.WithLabelValues(tier).Set(float64(l.tierCount[tier]))

	return Admission{OK: true, Token: token}
}

// Release returns a reservation to the pool. Idempotent: unknown or
// already-released tokens are a no-op.
func (l *Ledger) Release(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[token]
	if !ok {
		return
	}
	delete(l.reservations, token)

	l.globalBps -= r.bps
	l.tierBps[r.tier] -= r.bps
	l.tierCount[r.tier]--
	if l.globalBps < 0 {
		l.globalBps = 0
	}
	if l.tierBps[r.tier] < 0 {
		l.tierBps[r.tier] = 0
	}
	if l.tierCount[r.tier] < 0 {
		l.tierCount[r.tier] = 0
	}

	reservedBps.Set(float64(l.globalBps))
	tierStreams.WithLabelValues(r.tier).Set(float64(l.tierCount[r.tier]))
}

// RecordBytes accounts served bytes against a reservation. Advisory only:
// it feeds the BandwidthLog trail and never changes admission state.
func (l *Ledger) RecordBytes(token string, sessionID string, stationID uint, nBytes, elapsedMs int64) {
	l.mu.Lock()
	r, ok := l.reservations[token]
	if !ok {
		l.mu.Unlock()
		return
	}
	r.bytesPending += nBytes
	shouldLog := r.bytesPending >= l.logEveryB
	var logged int64
	if shouldLog {
		logged = r.bytesPending
		r.bytesPending = 0
	}
	tier := r.tier
	l.mu.Unlock()

	if shouldLog && l.sink != nil {
		l.sink.Append(models.BandwidthLog{
			SessionID:  sessionID,
			StationID:  stationID,
			Tier:       tier,
			Bytes:      logged,
			ElapsedMs:  elapsedMs,
			RecordedAt: time.Now().UTC(),
		})
	}
}

// CheckRateLimit reports whether ip is still under max requests in the
// window. Counting the call is part of the check.
func (l *Ledger) CheckRateLimit(ip string, window time.Duration, max int) bool {
	return l.limiter.Allow(ip, window, max)
}

// Keys idle this long get dropped from the limiter on the next prune.
const limiterIdleAfter = 10 * time.Minute

// PruneRateLimits drops limiter keys that have been idle. Called from the
// session registry's sweep tick.
func (l *Ledger) PruneRateLimits() {
	l.limiter.Prune(limiterIdleAfter)
}

// Snapshot is a point-in-time read for the quality resolver.
type Snapshot struct {
	GlobalBps    int64
	GlobalMaxBps int64
	TierBps      map[string]int64
	TierStreams  map[string]int
}

// Saturation returns global utilisation in [0,1].
func (s Snapshot) Saturation() float64 {
	if s.GlobalMaxBps <= 0 {
		return 0
	}
	return float64(s.GlobalBps) / float64(s.GlobalMaxBps)
}

// Snapshot copies the counters. The copy is immediately stale, which is
// fine: the resolver treats it as a hint, admission re-checks atomically.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		GlobalBps:    l.globalBps,
		GlobalMaxBps: l.globalMaxBps,
		TierBps:      make(map[string]int64, len(l.tierBps)),
		TierStreams:  make(map[string]int, len(l.tierCount)),
	}
	for k, v := range l.tierBps {
		snap.TierBps[k] = v
	}
	for k, v := range l.tierCount {
		snap.TierStreams[k] = v
	}
	return snap
}

// Tier looks up the configured caps for a tier name.
func (l *Ledger) Tier(name string) (config.Tier, bool) {
	t, ok := l.tiers[name]
	return t, ok
}

// DBLogSink appends BandwidthLog rows through GORM.
type DBLogSink struct {
	Create func(entry *models.BandwidthLog) error
}

func (s *DBLogSink) Append(entry models.BandwidthLog) {
	if err := s.Create(&entry); err != nil {
		log.Printf("⚠️ Failed to append bandwidth log: %v", err)
	}
}
