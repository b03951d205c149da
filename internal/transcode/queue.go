package transcode

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"streampirex-radio/internal/models"
)

// Metrics
var (
	jobsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "radio_transcode_jobs_total", Help: "Transcode jobs created"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "radio_transcode_queue_depth", Help: "Jobs in queued state"},
	)
	dedupHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "radio_transcode_dedup_hits_total", Help: "ensure calls answered by an existing job"},
	)
)

func RegisterMetrics() {
	prometheus.MustRegister(jobsCreated, queueDepth, dedupHits)
}

var (
	ErrNotFound  = errors.New("transcode: job not found")
	ErrConflict  = errors.New("transcode: conflicting ready output")
	ErrPermanent = errors.New("transcode: source permanently failed")
)

// Job states
const (
	StateQueued  = "queued"
	StateRunning = "running"
	StateReady   = "ready"
	StateFailed  = "failed"
	StateExpired = "expired"
)

// Rendition is the answer to EnsureRendition: either a cached output URI
// or the job to wait on.
type Rendition struct {
	Ready bool
	URI   string
	JobID string
}

// Clock indirection so the janitor and TTL logic are testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Queue is the single source of truth for renditions. Workers are dumb
// executors: they claim, heartbeat, and report. All mutations go through
// one mutex so the at-most-one-active-job-per-key invariant holds even
// when gorm is backed by sqlite in tests.
type Queue struct {
	mu            sync.Mutex
	db            *gorm.DB
	clock         Clock
	ttl           time.Duration
	workerTimeout time.Duration
}

func NewQueue(db *gorm.DB, ttl, workerTimeout time.Duration) *Queue {
	return &Queue{
		db:            db,
		clock:         realClock{},
		ttl:           ttl,
		workerTimeout: workerTimeout,
	}
}

// WithClock swaps the clock. Test hook.
func (q *Queue) WithClock(c Clock) *Queue {
	q.clock = c
	return q
}

// JobKey hashes (source, bitrate, resolution) into the stable content key
// renditions are addressed by.
func JobKey(sourceURI string, bitrateKbps int, resolution string) string {
	if resolution == "" {
		resolution = "audio"
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", sourceURI, bitrateKbps, resolution)))
	return hex.EncodeToString(sum[:])
}

// EnsureRendition returns a ready output immediately or the id of the one
// active job for this key, creating it if needed. Duplicate calls during
// queued|running coalesce onto the same job.
func (q *Queue) EnsureRendition(sourceURI string, bitrateKbps int, resolution string) (Rendition, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := JobKey(sourceURI, bitrateKbps, resolution)
	now := q.clock.Now().UTC()

	var job models.TranscodeJob
	err := q.db.Where("key = ? AND state IN ?", key, []string{StateQueued, StateRunning, StateReady}).
		Order("created_at DESC").First(&job).Error
	if err == nil {
		switch job.State {
		case StateReady:
			// Touch for TTL: ready entries live for ttl since last hit.
			q.db.Model(&job).Update("last_hit_at", now)
			dedupHits.Inc()
			return Rendition{Ready: true, URI: job.OutputURI, JobID: job.ID}, nil
		default:
			dedupHits.Inc()
			return Rendition{JobID: job.ID}, nil
		}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Rendition{}, err
	}

	// Permanent failures block recreation; ordinary failures get a fresh job.
	var failed models.TranscodeJob
	if err := q.db.Where("key = ? AND state = ? AND permanent = ?", key, StateFailed, true).
		First(&failed).Error; err == nil {
		return Rendition{}, fmt.Errorf("%w: %s", ErrPermanent, failed.FailMsg)
	}

	if resolution == "" {
		resolution = "audio"
	}
	job = models.TranscodeJob{
		ID:          uuid.NewString(),
		Key:         key,
		SourceURI:   sourceURI,
		BitrateKbps: bitrateKbps,
		Resolution:  resolution,
		State:       StateQueued,
	}
	if err := q.db.Create(&job).Error; err != nil {
		return Rendition{}, err
	}

	jobsCreated.Inc()
	q.refreshDepth()
	return Rendition{JobID: job.ID}, nil
}

// NextPending claims the oldest queued job for a worker. Returns nil when
// the queue is empty.
func (q *Queue) NextPending(workerID string) (*models.TranscodeJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var job models.TranscodeJob
	err := q.db.Where("state = ?", StateQueued).Order("created_at ASC").First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := q.clock.Now().UTC()
	updates := map[string]interface{}{
		"state":       StateRunning,
		"worker_id":   workerID,
		"worker_beat": now,
	}
	if err := q.db.Model(&job).Updates(updates).Error; err != nil {
		return nil, err
	}
	job.State = StateRunning
	job.WorkerID = workerID
	job.WorkerBeat = &now

	q.refreshDepth()
	return &job, nil
}

// Heartbeat keeps a running job claimed. Lapsed jobs are reclaimed by the
// janitor.
func (q *Queue) Heartbeat(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now().UTC()
	res := q.db.Model(&models.TranscodeJob{}).
		Where("id = ? AND state = ?", jobID, StateRunning).
		Update("worker_beat", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkReady publishes a finished rendition. Idempotent for the same output
// URI; a different URI for an already-ready job is a Conflict.
func (q *Queue) MarkReady(jobID, outputURI string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var job models.TranscodeJob
	if err := q.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if job.State == StateReady {
		if job.OutputURI == outputURI {
			return nil
		}
		return fmt.Errorf("%w: %s vs %s", ErrConflict, job.OutputURI, outputURI)
	}

	now := q.clock.Now().UTC()
	err := q.db.Model(&job).Updates(map[string]interface{}{
		"state":       StateReady,
		"output_uri":  outputURI,
		"ready_at":    now,
		"last_hit_at": now,
	}).Error
	if err != nil {
		return err
	}
	q.refreshDepth()
	return nil
}

// MarkFailed ends a job. Failure is terminal for the job, not the key,
// unless permanent (e.g. source missing).
func (q *Queue) MarkFailed(jobID, reason string, permanent bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res := q.db.Model(&models.TranscodeJob{}).
		Where("id = ? AND state IN ?", jobID, []string{StateQueued, StateRunning}).
		Updates(map[string]interface{}{
			"state":     StateFailed,
			"fail_msg":  reason,
			"permanent": permanent,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	q.refreshDepth()
	return nil
}

// ExpireBefore retires ready renditions whose last hit predates the cutoff.
// Returns the number of entries expired so the janitor can log it.
func (q *Queue) ExpireBefore(cutoff time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res := q.db.Model(&models.TranscodeJob{}).
		Where("state = ? AND last_hit_at < ?", StateReady, cutoff).
		Update("state", StateExpired)
	return res.RowsAffected, res.Error
}

// ReclaimStale re-queues running jobs whose worker heartbeat lapsed.
func (q *Queue) ReclaimStale() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.clock.Now().UTC().Add(-q.workerTimeout)
	res := q.db.Model(&models.TranscodeJob{}).
		Where("state = ? AND worker_beat < ?", StateRunning, cutoff).
		Updates(map[string]interface{}{
			"state":     StateQueued,
			"worker_id": "",
		})
	if res.Error == nil {
		q.refreshDepth()
	}
	return res.RowsAffected, res.Error
}

// TTL exposes the configured rendition lifetime for the janitor.
func (q *Queue) TTL() time.Duration {
	return q.ttl
}

func (q *Queue) refreshDepth() {
	var n int64
	if err := q.db.Model(&models.TranscodeJob{}).Where("state = ?", StateQueued).Count(&n).Error; err == nil {
		queueDepth.Set(float64(n))
	}
}
