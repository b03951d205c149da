package transcode

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"streampirex-radio/internal/models"
)

// Helper to create a disposable in-memory DB
func setupQueueDB(t *testing.T) *gorm.DB {
	t.Helper()
	d, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := d.AutoMigrate(&models.TranscodeJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

type stubClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stubClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *stubClock) {
	clock := &stubClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(setupQueueDB(t), 7*24*time.Hour, 2*time.Minute).WithClock(clock)
	return q, clock
}

func TestEnsureRenditionDedup(t *testing.T) {
	q, _ := newTestQueue(t)

	first, err := q.EnsureRendition("s3://x.mp3", 128, "audio")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if first.Ready || first.JobID == "" {
		t.Fatalf("first ensure should be pending with a job id, got %+v", first)
	}

	second, err := q.EnsureRendition("s3://x.mp3", 128, "audio")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if second.JobID != first.JobID {
		t.Errorf("duplicate ensure returned job %s, want %s", second.JobID, first.JobID)
	}

	// Ready flips the answer to the cached output.
	if err := q.MarkReady(first.JobID, "s3://x-128.mp3"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	third, err := q.EnsureRendition("s3://x.mp3", 128, "audio")
	if err != nil {
		t.Fatalf("third ensure: %v", err)
	}
	if !third.Ready || third.URI != "s3://x-128.mp3" {
		t.Errorf("after ready: got %+v, want ready s3://x-128.mp3", third)
	}
}

func TestEnsureRenditionConcurrent(t *testing.T) {
	// N concurrent ensures produce exactly one active job per key.
	q, _ := newTestQueue(t)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := q.EnsureRendition("s3://concurrent.mp3", 192, "audio")
			if err != nil {
				t.Errorf("ensure %d: %v", i, err)
				return
			}
			ids[i] = r.JobID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("ensure %d returned job %s, want %s", i, ids[i], ids[0])
		}
	}
}

func TestDifferentRenditionsDifferentJobs(t *testing.T) {
	q, _ := newTestQueue(t)

	a, _ := q.EnsureRendition("s3://x.mp3", 128, "audio")
	b, _ := q.EnsureRendition("s3://x.mp3", 192, "audio")
	c, _ := q.EnsureRendition("s3://x.mp3", 128, "720p")

	if a.JobID == b.JobID || a.JobID == c.JobID || b.JobID == c.JobID {
		t.Errorf("distinct renditions shared a job: %s %s %s", a.JobID, b.JobID, c.JobID)
	}
}

func TestMarkReadyIdempotentAndConflict(t *testing.T) {
	q, _ := newTestQueue(t)
	r, _ := q.EnsureRendition("s3://x.mp3", 128, "audio")

	if err := q.MarkReady(r.JobID, "s3://out.mp3"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if err := q.MarkReady(r.JobID, "s3://out.mp3"); err != nil {
		t.Errorf("same-URI re-ready should be a no-op, got %v", err)
	}
	if err := q.MarkReady(r.JobID, "s3://other.mp3"); !errors.Is(err, ErrConflict) {
		t.Errorf("different-URI re-ready: got %v, want ErrConflict", err)
	}
}

func TestFailureIsTerminalForJobNotKey(t *testing.T) {
	q, _ := newTestQueue(t)

	r1, _ := q.EnsureRendition("s3://x.mp3", 128, "audio")
	if err := q.MarkFailed(r1.JobID, "encoder crashed", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	r2, err := q.EnsureRendition("s3://x.mp3", 128, "audio")
	if err != nil {
		t.Fatalf("ensure after failure: %v", err)
	}
	if r2.JobID == r1.JobID {
		t.Error("ensure after failure must create a fresh job")
	}
}

func TestPermanentFailureBlocksKey(t *testing.T) {
	q, _ := newTestQueue(t)

	r, _ := q.EnsureRendition("s3://gone.mp3", 128, "audio")
	if err := q.MarkFailed(r.JobID, "source missing", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if _, err := q.EnsureRendition("s3://gone.mp3", 128, "audio"); !errors.Is(err, ErrPermanent) {
		t.Errorf("ensure after permanent failure: got %v, want ErrPermanent", err)
	}
}

func TestWorkerClaimAndReclaim(t *testing.T) {
	q, clock := newTestQueue(t)

	r, _ := q.EnsureRendition("s3://x.mp3", 128, "audio")

	job, err := q.NextPending("worker-1")
	if err != nil || job == nil {
		t.Fatalf("next pending: %v, %v", job, err)
	}
	if job.ID != r.JobID || job.State != StateRunning {
		t.Fatalf("claimed job = %+v", job)
	}

	// Nothing else pending.
	if extra, _ := q.NextPending("worker-2"); extra != nil {
		t.Fatalf("second claim got job %s, want none", extra.ID)
	}

	// Heartbeat inside the timeout keeps the claim.
	clock.advance(time.Minute)
	if err := q.Heartbeat(job.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if n, _ := q.ReclaimStale(); n != 0 {
		t.Fatalf("reclaimed %d jobs with a live heartbeat", n)
	}

	// Lapsed heartbeat sends it back to queued.
	clock.advance(3 * time.Minute)
	if n, _ := q.ReclaimStale(); n != 1 {
		t.Fatalf("reclaimed %d jobs, want 1", n)
	}
	if again, _ := q.NextPending("worker-2"); again == nil || again.ID != job.ID {
		t.Fatal("reclaimed job must be claimable again")
	}
}

func TestExpireBefore(t *testing.T) {
	q, clock := newTestQueue(t)

	r, _ := q.EnsureRendition("s3://x.mp3", 128, "audio")
	if err := q.MarkReady(r.JobID, "s3://out.mp3"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}

	// Not yet past TTL.
	n, err := q.ExpireBefore(clock.Now().Add(-q.TTL()))
	if err != nil || n != 0 {
		t.Fatalf("early expiry removed %d entries (%v)", n, err)
	}

	clock.advance(8 * 24 * time.Hour)
	n, err = q.ExpireBefore(clock.Now().Add(-q.TTL()))
	if err != nil || n != 1 {
		t.Fatalf("expiry removed %d entries (%v), want 1", n, err)
	}

	// Expired keys get a fresh job on next demand.
	r2, err := q.EnsureRendition("s3://x.mp3", 128, "audio")
	if err != nil {
		t.Fatalf("ensure after expiry: %v", err)
	}
	if r2.Ready || r2.JobID == r.JobID {
		t.Errorf("ensure after expiry = %+v, want fresh pending job", r2)
	}
}

func TestReadyTouchExtendsTTL(t *testing.T) {
	q, clock := newTestQueue(t)

	r, _ := q.EnsureRendition("s3://x.mp3", 128, "audio")
	q.MarkReady(r.JobID, "s3://out.mp3")

	// A hit at day 6 pushes expiry out past day 7.
	clock.advance(6 * 24 * time.Hour)
	if got, _ := q.EnsureRendition("s3://x.mp3", 128, "audio"); !got.Ready {
		t.Fatal("rendition should still be ready at day 6")
	}

	clock.advance(2 * 24 * time.Hour) // day 8, last hit day 6
	if n, _ := q.ExpireBefore(clock.Now().Add(-q.TTL())); n != 0 {
		t.Fatalf("expired %d entries despite recent hit", n)
	}
}
