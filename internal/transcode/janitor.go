package transcode

import (
	"context"
	"log"
	"time"
)

// Janitor periodically expires stale renditions and reclaims jobs whose
// workers went quiet. It is safe to run in-process and as a standalone
// command against the same database.
type Janitor struct {
	queue    *Queue
	interval time.Duration
}

func NewJanitor(queue *Queue, interval time.Duration) *Janitor {
	return &Janitor{queue: queue, interval: interval}
}

// Run blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("🧹 Transcode janitor running every %s", j.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	cutoff := j.queue.clock.Now().UTC().Add(-j.queue.TTL())
	if n, err := j.queue.ExpireBefore(cutoff); err != nil {
		log.Printf("⚠️ Rendition expiry failed: %v", err)
	} else if n > 0 {
		log.Printf("🧹 Expired %d renditions (last hit before %s)", n, cutoff.Format(time.RFC3339))
	}

	if n, err := j.queue.ReclaimStale(); err != nil {
		log.Printf("⚠️ Stale worker reclaim failed: %v", err)
	} else if n > 0 {
		log.Printf("♻️ Reclaimed %d jobs from lapsed workers", n)
	}
}
