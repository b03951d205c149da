package bandwidth

import (
	"sync"
	"testing"
	"time"

	"streampirex-radio/internal/config"
	"streampirex-radio/internal/models"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Bandwidth.GlobalMaxBps = 1_000_000
	cfg.Bandwidth.LogIntervalMB = 1
	cfg.Bandwidth.Tiers = map[string]config.Tier{
		"free": {MaxStreams: 2, PerStreamBpsCap: 128_000},
		"pro":  {MaxStreams: 5, PerStreamBpsCap: 320_000},
	}
	return cfg
}

func TestTryAdmitTierFull(t *testing.T) {
	// pro is capped at 5 streams, so the 6th admission is denied.
	ledger := NewLedger(testConfig(), nil)

	var tokens []string
	for i := 0; i < 5; i++ {
		adm := ledger.TryAdmit("pro", 100_000)
		if !adm.OK {
			t.Fatalf("admission %d denied: %s", i+1, adm.Reason)
		}
		tokens = append(tokens, adm.Token)
	}

	adm := ledger.TryAdmit("pro", 100_000)
	if adm.OK || adm.Reason != DenyTierFull {
		t.Fatalf("6th admission: got %+v, want TierFull", adm)
	}

	// Close one, next admission succeeds.
	ledger.Release(tokens[0])
	if adm := ledger.TryAdmit("pro", 100_000); !adm.OK {
		t.Fatalf("admission after release denied: %s", adm.Reason)
	}
}

func TestTryAdmitGlobalFull(t *testing.T) {
	cfg := testConfig()
	cfg.Bandwidth.GlobalMaxBps = 300_000
	ledger := NewLedger(cfg, nil)

	if adm := ledger.TryAdmit("pro", 300_000); !adm.OK {
		t.Fatalf("admission at exactly 100%% should succeed: %s", adm.Reason)
	}
	if adm := ledger.TryAdmit("pro", 1); adm.OK || adm.Reason != DenyGlobalFull {
		t.Fatalf("admission past cap: got %+v, want GlobalFull", adm)
	}
}

func TestTryAdmitUnknownTier(t *testing.T) {
	ledger := NewLedger(testConfig(), nil)
	if adm := ledger.TryAdmit("vip", 1000); adm.OK {
		t.Fatal("unknown tier must not be admitted")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	ledger := NewLedger(testConfig(), nil)

	adm := ledger.TryAdmit("pro", 100_000)
	ledger.Release(adm.Token)
	ledger.Release(adm.Token) // second release is a no-op
	ledger.Release("never-issued")

	snap := ledger.Snapshot()
	if snap.GlobalBps != 0 {
		t.Errorf("global bps = %d after double release, want 0", snap.GlobalBps)
	}
	if snap.TierStreams["pro"] != 0 {
		t.Errorf("pro streams = %d after double release, want 0", snap.TierStreams["pro"])
	}
}

func TestSnapshotInvariant(t *testing.T) {
	// Sum of active reservations never exceeds the global cap, even under
	// concurrent admit/release churn.
	cfg := testConfig()
	cfg.Bandwidth.GlobalMaxBps = 500_000
	ledger := NewLedger(cfg, nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				adm := ledger.TryAdmit("pro", 90_000)
				snap := ledger.Snapshot()
				if snap.GlobalBps > snap.GlobalMaxBps {
					t.Errorf("global bps %d exceeds cap %d", snap.GlobalBps, snap.GlobalMaxBps)
					return
				}
				if adm.OK {
					ledger.Release(adm.Token)
				}
			}
		}()
	}
	wg.Wait()
}

type captureSink struct {
	mu      sync.Mutex
	entries []models.BandwidthLog
}

func (s *captureSink) Append(e models.BandwidthLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func TestRecordBytesLogsOnInterval(t *testing.T) {
	sink := &captureSink{}
	ledger := NewLedger(testConfig(), sink) // log every 1 MB

	adm := ledger.TryAdmit("pro", 100_000)

	half := int64(512 * 1024)
	ledger.RecordBytes(adm.Token, "sess-1", 7, half, 4000)
	if len(sink.entries) != 0 {
		t.Fatalf("log appended below interval: %d entries", len(sink.entries))
	}

	ledger.RecordBytes(adm.Token, "sess-1", 7, half, 4000)
	if len(sink.entries) != 1 {
		t.Fatalf("crossing interval: got %d entries, want 1", len(sink.entries))
	}
	if sink.entries[0].Bytes != 2*half {
		t.Errorf("logged bytes = %d, want %d", sink.entries[0].Bytes, 2*half)
	}

	// Accounting must not affect admission.
	snap := ledger.Snapshot()
	if snap.GlobalBps != 100_000 {
		t.Errorf("global bps changed by RecordBytes: %d", snap.GlobalBps)
	}
}

func TestRateLimiter(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(0)}
	limiter := NewRateLimiter(clock)

	// 31 requests in a 60s window with max 30: the 31st is refused.
	for i := 0; i < 30; i++ {
		clock.advance(time.Second)
		if !limiter.Allow("10.0.0.1", 60*time.Second, 30) {
			t.Fatalf("request %d refused early", i+1)
		}
	}
	if limiter.Allow("10.0.0.1", 60*time.Second, 30) {
		t.Fatal("31st request in window must be refused")
	}

	// Another IP is unaffected.
	if !limiter.Allow("10.0.0.2", 60*time.Second, 30) {
		t.Fatal("other IP must not share the window")
	}

	// Sliding: once the oldest hits fall out, requests pass again.
	clock.advance(61 * time.Second)
	if !limiter.Allow("10.0.0.1", 60*time.Second, 30) {
		t.Fatal("request after window expiry refused")
	}
}

func TestRateLimiterPrune(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(0)}
	limiter := NewRateLimiter(clock)

	limiter.Allow("10.0.0.1", 60*time.Second, 30)
	clock.advance(15 * time.Minute)
	limiter.Allow("10.0.0.2", 60*time.Second, 30)

	limiter.Prune(10 * time.Minute)

	if _, ok := limiter.hits["10.0.0.1"]; ok {
		t.Error("idle key survived the prune")
	}
	if _, ok := limiter.hits["10.0.0.2"]; !ok {
		t.Error("fresh key dropped by the prune")
	}
}

func TestLedgerPruneRateLimits(t *testing.T) {
	// The registry sweeper calls this hook; a fresh key must survive it.
	ledger := NewLedger(testConfig(), nil)

	ledger.CheckRateLimit("10.0.0.1", 60*time.Second, 30)
	ledger.PruneRateLimits()

	if len(ledger.limiter.hits) != 1 {
		t.Errorf("limiter keys = %d after prune, want 1", len(ledger.limiter.hits))
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
