package quality

import (
	"testing"

	"streampirex-radio/internal/bandwidth"
	"streampirex-radio/internal/config"
)

func testResolver() *Resolver {
	cfg := &config.Config{}
	cfg.Quality.LadderAudioKbps = []int{64, 96, 128, 192, 256, 320}
	cfg.Quality.LadderVideo = []string{"360p", "480p", "720p", "1080p"}
	return NewResolver(cfg)
}

func snapshotAt(saturation float64) bandwidth.Snapshot {
	return bandwidth.Snapshot{
		GlobalBps:    int64(saturation * 1_000_000),
		GlobalMaxBps: 1_000_000,
	}
}

func TestResolveAudio(t *testing.T) {
	r := testResolver()
	proTier := config.Tier{PerStreamBpsCap: 320_000, MaxResolution: "720p"}
	freeTier := config.Tier{PerStreamBpsCap: 128_000, MaxResolution: "360p"}

	tests := []struct {
		name          string
		tier          config.Tier
		requested     int
		saturation    float64
		src           Source
		wantKbps      int
		wantTranscode bool
	}{
		{"Exact rung, idle ledger", proTier, 320, 0.2, Source{BitrateKbps: 320, Resolution: "audio"}, 320, false},
		{"Clamp to tier cap", freeTier, 320, 0.2, Source{BitrateKbps: 320, Resolution: "audio"}, 128, true},
		{"Round down off-ladder request", proTier, 200, 0.2, Source{BitrateKbps: 320, Resolution: "audio"}, 192, true},
		{"Pressure steps down one rung", proTier, 320, 0.85, Source{BitrateKbps: 320, Resolution: "audio"}, 256, true},
		{"Pressure at exactly 80% does not step", proTier, 320, 0.8, Source{BitrateKbps: 320, Resolution: "audio"}, 320, false},
		{"Bottom rung pins under pressure", freeTier, 64, 0.95, Source{BitrateKbps: 64, Resolution: "audio"}, 64, false},
		{"Zero request means tier max", proTier, 0, 0.2, Source{BitrateKbps: 320, Resolution: "audio"}, 320, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := r.Resolve(tt.tier, tt.requested, "", tt.src, snapshotAt(tt.saturation))
			if plan.BitrateKbps != tt.wantKbps {
				t.Errorf("bitrate = %d, want %d", plan.BitrateKbps, tt.wantKbps)
			}
			if plan.Resolution != AudioOnly {
				t.Errorf("resolution = %s, want audio", plan.Resolution)
			}
			if plan.MustTranscode != tt.wantTranscode {
				t.Errorf("must_transcode = %v, want %v", plan.MustTranscode, tt.wantTranscode)
			}
		})
	}
}

func TestResolveVideo(t *testing.T) {
	r := testResolver()
	premium := config.Tier{PerStreamBpsCap: 320_000, MaxResolution: "1080p"}
	basic := config.Tier{PerStreamBpsCap: 192_000, MaxResolution: "480p"}

	tests := []struct {
		name       string
		tier       config.Tier
		requested  string
		saturation float64
		wantRes    string
	}{
		{"Requested within tier", premium, "720p", 0.2, "720p"},
		{"Clamped to tier max", basic, "1080p", 0.2, "480p"},
		{"Pressure steps resolution down", premium, "1080p", 0.9, "720p"},
		{"Unknown resolution falls to bottom", premium, "4k", 0.2, "360p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := Source{BitrateKbps: 320, Resolution: "1080p"}
			plan := r.Resolve(tt.tier, 128, tt.requested, src, snapshotAt(tt.saturation))
			if plan.Resolution != tt.wantRes {
				t.Errorf("resolution = %s, want %s", plan.Resolution, tt.wantRes)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := testResolver()
	tier := config.Tier{PerStreamBpsCap: 320_000, MaxResolution: "720p"}
	src := Source{BitrateKbps: 256, Resolution: "audio"}
	snap := snapshotAt(0.5)

	first := r.Resolve(tier, 300, "", src, snap)
	for i := 0; i < 10; i++ {
		if got := r.Resolve(tier, 300, "", src, snap); got != first {
			t.Fatalf("resolve not deterministic: %+v vs %+v", got, first)
		}
	}
}
