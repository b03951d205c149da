package quality

import (
	"streampirex-radio/internal/bandwidth"
	"streampirex-radio/internal/config"
)

// The resolver is pure: tier caps + request hints + a ledger snapshot in,
// one QualityPlan out. No I/O, no clock, so ties always break the same way
// (round down to the nearest rung).

// Plan is the chosen rendition for one session.
type Plan struct {
	BitrateKbps   int    `json:"bitrate_kbps"`
	Resolution    string `json:"resolution"` // "audio" for audio-only
	MustTranscode bool   `json:"must_transcode"`
}

// Source describes the native rendition of the track being served.
type Source struct {
	BitrateKbps int
	Resolution  string
}

// Resolver holds the configured ladders. Ladders are data: both slices are
// ordered ascending.
type Resolver struct {
	ladderAudio []int
	ladderVideo []string
}

const AudioOnly = "audio"

// Saturation above which we step every plan one rung down.
const pressureThreshold = 0.8

func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		ladderAudio: cfg.Quality.LadderAudioKbps,
		ladderVideo: cfg.Quality.LadderVideo,
	}
}

// Resolve picks the bitrate (and resolution, for video) for a session.
//
//  1. Clamp the requested bitrate to the tier's per-stream cap.
//  2. Under global pressure (>80% saturated) step down one rung.
//  3. Cap video resolution at the tier's maximum.
//  4. MustTranscode when the choice differs from the source's native rendition.
func (r *Resolver) Resolve(tier config.Tier, requestedKbps int, requestedResolution string, src Source, snap bandwidth.Snapshot) Plan {
	capKbps := int(tier.PerStreamBpsCap / 1000)
	if requestedKbps <= 0 {
		requestedKbps = capKbps
	}
	if requestedKbps > capKbps {
		requestedKbps = capKbps
	}

	bitrate := r.snapToLadder(requestedKbps)
	if snap.Saturation() > pressureThreshold {
		bitrate = r.stepDown(bitrate)
	}

	resolution := AudioOnly
	if requestedResolution != "" && requestedResolution != AudioOnly {
		resolution = r.clampResolution(requestedResolution, tier.MaxResolution)
		if snap.Saturation() > pressureThreshold {
			resolution = r.stepDownResolution(resolution)
		}
	}

	return Plan{
		BitrateKbps:   bitrate,
		Resolution:    resolution,
		MustTranscode: bitrate != src.BitrateKbps || resolution != normalizeResolution(src.Resolution),
	}
}

// snapToLadder rounds down to the highest rung <= kbps. Requests below the
// bottom rung get the bottom rung.
func (r *Resolver) snapToLadder(kbps int) int {
	chosen := r.ladderAudio[0]
	for _, rung := range r.ladderAudio {
		if rung <= kbps {
			chosen = rung
		}
	}
	return chosen
}

// stepDown moves one rung lower, pinning at the bottom.
func (r *Resolver) stepDown(kbps int) int {
	for i, rung := range r.ladderAudio {
		if rung == kbps {
			if i == 0 {
				return rung
			}
			return r.ladderAudio[i-1]
		}
	}
	return r.ladderAudio[0]
}

func (r *Resolver) resolutionIndex(res string) int {
	for i, rung := range r.ladderVideo {
		if rung == res {
			return i
		}
	}
	return -1
}

// clampResolution bounds the request by the tier maximum. Unknown requests
// fall to the bottom of the ladder.
func (r *Resolver) clampResolution(requested, tierMax string) string {
	ri := r.resolutionIndex(requested)
	if ri < 0 {
		return r.ladderVideo[0]
	}
	mi := r.resolutionIndex(tierMax)
	if mi >= 0 && ri > mi {
		return r.ladderVideo[mi]
	}
	return r.ladderVideo[ri]
}

func (r *Resolver) stepDownResolution(res string) string {
	i := r.resolutionIndex(res)
	if i <= 0 {
		return r.ladderVideo[0]
	}
	return r.ladderVideo[i-1]
}

func normalizeResolution(res string) string {
	if res == "" {
		return AudioOnly
	}
	return res
}
