package timeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"streampirex-radio/internal/models"
)

// The timeline never advances on its own. Every caller computes the loop
// position on demand from wall-clock time, so all listeners joining at the
// same instant land on the same track and offset.

var (
	// ErrNoContent means the station has nothing to play (empty playlist).
	ErrNoContent = errors.New("timeline: no content")
	// ErrBadPlaylist means a playlist entry has a zero or negative duration.
	ErrBadPlaylist = errors.New("timeline: bad playlist")
)

// Position is the resolved playback point of a station at one instant.
type Position struct {
	Track       models.PlaylistEntry
	OffsetMs    int64
	RemainingMs int64
}

// CurrentPosition maps (station, now) to (track, offset, remaining).
// Deterministic: identical loop anchor, order and durations give
// byte-identical results for every caller at the same now.
func CurrentPosition(station *models.Station, now time.Time) (Position, error) {
	if len(station.Playlist) == 0 {
		return Position{}, ErrNoContent
	}
	if !station.LoopEnabled || station.LoopStartedAt == nil {
		first := station.Playlist[0]
		if first.DurationMs <= 0 {
			return Position{}, ErrBadPlaylist
		}
		return Position{Track: first, OffsetMs: 0, RemainingMs: first.DurationMs}, nil
	}

	elapsed := now.Sub(*station.LoopStartedAt).Milliseconds()
	return PositionAt(station.Playlist, elapsed)
}

// PositionAt is the pure core: playlist + elapsed ms -> position.
// Track boundaries resolve to the NEXT track at offset 0, never to the
// end of the previous one.
func PositionAt(playlist []models.PlaylistEntry, elapsedMs int64) (Position, error) {
	if len(playlist) == 0 {
		return Position{}, ErrNoContent
	}

	var total int64
	for _, t := range playlist {
		if t.DurationMs <= 0 {
			return Position{}, fmt.Errorf("%w: track %d has duration %dms", ErrBadPlaylist, t.ID, t.DurationMs)
		}
		total += t.DurationMs
	}

	// Non-negative modulo, so joins before the anchor still resolve.
	e := elapsedMs % total
	if e < 0 {
		e += total
	}

	var prior int64
	for _, t := range playlist {
		if prior+t.DurationMs > e {
			offset := e - prior
			return Position{
				Track:       t,
				OffsetMs:    offset,
				RemainingMs: t.DurationMs - offset,
			}, nil
		}
		prior += t.DurationMs
	}

	// Unreachable: e < total by construction.
	return Position{}, ErrBadPlaylist
}

// TotalDurationMs sums the playlist. Returns ErrBadPlaylist on any
// non-positive entry.
func TotalDurationMs(playlist []models.PlaylistEntry) (int64, error) {
	var total int64
	for _, t := range playlist {
		if t.DurationMs <= 0 {
			return 0, ErrBadPlaylist
		}
		total += t.DurationMs
	}
	return total, nil
}

// ParseDuration converts an edge-supplied "mm:ss" string into milliseconds.
// Malformed input is an error, never a silent default: durations are
// authoritative in ms from ingestion onward.
func ParseDuration(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: duration %q is not mm:ss", ErrBadPlaylist, s)
	}
	mins, err := strconv.Atoi(parts[0])
	if err != nil || mins < 0 {
		return 0, fmt.Errorf("%w: bad minutes in %q", ErrBadPlaylist, s)
	}
	secs, err := strconv.Atoi(parts[1])
	if err != nil || secs < 0 || secs > 59 {
		return 0, fmt.Errorf("%w: bad seconds in %q", ErrBadPlaylist, s)
	}
	ms := (int64(mins)*60 + int64(secs)) * 1000
	if ms == 0 {
		return 0, fmt.Errorf("%w: duration %q is zero", ErrBadPlaylist, s)
	}
	return ms, nil
}
