package admission

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"streampirex-radio/internal/bandwidth"
	"streampirex-radio/internal/config"
	"streampirex-radio/internal/identity"
	"streampirex-radio/internal/models"
	"streampirex-radio/internal/quality"
	"streampirex-radio/internal/rooms"
	"streampirex-radio/internal/sessions"
	"streampirex-radio/internal/timeline"
	"streampirex-radio/internal/transcode"
)

// ObjectStore is the storage collaborator: stream URI in, listener URL out.
type ObjectStore interface {
	SignStreamURL(uri string) (string, error)
}

// Request is one listener asking to join a station.
type Request struct {
	StationID           uint
	Identity            identity.Identity
	IP                  string
	RequestedKbps       int
	RequestedResolution string
}

// Grant is everything the client needs to start listening.
type Grant struct {
	SessionID     string           `json:"session_id"`
	StreamURI     string           `json:"stream_uri"`
	StartOffsetMs int64            `json:"start_offset_ms"`
	NowPlaying    rooms.NowPlaying `json:"now_playing"`
	RoomToken     string           `json:"room_token"`
}

// Controller orchestrates the full admission path: station lookup, rate
// limit, quality resolution, bandwidth reservation, rendition check,
// session open. Everything after the reservation releases it on failure.
type Controller struct {
	db       *gorm.DB
	ledger   *bandwidth.Ledger
	resolver *quality.Resolver
	queue    *transcode.Queue
	registry *sessions.Registry
	hub      *rooms.Hub
	store    ObjectStore
	entitle  identity.EntitlementCheck
	clock    timeline.Clock

	jwtSecret    []byte
	rateWindow   time.Duration
	rateMax      int
	retryAfterMs int
	deadline     time.Duration
}

func NewController(
	cfg *config.Config,
	db *gorm.DB,
	ledger *bandwidth.Ledger,
	resolver *quality.Resolver,
	queue *transcode.Queue,
	registry *sessions.Registry,
	hub *rooms.Hub,
	store ObjectStore,
	entitle identity.EntitlementCheck,
) *Controller {
	return &Controller{
		db:           db,
		ledger:       ledger,
		resolver:     resolver,
		queue:        queue,
		registry:     registry,
		hub:          hub,
		store:        store,
		entitle:      entitle,
		clock:        timeline.RealClock{},
		jwtSecret:    []byte(cfg.Server.JWTSecret),
		rateWindow:   time.Duration(cfg.Bandwidth.RateLimitWin) * time.Second,
		rateMax:      cfg.Bandwidth.RateLimitMax,
		retryAfterMs: cfg.Transcode.RetryAfterMs,
		deadline:     time.Duration(cfg.Transcode.AdmitDeadlineMs) * time.Millisecond,
	}
}

// WithClock swaps the clock. Test hook.
func (c *Controller) WithClock(clock timeline.Clock) *Controller {
	c.clock = clock
	return c
}

// Listen runs the end-to-end admission flow for one listener request.
func (c *Controller) Listen(ctx context.Context, req Request) (Grant, error) {
	if c.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deadline)
		defer cancel()
	}

	// 1. Station lookup (soft-deleted rows are invisible) + entitlement.
	var station models.Station
	err := c.db.Preload("Playlist", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC")
	}).First(&station, req.StationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Grant{}, &Error{Kind: KindNotFound, Reason: "station unknown"}
	}
	if err != nil {
		return Grant{}, &Error{Kind: KindInternal, Reason: "station lookup", Cause: err}
	}
	if station.Access != "public" {
		if req.Identity.Anonymous || !c.entitle.Entitled(req.Identity.UserID, station.ID) {
			return Grant{}, &Error{Kind: KindForbidden, Reason: "entitlement missing"}
		}
	}

	// 2. Per-IP rate limit, before any further work.
	if !c.ledger.CheckRateLimit(req.IP, c.rateWindow, c.rateMax) {
		return Grant{}, &Error{Kind: KindRateLimited, Reason: "too many requests"}
	}

	// Station's own listener cap (0 = unlimited), before global accounting.
	if station.MaxListeners > 0 && c.registry.CountForStation(station.ID) >= station.MaxListeners {
		return Grant{}, &Error{Kind: KindBusy, Reason: "station_full", RetryAfterMs: c.retryAfterMs}
	}

	// 3. Tier from the listener's identity (anonymous -> free).
	tierName := req.Identity.Tier
	if tierName == "" {
		tierName = "free"
	}
	tier, known := c.ledger.Tier(tierName)
	if !known {
		return Grant{}, &Error{Kind: KindForbidden, Reason: "unknown tier " + tierName}
	}

	// Resolve the loop position up front: the resolver needs the source's
	// native rendition and step 6 needs its URI. Live stations skip this.
	var pos timeline.Position
	if !station.IsLive {
		pos, err = timeline.CurrentPosition(&station, c.clock.Now())
		if err != nil {
			// Empty or broken playlists are the owner's bug, surfaced as 400.
			return Grant{}, &Error{Kind: KindBadRequest, Reason: "station has no playable content", Cause: err}
		}
	}

	// 4. Quality plan from tier caps, hints and ledger pressure.
	src := quality.Source{
		BitrateKbps: pos.Track.SourceBitrateKbps,
		Resolution:  pos.Track.SourceResolution,
	}
	plan := c.resolver.Resolve(tier, req.RequestedKbps, req.RequestedResolution, src, c.ledger.Snapshot())

	// 5. Reserve bandwidth. From here, every failure path releases.
	adm := c.ledger.TryAdmit(tierName, int64(plan.BitrateKbps)*1000)
	if !adm.OK {
		return Grant{}, &Error{Kind: KindBusy, Reason: string(adm.Reason), RetryAfterMs: c.retryAfterMs}
	}
	releaseOnExit := false
	defer func() {
		if releaseOnExit {
			c.ledger.Release(adm.Token)
		}
	}()

	// 6.-8. Pick the stream URI.
	var streamURI string
	var startOffsetMs int64
	var now rooms.NowPlaying

	switch {
	case station.IsLive:
		// Live preempts the loop entirely.
		streamURI = station.LiveURL
		now = rooms.NowPlaying{Track: station.Name, IsLive: true}

	default:
		sourceURI := pos.Track.SourceURI
		if plan.MustTranscode {
			rendition, rerr := c.queue.EnsureRendition(sourceURI, plan.BitrateKbps, plan.Resolution)
			if rerr != nil {
				releaseOnExit = true
				if errors.Is(rerr, transcode.ErrPermanent) {
					return Grant{}, &Error{Kind: KindBadRequest, Reason: "source cannot be transcoded", Cause: rerr}
				}
				return Grant{}, &Error{Kind: KindInternal, Reason: "rendition check", Cause: rerr}
			}
			if !rendition.Ready || ctx.Err() != nil {
				// Not worth holding capacity while the worker encodes.
				releaseOnExit = true
				return Grant{}, &Error{
					Kind:         KindPreparing,
					Reason:       "rendition not ready",
					JobID:        rendition.JobID,
					RetryAfterMs: c.retryAfterMs,
				}
			}
			sourceURI = rendition.URI
		}

		signed, serr := c.store.SignStreamURL(sourceURI)
		if serr != nil {
			releaseOnExit = true
			return Grant{}, &Error{Kind: KindInternal, Reason: "sign stream url", Cause: serr}
		}
		streamURI = signed
		startOffsetMs = pos.OffsetMs
		now = rooms.NowPlaying{
			Track:       pos.Track.Title,
			OffsetMs:    pos.OffsetMs,
			RemainingMs: pos.RemainingMs,
		}
	}

	// 9. Open the session; the registry owns the reservation from here.
	sessionID := c.registry.Open(&station, req.Identity.UserID, tierName, plan, adm.Token)

	roomToken, terr := identity.MintRoomToken(c.jwtSecret, req.Identity.UserID, station.ID, time.Hour)
	if terr != nil {
		c.registry.Close(sessionID, sessions.CloseError)
		return Grant{}, &Error{Kind: KindInternal, Reason: "room token", Cause: terr}
	}

	return Grant{
		SessionID:     sessionID,
		StreamURI:     streamURI,
		StartOffsetMs: startOffsetMs,
		NowPlaying:    now,
		RoomToken:     roomToken,
	}, nil
}

// NowPlaying is the read-only view for GET /stations/:id/now and room join
// snapshots.
func (c *Controller) NowPlaying(stationID uint) (rooms.NowPlaying, int, error) {
	var station models.Station
	err := c.db.Preload("Playlist", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC")
	}).First(&station, stationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rooms.NowPlaying{}, 0, &Error{Kind: KindNotFound, Reason: "station unknown"}
	}
	if err != nil {
		return rooms.NowPlaying{}, 0, &Error{Kind: KindInternal, Reason: "station lookup", Cause: err}
	}

	count := c.hub.ListenerCount(stationID)

	if station.IsLive {
		return rooms.NowPlaying{Track: station.Name, IsLive: true}, count, nil
	}

	pos, err := timeline.CurrentPosition(&station, c.clock.Now())
	if err != nil {
		return rooms.NowPlaying{}, count, &Error{Kind: KindBadRequest, Reason: "station has no playable content", Cause: err}
	}
	return rooms.NowPlaying{
		Track:       pos.Track.Title,
		OffsetMs:    pos.OffsetMs,
		RemainingMs: pos.RemainingMs,
	}, count, nil
}
