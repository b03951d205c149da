package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"streampirex-radio/internal/admission"
	"streampirex-radio/internal/api/handlers"
	apiserver "streampirex-radio/internal/api/server"
	"streampirex-radio/internal/bandwidth"
	"streampirex-radio/internal/config"
	database "streampirex-radio/internal/db"
	"streampirex-radio/internal/identity"
	"streampirex-radio/internal/models"
	"streampirex-radio/internal/quality"
	"streampirex-radio/internal/rooms"
	"streampirex-radio/internal/sessions"
	"streampirex-radio/internal/storage"
	"streampirex-radio/internal/transcode"
)

// Chat posting limits. Chat keys carry a prefix so bursts never count
// against the same author's stream requests.
const (
	chatWindow = 10 * time.Second
	chatMax    = 10
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("🚀 Starting StreamPireX Radio Engine...")

	// 1. Load Config
	cfg := config.Load()

	// 2. Init Infrastructure
	db := database.New(cfg)
	db.AutoMigrate()
	database.SeedDemoStation(db.DB)

	store := storage.New(cfg)

	// 3. Engine singletons
	ledger := bandwidth.NewLedger(cfg, &bandwidth.DBLogSink{
		Create: func(entry *models.BandwidthLog) error {
			return db.DB.Create(entry).Error
		},
	})
	resolver := quality.NewResolver(cfg)

	queue := transcode.NewQueue(
		db.DB,
		time.Duration(cfg.Transcode.RenditionTTLDays)*24*time.Hour,
		time.Duration(cfg.Transcode.WorkerTimeoutS)*time.Second,
	)
	janitor := transcode.NewJanitor(queue, time.Duration(cfg.Transcode.JanitorIntervalS)*time.Second)

	registry := sessions.NewRegistry(
		ledger,
		db.DB,
		time.Duration(cfg.Sessions.AudioTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Sessions.VideoTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Sessions.SweepIntervalMs)*time.Millisecond,
	)

	hub := rooms.NewHub(
		time.Duration(cfg.Rooms.PingIntervalMs)*time.Millisecond,
		cfg.Rooms.MissedPingLimit,
		time.Duration(cfg.Rooms.CountDebounceMs)*time.Millisecond,
		func(author string) bool { return ledger.CheckRateLimit("chat:"+author, chatWindow, chatMax) },
		func(stationID uint, author, text string, at time.Time) {
			row := models.ChatMessage{StationID: stationID, AuthorID: author, Text: text, SentAt: at}
			if err := db.DB.Create(&row).Error; err != nil {
				log.Printf("⚠️ Chat persistence failed: %v", err)
			}
		},
	)

	ctrl := admission.NewController(cfg, db.DB, ledger, resolver, queue, registry, hub, store,
		&identity.OwnerEntitlements{DB: db.DB})

	// 4. Metrics
	bandwidth.RegisterMetrics()
	sessions.RegisterMetrics()
	transcode.RegisterMetrics()
	rooms.RegisterMetrics()

	go func() {
		http.Handle("/_metrics", promhttp.Handler())
		log.Printf("📊 Metrics exposed at http://localhost%s/_metrics", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(cfg.Server.MetricsPort, nil); err != nil {
			log.Printf("⚠️ Metrics server error: %v", err)
		}
	}()

	// 5. Run everything until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := handlers.NewStatsHandler(db.DB, ledger, registry, hub)
	srv := apiserver.New(cfg, db, ctrl, registry, hub, queue, store, stats)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return registry.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return janitor.Run(ctx) })
	g.Go(func() error {
		log.Printf("🚀 API listening on %s", cfg.Server.Addr)
		return srv.Start(cfg.Server.Addr)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("❌ Engine stopped: %v", err)
	}
	log.Println("👋 Shutdown complete")
}
