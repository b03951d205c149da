package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"streampirex-radio/internal/config"
	database "streampirex-radio/internal/db"
	"streampirex-radio/internal/transcode"
)

// Standalone janitor for deployments that keep rendition cleanup out of
// the serving process. Runs the same sweeps against the same database.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("🧹 Starting rendition janitor...")

	cfg := config.Load()
	db := database.New(cfg)

	queue := transcode.NewQueue(
		db.DB,
		time.Duration(cfg.Transcode.RenditionTTLDays)*24*time.Hour,
		time.Duration(cfg.Transcode.WorkerTimeoutS)*time.Second,
	)
	janitor := transcode.NewJanitor(queue, time.Duration(cfg.Transcode.JanitorIntervalS)*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := janitor.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("❌ Janitor stopped: %v", err)
	}
	log.Println("👋 Shutdown complete")
}
