package database

import (
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"streampirex-radio/internal/models"
)

// SeedDemoStation creates a public looping station for local bring-up.
// Safe to run on every boot: upserts on name and leaves existing rows alone.
func SeedDemoStation(db *gorm.DB) {
	loopStart := time.Now().UTC()
	station := models.Station{
		Name:          "demo-station",
		OwnerID:       "demo-owner",
		Access:        "public",
		LoopEnabled:   true,
		LoopStartedAt: &loopStart,
		Playlist: []models.PlaylistEntry{
			{SortOrder: 0, Title: "Opening Theme", SourceURI: "media/opening.mp3", DurationMs: 180_000},
			{SortOrder: 1, Title: "Deep Cut", SourceURI: "media/deep-cut.mp3", DurationMs: 240_000},
			{SortOrder: 2, Title: "Closing Theme", SourceURI: "media/closing.mp3", DurationMs: 120_000},
		},
	}

	log.Println("🌱 Seeding demo station...")
	db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&station)
}
