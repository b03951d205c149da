package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"streampirex-radio/internal/models"
	"streampirex-radio/internal/transcode"
)

type fakeChecker struct {
	exists bool
}

func (f *fakeChecker) RenditionExists(uri string) (bool, error) {
	return f.exists, nil
}

func newWorkerEnv(t *testing.T, checker RenditionChecker) (*gin.Engine, *transcode.Queue, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.TranscodeJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	queue := transcode.NewQueue(db, 24*time.Hour, time.Minute)
	h := NewWorkerHandler(queue, checker)

	router := gin.New()
	router.POST("/transcode/:id/ready", h.JobReady)
	return router, queue, db
}

func claimJob(t *testing.T, queue *transcode.Queue) string {
	t.Helper()
	rend, err := queue.EnsureRendition("media/a.mp3", 128, "audio")
	if err != nil {
		t.Fatalf("ensure rendition: %v", err)
	}
	if _, err := queue.NextPending("worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	return rend.JobID
}

func postReady(t *testing.T, router *gin.Engine, jobID, outputURI string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(gin.H{"output_uri": outputURI})
	req := httptest.NewRequest(http.MethodPost, "/transcode/"+jobID+"/ready", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJobReadyVerifiesOutputExists(t *testing.T) {
	router, queue, db := newWorkerEnv(t, &fakeChecker{exists: false})
	jobID := claimJob(t, queue)

	w := postReady(t, router, jobID, "renditions/a-128.mp3")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing output: status = %d, want 400", w.Code)
	}

	// The job must still be claimable, not published.
	var job models.TranscodeJob
	if err := db.First(&job, "id = ?", jobID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.State != transcode.StateRunning {
		t.Errorf("job state = %s after rejected publish, want running", job.State)
	}
}

func TestJobReadyPublishesExistingOutput(t *testing.T) {
	router, queue, db := newWorkerEnv(t, &fakeChecker{exists: true})
	jobID := claimJob(t, queue)

	w := postReady(t, router, jobID, "renditions/a-128.mp3")
	if w.Code != http.StatusOK {
		t.Fatalf("publish: status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var job models.TranscodeJob
	if err := db.First(&job, "id = ?", jobID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.State != transcode.StateReady || job.OutputURI != "renditions/a-128.mp3" {
		t.Errorf("job = %s/%s, want ready with output URI", job.State, job.OutputURI)
	}
}
