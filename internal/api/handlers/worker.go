package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"streampirex-radio/internal/transcode"
)

// RenditionChecker verifies that a rendition object actually exists in
// storage before the queue publishes it.
type RenditionChecker interface {
	RenditionExists(uri string) (bool, error)
}

// WorkerHandler is the transcode worker surface. Workers poll for jobs,
// heartbeat while encoding, and report the outcome.
type WorkerHandler struct {
	queue *transcode.Queue
	store RenditionChecker
}

func NewWorkerHandler(queue *transcode.Queue, store RenditionChecker) *WorkerHandler {
	return &WorkerHandler{queue: queue, store: store}
}

// NextJob claims the oldest queued job. 204 means the queue is empty.
func (h *WorkerHandler) NextJob(c *gin.Context) {
	var input struct {
		WorkerID string `json:"worker_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.queue.NextPending(input.WorkerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Claim failed"})
		return
	}
	if job == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, job)
}

// JobHeartbeat keeps a running job claimed past the worker timeout.
func (h *WorkerHandler) JobHeartbeat(c *gin.Context) {
	err := h.queue.Heartbeat(c.Param("id"))
	if errors.Is(err, transcode.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No running job with that ID"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Heartbeat failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// JobReady publishes a finished rendition.
func (h *WorkerHandler) JobReady(c *gin.Context) {
	var input struct {
		OutputURI string `json:"output_uri" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Don't publish a URI listeners would 404 on.
	if h.store != nil {
		exists, err := h.store.RenditionExists(input.OutputURI)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage check failed"})
			return
		}
		if !exists {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Output object not found in storage"})
			return
		}
	}

	err := h.queue.MarkReady(c.Param("id"), input.OutputURI)
	switch {
	case errors.Is(err, transcode.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, transcode.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Publish failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// JobFailed records a failed encode. Permanent failures (missing or
// corrupt source) also block recreation of the same rendition.
func (h *WorkerHandler) JobFailed(c *gin.Context) {
	var input struct {
		Reason    string `json:"reason"`
		Permanent bool   `json:"permanent"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.queue.MarkFailed(c.Param("id"), input.Reason, input.Permanent)
	if errors.Is(err, transcode.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active job with that ID"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}
