package streamingmodule

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// APIHandler exposes the session manager to the presentation layer.
type APIHandler struct {
	manager *Manager
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(manager *Manager) *APIHandler {
	return &APIHandler{manager: manager}
}

// HandleCurrentSession returns a snapshot of the active session.
func (h *APIHandler) HandleCurrentSession(c *gin.Context) {
	session := h.manager.Current()
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// HandleSetQuality selects a quality level for the active session.
func (h *APIHandler) HandleSetQuality(c *gin.Context) {
	var req struct {
		Quality string `json:"quality" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quality is required"})
		return
	}

	if err := h.manager.SetQuality(req.Quality); err != nil {
		status := http.StatusBadRequest
		if err == ErrNoSession {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quality": req.Quality})
}

// HandleRecordSample ingests one bandwidth sample from the presentation
// layer. Samples are advisory; malformed ones are rejected but a missing
// session is not an error.
func (h *APIHandler) HandleRecordSample(c *gin.Context) {
	var req struct {
		Bytes     int64   `json:"bytes"`
		ElapsedMs float64 `json:"elapsed_ms"`
		Stalled   bool    `json:"stalled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sample: " + err.Error()})
		return
	}
	if req.Bytes < 0 || req.ElapsedMs <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sample requires bytes >= 0 and elapsed_ms > 0"})
		return
	}

	h.manager.RecordSample(req.Bytes, time.Duration(req.ElapsedMs*float64(time.Millisecond)), req.Stalled)
	c.JSON(http.StatusOK, gin.H{
		"estimate_bps": h.manager.sampler.EstimateBps(),
		"quality":      h.manager.sampler.Classify(),
	})
}

// HandleUpdateStats records playback statistics reported by the media
// element.
func (h *APIHandler) HandleUpdateStats(c *gin.Context) {
	var stats SessionStats
	if err := c.ShouldBindJSON(&stats); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stats: " + err.Error()})
		return
	}
	h.manager.UpdateStats(stats)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}
