package progressmodule

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// APIHandler exposes the sync engine to the presentation layer.
type APIHandler struct {
	engine *Engine
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(engine *Engine) *APIHandler {
	return &APIHandler{engine: engine}
}

// HandleSaveProgress accepts a progress write from the presentation layer.
// Writes outside the acceptance window are dropped silently; the response
// reports whether the write was accepted.
func (h *APIHandler) HandleSaveProgress(c *gin.Context) {
	var write ProgressWrite
	if err := c.ShouldBindJSON(&write); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid progress write: " + err.Error()})
		return
	}
	if write.MediaID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media_id is required"})
		return
	}

	accepted := h.engine.SaveProgress(c.Request.Context(), write)
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

// HandleResumeDecision returns the resume/restart prompt decision for a
// media item.
func (h *APIHandler) HandleResumeDecision(c *gin.Context) {
	mediaID := c.Param("mediaId")
	decision := h.engine.ResumeDecisionFor(c.Request.Context(), mediaID)
	c.JSON(http.StatusOK, decision)
}

// HandleContinueWatching returns the continue-watching list.
func (h *APIHandler) HandleContinueWatching(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	records := h.engine.ContinueWatching(c.Request.Context(), limit)
	c.JSON(http.StatusOK, gin.H{"items": records, "count": len(records)})
}

// HandleMarkCompleted marks a media item as finished.
func (h *APIHandler) HandleMarkCompleted(c *gin.Context) {
	mediaID := c.Param("mediaId")
	h.engine.MarkCompleted(c.Request.Context(), mediaID)
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// HandleDelete removes a media item from the watch list.
func (h *APIHandler) HandleDelete(c *gin.Context) {
	mediaID := c.Param("mediaId")
	h.engine.Delete(c.Request.Context(), mediaID)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// HandleFlush drains the sync queue on demand.
func (h *APIHandler) HandleFlush(c *gin.Context) {
	h.engine.Flush(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"queue_depth": h.engine.QueueDepth(),
		"reachable":   h.engine.Reachable(),
	})
}

// HandleStatus reports sync engine health.
func (h *APIHandler) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"reachable":   h.engine.Reachable(),
		"queue_depth": h.engine.QueueDepth(),
	})
}
