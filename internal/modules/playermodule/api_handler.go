package playermodule

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIHandler exposes the playback controller to the presentation layer.
type APIHandler struct {
	controller *Controller
	observer   *Observer
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(controller *Controller, observer *Observer) *APIHandler {
	return &APIHandler{controller: controller, observer: observer}
}

// HandlePlay starts playback of a source, replacing any active one.
func (h *APIHandler) HandlePlay(c *gin.Context) {
	var source PlaybackSource
	if err := c.ShouldBindJSON(&source); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid playback source: " + err.Error()})
		return
	}

	state, decision, err := h.controller.Play(c.Request.Context(), source)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoPlayableDelivery) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": state, "resume": decision})
}

// HandleResumeAt answers a pending resume prompt with a position.
func (h *APIHandler) HandleResumeAt(c *gin.Context) {
	var req struct {
		TimeSec float64 `json:"time_sec"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_sec is required"})
		return
	}
	if err := h.controller.ResumeAt(req.TimeSec); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.State())
}

// HandleRestart answers a pending resume prompt with "start over".
func (h *APIHandler) HandleRestart(c *gin.Context) {
	if err := h.controller.Restart(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.State())
}

// HandlePause records a pause request.
func (h *APIHandler) HandlePause(c *gin.Context) {
	if err := h.controller.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.Timeline())
}

// HandleSeek records a seek request.
func (h *APIHandler) HandleSeek(c *gin.Context) {
	var req struct {
		TimeSec float64 `json:"time_sec"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_sec is required"})
		return
	}
	if err := h.controller.Seek(req.TimeSec); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.Timeline())
}

// HandleSetVolume sets volume and mute state.
func (h *APIHandler) HandleSetVolume(c *gin.Context) {
	var req struct {
		Volume *float64 `json:"volume"`
		Muted  *bool    `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid volume request"})
		return
	}

	if req.Volume != nil {
		if err := h.controller.SetVolume(*req.Volume); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Muted != nil {
		h.controller.SetMuted(*req.Muted)
	}
	c.JSON(http.StatusOK, h.controller.Timeline())
}

// HandleSetRate sets the playback rate.
func (h *APIHandler) HandleSetRate(c *gin.Context) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rate is required"})
		return
	}
	if err := h.controller.SetPlaybackRate(req.Rate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.Timeline())
}

// HandleSetQuality pins or releases the adaptive quality level.
func (h *APIHandler) HandleSetQuality(c *gin.Context) {
	var req struct {
		Quality string `json:"quality" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quality is required"})
		return
	}
	if err := h.controller.SetQuality(req.Quality); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quality": req.Quality})
}

// HandleClose ends playback.
func (h *APIHandler) HandleClose(c *gin.Context) {
	h.controller.Close(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// HandleMediaEvent ingests a media element event and returns the directive
// the presentation layer should apply.
func (h *APIHandler) HandleMediaEvent(c *gin.Context) {
	var event MediaEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid media event: " + err.Error()})
		return
	}
	if event.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event type is required"})
		return
	}

	directive, err := h.controller.HandleMediaEvent(c.Request.Context(), event)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrNoActiveSource) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"directive": directive,
		"timeline":  h.controller.Timeline(),
	})
}

// HandleState returns the current playback state snapshot.
func (h *APIHandler) HandleState(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.State())
}

// HandleTimeline returns the current media timeline.
func (h *APIHandler) HandleTimeline(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Timeline())
}
