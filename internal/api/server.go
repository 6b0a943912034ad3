package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streambro/backend/internal/config"
	"github.com/streambro/backend/internal/database"
	"github.com/streambro/backend/internal/logging"
	"github.com/streambro/backend/internal/middleware"
	"github.com/streambro/backend/pkg/models"
)

// StreamRegistry is the stream persistence surface the API exposes
type StreamRegistry interface {
	CreateStream(ctx context.Context, stream *models.Stream) error
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	ListStreams(ctx context.Context, status string) ([]*models.Stream, error)
	ClearSchedule(ctx context.Context, streamID string) error
}

// ScheduleStore is the schedule persistence surface the API exposes
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, sched *models.Schedule) error
	ListSchedulesByStream(ctx context.Context, streamID string) ([]*models.Schedule, error)
}

// Stopper requests graceful broadcast termination
type Stopper interface {
	Stop(ctx context.Context, streamID string) error
	Running(streamID string) bool
}

// SnapshotReader reads cached stream state
type SnapshotReader interface {
	GetStreamSnapshot(ctx context.Context, streamID string) (*models.StreamSnapshot, error)
}

// API is the operator-facing HTTP surface
type API struct {
	cfg       config.ServerConfig
	registry  StreamRegistry
	store     ScheduleStore
	stopper   Stopper
	snapshots SnapshotReader
	log       *logging.Logger
}

// New creates a new API
func New(cfg config.ServerConfig, registry StreamRegistry, store ScheduleStore, stopper Stopper, log *logging.Logger) *API {
	return &API{
		cfg:      cfg,
		registry: registry,
		store:    store,
		stopper:  stopper,
		log:      log.WithComponent("api"),
	}
}

// SetSnapshotReader attaches the status cache for cheap status reads
func (api *API) SetSnapshotReader(r SnapshotReader) { api.snapshots = r }

// Router builds the gin engine with all routes registered
func (api *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(api.log))
	if api.cfg.RateLimitRPS > 0 {
		router.Use(middleware.RateLimit(middleware.NewRateLimiter(api.cfg.RateLimitRPS, api.cfg.RateLimitBurst)))
	}

	router.GET("/health", api.healthHandler)

	v1 := router.Group("/api/v1")
	// Auth is optional so local setups can run open
	if api.cfg.JWTSecret != "" || api.cfg.APIKey != "" {
		v1.Use(middleware.Auth(api.cfg.JWTSecret, api.cfg.APIKey))
	}
	{
		v1.POST("/streams", api.createStreamHandler)
		v1.GET("/streams", api.listStreamsHandler)
		v1.GET("/streams/:id", api.getStreamHandler)
		v1.GET("/streams/:id/status", api.getStreamStatusHandler)
		v1.POST("/streams/:id/stop", api.stopStreamHandler)
		v1.DELETE("/streams/:id/schedule-link", api.clearScheduleHandler)
		v1.POST("/streams/:id/schedules", api.createScheduleHandler)
		v1.GET("/streams/:id/schedules", api.listSchedulesHandler)
	}

	return router
}

func (api *API) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// createStreamHandler registers a new stream
// POST /api/v1/streams
func (api *API) createStreamHandler(c *gin.Context) {
	var req struct {
		Title           string     `json:"title" binding:"required"`
		UseExternalAPI  bool       `json:"use_external_api"`
		DurationMinutes *int       `json:"duration_minutes"`
		StartTime       *time.Time `json:"start_time"`
		ChannelID       *string    `json:"channel_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	if req.DurationMinutes != nil && *req.DurationMinutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_minutes must be positive"})
		return
	}

	stream := &models.Stream{
		Title:           req.Title,
		UseExternalAPI:  req.UseExternalAPI,
		DurationMinutes: req.DurationMinutes,
		ChannelID:       req.ChannelID,
	}
	if req.StartTime != nil {
		stream.StartTime = *req.StartTime
	}

	if err := api.registry.CreateStream(c.Request.Context(), stream); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create stream"})
		return
	}

	c.JSON(http.StatusCreated, stream)
}

// listStreamsHandler lists streams, optionally filtered by status
// GET /api/v1/streams?status=live
func (api *API) listStreamsHandler(c *gin.Context) {
	status := c.Query("status")

	streams, err := api.registry.ListStreams(c.Request.Context(), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list streams"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"streams": streams,
		"count":   len(streams),
	})
}

// getStreamHandler retrieves one stream
// GET /api/v1/streams/:id
func (api *API) getStreamHandler(c *gin.Context) {
	stream, err := api.registry.GetStream(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrStreamNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stream"})
		return
	}

	c.JSON(http.StatusOK, stream)
}

// getStreamStatusHandler returns the stream's current status, served
// from the snapshot cache when possible
// GET /api/v1/streams/:id/status
func (api *API) getStreamStatusHandler(c *gin.Context) {
	streamID := c.Param("id")

	if api.snapshots != nil {
		if snapshot, err := api.snapshots.GetStreamSnapshot(c.Request.Context(), streamID); err == nil && snapshot != nil {
			c.JSON(http.StatusOK, gin.H{
				"stream_id": snapshot.StreamID,
				"status":    snapshot.Status,
				"cached":    true,
			})
			return
		}
	}

	stream, err := api.registry.GetStream(c.Request.Context(), streamID)
	if err != nil {
		if errors.Is(err, database.ErrStreamNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stream"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stream_id": stream.ID,
		"status":    stream.Status,
		"cached":    false,
	})
}

// stopStreamHandler requests graceful termination of a live broadcast.
// Stopping a stream that is not running succeeds without effect.
// POST /api/v1/streams/:id/stop
func (api *API) stopStreamHandler(c *gin.Context) {
	streamID := c.Param("id")

	if _, err := api.registry.GetStream(c.Request.Context(), streamID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	running := api.stopper.Running(streamID)
	if err := api.stopper.Stop(c.Request.Context(), streamID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop stream", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stream_id":   streamID,
		"was_running": running,
		"message":     "stop requested",
	})
}

// clearScheduleHandler drops a stream's schedule link without touching
// its status. Operator escape hatch for rows wedged by a stale link.
// DELETE /api/v1/streams/:id/schedule-link
func (api *API) clearScheduleHandler(c *gin.Context) {
	streamID := c.Param("id")

	if _, err := api.registry.GetStream(c.Request.Context(), streamID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	if err := api.registry.ClearSchedule(c.Request.Context(), streamID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear schedule link"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stream_id": streamID, "message": "schedule link cleared"})
}

// createScheduleHandler registers a future launch for a stream
// POST /api/v1/streams/:id/schedules
func (api *API) createScheduleHandler(c *gin.Context) {
	streamID := c.Param("id")

	var req struct {
		ScheduleTime time.Time `json:"schedule_time" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	// Terminal streams are schedulable on purpose: a new schedule is the
	// path back on air for an ended or errored stream.
	if _, err := api.registry.GetStream(c.Request.Context(), streamID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	sched := &models.Schedule{
		StreamID:     streamID,
		ScheduleTime: req.ScheduleTime,
	}
	if err := api.store.CreateSchedule(c.Request.Context(), sched); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create schedule"})
		return
	}

	c.JSON(http.StatusCreated, sched)
}

// listSchedulesHandler lists a stream's schedules
// GET /api/v1/streams/:id/schedules
func (api *API) listSchedulesHandler(c *gin.Context) {
	streamID := c.Param("id")

	schedules, err := api.store.ListSchedulesByStream(c.Request.Context(), streamID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list schedules"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stream_id": streamID,
		"schedules": schedules,
		"count":     len(schedules),
	})
}
