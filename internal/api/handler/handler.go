package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"claimhub/backend/internal/chathub"
	"claimhub/backend/internal/jobqueue"
	"claimhub/backend/internal/models"
	"claimhub/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Pusher delivers server-originated notifications to a user's connections.
type Pusher interface {
	Notify(userID string, payload any) error
}

// HistoryReader reads persisted chat messages.
type HistoryReader interface {
	GetChatHistory(ctx context.Context, claimID string, limit int) ([]models.ChatMessage, error)
}

// ArchiveReader reads jobs that were archived after reaching a terminal state.
type ArchiveReader interface {
	GetArchivedJob(ctx context.Context, id models.JobID) (*models.JobRecord, error)
}

// Handler holds the collaborators behind the HTTP routes. History, Archive
// and Tokens are optional.
type Handler struct {
	Registry *chathub.Registry
	Router   *chathub.Router
	Notifier Pusher
	Queue    jobqueue.Queue
	History  HistoryReader
	Archive  ArchiveReader
	Tokens   *TokenIssuer
	Log      zerolog.Logger
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/anonid", h.GetAnonID)
	r.GET("/ws", h.ServeWebSocket)

	r.POST("/jobs", h.EnqueueJob)
	r.GET("/jobs/stats", h.JobStats)
	r.GET("/jobs/:id", h.GetJob)

	r.POST("/notifications/:userId", h.PushNotification)
	r.GET("/rooms/:room/members", h.RoomMembers)
	r.GET("/claims/:claimId/messages", h.ClaimMessages)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.Registry.Len(),
		"rooms":       h.Registry.Rooms().RoomCount(),
	})
}

type enqueueRequest struct {
	Type    models.JobType `json:"type" binding:"required"`
	Payload models.Payload `json:"payload"`
}

// EnqueueJob accepts a job and returns its id without waiting for it to run.
func (h *Handler) EnqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Body must be {\"type\": ..., \"payload\": {...}}"})
		return
	}
	req.Type = models.JobType(strings.TrimSpace(string(req.Type)))
	if req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Job type is required"})
		return
	}

	id, err := h.Queue.Enqueue(c.Request.Context(), req.Type, req.Payload)
	if err != nil {
		h.Log.Error().Err(err).Str("job_type", string(req.Type)).Msg("enqueue failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": models.JobStatusPending})
}

// GetJob returns a job from the queue, or from the archive once the queue
// no longer has it.
func (h *Handler) GetJob(c *gin.Context) {
	id, err := models.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job id"})
		return
	}
	ctx := c.Request.Context()

	job, err := h.Queue.Get(ctx, id)
	if err == nil {
		c.JSON(http.StatusOK, job)
		return
	}
	if !errors.Is(err, jobqueue.ErrJobNotFound) {
		h.Log.Error().Err(err).Str("job_id", id.String()).Msg("job lookup failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue unavailable"})
		return
	}

	if h.Archive != nil {
		rec, err := h.Archive.GetArchivedJob(ctx, id)
		if err == nil {
			c.JSON(http.StatusOK, rec)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			h.Log.Error().Err(err).Str("job_id", id.String()).Msg("archive lookup failed")
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
}

func (h *Handler) JobStats(c *gin.Context) {
	stats, err := h.Queue.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// PushNotification sends the JSON body as new_notification to user:<userId>.
func (h *Handler) PushNotification(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Body must be a JSON object"})
		return
	}
	if err := h.Notifier.Notify(c.Param("userId"), payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// RoomMembers lists the connections in a room. Diagnostics only.
func (h *Handler) RoomMembers(c *gin.Context) {
	room := c.Param("room")
	c.JSON(http.StatusOK, gin.H{"room": room, "members": h.Registry.Rooms().MembersOf(room)})
}

func (h *Handler) ClaimMessages(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Chat history is not stored"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := h.History.GetChatHistory(c.Request.Context(), c.Param("claimId"), limit)
	if err != nil {
		h.Log.Error().Err(err).Str("claim_id", c.Param("claimId")).Msg("history lookup failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History unavailable"})
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"claimId": c.Param("claimId"), "messages": msgs})
}
