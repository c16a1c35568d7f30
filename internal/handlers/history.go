package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"flower-classifier-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// History is satisfied by *services.HistoryService.
type History interface {
	List(ctx context.Context, ownerID uuid.UUID) ([]models.HistoryItem, error)
	Watch(ctx context.Context, ownerID uuid.UUID) (<-chan []models.HistoryItem, error)
}

type HistoryHandler struct {
	history   History
	keepAlive time.Duration
}

func NewHistoryHandler(history History, keepAlive time.Duration) *HistoryHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &HistoryHandler{history: history, keepAlive: keepAlive}
}

// GetHistory godoc
// @Summary     List upload history
// @Description Returns the caller's uploads, newest first, each with its top prediction
// @Tags        history
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.HistoryResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /history [get]
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}

	items, err := h.history.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.HistoryResponse{Success: true, History: items})
}

// StreamHistory godoc
// @Summary     Stream upload history
// @Description Server-Sent Events: a "history" event with the full list on connect
// @Description and again after every change to one of the caller's uploads.
// @Tags        history
// @Produce     text/event-stream
// @Security    Bearer
// @Success     200 {object} models.HistoryResponse
// @Router      /history/stream [get]
func (h *HistoryHandler) StreamHistory(c *gin.Context) {
	userID, ok := ownerID(c)
	if !ok {
		return
	}

	snapshots, err := h.history.Watch(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case items, ok := <-snapshots:
			if !ok {
				return false
			}
			c.SSEvent("history", models.HistoryResponse{Success: true, History: items})
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
