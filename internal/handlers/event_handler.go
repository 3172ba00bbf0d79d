package handlers

import (
	"net/http"
	"time"

	"trackhub/internal/services"

	"github.com/gin-gonic/gin"
)

// EventHandler 领域事件提交入口。Submission is fire-and-forget: the caller
// only waits for the enqueue.
type EventHandler struct {
	pipeline *services.EventPipeline
}

func NewEventHandler(pipeline *services.EventPipeline) *EventHandler {
	return &EventHandler{pipeline: pipeline}
}

// RegisterEventRoutes 注册事件路由
func RegisterEventRoutes(rg *gin.RouterGroup, h *EventHandler) {
	rg.POST("/events", h.Submit)
}

// SubmitEventRequest 事件提交请求
type SubmitEventRequest struct {
	Kind       string                 `json:"kind" binding:"required"`
	ProjectID  uint                   `json:"project_id" binding:"required"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt *time.Time             `json:"occurred_at"`
}

func (h *EventHandler) Submit(c *gin.Context) {
	var req SubmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	evt := services.Event{
		Kind:      req.Kind,
		ProjectID: req.ProjectID,
		Payload:   req.Payload,
	}
	if req.OccurredAt != nil {
		evt.OccurredAt = *req.OccurredAt
	}
	h.pipeline.Submit(evt)

	c.JSON(http.StatusAccepted, SuccessResponse{Message: "Event accepted"})
}
