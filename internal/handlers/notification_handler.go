package handlers

import (
	"errors"
	"net/http"

	"trackhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NotificationHandler 通知查询与已读标记
type NotificationHandler struct {
	service *services.NotificationService
	logger  *logrus.Logger
}

func NewNotificationHandler(service *services.NotificationService, logger *logrus.Logger) *NotificationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationHandler{service: service, logger: logger}
}

// RegisterNotificationRoutes 注册通知相关路由
func RegisterNotificationRoutes(rg *gin.RouterGroup, h *NotificationHandler) {
	rg.GET("/users/:userId/notifications", h.List)
	rg.PUT("/notifications/:id/read", h.MarkRead)
	rg.DELETE("/notifications/:id", h.Delete)
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID, err := parseUintParam(c, "userId")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user id", Message: err.Error()})
		return
	}
	unreadOnly := c.Query("unread") == "true"

	notifications, err := h.service.ListForUser(c.Request.Context(), userID, unreadOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list notifications", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	notification, err := h.service.MarkRead(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrNotificationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to mark notification read", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, notification)
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrNotificationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete notification", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Notification deleted"})
}
