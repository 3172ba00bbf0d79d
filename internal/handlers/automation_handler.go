package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"trackhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler 自动化规则管理
type AutomationHandler struct {
	service *services.AutomationService
	logger  *logrus.Logger
}

func NewAutomationHandler(service *services.AutomationService, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{service: service, logger: logger}
}

// RegisterAutomationRoutes 注册自动化相关路由
func RegisterAutomationRoutes(rg *gin.RouterGroup, h *AutomationHandler) {
	rg.POST("/automations", h.Create)
	rg.GET("/projects/:projectId/automations", h.List)
	rg.PUT("/automations/:id", h.Update)
	rg.DELETE("/automations/:id", h.Delete)
	rg.POST("/automations/execute", h.Execute)
	rg.GET("/automations/:id/test", h.Test)
	rg.GET("/automations/:id/executions", h.Executions)
}

func (h *AutomationHandler) Create(c *gin.Context) {
	var req services.AutomationCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	automation, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, automation)
}

func (h *AutomationHandler) List(c *gin.Context) {
	projectID, err := parseUintParam(c, "projectId")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid project id", Message: err.Error()})
		return
	}
	automations, err := h.service.List(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list automations", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, automations)
}

func (h *AutomationHandler) Update(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req services.AutomationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	automation, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrAutomationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, automation)
}

func (h *AutomationHandler) Delete(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrAutomationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Automation deleted"})
}

// ExecuteRequest 手动执行自动化的请求
type ExecuteRequest struct {
	AutomationID uint `json:"automation_id" binding:"required"`
	TaskID       uint `json:"task_id"`
	BugID        uint `json:"bug_id"`
	SprintID     uint `json:"sprint_id"`
}

func (h *AutomationHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	ctx := c.Request.Context()
	rc := h.service.BuildContext(ctx, 0, entityPayload(req.TaskID, req.BugID, req.SprintID))

	record, err := h.service.Execute(ctx, req.AutomationID, rc)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrAutomationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to execute automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Automation executed", Data: record})
}

func (h *AutomationHandler) Test(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}

	ctx := c.Request.Context()
	rc := h.service.BuildContext(ctx, 0, entityPayload(
		parseUintQuery(c, "task_id"),
		parseUintQuery(c, "bug_id"),
		parseUintQuery(c, "sprint_id"),
	))

	result, err := h.service.DryRun(ctx, id, rc)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrAutomationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to test automation", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AutomationHandler) Executions(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	execs, err := h.service.ListExecutions(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, execs)
}

func entityPayload(taskID, bugID, sprintID uint) map[string]interface{} {
	payload := map[string]interface{}{}
	if taskID != 0 {
		payload["taskId"] = taskID
	}
	if bugID != 0 {
		payload["bugId"] = bugID
	}
	if sprintID != 0 {
		payload["sprintId"] = sprintID
	}
	return payload
}

func parseUintParam(c *gin.Context, name string) (uint, error) {
	n, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}

func parseUintQuery(c *gin.Context, name string) uint {
	n, err := strconv.ParseUint(c.Query(name), 10, 32)
	if err != nil {
		return 0
	}
	return uint(n)
}
