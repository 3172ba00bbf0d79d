package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"trackhub/internal/models"
	"trackhub/internal/services"

	"github.com/gin-gonic/gin"
)

func testCtx() context.Context { return context.Background() }

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestEventHandler_Submit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerTestDB(t)
	logger := testLogger()

	notificationService := services.NewNotificationService(db, logger)
	taskService := services.NewTaskService(db, logger)
	svc := services.NewAutomationService(db, logger)
	svc.SetActionExecutor(services.NewActionExecutor(taskService, notificationService, logger))

	pipeline := services.NewEventPipeline(svc, logger, 8)
	pipeline.Start()

	r := gin.New()
	api := r.Group("/api")
	RegisterEventRoutes(api, NewEventHandler(pipeline))

	// 规则：statusTo=Done 时给用户 1 落一条通知
	if _, err := svc.Create(testCtx(), &services.AutomationCreateRequest{
		ProjectID:     1,
		Name:          "done ping",
		Trigger:       models.TriggerOnStatusChange,
		TriggerConfig: &services.TriggerConfig{StatusTo: "Done"},
		Actions: []services.ActionSpec{
			{Type: services.ActionNotifyUser, Config: mustRaw(t, map[string]interface{}{"userId": 1, "message": "done"})},
		},
	}); err != nil {
		t.Fatalf("create automation: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/events", map[string]interface{}{
		"kind":       models.TriggerOnStatusChange,
		"project_id": 1,
		"payload":    map[string]interface{}{"statusTo": "Done"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status=%d body=%s", w.Code, w.Body.String())
	}

	// 缺少必填字段
	w = doJSON(t, r, http.MethodPost, "/api/events", map[string]interface{}{
		"payload": map[string]interface{}{},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", w.Code)
	}

	// 排空队列后事件应已驱动自动化
	pipeline.Stop()

	var count int64
	db.Model(&models.AutomationExecution{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 execution driven by submitted event, got %d", count)
	}
	var notifications int64
	db.Model(&models.Notification{}).Count(&notifications)
	if notifications != 1 {
		t.Fatalf("expected 1 notification, got %d", notifications)
	}
}
