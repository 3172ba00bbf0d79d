package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"trackhub/internal/models"
	"trackhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:handlers_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.User{}, &models.Project{}, &models.Task{}, &models.Bug{},
		&models.Sprint{}, &models.Notification{},
		&models.Automation{}, &models.AutomationExecution{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newAutomationRouter(t *testing.T, db *gorm.DB) (*gin.Engine, *services.AutomationService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := testLogger()

	notificationService := services.NewNotificationService(db, logger)
	taskService := services.NewTaskService(db, logger)
	svc := services.NewAutomationService(db, logger)
	svc.SetActionExecutor(services.NewActionExecutor(taskService, notificationService, logger))

	r := gin.New()
	api := r.Group("/api")
	RegisterAutomationRoutes(api, NewAutomationHandler(svc, logger))
	return r, svc
}

func itoa(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAutomationHandler_CreateAndList(t *testing.T) {
	db := newHandlerTestDB(t)
	r, _ := newAutomationRouter(t, db)

	w := doJSON(t, r, http.MethodPost, "/api/automations", map[string]interface{}{
		"project_id": 1,
		"name":       "done notifier",
		"trigger":    models.TriggerOnStatusChange,
		"trigger_config": map[string]interface{}{
			"statusTo": "Done",
		},
		"actions": []map[string]interface{}{
			{"type": "notifyUser", "config": map[string]interface{}{"userId": 1, "message": "done"}},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}

	// 非法触发器被拒绝
	w = doJSON(t, r, http.MethodPost, "/api/automations", map[string]interface{}{
		"project_id": 1,
		"name":       "bad",
		"trigger":    "onFullMoon",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad trigger, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/projects/1/automations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", w.Code, w.Body.String())
	}
	var automations []models.Automation
	if err := json.Unmarshal(w.Body.Bytes(), &automations); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(automations) != 1 || automations[0].Name != "done notifier" {
		t.Fatalf("unexpected list: %#v", automations)
	}
}

func TestAutomationHandler_ExecuteAndHistory(t *testing.T) {
	db := newHandlerTestDB(t)
	r, _ := newAutomationRouter(t, db)

	w := doJSON(t, r, http.MethodPost, "/api/automations", map[string]interface{}{
		"project_id": 1,
		"name":       "manual",
		"trigger":    models.TriggerOnStatusChange,
		"actions": []map[string]interface{}{
			{"type": "notifyUser", "config": map[string]interface{}{"userId": 2, "message": "ping"}},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	var created models.Automation
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}

	// 手动执行
	w = doJSON(t, r, http.MethodPost, "/api/automations/execute", map[string]interface{}{
		"automation_id": created.ID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("execute status=%d body=%s", w.Code, w.Body.String())
	}

	// 不存在的规则
	w = doJSON(t, r, http.MethodPost, "/api/automations/execute", map[string]interface{}{
		"automation_id": 9999,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", w.Code, w.Body.String())
	}

	// 执行历史
	w = doJSON(t, r, http.MethodGet, "/api/automations/"+itoa(created.ID)+"/executions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("executions status=%d body=%s", w.Code, w.Body.String())
	}
	var execs []models.AutomationExecution
	if err := json.Unmarshal(w.Body.Bytes(), &execs); err != nil {
		t.Fatalf("unmarshal executions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != models.ExecutionCompleted {
		t.Fatalf("unexpected history: %#v", execs)
	}
}

func TestAutomationHandler_TestEndpointIsReadOnly(t *testing.T) {
	db := newHandlerTestDB(t)
	r, _ := newAutomationRouter(t, db)

	w := doJSON(t, r, http.MethodPost, "/api/automations", map[string]interface{}{
		"project_id": 1,
		"name":       "dry",
		"trigger":    models.TriggerOnStatusChange,
		"actions": []map[string]interface{}{
			{"type": "notifyUser", "config": map[string]interface{}{"userId": 1}},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	var created models.Automation
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}

	w = doJSON(t, r, http.MethodGet, "/api/automations/"+itoa(created.ID)+"/test", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("test status=%d body=%s", w.Code, w.Body.String())
	}
	var result services.DryRunResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.CanExecute || result.ActionCount != 1 {
		t.Fatalf("unexpected dry run result: %#v", result)
	}

	// 测试端点不产生账本记录
	var count int64
	db.Model(&models.AutomationExecution{}).Count(&count)
	if count != 0 {
		t.Fatalf("test endpoint must not append executions, got %d", count)
	}
}

func TestAutomationHandler_UpdateAndDelete(t *testing.T) {
	db := newHandlerTestDB(t)
	r, _ := newAutomationRouter(t, db)

	w := doJSON(t, r, http.MethodPost, "/api/automations", map[string]interface{}{
		"project_id": 1,
		"name":       "original",
		"trigger":    models.TriggerOnStatusChange,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d", w.Code)
	}
	var created models.Automation
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w = doJSON(t, r, http.MethodPut, "/api/automations/"+itoa(created.ID), map[string]interface{}{
		"name":      "renamed",
		"is_active": false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}
	var updated models.Automation
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if updated.Name != "renamed" || updated.IsActive {
		t.Fatalf("unexpected update: %#v", updated)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/automations/"+itoa(created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status=%d", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/api/automations/"+itoa(created.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on double delete, got %d", w.Code)
	}
}
