package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"trackhub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TaskService 任务状态变更服务。Mutations are narrow and idempotent; every
// successful mutation emits a domain event into the pipeline.
type TaskService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	pipeline *EventPipeline
}

func NewTaskService(db *gorm.DB, logger *logrus.Logger) *TaskService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TaskService{db: db, logger: logger}
}

// SetPipeline wires the event pipeline; without it mutations still apply but
// no events are emitted.
func (s *TaskService) SetPipeline(p *EventPipeline) {
	s.pipeline = p
}

func (s *TaskService) getTask(ctx context.Context, taskID uint) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// SetTaskStatus moves a task to the given status and emits onStatusChange.
func (s *TaskService) SetTaskStatus(ctx context.Context, taskID uint, status string) error {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == status {
		return nil
	}
	statusFrom := task.Status

	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", task.ID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error; err != nil {
		return err
	}

	if s.pipeline != nil {
		payload := map[string]interface{}{
			"taskId":     task.ID,
			"statusFrom": statusFrom,
			"statusTo":   status,
		}
		if task.AssigneeID != nil {
			payload["assigneeId"] = *task.AssigneeID
		}
		s.pipeline.Submit(Event{
			Kind:      models.TriggerOnStatusChange,
			ProjectID: task.ProjectID,
			Payload:   payload,
		})
	}
	return nil
}

// AssignTask reassigns a task and emits taskAssigned.
func (s *TaskService) AssignTask(ctx context.Context, taskID, userID uint) error {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", task.ID).
		Updates(map[string]interface{}{"assignee_id": userID, "updated_at": time.Now()}).Error; err != nil {
		return err
	}

	if s.pipeline != nil {
		s.pipeline.Submit(Event{
			Kind:      models.TriggerTaskAssigned,
			ProjectID: task.ProjectID,
			Payload: map[string]interface{}{
				"taskId":     task.ID,
				"assigneeId": userID,
			},
		})
	}
	return nil
}

// AddTaskLabel appends a label with set semantics: adding an existing label
// is a no-op, repeated actions never duplicate entries.
func (s *TaskService) AddTaskLabel(ctx context.Context, taskID uint, label string) error {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}

	labels := splitLabels(task.Labels)
	for _, l := range labels {
		if l == label {
			return nil
		}
	}
	labels = append(labels, label)

	return s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", task.ID).
		Updates(map[string]interface{}{"labels": strings.Join(labels, ","), "updated_at": time.Now()}).Error
}

func splitLabels(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
