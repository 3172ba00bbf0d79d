package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trackhub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SprintService 迭代生命周期服务
type SprintService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	pipeline *EventPipeline
}

func NewSprintService(db *gorm.DB, logger *logrus.Logger) *SprintService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SprintService{db: db, logger: logger}
}

func (s *SprintService) SetPipeline(p *EventPipeline) {
	s.pipeline = p
}

func (s *SprintService) getSprint(ctx context.Context, sprintID uint) (*models.Sprint, error) {
	var sprint models.Sprint
	if err := s.db.WithContext(ctx).First(&sprint, sprintID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSprintNotFound
		}
		return nil, err
	}
	return &sprint, nil
}

// StartSprint transitions Planned -> Active and emits sprintStart.
func (s *SprintService) StartSprint(ctx context.Context, sprintID uint) (*models.Sprint, error) {
	sprint, err := s.getSprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	if sprint.Status != "Planned" {
		return nil, fmt.Errorf("sprint %d cannot start from status %q", sprintID, sprint.Status)
	}

	now := time.Now()
	sprint.Status = "Active"
	sprint.StartDate = &now
	sprint.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(sprint).Error; err != nil {
		return nil, err
	}

	if s.pipeline != nil {
		s.pipeline.Submit(Event{
			Kind:      models.TriggerSprintStart,
			ProjectID: sprint.ProjectID,
			Payload:   map[string]interface{}{"sprintId": sprint.ID},
		})
	}
	return sprint, nil
}

// CompleteSprint transitions Active -> Completed and emits sprintEnd.
func (s *SprintService) CompleteSprint(ctx context.Context, sprintID uint) (*models.Sprint, error) {
	sprint, err := s.getSprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	if sprint.Status != "Active" {
		return nil, fmt.Errorf("sprint %d cannot complete from status %q", sprintID, sprint.Status)
	}

	now := time.Now()
	sprint.Status = "Completed"
	if sprint.EndDate == nil {
		sprint.EndDate = &now
	}
	sprint.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(sprint).Error; err != nil {
		return nil, err
	}

	if s.pipeline != nil {
		s.pipeline.Submit(Event{
			Kind:      models.TriggerSprintEnd,
			ProjectID: sprint.ProjectID,
			Payload:   map[string]interface{}{"sprintId": sprint.ID},
		})
	}
	return sprint, nil
}
