package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trackhub/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// sprintRetention is how long a completed sprint is kept before archival.
const sprintRetention = 30 * 24 * time.Hour

// SchedulerIntervals holds the cadence of each sweep. Zero values fall back
// to the defaults below.
type SchedulerIntervals struct {
	DueSoon       time.Duration
	Overdue       time.Duration
	SprintArchive time.Duration
	Velocity      time.Duration
	CriticalBug   time.Duration
	Retention     time.Duration

	// CriticalAlertCooldown suppresses repeat criticalBugAlert events for the
	// same bug. The sweep re-fires while a bug stays open, so without a
	// cooldown every tick would spam the same alert.
	CriticalAlertCooldown time.Duration
}

func (c *SchedulerIntervals) applyDefaults() {
	if c.DueSoon <= 0 {
		c.DueSoon = time.Hour
	}
	if c.Overdue <= 0 {
		c.Overdue = 4 * time.Hour
	}
	if c.SprintArchive <= 0 {
		c.SprintArchive = 24 * time.Hour
	}
	if c.Velocity <= 0 {
		c.Velocity = 24 * time.Hour
	}
	if c.CriticalBug <= 0 {
		c.CriticalBug = 30 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.CriticalAlertCooldown <= 0 {
		c.CriticalAlertCooldown = 4 * time.Hour
	}
}

// SchedulerService runs the periodic sweeps. Each sweep has its own ticker
// goroutine; sweeps never block each other or the live event pipeline, and a
// failure on one entity is logged and never aborts the rest of the tick.
type SchedulerService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	tracer    trace.Tracer
	pipeline  *EventPipeline
	notifier  *NotificationService
	clock     Clock
	intervals SchedulerIntervals

	mu                sync.Mutex
	lastCriticalAlert map[uint]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSchedulerService(db *gorm.DB, logger *logrus.Logger, pipeline *EventPipeline, notifier *NotificationService, intervals SchedulerIntervals) *SchedulerService {
	if logger == nil {
		logger = logrus.New()
	}
	intervals.applyDefaults()
	return &SchedulerService{
		db:                db,
		logger:            logger,
		tracer:            otel.Tracer("trackhub.scheduler"),
		pipeline:          pipeline,
		notifier:          notifier,
		clock:             SystemClock(),
		intervals:         intervals,
		lastCriticalAlert: make(map[uint]time.Time),
	}
}

// SetClock replaces the wall clock, used by tests.
func (s *SchedulerService) SetClock(c Clock) {
	s.clock = c
}

type sweepJob struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context, now time.Time) error
}

func (s *SchedulerService) jobs() []sweepJob {
	return []sweepJob{
		{"due_soon", s.intervals.DueSoon, s.RunDueSoonSweep},
		{"overdue", s.intervals.Overdue, s.RunOverdueSweep},
		{"sprint_archive", s.intervals.SprintArchive, s.RunSprintArchiveSweep},
		{"velocity", s.intervals.Velocity, s.RunVelocitySweep},
		{"critical_bug", s.intervals.CriticalBug, s.RunCriticalBugSweep},
		{"retention", s.intervals.Retention, s.RunRetentionSweep},
	}
}

// Start launches one ticker goroutine per sweep.
func (s *SchedulerService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("Starting scheduler service")

	for _, job := range s.jobs() {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(job.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					s.logger.Infof("Scheduler sweep %s stopped", job.name)
					return
				case <-ticker.C:
					if err := job.run(ctx, s.clock.Now()); err != nil {
						s.logger.Errorf("Scheduler sweep %s error: %v", job.name, err)
					}
				}
			}
		}()
	}
}

// Stop cancels all sweeps and waits for in-flight ticks to finish.
func (s *SchedulerService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler service stopped")
}

// RunDueSoonSweep finds unfinished tasks due before the coming midnight,
// notifies the assignee directly and feeds a dueDateApproaching event per
// task through the pipeline.
func (s *SchedulerService) RunDueSoonSweep(ctx context.Context, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.due_soon")
	defer span.End()

	year, month, day := now.Date()
	nextMidnight := time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())

	var tasks []models.Task
	if err := s.db.WithContext(ctx).
		Where("due_date IS NOT NULL AND due_date <= ? AND status <> ?", nextMidnight, "Done").
		Find(&tasks).Error; err != nil {
		return fmt.Errorf("due soon sweep: %w", err)
	}

	for _, task := range tasks {
		if task.AssigneeID != nil {
			if _, err := s.notifier.Store(ctx, &models.Notification{
				UserID:    *task.AssigneeID,
				Type:      "task_due_soon",
				Title:     "Task Due Soon",
				Message:   fmt.Sprintf("Task %q is due soon", task.Title),
				RelatedTo: "task",
				RelatedID: task.ID,
				Priority:  "high",
			}); err != nil {
				s.logger.Warnf("due soon sweep: notify assignee of task %d failed: %v", task.ID, err)
			}
		}

		payload := map[string]interface{}{
			"taskId":       task.ID,
			"daysUntilDue": daysUntil(now, task.DueDate),
		}
		if task.AssigneeID != nil {
			payload["assigneeId"] = *task.AssigneeID
		}
		s.pipeline.Submit(Event{
			Kind:      models.TriggerDueDateApproaching,
			ProjectID: task.ProjectID,
			Payload:   payload,
		})
	}

	span.SetAttributes(attribute.Int("scheduler.due_soon.tasks", len(tasks)))
	return nil
}

// RunOverdueSweep sends a direct notification for every overdue task. This
// always fires for the assignee, independent of any automation rules.
func (s *SchedulerService) RunOverdueSweep(ctx context.Context, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.overdue")
	defer span.End()

	var tasks []models.Task
	if err := s.db.WithContext(ctx).
		Where("due_date IS NOT NULL AND due_date < ? AND status <> ?", now, "Done").
		Find(&tasks).Error; err != nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}

	notified := 0
	for _, task := range tasks {
		if task.AssigneeID == nil {
			continue
		}
		if _, err := s.notifier.Store(ctx, &models.Notification{
			UserID:    *task.AssigneeID,
			Type:      "task_overdue",
			Title:     "Task Overdue",
			Message:   fmt.Sprintf("Task %q is overdue", task.Title),
			RelatedTo: "task",
			RelatedID: task.ID,
			Priority:  "high",
		}); err != nil {
			s.logger.Warnf("overdue sweep: notify assignee of task %d failed: %v", task.ID, err)
			continue
		}
		notified++
	}

	span.SetAttributes(attribute.Int("scheduler.overdue.notified", notified))
	return nil
}

// RunSprintArchiveSweep archives completed sprints older than the retention
// window. Pure state transition, no events.
func (s *SchedulerService) RunSprintArchiveSweep(ctx context.Context, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.sprint_archive")
	defer span.End()

	cutoff := now.Add(-sprintRetention)
	result := s.db.WithContext(ctx).Model(&models.Sprint{}).
		Where("status = ? AND end_date < ?", "Completed", cutoff).
		Updates(map[string]interface{}{"status": "Archived", "updated_at": now})
	if result.Error != nil {
		return fmt.Errorf("sprint archive sweep: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Infof("Archived %d old sprints", result.RowsAffected)
	}
	span.SetAttributes(attribute.Int64("scheduler.archived", result.RowsAffected))
	return nil
}

// RunVelocitySweep recomputes actual velocity for every active sprint from
// its completed story points, clamping remaining points at zero.
func (s *SchedulerService) RunVelocitySweep(ctx context.Context, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.velocity")
	defer span.End()

	var sprints []models.Sprint
	if err := s.db.WithContext(ctx).Where("status = ?", "Active").Find(&sprints).Error; err != nil {
		return fmt.Errorf("velocity sweep: %w", err)
	}

	for _, sprint := range sprints {
		var completedPoints int
		if err := s.db.WithContext(ctx).Model(&models.Task{}).
			Where("sprint_id = ? AND status = ?", sprint.ID, "Done").
			Select("COALESCE(SUM(story_points), 0)").
			Scan(&completedPoints).Error; err != nil {
			s.logger.Warnf("velocity sweep: sprint %d: %v", sprint.ID, err)
			continue
		}

		remaining := sprint.PlannedVelocity - completedPoints
		if remaining < 0 {
			remaining = 0
		}
		if err := s.db.WithContext(ctx).Model(&models.Sprint{}).
			Where("id = ?", sprint.ID).
			Updates(map[string]interface{}{
				"actual_velocity":  completedPoints,
				"remaining_points": remaining,
				"updated_at":       now,
			}).Error; err != nil {
			s.logger.Warnf("velocity sweep: update sprint %d: %v", sprint.ID, err)
		}
	}

	span.SetAttributes(attribute.Int("scheduler.velocity.sprints", len(sprints)))
	return nil
}

// RunCriticalBugSweep re-emits a criticalBugAlert event for every still-open
// critical bug, subject to the per-bug cooldown.
func (s *SchedulerService) RunCriticalBugSweep(ctx context.Context, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.critical_bug")
	defer span.End()

	var bugs []models.Bug
	if err := s.db.WithContext(ctx).
		Where("severity = ? AND status IN ?", "Critical", []string{"Open", "In Progress"}).
		Find(&bugs).Error; err != nil {
		return fmt.Errorf("critical bug sweep: %w", err)
	}

	emitted := 0
	for _, bug := range bugs {
		if !s.shouldAlert(bug.ID, now) {
			continue
		}
		s.pipeline.Submit(Event{
			Kind:      models.TriggerCriticalBugAlert,
			ProjectID: bug.ProjectID,
			Payload: map[string]interface{}{
				"bugId":    bug.ID,
				"severity": bug.Severity,
				"title":    bug.Title,
			},
		})
		emitted++
	}

	span.SetAttributes(attribute.Int("scheduler.critical_bug.emitted", emitted))
	return nil
}

// shouldAlert enforces the per-bug cooldown and records the alert time. The
// suppression is per process; with multiple engine instances an external lock
// would be needed to avoid duplicate alerts.
func (s *SchedulerService) shouldAlert(bugID uint, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastCriticalAlert[bugID]; ok && now.Sub(last) < s.intervals.CriticalAlertCooldown {
		return false
	}
	s.lastCriticalAlert[bugID] = now
	return true
}

// RunRetentionSweep purges expired and stale-read notifications.
func (s *SchedulerService) RunRetentionSweep(ctx context.Context, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.retention")
	defer span.End()

	deleted, err := s.notifier.CleanupExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	if deleted > 0 {
		s.logger.Infof("Cleaned up %d old notifications", deleted)
	}
	span.SetAttributes(attribute.Int64("scheduler.retention.deleted", deleted))
	return nil
}

func daysUntil(now time.Time, due *time.Time) int {
	if due == nil {
		return 0
	}
	diff := due.Sub(now)
	if diff <= 0 {
		return 0
	}
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) > 0 {
		days++
	}
	return days
}
