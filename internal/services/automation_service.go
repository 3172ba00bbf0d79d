package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trackhub/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// runTimeout bounds a single automation run so a hung side effect cannot
// starve the pipeline or a sweep tick.
const runTimeout = 30 * time.Second

// TriggerConfig is the trigger-specific filter stored on an automation.
// Absent fields match anything.
type TriggerConfig struct {
	StatusFrom    string `json:"statusFrom,omitempty"`
	StatusTo      string `json:"statusTo,omitempty"`
	DaysBeforeDue int    `json:"daysBeforeDue,omitempty"`
	Severity      string `json:"severity,omitempty"`
}

// AutomationService owns rule definitions, matches them against events and
// executes their actions. Execution history is append-only: one insert per
// started run, never a read-modify-write.
type AutomationService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	executor *ActionExecutor
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("trackhub.automation"),
	}
}

// SetActionExecutor wires the executor used for matched runs.
func (s *AutomationService) SetActionExecutor(e *ActionExecutor) {
	s.executor = e
}

// AutomationCreateRequest 创建自动化规则的请求
type AutomationCreateRequest struct {
	ProjectID     uint           `json:"project_id" binding:"required"`
	Name          string         `json:"name" binding:"required"`
	Description   string         `json:"description"`
	Trigger       string         `json:"trigger" binding:"required"`
	TriggerConfig *TriggerConfig `json:"trigger_config"`
	Conditions    []Condition    `json:"conditions"`
	Actions       []ActionSpec   `json:"actions"`
	IsActive      *bool          `json:"is_active"`
	CreatedByID   uint           `json:"created_by_id"`
}

// AutomationUpdateRequest 更新自动化规则的请求
type AutomationUpdateRequest struct {
	Name          *string        `json:"name"`
	Description   *string        `json:"description"`
	Trigger       *string        `json:"trigger"`
	TriggerConfig *TriggerConfig `json:"trigger_config"`
	Conditions    []Condition    `json:"conditions"`
	Actions       []ActionSpec   `json:"actions"`
	IsActive      *bool          `json:"is_active"`
}

// DryRunResult is the read-only outcome of testing an automation against a
// context. Nothing is appended to the ledger and no entity is mutated.
type DryRunResult struct {
	AutomationID  uint   `json:"automation_id"`
	Trigger       string `json:"trigger"`
	ConditionsMet bool   `json:"conditions_met"`
	ActionCount   int    `json:"action_count"`
	CanExecute    bool   `json:"can_execute"`
}

func isSupportedTrigger(trigger string) bool {
	switch trigger {
	case models.TriggerOnStatusChange, models.TriggerDueDateApproaching,
		models.TriggerCriticalBugAlert, models.TriggerTaskAssigned,
		models.TriggerSprintStart, models.TriggerSprintEnd:
		return true
	default:
		return false
	}
}

// Create 新建自动化规则
func (s *AutomationService) Create(ctx context.Context, req *AutomationCreateRequest) (*models.Automation, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !isSupportedTrigger(req.Trigger) {
		return nil, fmt.Errorf("%w: unsupported trigger %q", ErrInvalidConfig, req.Trigger)
	}
	for _, act := range req.Actions {
		if _, ok := actionTable[act.Type]; !ok {
			return nil, fmt.Errorf("%w: unsupported action %q", ErrInvalidConfig, act.Type)
		}
	}

	triggerCfg := "{}"
	if req.TriggerConfig != nil {
		raw, err := json.Marshal(req.TriggerConfig)
		if err != nil {
			return nil, fmt.Errorf("%w: trigger config: %v", ErrInvalidConfig, err)
		}
		triggerCfg = string(raw)
	}
	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("%w: conditions: %v", ErrInvalidConfig, err)
	}
	actJSON, err := json.Marshal(req.Actions)
	if err != nil {
		return nil, fmt.Errorf("%w: actions: %v", ErrInvalidConfig, err)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	automation := &models.Automation{
		ProjectID:     req.ProjectID,
		Name:          req.Name,
		Description:   req.Description,
		IsActive:      active,
		Trigger:       req.Trigger,
		TriggerConfig: triggerCfg,
		Conditions:    string(condJSON),
		Actions:       string(actJSON),
		CreatedByID:   req.CreatedByID,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(automation).Error; err != nil {
		return nil, err
	}
	return automation, nil
}

// List 返回项目下的全部自动化规则
func (s *AutomationService) List(ctx context.Context, projectID uint) ([]models.Automation, error) {
	var automations []models.Automation
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id DESC").
		Find(&automations).Error; err != nil {
		return nil, err
	}
	return automations, nil
}

// Get returns a single automation by id.
func (s *AutomationService) Get(ctx context.Context, id uint) (*models.Automation, error) {
	var automation models.Automation
	if err := s.db.WithContext(ctx).First(&automation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAutomationNotFound
		}
		return nil, err
	}
	return &automation, nil
}

// Update 更新自动化规则
func (s *AutomationService) Update(ctx context.Context, id uint, req *AutomationUpdateRequest) (*models.Automation, error) {
	automation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		automation.Name = *req.Name
	}
	if req.Description != nil {
		automation.Description = *req.Description
	}
	if req.Trigger != nil {
		if !isSupportedTrigger(*req.Trigger) {
			return nil, fmt.Errorf("%w: unsupported trigger %q", ErrInvalidConfig, *req.Trigger)
		}
		automation.Trigger = *req.Trigger
	}
	if req.TriggerConfig != nil {
		raw, err := json.Marshal(req.TriggerConfig)
		if err != nil {
			return nil, fmt.Errorf("%w: trigger config: %v", ErrInvalidConfig, err)
		}
		automation.TriggerConfig = string(raw)
	}
	if req.Conditions != nil {
		raw, err := json.Marshal(req.Conditions)
		if err != nil {
			return nil, fmt.Errorf("%w: conditions: %v", ErrInvalidConfig, err)
		}
		automation.Conditions = string(raw)
	}
	if req.Actions != nil {
		for _, act := range req.Actions {
			if _, ok := actionTable[act.Type]; !ok {
				return nil, fmt.Errorf("%w: unsupported action %q", ErrInvalidConfig, act.Type)
			}
		}
		raw, err := json.Marshal(req.Actions)
		if err != nil {
			return nil, fmt.Errorf("%w: actions: %v", ErrInvalidConfig, err)
		}
		automation.Actions = string(raw)
	}
	if req.IsActive != nil {
		automation.IsActive = *req.IsActive
	}
	automation.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(automation).Error; err != nil {
		return nil, err
	}
	return automation, nil
}

// Delete 删除自动化规则
func (s *AutomationService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Automation{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

// FindActive returns the active automations of a project for a trigger kind.
// Inactive rules are filtered in the query and are never matched.
func (s *AutomationService) FindActive(ctx context.Context, projectID uint, trigger string) ([]models.Automation, error) {
	var automations []models.Automation
	// map 条件让 GORM 按方言对 trigger 这类保留字加引号
	if err := s.db.WithContext(ctx).
		Where(map[string]interface{}{"project_id": projectID, "trigger": trigger, "is_active": true}).
		Find(&automations).Error; err != nil {
		return nil, err
	}
	return automations, nil
}

// ListExecutions returns the run history of an automation, newest first.
func (s *AutomationService) ListExecutions(ctx context.Context, automationID uint, limit int) ([]models.AutomationExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	var execs []models.AutomationExecution
	if err := s.db.WithContext(ctx).
		Where("automation_id = ?", automationID).
		Order("id DESC").
		Limit(limit).
		Find(&execs).Error; err != nil {
		return nil, err
	}
	return execs, nil
}

// Execute runs an automation synchronously against the given context. This is
// the manual entry point; conditions are not re-checked here, matching happens
// on the event path.
func (s *AutomationService) Execute(ctx context.Context, automationID uint, rc *RunContext) (*models.AutomationExecution, error) {
	ctx, span := s.tracer.Start(ctx, "automation.execute")
	defer span.End()
	span.SetAttributes(attribute.Int64("automation.id", int64(automationID)))

	automation, err := s.Get(ctx, automationID)
	if err != nil {
		return nil, err
	}
	if !automation.IsActive {
		return nil, ErrAutomationInactive
	}
	return s.run(ctx, automation, rc)
}

// DryRun evaluates an automation against a context without executing actions,
// mutating entities or appending to the ledger.
func (s *AutomationService) DryRun(ctx context.Context, automationID uint, rc *RunContext) (*DryRunResult, error) {
	ctx, span := s.tracer.Start(ctx, "automation.dry_run")
	defer span.End()
	span.SetAttributes(attribute.Int64("automation.id", int64(automationID)))

	automation, err := s.Get(ctx, automationID)
	if err != nil {
		return nil, err
	}

	conds, err := decodeConditions(automation.Conditions)
	if err != nil {
		return nil, fmt.Errorf("%w: automation %d conditions: %v", ErrInvalidConfig, automation.ID, err)
	}
	actions, err := decodeActions(automation.Actions)
	if err != nil {
		return nil, fmt.Errorf("%w: automation %d actions: %v", ErrInvalidConfig, automation.ID, err)
	}

	attrs := map[string]interface{}{}
	if rc != nil {
		attrs = rc.Attrs
	}
	conditionsMet := EvaluateConditions(conds, attrs)

	return &DryRunResult{
		AutomationID:  automation.ID,
		Trigger:       automation.Trigger,
		ConditionsMet: conditionsMet,
		ActionCount:   len(actions),
		CanExecute:    automation.IsActive && conditionsMet,
	}, nil
}

// HandleEvent is the pipeline entry: it matches active automations of the
// event's project against the trigger kind and config, evaluates conditions
// and runs whatever matched. A failure local to one automation never stops
// the siblings.
func (s *AutomationService) HandleEvent(ctx context.Context, evt Event) {
	ctx, span := s.tracer.Start(ctx, "automation.handle_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.kind", evt.Kind),
		attribute.Int64("event.project_id", int64(evt.ProjectID)),
	)

	automations, err := s.FindActive(ctx, evt.ProjectID, evt.Kind)
	if err != nil {
		// Registry unavailability breaks the auditability contract; escalate.
		s.logger.Errorf("automation: load rules for event %s failed: %v", evt.Kind, err)
		return
	}
	if len(automations) == 0 {
		return
	}

	rc := s.BuildContext(ctx, evt.ProjectID, evt.Payload)

	matched := 0
	for i := range automations {
		automation := &automations[i]
		if !s.matchTriggerConfig(automation, evt) {
			continue
		}

		conds, err := decodeConditions(automation.Conditions)
		if err != nil {
			s.logger.Warnf("automation: invalid conditions for %q (id=%d), skipping: %v", automation.Name, automation.ID, err)
			continue
		}
		if !EvaluateConditions(conds, rc.Attrs) {
			continue
		}

		matched++
		if _, err := s.run(ctx, automation, rc); err != nil {
			s.logger.Errorf("automation: run %q (id=%d) failed: %v", automation.Name, automation.ID, err)
		}
	}
	span.SetAttributes(attribute.Int("automation.matched", matched))
}

// matchTriggerConfig applies the trigger-specific filter. Absent config
// fields match anything; malformed config skips the automation.
func (s *AutomationService) matchTriggerConfig(automation *models.Automation, evt Event) bool {
	cfg := TriggerConfig{}
	if automation.TriggerConfig != "" {
		if err := json.Unmarshal([]byte(automation.TriggerConfig), &cfg); err != nil {
			s.logger.Warnf("automation: invalid trigger config for %q (id=%d): %v", automation.Name, automation.ID, err)
			return false
		}
	}

	switch evt.Kind {
	case models.TriggerOnStatusChange:
		if cfg.StatusTo != "" && cfg.StatusTo != payloadString(evt.Payload, "statusTo") {
			return false
		}
		if cfg.StatusFrom != "" && cfg.StatusFrom != payloadString(evt.Payload, "statusFrom") {
			return false
		}
	case models.TriggerDueDateApproaching:
		if cfg.DaysBeforeDue > 0 {
			days, ok := payloadInt(evt.Payload, "daysUntilDue")
			if !ok || days > cfg.DaysBeforeDue {
				return false
			}
		}
	case models.TriggerCriticalBugAlert:
		if cfg.Severity != "" && cfg.Severity != payloadString(evt.Payload, "severity") {
			return false
		}
	}
	return true
}

// run executes one matched automation and appends exactly one execution
// record, success or failure.
func (s *AutomationService) run(ctx context.Context, automation *models.Automation, rc *RunContext) (*models.AutomationExecution, error) {
	if s.executor == nil {
		return nil, fmt.Errorf("automation: no action executor configured")
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	triggeredAt := time.Now()
	contextType, contextID := "project", automation.ProjectID
	if rc != nil {
		contextType, contextID = rc.RelatedEntity()
	}

	actions, err := decodeActions(automation.Actions)
	if err != nil {
		// The run started but its action list is unusable: ledger it as errored.
		record := &models.AutomationExecution{
			AutomationID:    automation.ID,
			TriggeredAt:     triggeredAt,
			Status:          models.ExecutionErrored,
			ContextType:     contextType,
			ContextID:       contextID,
			ActionsExecuted: "[]",
			Errors:          mustJSON([]string{fmt.Sprintf("invalid actions: %v", err)}),
			CreatedAt:       time.Now(),
		}
		if appendErr := s.appendExecution(ctx, record); appendErr != nil {
			return nil, appendErr
		}
		return record, nil
	}

	results := s.executor.Execute(ctx, actions, rc)

	executed := make([]string, 0, len(results))
	errs := make([]string, 0)
	for _, res := range results {
		switch res.Status {
		case ActionStatusCompleted:
			executed = append(executed, res.Type)
		case ActionStatusFailed:
			errs = append(errs, res.Error)
		}
	}

	status := models.ExecutionCompleted
	if len(errs) > 0 {
		status = models.ExecutionPartiallyFailed
	}
	// 超时或取消中被放弃的运行按 errored 记录
	if ctxErr := ctx.Err(); ctxErr != nil {
		status = models.ExecutionErrored
		errs = append(errs, fmt.Sprintf("run aborted: %v", ctxErr))
	}

	record := &models.AutomationExecution{
		AutomationID:    automation.ID,
		TriggeredAt:     triggeredAt,
		Status:          status,
		ContextType:     contextType,
		ContextID:       contextID,
		ActionsExecuted: mustJSON(executed),
		Errors:          mustJSON(errs),
		CreatedAt:       time.Now(),
	}
	if err := s.appendExecution(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// appendExecution inserts one ledger row. A failure here is escalated: the
// auditability contract cannot be honored without the append. The insert is
// detached from the run's context so an aborted run still leaves its record.
func (s *AutomationService) appendExecution(ctx context.Context, record *models.AutomationExecution) error {
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(record).Error; err != nil {
		s.logger.Errorf("automation: ledger append failed for automation %d: %v", record.AutomationID, err)
		return fmt.Errorf("append execution record: %w", err)
	}
	return nil
}

// BuildContext merges the event payload with snapshots of the referenced
// entities. Snapshot fields use dotted keys ("task.status") so conditions can
// address them directly.
func (s *AutomationService) BuildContext(ctx context.Context, projectID uint, payload map[string]interface{}) *RunContext {
	rc := &RunContext{ProjectID: projectID, Attrs: map[string]interface{}{}}
	for k, v := range payload {
		rc.Attrs[k] = v
	}

	if taskID, ok := payloadUint(payload, "taskId"); ok {
		var task models.Task
		if err := s.db.WithContext(ctx).First(&task, taskID).Error; err == nil {
			rc.TaskID = task.ID
			if rc.ProjectID == 0 {
				rc.ProjectID = task.ProjectID
			}
			rc.Attrs["task.title"] = task.Title
			rc.Attrs["task.status"] = task.Status
			rc.Attrs["task.priority"] = task.Priority
			rc.Attrs["task.labels"] = task.Labels
			rc.Attrs["task.storyPoints"] = task.StoryPoints
			if task.AssigneeID != nil {
				rc.Attrs["task.assigneeId"] = *task.AssigneeID
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warnf("automation: load task %d failed: %v", taskID, err)
		}
	}

	if bugID, ok := payloadUint(payload, "bugId"); ok {
		var bug models.Bug
		if err := s.db.WithContext(ctx).First(&bug, bugID).Error; err == nil {
			rc.BugID = bug.ID
			if rc.ProjectID == 0 {
				rc.ProjectID = bug.ProjectID
			}
			rc.Attrs["bug.title"] = bug.Title
			rc.Attrs["bug.severity"] = bug.Severity
			rc.Attrs["bug.status"] = bug.Status
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warnf("automation: load bug %d failed: %v", bugID, err)
		}
	}

	if sprintID, ok := payloadUint(payload, "sprintId"); ok {
		var sprint models.Sprint
		if err := s.db.WithContext(ctx).First(&sprint, sprintID).Error; err == nil {
			rc.SprintID = sprint.ID
			if rc.ProjectID == 0 {
				rc.ProjectID = sprint.ProjectID
			}
			rc.Attrs["sprint.name"] = sprint.Name
			rc.Attrs["sprint.status"] = sprint.Status
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warnf("automation: load sprint %d failed: %v", sprintID, err)
		}
	}

	return rc
}

func decodeConditions(raw string) ([]Condition, error) {
	if raw == "" {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal([]byte(raw), &conds); err != nil {
		return nil, err
	}
	return conds, nil
}

func decodeActions(raw string) ([]ActionSpec, error) {
	if raw == "" {
		return nil, nil
	}
	var actions []ActionSpec
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

func mustJSON(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok {
		return stringify(v)
	}
	return ""
}

func payloadInt(payload map[string]interface{}, key string) (int, bool) {
	if payload == nil {
		return 0, false
	}
	if v, ok := payload[key]; ok {
		if f, ok := toFloat(v); ok {
			return int(f), true
		}
	}
	return 0, false
}

func payloadUint(payload map[string]interface{}, key string) (uint, bool) {
	n, ok := payloadInt(payload, key)
	if !ok || n <= 0 {
		return 0, false
	}
	return uint(n), true
}
