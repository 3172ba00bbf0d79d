package services

import (
	"context"
	"encoding/json"
	"fmt"

	"trackhub/internal/models"

	"github.com/sirupsen/logrus"
)

// Action kinds. The set is closed: anything else is recorded as skipped.
const (
	ActionMoveTask       = "moveTask"
	ActionNotifyUser     = "notifyUser"
	ActionBroadcastAlert = "broadcastAlert"
	ActionAssignTask     = "assignTask"
	ActionAddLabel       = "addLabel"
	ActionChangeStatus   = "changeStatus"
)

// Per-action result statuses.
const (
	ActionStatusCompleted = "completed"
	ActionStatusFailed    = "failed"
	ActionStatusSkipped   = "skipped"
)

// ActionSpec is one declared step of an automation. Config stays raw until the
// dispatch table decodes it into the kind's own struct.
type ActionSpec struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// ActionResult is the outcome of one executed action.
type ActionResult struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Per-kind config structs.
type MoveTaskConfig struct {
	TargetStatus string `json:"targetStatus"`
}

type NotifyUserConfig struct {
	UserID           uint   `json:"userId"`
	NotificationType string `json:"notificationType"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	Priority         string `json:"priority"`
}

type BroadcastAlertConfig struct {
	UserID  uint   `json:"userId"`
	Message string `json:"message"`
}

type AssignTaskConfig struct {
	AssigneeID uint `json:"assigneeId"`
}

type AddLabelConfig struct {
	Label string `json:"label"`
}

type ChangeStatusConfig struct {
	Status string `json:"status"`
}

// TaskMutator is the narrow domain-mutation interface the engine is allowed to
// use. The entity store itself stays external to the engine.
type TaskMutator interface {
	SetTaskStatus(ctx context.Context, taskID uint, status string) error
	AssignTask(ctx context.Context, taskID, userID uint) error
	AddTaskLabel(ctx context.Context, taskID uint, label string) error
}

// NotificationSink stores notifications durably; external delivery is best
// effort and never fails the caller.
type NotificationSink interface {
	Store(ctx context.Context, n *models.Notification) (uint, error)
}

// Broadcaster pushes alert messages to connected UI clients.
type Broadcaster interface {
	BroadcastAlert(projectID uint, message string)
}

// RunContext carries the merged event payload and entity snapshot one
// automation run operates on.
type RunContext struct {
	ProjectID uint
	TaskID    uint
	BugID     uint
	SprintID  uint
	Attrs     map[string]interface{}
}

// RelatedEntity resolves the most specific entity reference for notifications
// and execution records.
func (rc *RunContext) RelatedEntity() (string, uint) {
	switch {
	case rc.TaskID != 0:
		return "task", rc.TaskID
	case rc.BugID != 0:
		return "bug", rc.BugID
	case rc.SprintID != 0:
		return "sprint", rc.SprintID
	default:
		return "project", rc.ProjectID
	}
}

// ActionExecutor runs an ordered action list against a context. Each action is
// an isolated failure boundary: a failed action is recorded and the next one
// still runs.
type ActionExecutor struct {
	tasks       TaskMutator
	notifier    NotificationSink
	broadcaster Broadcaster
	logger      *logrus.Logger
}

func NewActionExecutor(tasks TaskMutator, notifier NotificationSink, logger *logrus.Logger) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionExecutor{tasks: tasks, notifier: notifier, logger: logger}
}

// SetBroadcaster wires the optional alert hub.
func (e *ActionExecutor) SetBroadcaster(b Broadcaster) {
	e.broadcaster = b
}

type actionFunc func(ctx context.Context, e *ActionExecutor, cfg json.RawMessage, rc *RunContext) (string, error)

var actionTable = map[string]actionFunc{
	ActionMoveTask:       runMoveTask,
	ActionNotifyUser:     runNotifyUser,
	ActionBroadcastAlert: runBroadcastAlert,
	ActionAssignTask:     runAssignTask,
	ActionAddLabel:       runAddLabel,
	ActionChangeStatus:   runChangeStatus,
}

// Execute runs the actions strictly in declared order and returns one result
// per action. It never returns early.
func (e *ActionExecutor) Execute(ctx context.Context, actions []ActionSpec, rc *RunContext) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, act := range actions {
		fn, ok := actionTable[act.Type]
		if !ok {
			e.logger.Warnf("automation: unknown action type %q, skipping", act.Type)
			results = append(results, ActionResult{Type: act.Type, Status: ActionStatusSkipped})
			continue
		}

		msg, err := fn(ctx, e, act.Config, rc)
		if err != nil {
			e.logger.Warnf("automation: action %s failed: %v", act.Type, err)
			results = append(results, ActionResult{Type: act.Type, Status: ActionStatusFailed, Error: err.Error()})
			continue
		}
		results = append(results, ActionResult{Type: act.Type, Status: ActionStatusCompleted, Message: msg})
	}
	return results
}

func decodeConfig(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func runMoveTask(ctx context.Context, e *ActionExecutor, raw json.RawMessage, rc *RunContext) (string, error) {
	if rc.TaskID == 0 {
		return "", fmt.Errorf("moveTask requires a task in context")
	}
	var cfg MoveTaskConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return "", err
	}
	if cfg.TargetStatus == "" {
		return "", fmt.Errorf("moveTask: targetStatus required")
	}
	return "", e.tasks.SetTaskStatus(ctx, rc.TaskID, cfg.TargetStatus)
}

func runNotifyUser(ctx context.Context, e *ActionExecutor, raw json.RawMessage, rc *RunContext) (string, error) {
	var cfg NotifyUserConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return "", err
	}
	if cfg.UserID == 0 {
		return "", fmt.Errorf("notifyUser: userId required")
	}

	relatedTo, relatedID := rc.RelatedEntity()
	notifType := cfg.NotificationType
	if notifType == "" {
		notifType = "task_updated"
	}
	priority := cfg.Priority
	if priority == "" {
		priority = "medium"
	}

	_, err := e.notifier.Store(ctx, &models.Notification{
		UserID:    cfg.UserID,
		Type:      notifType,
		Title:     cfg.Title,
		Message:   cfg.Message,
		RelatedTo: relatedTo,
		RelatedID: relatedID,
		Priority:  priority,
	})
	return "", err
}

// runBroadcastAlert fans the message out to connected clients and, when a
// userId is configured, also stores a durable notification for that user.
func runBroadcastAlert(ctx context.Context, e *ActionExecutor, raw json.RawMessage, rc *RunContext) (string, error) {
	var cfg BroadcastAlertConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return "", err
	}

	msg := cfg.Message
	if msg == "" {
		if title, ok := rc.Attrs["bug.title"].(string); ok && title != "" {
			msg = fmt.Sprintf("Critical bug: %s", title)
		}
	}

	if e.broadcaster != nil {
		e.broadcaster.BroadcastAlert(rc.ProjectID, msg)
	}

	if cfg.UserID != 0 {
		relatedTo, relatedID := rc.RelatedEntity()
		notifType := "broadcast_alert"
		title := "Alert"
		if rc.BugID != 0 {
			notifType = "critical_bug_alert"
			title = "Critical Bug Alert"
		}
		if _, err := e.notifier.Store(ctx, &models.Notification{
			UserID:    cfg.UserID,
			Type:      notifType,
			Title:     title,
			Message:   msg,
			RelatedTo: relatedTo,
			RelatedID: relatedID,
			Priority:  "high",
		}); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

func runAssignTask(ctx context.Context, e *ActionExecutor, raw json.RawMessage, rc *RunContext) (string, error) {
	if rc.TaskID == 0 {
		return "", fmt.Errorf("assignTask requires a task in context")
	}
	var cfg AssignTaskConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return "", err
	}
	if cfg.AssigneeID == 0 {
		return "", fmt.Errorf("assignTask: assigneeId required")
	}
	return "", e.tasks.AssignTask(ctx, rc.TaskID, cfg.AssigneeID)
}

func runAddLabel(ctx context.Context, e *ActionExecutor, raw json.RawMessage, rc *RunContext) (string, error) {
	if rc.TaskID == 0 {
		return "", fmt.Errorf("addLabel requires a task in context")
	}
	var cfg AddLabelConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return "", err
	}
	if cfg.Label == "" {
		return "", fmt.Errorf("addLabel: label required")
	}
	return "", e.tasks.AddTaskLabel(ctx, rc.TaskID, cfg.Label)
}

func runChangeStatus(ctx context.Context, e *ActionExecutor, raw json.RawMessage, rc *RunContext) (string, error) {
	if rc.TaskID == 0 {
		return "", fmt.Errorf("changeStatus requires a task in context")
	}
	var cfg ChangeStatusConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return "", err
	}
	if cfg.Status == "" {
		return "", fmt.Errorf("changeStatus: status required")
	}
	return "", e.tasks.SetTaskStatus(ctx, rc.TaskID, cfg.Status)
}
