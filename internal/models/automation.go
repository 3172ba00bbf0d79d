package models

import "time"

// Trigger kinds an automation can react to.
const (
	TriggerOnStatusChange     = "onStatusChange"
	TriggerDueDateApproaching = "dueDateApproaching"
	TriggerCriticalBugAlert   = "criticalBugAlert"
	TriggerTaskAssigned       = "taskAssigned"
	TriggerSprintStart        = "sprintStart"
	TriggerSprintEnd          = "sprintEnd"
)

// Execution outcome for one automation run.
const (
	ExecutionCompleted       = "completed"
	ExecutionPartiallyFailed = "partially_failed"
	ExecutionErrored         = "errored"
)

// Automation 自动化规则定义：触发器 + 条件 + 有序动作
type Automation struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ProjectID     uint      `gorm:"index;not null" json:"project_id"`
	Name          string    `gorm:"not null" json:"name"`
	Description   string    `json:"description"`
	// 不能带 gorm default 标签：带默认值的零值字段在插入时会被省略，
	// 显式创建的停用规则会被存成激活。默认值由 Create 负责。
	IsActive      bool      `json:"is_active"`
	Trigger       string    `gorm:"index;not null" json:"trigger"`
	TriggerConfig string    `gorm:"type:text" json:"trigger_config"` // JSON: {statusFrom,statusTo,daysBeforeDue,severity}
	Conditions    string    `gorm:"type:text" json:"conditions"`     // JSON: [{field,operator,value}]
	Actions       string    `gorm:"type:text" json:"actions"`        // JSON: [{type,config}]
	CreatedByID   uint      `json:"created_by_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Executions []AutomationExecution `gorm:"foreignKey:AutomationID" json:"executions,omitempty"`
}

// AutomationExecution 执行记录用于审计。Append-only：每次运行插入一行，从不改写。
type AutomationExecution struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	AutomationID    uint       `gorm:"index;not null" json:"automation_id"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	Status          string     `gorm:"index" json:"status"` // completed, partially_failed, errored
	ContextType     string     `json:"context_type"`        // task, bug, sprint
	ContextID       uint       `json:"context_id"`
	ActionsExecuted string     `gorm:"type:text" json:"actions_executed"` // JSON: [action kind]
	Errors          string     `gorm:"type:text" json:"errors"`           // JSON: [message]
	CreatedAt       time.Time  `json:"created_at"`
	Automation      Automation `gorm:"foreignKey:AutomationID" json:"automation,omitempty"`
}
