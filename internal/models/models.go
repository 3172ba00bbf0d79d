package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Avatar    string         `json:"avatar"`
	Role      string         `gorm:"default:'member'" json:"role"` // member, lead, admin
	LastLogin *time.Time     `json:"last_login"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 项目模型
type Project struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"not null" json:"name"`
	Key         string         `gorm:"unique;not null" json:"key"` // short code, e.g. TRK
	Description string         `gorm:"type:text" json:"description"`
	OwnerID     uint           `gorm:"index" json:"owner_id"`
	Status      string         `gorm:"default:'active'" json:"status"` // active, archived
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Owner User `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
}

// 任务模型
type Task struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ProjectID   uint           `gorm:"index;not null" json:"project_id"`
	SprintID    *uint          `gorm:"index" json:"sprint_id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Status      string         `gorm:"default:'To Do'" json:"status"`    // To Do, In Progress, In Review, Done
	Priority    string         `gorm:"default:'medium'" json:"priority"` // low, medium, high
	AssigneeID  *uint          `gorm:"index" json:"assignee_id"`
	ReporterID  uint           `json:"reporter_id"`
	Labels      string         `json:"labels"` // 标签，逗号分隔（set 语义，追加去重）
	StoryPoints int            `gorm:"default:0" json:"story_points"`
	DueDate     *time.Time     `gorm:"index" json:"due_date"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Project  Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Assignee *User   `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Sprint   *Sprint `gorm:"foreignKey:SprintID" json:"sprint,omitempty"`
}

// 缺陷模型
type Bug struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ProjectID   uint           `gorm:"index;not null" json:"project_id"`
	TaskID      *uint          `gorm:"index" json:"task_id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Severity    string         `gorm:"default:'Medium';index" json:"severity"` // Low, Medium, High, Critical
	Status      string         `gorm:"default:'Open';index" json:"status"`     // Open, In Progress, Resolved, Closed
	AssigneeID  *uint          `gorm:"index" json:"assignee_id"`
	ReporterID  uint           `json:"reporter_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Project  Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Assignee *User   `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
}

// 迭代模型
type Sprint struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ProjectID       uint       `gorm:"index;not null" json:"project_id"`
	Name            string     `gorm:"not null" json:"name"`
	Goal            string     `gorm:"type:text" json:"goal"`
	Status          string     `gorm:"default:'Planned';index" json:"status"` // Planned, Active, Completed, Archived
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `gorm:"index" json:"end_date"`
	PlannedVelocity int        `gorm:"default:0" json:"planned_velocity"`
	ActualVelocity  int        `gorm:"default:0" json:"actual_velocity"`
	RemainingPoints int        `gorm:"default:0" json:"remaining_points"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Project Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// 发布版本
type Release struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProjectID   uint       `gorm:"index;not null" json:"project_id"`
	Name        string     `gorm:"not null" json:"name"`
	Version     string     `gorm:"not null" json:"version"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"default:'planned'" json:"status"` // planned, released, cancelled
	ReleaseDate *time.Time `json:"release_date"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Project Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// 通知模型。ExpiresAt 由创建方写入（默认 30 天），过期清理由保留任务执行。
type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"index;not null" json:"user_id"`
	Type      string     `gorm:"not null" json:"type"` // task_assigned, task_updated, task_due_soon, task_overdue, critical_bug_alert, sprint_started, sprint_ended, status_change
	Title     string     `json:"title"`
	Message   string     `gorm:"not null" json:"message"`
	RelatedTo string     `json:"related_to"` // task, bug, sprint, project
	RelatedID uint       `json:"related_id"`
	Priority  string     `gorm:"default:'medium'" json:"priority"` // low, medium, high
	Read      bool       `gorm:"default:false;index" json:"read"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
}
