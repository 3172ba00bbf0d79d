package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"trackhub/internal/config"
	"trackhub/internal/models"
	"trackhub/internal/services"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 加载配置
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
	cfg := config.Load()

	// 连接数据库
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Task{},
		&models.Bug{},
		&models.Sprint{},
		&models.Release{},
		&models.Notification{},
		&models.Automation{},
		&models.AutomationExecution{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 创建索引
	log.Println("Creating additional indexes...")

	// 任务表：到期扫描与看板查询
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id)")

	// 缺陷表：严重级扫描
	db.Exec("CREATE INDEX IF NOT EXISTS idx_bugs_severity_status ON bugs(severity, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_bugs_project ON bugs(project_id)")

	// 迭代表：归档扫描
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sprints_status_end_date ON sprints(status, end_date)")

	// 通知表：用户查询与过期清理
	db.Exec("CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, read)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_notifications_expires_at ON notifications(expires_at)")

	// 自动化表：事件匹配与执行历史
	db.Exec(`CREATE INDEX IF NOT EXISTS idx_automations_project_trigger ON automations(project_id, "trigger", is_active)`)
	db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_executions_automation ON automation_executions(automation_id, triggered_at)")

	log.Println("Additional indexes created successfully!")

	// 插入默认数据
	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	// 创建默认管理员用户
	var adminUser models.User
	if err := db.Where("username = ?", "admin").First(&adminUser).Error; err != nil {
		adminUser = models.User{
			Username: "admin",
			Email:    "admin@trackhub.local",
			Name:     "系统管理员",
			Role:     "admin",
		}
		db.Create(&adminUser)
		log.Println("Created default admin user")
	}

	// 创建示例项目
	var demoProject models.Project
	if err := db.Where("name = ?", "Demo Project").First(&demoProject).Error; err != nil {
		demoProject = models.Project{
			Name:        "Demo Project",
			Key:         "DEMO",
			Description: "示例项目，用于验证自动化规则",
			OwnerID:     adminUser.ID,
		}
		db.Create(&demoProject)
		log.Println("Created demo project")
	}

	// 创建示例任务
	var demoTask models.Task
	if err := db.Where("title = ?", "Try the automation engine").First(&demoTask).Error; err != nil {
		due := time.Now().AddDate(0, 0, 2)
		demoTask = models.Task{
			ProjectID:   demoProject.ID,
			Title:       "Try the automation engine",
			Description: "创建一条规则并切换任务状态观察执行记录",
			Status:      "To Do",
			Priority:    "medium",
			StoryPoints: 3,
			DueDate:     &due,
			AssigneeID:  &adminUser.ID,
			ReporterID:  adminUser.ID,
		}
		db.Create(&demoTask)
		log.Println("Created demo task")
	}

	// 创建示例自动化规则：任务完成时通知负责人
	var demoAutomation models.Automation
	if err := db.Where("name = ?", "Notify on done").First(&demoAutomation).Error; err != nil {
		triggerConfig, _ := json.Marshal(map[string]interface{}{"statusTo": "Done"})
		conditions, _ := json.Marshal([]map[string]interface{}{})
		actions, _ := json.Marshal([]map[string]interface{}{
			{
				"type": services.ActionNotifyUser,
				"config": map[string]interface{}{
					"userId":           adminUser.ID,
					"notificationType": "status_change",
					"title":            "Task completed",
					"message":          "A task in Demo Project was moved to Done",
					"priority":         "low",
				},
			},
		})
		demoAutomation = models.Automation{
			ProjectID:     demoProject.ID,
			Name:          "Notify on done",
			Trigger:       models.TriggerOnStatusChange,
			TriggerConfig: string(triggerConfig),
			Conditions:    string(conditions),
			Actions:       string(actions),
			IsActive:      true,
			CreatedByID:   adminUser.ID,
		}
		db.Create(&demoAutomation)
		log.Println("Created demo automation")
	}
}
