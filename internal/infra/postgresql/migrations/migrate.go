package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/safetyhub/escalation-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createEscalationRules(),
		createEscalationHistory(),
		createNotificationHistory(),
	})

	return m.Migrate()
}

func createEscalationRules() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_escalation_rules",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RuleModel{}, &repository.ActionModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_rules_active_priority ON escalation_rules (priority, id) WHERE is_active`,
				`CREATE INDEX IF NOT EXISTS idx_actions_rule_position ON escalation_actions (rule_id, position)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Migrator().DropTable(&repository.ActionModel{}); err != nil {
				return err
			}
			return tx.Migrator().DropTable(&repository.RuleModel{})
		},
	}
}

func createEscalationHistory() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_escalation_history",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EscalationHistoryModel{}); err != nil {
				return err
			}
			statements := []string{
				// The unique index is the concurrent fire guard: one row per
				// action per rule firing against one incident state.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_escalation_history_fire_guard ON escalation_history (incident_id, rule_id, signature, action_id)`,
				`CREATE INDEX IF NOT EXISTS idx_escalation_history_incident ON escalation_history (incident_id, executed_at)`,
				`CREATE INDEX IF NOT EXISTS idx_escalation_history_rule ON escalation_history (rule_id) WHERE rule_id IS NOT NULL`,
				`ALTER TABLE escalation_history ADD CONSTRAINT fk_escalation_history_rule FOREIGN KEY (rule_id) REFERENCES escalation_rules (id) ON DELETE SET NULL`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EscalationHistoryModel{})
		},
	}
}

func createNotificationHistory() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_notification_history",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationHistoryModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_notification_history_incident ON notification_history (incident_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notification_history_recipient ON notification_history (recipient_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notification_history_status_channel ON notification_history (status, channel, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notification_history_scheduled_due ON notification_history (scheduled_at) WHERE status = 'PENDING' AND scheduled_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_notification_history_correlation ON notification_history (correlation_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationHistoryModel{})
		},
	}
}
