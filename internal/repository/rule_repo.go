package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/safetyhub/escalation-engine/internal/domain"
	"gorm.io/gorm"
)

// RuleRepository reads escalation rules from PostgreSQL.
type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// GetActiveRules returns active rules ordered by priority ascending with id
// as tie-break, actions preloaded in declared order.
func (r *RuleRepository) GetActiveRules(ctx context.Context) ([]domain.EscalationRule, error) {
	var models []RuleModel
	err := r.db.WithContext(ctx).
		Preload("Actions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("is_active = ?", true).
		Order("priority ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active escalation rules: %w", err)
	}

	rules := make([]domain.EscalationRule, 0, len(models))
	for i := range models {
		rules = append(rules, *ruleModelToDomain(&models[i]))
	}
	return rules, nil
}

// GetByID returns a single rule with its actions.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.EscalationRule, error) {
	var model RuleModel
	err := r.db.WithContext(ctx).
		Preload("Actions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: escalation rule %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get escalation rule: %w", err)
	}
	return ruleModelToDomain(&model), nil
}

// Create persists a rule and its actions in one transaction.
func (r *RuleRepository) Create(ctx context.Context, rule *domain.EscalationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	model := ruleModelFromDomain(rule)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: escalation rule %s already exists", domain.ErrConflict, rule.ID)
		}
		return fmt.Errorf("failed to create escalation rule: %w", err)
	}
	return nil
}

// SetActive toggles a rule's active flag.
func (r *RuleRepository) SetActive(ctx context.Context, id string, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&RuleModel{}).
		Where("id = ?", id).
		Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update escalation rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: escalation rule %s", domain.ErrNotFound, id)
	}
	return nil
}
