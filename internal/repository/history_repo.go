package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/safetyhub/escalation-engine/internal/domain"
	"gorm.io/gorm"
)

// EscalationHistoryRepository is the append-only audit store for rule
// firings. The unique index on (incident_id, rule_id, signature, action_id)
// doubles as the concurrent fire guard.
type EscalationHistoryRepository struct {
	db *gorm.DB
}

func NewEscalationHistoryRepository(db *gorm.DB) *EscalationHistoryRepository {
	return &EscalationHistoryRepository{db: db}
}

// FiredActionIDs returns the action ids already recorded for this rule firing
// against this incident state. An empty result means the rule has not fired;
// a strict subset of the rule's actions means an earlier run was interrupted
// before its deferred actions executed.
func (r *EscalationHistoryRepository) FiredActionIDs(ctx context.Context, incidentID, ruleID, signature string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&EscalationHistoryModel{}).
		Where("incident_id = ? AND rule_id = ? AND signature = ?", incidentID, ruleID, signature).
		Pluck("action_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check escalation history: %w", err)
	}
	return ids, nil
}

// Record appends one audit row. A unique-constraint violation means another
// evaluation already recorded this firing and surfaces as ErrDuplicateFire.
func (r *EscalationHistoryRepository) Record(ctx context.Context, row *domain.EscalationHistory) error {
	model := escalationHistoryModelFromDomain(row)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: incident %s rule %s", domain.ErrDuplicateFire, row.IncidentID, row.RuleName)
		}
		return fmt.Errorf("failed to record escalation history: %w", err)
	}
	return nil
}

// EscalationListParams filter and page the escalation audit trail.
type EscalationListParams struct {
	IncidentID string
	RuleID     string
	Successful *bool
	Since      *time.Time
	Limit      int
	Offset     int
}

// List returns audit rows newest-first.
func (r *EscalationHistoryRepository) List(ctx context.Context, params EscalationListParams) ([]domain.EscalationHistory, int64, error) {
	query := r.db.WithContext(ctx).Model(&EscalationHistoryModel{})
	if params.IncidentID != "" {
		query = query.Where("incident_id = ?", params.IncidentID)
	}
	if params.RuleID != "" {
		query = query.Where("rule_id = ?", params.RuleID)
	}
	if params.Successful != nil {
		query = query.Where("is_successful = ?", *params.Successful)
	}
	if params.Since != nil {
		query = query.Where("executed_at >= ?", *params.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count escalation history: %w", err)
	}

	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var models []EscalationHistoryModel
	err := query.
		Order("executed_at DESC").
		Limit(limit).
		Offset(params.Offset).
		Find(&models).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list escalation history: %w", err)
	}

	rows := make([]domain.EscalationHistory, 0, len(models))
	for i := range models {
		rows = append(rows, *escalationHistoryModelToDomain(&models[i]))
	}
	return rows, total, nil
}

// RuleFireCount is one row of the per-rule firing summary.
type RuleFireCount struct {
	RuleID    *string
	RuleName  string
	Fired     int64
	Failed    int64
	LastFired time.Time
}

// SummaryByRule aggregates firings per rule since a cutoff.
func (r *EscalationHistoryRepository) SummaryByRule(ctx context.Context, since time.Time) ([]RuleFireCount, error) {
	var rows []RuleFireCount
	err := r.db.WithContext(ctx).
		Model(&EscalationHistoryModel{}).
		Select(
			"rule_id",
			"rule_name",
			"COUNT(*) AS fired",
			"COUNT(*) FILTER (WHERE NOT is_successful) AS failed",
			"MAX(executed_at) AS last_fired",
		).
		Where("executed_at >= ?", since).
		Group("rule_id, rule_name").
		Order("fired DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize escalation history: %w", err)
	}
	return rows, nil
}

// isUniqueViolationError matches the driver-agnostic shapes gorm surfaces for
// unique-constraint violations.
func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
