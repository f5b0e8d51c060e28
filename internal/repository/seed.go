package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/safetyhub/escalation-engine/internal/domain"
	"go.uber.org/zap"
)

type seedFile struct {
	Rules []seedRule `json:"rules"`
}

type seedRule struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Description         string       `json:"description"`
	IsActive            *bool        `json:"isActive"`
	Priority            int          `json:"priority"`
	TriggerSeverities   []string     `json:"triggerSeverities"`
	TriggerStatuses     []string     `json:"triggerStatuses"`
	TriggerDepartments  []string     `json:"triggerDepartments"`
	TriggerLocations    []string     `json:"triggerLocations"`
	TriggerAfterSeconds *int64       `json:"triggerAfterSeconds"`
	Actions             []seedAction `json:"actions"`
	CreatedBy           string       `json:"createdBy"`
}

type seedAction struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Target       string            `json:"target"`
	TemplateID   string            `json:"templateId"`
	Parameters   map[string]string `json:"parameters"`
	DelaySeconds int64             `json:"delaySeconds"`
	Channels     []string          `json:"channels"`
}

// SeedRules loads rule definitions from a JSON file and reconciles them into
// the rule store. Existing rules are not rewritten; only their active flag is
// reconciled, so operator edits to other fields survive restarts.
func SeedRules(ctx context.Context, repo *RuleRepository, path string, logger *zap.Logger) error {
	if repo == nil {
		return fmt.Errorf("rule repository is required")
	}
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rule seed file: %w", err)
	}

	var file seedFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse rule seed file: %w", err)
	}

	created, reconciled := 0, 0
	for i := range file.Rules {
		rule, err := seedRuleToDomain(&file.Rules[i])
		if err != nil {
			return fmt.Errorf("rule seed entry %d: %w", i, err)
		}

		err = repo.Create(ctx, rule)
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrConflict):
			if err := repo.SetActive(ctx, rule.ID, rule.IsActive); err != nil {
				return fmt.Errorf("failed to reconcile seeded rule %s: %w", rule.ID, err)
			}
			reconciled++
		default:
			return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
	}

	logger.Info("rule seed applied",
		zap.String("file", path),
		zap.Int("created", created),
		zap.Int("reconciled", reconciled),
	)
	return nil
}

func seedRuleToDomain(s *seedRule) (*domain.EscalationRule, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: seeded rules need a stable id", domain.ErrValidation)
	}

	rule := &domain.EscalationRule{
		ID:                 s.ID,
		Name:               s.Name,
		Description:        s.Description,
		IsActive:           true,
		Priority:           s.Priority,
		TriggerDepartments: s.TriggerDepartments,
		TriggerLocations:   s.TriggerLocations,
		CreatedBy:          s.CreatedBy,
	}
	if s.IsActive != nil {
		rule.IsActive = *s.IsActive
	}
	for _, raw := range s.TriggerSeverities {
		sev, err := domain.ParseSeverityFromString(raw)
		if err != nil {
			return nil, err
		}
		rule.TriggerSeverities = append(rule.TriggerSeverities, sev)
	}
	for _, raw := range s.TriggerStatuses {
		status, err := domain.ParseIncidentStatusFromString(raw)
		if err != nil {
			return nil, err
		}
		rule.TriggerStatuses = append(rule.TriggerStatuses, status)
	}
	if s.TriggerAfterSeconds != nil {
		d := time.Duration(*s.TriggerAfterSeconds) * time.Second
		rule.TriggerAfterDuration = &d
	}

	for j := range s.Actions {
		action, err := seedActionToDomain(&s.Actions[j], s.ID, j)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", j, err)
		}
		rule.Actions = append(rule.Actions, *action)
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

func seedActionToDomain(s *seedAction, ruleID string, position int) (*domain.EscalationAction, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: seeded actions need a stable id", domain.ErrValidation)
	}
	actionType, err := domain.ParseActionTypeFromString(s.Type)
	if err != nil {
		return nil, err
	}

	action := &domain.EscalationAction{
		ID:         s.ID,
		RuleID:     ruleID,
		Type:       actionType,
		Target:     s.Target,
		TemplateID: s.TemplateID,
		Parameters: s.Parameters,
		Delay:      time.Duration(s.DelaySeconds) * time.Second,
		Position:   position,
	}
	for _, raw := range s.Channels {
		channel, err := domain.ParseChannelFromString(raw)
		if err != nil {
			return nil, err
		}
		action.Channels = append(action.Channels, channel)
	}
	return action, nil
}
