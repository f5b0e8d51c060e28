package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

func TestSeedRuleToDomain(t *testing.T) {
	t.Parallel()

	afterSecs := int64(86400)
	seed := seedRule{
		ID:                  "rule-1",
		Name:                "critical facilities",
		Description:         "page the safety team",
		Priority:            10,
		TriggerSeverities:   []string{"critical", "HIGH"},
		TriggerStatuses:     []string{"open"},
		TriggerDepartments:  []string{"Facilities"},
		TriggerAfterSeconds: &afterSecs,
		Actions: []seedAction{
			{
				ID:         "action-1",
				Type:       "notify",
				Target:     "safety-team",
				TemplateID: "incident-alert",
				Channels:   []string{"email", "SMS"},
			},
			{
				ID:           "action-2",
				Type:         "ESCALATE",
				Target:       "ops-manager",
				DelaySeconds: 300,
			},
		},
	}

	rule, err := seedRuleToDomain(&seed)
	if err != nil {
		t.Fatalf("seedRuleToDomain() error = %v", err)
	}

	if !rule.IsActive {
		t.Fatal("IsActive = false, want true by default")
	}
	if len(rule.TriggerSeverities) != 2 || rule.TriggerSeverities[0] != domain.SeverityCritical {
		t.Fatalf("TriggerSeverities = %v, want [CRITICAL HIGH]", rule.TriggerSeverities)
	}
	if rule.TriggerStatuses[0] != domain.IncidentOpen {
		t.Fatalf("TriggerStatuses = %v, want [OPEN]", rule.TriggerStatuses)
	}
	if rule.TriggerAfterDuration == nil || *rule.TriggerAfterDuration != 24*time.Hour {
		t.Fatalf("TriggerAfterDuration = %v, want 24h", rule.TriggerAfterDuration)
	}
	if len(rule.Actions) != 2 {
		t.Fatalf("Actions len = %d, want 2", len(rule.Actions))
	}
	if rule.Actions[0].Type != domain.ActionNotify || rule.Actions[0].Channels[1] != domain.ChannelSMS {
		t.Fatalf("Actions[0] = %+v, want NOTIFY over [EMAIL SMS]", rule.Actions[0])
	}
	if rule.Actions[1].Delay != 5*time.Minute || rule.Actions[1].Position != 1 {
		t.Fatalf("Actions[1] delay/position = %v/%d, want 5m/1", rule.Actions[1].Delay, rule.Actions[1].Position)
	}
}

func TestSeedRuleToDomainRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		seed seedRule
	}{
		{
			name: "missing id",
			seed: seedRule{Name: "no id"},
		},
		{
			name: "unknown severity",
			seed: seedRule{ID: "rule-1", Name: "bad severity", TriggerSeverities: []string{"EXTREME"}},
		},
		{
			name: "notify action without template",
			seed: seedRule{
				ID:   "rule-1",
				Name: "bad action",
				Actions: []seedAction{
					{ID: "action-1", Type: "NOTIFY", Target: "safety-team", Channels: []string{"EMAIL"}},
				},
			},
		},
		{
			name: "action without id",
			seed: seedRule{
				ID:   "rule-1",
				Name: "anonymous action",
				Actions: []seedAction{
					{Type: "ASSIGN", Target: "ops-manager"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := seedRuleToDomain(&tt.seed); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("seedRuleToDomain() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSeedRulesSkipsWhenUnconfigured(t *testing.T) {
	t.Parallel()

	if err := SeedRules(context.Background(), NewRuleRepository(nil), "", nil); err != nil {
		t.Fatalf("SeedRules() error = %v, want nil for empty path", err)
	}
}

func TestSeedRulesMissingFile(t *testing.T) {
	t.Parallel()

	err := SeedRules(context.Background(), NewRuleRepository(nil), "does-not-exist.json", nil)
	if err == nil {
		t.Fatal("SeedRules() error = nil, want read failure")
	}
}
