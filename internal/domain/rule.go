package domain

import (
	"fmt"
	"strings"
	"time"
)

// EscalationRule is a priority-ordered condition+action definition governing
// when and how an open incident is escalated. Rules are authored outside this
// core and are read-only on the evaluation hot path.
type EscalationRule struct {
	ID          string
	Name        string
	Description string
	IsActive    bool

	// Trigger dimensions. An empty set matches any incident value for that
	// dimension; a non-empty set requires membership.
	TriggerSeverities  []Severity
	TriggerStatuses    []IncidentStatus
	TriggerDepartments []string
	TriggerLocations   []string

	// TriggerAfterDuration, when set, requires the elapsed time since the
	// incident's reference timestamp to be >= the threshold (inclusive).
	TriggerAfterDuration *time.Duration

	// Priority orders evaluation and execution; lower runs first, ties are
	// broken by id ascending.
	Priority int

	// Actions run in declared order when the rule fires.
	Actions []EscalationAction

	CreatedBy string
	CreatedAt time.Time
	UpdatedBy string
	UpdatedAt time.Time
}

// Validate enforces the rule-save-time contract. The engine assumes valid
// rules as a precondition and does not re-validate per evaluation.
func (r *EscalationRule) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: rule is required", ErrValidation)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule name is required", ErrValidation)
	}
	if r.Priority < 0 {
		return fmt.Errorf("%w: rule priority must be >= 0", ErrValidation)
	}
	for _, sev := range r.TriggerSeverities {
		if !sev.IsValid() {
			return fmt.Errorf("%w: invalid trigger severity %q", ErrValidation, sev)
		}
	}
	for _, st := range r.TriggerStatuses {
		if !st.IsValid() {
			return fmt.Errorf("%w: invalid trigger status %q", ErrValidation, st)
		}
	}
	if r.TriggerAfterDuration != nil && *r.TriggerAfterDuration < 0 {
		return fmt.Errorf("%w: trigger duration must be >= 0", ErrValidation)
	}
	for i := range r.Actions {
		if err := r.Actions[i].Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// EscalationAction is one step executed when its parent rule fires.
type EscalationAction struct {
	ID     string
	RuleID string
	Type   ActionType

	// Target is a role, user, or department identifier resolved through the
	// user directory for NOTIFY actions, or handed to the incident mutator
	// for the other types.
	Target string

	// TemplateID selects the notification template for NOTIFY actions.
	TemplateID string

	Parameters map[string]string

	// Delay defers execution without blocking evaluation of other rules.
	Delay time.Duration

	// Channels lists the delivery channels for NOTIFY actions.
	Channels []Channel

	// Position is the action's place in the rule's declared order.
	Position int
}

func (a *EscalationAction) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: action is required", ErrValidation)
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("%w: invalid action type %q", ErrValidation, a.Type)
	}
	if strings.TrimSpace(a.Target) == "" {
		return fmt.Errorf("%w: action target is required", ErrValidation)
	}
	if a.Delay < 0 {
		return fmt.Errorf("%w: action delay must be >= 0", ErrValidation)
	}
	if a.Type == ActionNotify {
		if strings.TrimSpace(a.TemplateID) == "" {
			return fmt.Errorf("%w: notify action requires a template id", ErrValidation)
		}
		if len(a.Channels) == 0 {
			return fmt.Errorf("%w: notify action requires at least one channel", ErrValidation)
		}
	}
	for _, ch := range a.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: invalid channel %q", ErrValidation, ch)
		}
	}
	return nil
}
