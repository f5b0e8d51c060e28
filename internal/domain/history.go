package domain

import "time"

// EscalationHistory is one append-only audit row per action execution
// attempt. RuleID is optional because rules may be deleted after firing;
// RuleName is snapshotted at fire time so the row stays readable.
type EscalationHistory struct {
	ID            string
	IncidentID    string
	RuleID        *string
	RuleName      string
	Signature     string
	ActionID      string
	ActionType    ActionType
	ActionTarget  string
	ActionDetails string
	IsSuccessful  bool
	ErrorMessage  string
	ExecutedAt    time.Time
	ExecutedBy    string
	CorrelationID string
}
