package engine

import (
	"strings"
	"time"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

// Matches reports whether a rule's trigger dimensions apply to an incident
// snapshot at the given instant. Pure: no I/O, deterministic, no side
// effects. Every specified (non-empty) dimension must match; unspecified
// dimensions are ignored, so a rule with all-empty trigger sets and no
// duration matches every incident.
func Matches(rule domain.EscalationRule, snapshot domain.IncidentSnapshot, now time.Time) bool {
	if len(rule.TriggerSeverities) > 0 && !containsSeverity(rule.TriggerSeverities, snapshot.Severity) {
		return false
	}
	if len(rule.TriggerStatuses) > 0 && !containsStatus(rule.TriggerStatuses, snapshot.Status) {
		return false
	}
	if len(rule.TriggerDepartments) > 0 && !containsFold(rule.TriggerDepartments, snapshot.Department) {
		return false
	}
	if len(rule.TriggerLocations) > 0 && !containsFold(rule.TriggerLocations, snapshot.Location) {
		return false
	}
	if rule.TriggerAfterDuration != nil {
		// Boundary inclusive: elapsed == threshold matches.
		if now.Sub(snapshot.ReferenceTime()) < *rule.TriggerAfterDuration {
			return false
		}
	}
	return true
}

func containsSeverity(set []domain.Severity, v domain.Severity) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsStatus(set []domain.IncidentStatus, v domain.IncidentStatus) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(set []string, v string) bool {
	needle := strings.ToLower(strings.TrimSpace(v))
	for _, s := range set {
		if strings.ToLower(strings.TrimSpace(s)) == needle {
			return true
		}
	}
	return false
}
