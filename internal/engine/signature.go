package engine

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/safetyhub/escalation-engine/internal/domain"
)

// Signature derives the fire-guard key for a (rule, incident) match. It
// hashes the incident's values on exactly the dimensions the rule
// constrains, so the same rule re-fires only when the incident later matches
// with different values on those dimensions. Unconstrained dimensions are
// excluded: their changes must not produce a new signature.
func Signature(rule domain.EscalationRule, snapshot domain.IncidentSnapshot) string {
	h := xxhash.New()
	_, _ = h.WriteString(rule.ID)

	if len(rule.TriggerSeverities) > 0 {
		_, _ = h.WriteString("|sev=" + snapshot.Severity.String())
	}
	if len(rule.TriggerStatuses) > 0 {
		_, _ = h.WriteString("|st=" + snapshot.Status.String())
	}
	if len(rule.TriggerDepartments) > 0 {
		_, _ = h.WriteString("|dep=" + strings.ToLower(strings.TrimSpace(snapshot.Department)))
	}
	if len(rule.TriggerLocations) > 0 {
		_, _ = h.WriteString("|loc=" + strings.ToLower(strings.TrimSpace(snapshot.Location)))
	}
	if rule.TriggerAfterDuration != nil {
		// The threshold crossing is a single event per reference timestamp;
		// hash the reference so a new response window re-arms the trigger.
		_, _ = h.WriteString("|ref=" + strconv.FormatInt(snapshot.ReferenceTime().UTC().Unix(), 10))
	}

	return strconv.FormatUint(h.Sum64(), 16)
}
