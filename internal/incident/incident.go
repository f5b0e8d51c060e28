package incident

import (
	"context"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

// SnapshotProvider supplies read-only views of the open incident population.
// The incident domain itself lives outside this core.
type SnapshotProvider interface {
	GetOpenIncidentSnapshots(ctx context.Context) ([]domain.IncidentSnapshot, error)
}

// Mutator applies ESCALATE, ASSIGN, and CUSTOM actions to the incident
// record through the owning collaborator.
type Mutator interface {
	Escalate(ctx context.Context, incidentID, target string, params map[string]string) error
	Assign(ctx context.Context, incidentID, target string, params map[string]string) error
	Custom(ctx context.Context, incidentID, target string, params map[string]string) error
}
