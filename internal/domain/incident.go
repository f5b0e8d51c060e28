package domain

import "time"

// IncidentSnapshot is the read-only view of an incident this core evaluates.
// The incident record itself is owned by an external collaborator; this core
// never mutates it directly.
type IncidentSnapshot struct {
	ID             string
	Severity       Severity
	Status         IncidentStatus
	Department     string
	Location       string
	CreatedAt      time.Time
	LastResponseAt *time.Time
}

// ReferenceTime is the timestamp duration triggers measure elapsed time from:
// the last response when one exists, otherwise creation.
func (s IncidentSnapshot) ReferenceTime() time.Time {
	if s.LastResponseAt != nil && !s.LastResponseAt.IsZero() {
		return *s.LastResponseAt
	}
	return s.CreatedAt
}
