package domain

import "time"

// NotificationStatus is the delivery lifecycle state of a notification row.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "PENDING"
	NotificationSent      NotificationStatus = "SENT"
	NotificationDelivered NotificationStatus = "DELIVERED"
	NotificationRead      NotificationStatus = "READ"
	NotificationFailed    NotificationStatus = "FAILED"
)

func (s NotificationStatus) String() string { return string(s) }

func (s NotificationStatus) IsValid() bool {
	switch s {
	case NotificationPending, NotificationSent, NotificationDelivered, NotificationRead, NotificationFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s NotificationStatus) IsTerminal() bool {
	return s == NotificationRead || s == NotificationFailed
}

// CanTransition encodes the one-directional ladder
// PENDING -> SENT -> DELIVERED -> READ, with FAILED terminal and reachable
// from PENDING or SENT. Regressions and exits from terminal states are
// rejected.
func (s NotificationStatus) CanTransition(next NotificationStatus) bool {
	switch s {
	case NotificationPending:
		return next == NotificationSent || next == NotificationFailed
	case NotificationSent:
		return next == NotificationDelivered || next == NotificationFailed
	case NotificationDelivered:
		return next == NotificationRead
	}
	return false
}

// NotificationHistory is one append-only row per delivery attempt per
// recipient per channel. Only the guarded status-transition operations ever
// update a row after insert.
type NotificationHistory struct {
	ID            string
	IncidentID    string
	RecipientID   string
	RecipientType string
	TemplateID    string
	Channel       Channel
	Priority      Priority
	Subject       string
	Content       string
	Status        NotificationStatus
	ErrorMessage  string

	// ProviderMessageID is the channel provider's id for the accepted send,
	// used to correlate asynchronous delivery callbacks.
	ProviderMessageID *string

	// ScheduledAt defers release to the delivery queue for delayed actions.
	ScheduledAt *time.Time

	// SendingAt marks the atomic worker claim on a Pending row. At most one
	// worker ever claims a row, so broker redeliveries cannot cause a second
	// transport attempt.
	SendingAt *time.Time

	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time

	// RetryOf links a row created by an external retry policy to the row it
	// re-attempts. This core never sets it.
	RetryOf *string

	Metadata      map[string]string
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
