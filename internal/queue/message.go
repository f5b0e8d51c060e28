package queue

import (
	"fmt"
	"strings"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

// DeliveryMessage is the broker payload for notification delivery. The row
// itself stays in the audit store; the message only carries the key and
// routing attributes.
type DeliveryMessage struct {
	NotificationID string          `json:"notificationId"`
	IncidentID     string          `json:"incidentId,omitempty"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	Channel        domain.Channel  `json:"channel"`
	Priority       domain.Priority `json:"priority"`
}

func (m DeliveryMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}
