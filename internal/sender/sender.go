package sender

import (
	"context"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

// ChannelSender is the outbound transport port. One implementation covers
// one or more channels; real SMTP/SMS/push protocols live behind it.
type ChannelSender interface {
	Send(ctx context.Context, channel domain.Channel, recipientContact, subject, content string) (*SendResult, error)
}

// SendResult stores provider call metadata for audit and persistence.
type SendResult struct {
	Accepted          bool
	ProviderMessageID string
	StatusCode        int
	Body              string
}
