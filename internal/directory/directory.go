package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

// Recipient is one resolved notification target with per-channel contacts.
type Recipient struct {
	ID          string
	Type        string
	DisplayName string
	Contacts    map[domain.Channel]string
}

// Contact returns the recipient's address for a channel, empty if none.
func (r Recipient) Contact(channel domain.Channel) string {
	return strings.TrimSpace(r.Contacts[channel])
}

// UserDirectory resolves a role, user, or department identifier to concrete
// recipients. Identity management lives outside this core.
type UserDirectory interface {
	Resolve(ctx context.Context, target string) ([]Recipient, error)
}

// StaticDirectory resolves targets from an in-memory table, keyed
// case-insensitively.
type StaticDirectory struct {
	mu      sync.RWMutex
	entries map[string][]Recipient
}

func NewStaticDirectory(entries map[string][]Recipient) *StaticDirectory {
	normalized := make(map[string][]Recipient, len(entries))
	for target, recipients := range entries {
		normalized[normalizeTarget(target)] = recipients
	}
	return &StaticDirectory{entries: normalized}
}

func (d *StaticDirectory) Resolve(ctx context.Context, target string) ([]Recipient, error) {
	key := normalizeTarget(target)
	if key == "" {
		return nil, fmt.Errorf("%w: target is required", domain.ErrValidation)
	}

	d.mu.RLock()
	recipients, ok := d.entries[key]
	d.mu.RUnlock()
	if !ok || len(recipients) == 0 {
		return nil, fmt.Errorf("%w: target %q", domain.ErrNotFound, target)
	}

	out := make([]Recipient, len(recipients))
	copy(out, recipients)
	return out, nil
}

func normalizeTarget(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}
