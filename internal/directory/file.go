package directory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

type recipientFile struct {
	Targets map[string][]recipientEntry `json:"targets"`
}

type recipientEntry struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	DisplayName string            `json:"displayName"`
	Contacts    map[string]string `json:"contacts"`
}

// LoadFile builds a StaticDirectory from a JSON file mapping targets to
// recipients. Contact keys are channel names (email, sms, push, in_app).
func LoadFile(path string) (*StaticDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var file recipientFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}

	entries := make(map[string][]Recipient, len(file.Targets))
	for target, items := range file.Targets {
		recipients := make([]Recipient, 0, len(items))
		for _, item := range items {
			contacts := make(map[domain.Channel]string, len(item.Contacts))
			for rawChannel, contact := range item.Contacts {
				channel, err := domain.ParseChannelFromString(rawChannel)
				if err != nil {
					return nil, fmt.Errorf("directory target %q recipient %q: %w", target, item.ID, err)
				}
				contacts[channel] = contact
			}
			recipients = append(recipients, Recipient{
				ID:          item.ID,
				Type:        item.Type,
				DisplayName: item.DisplayName,
				Contacts:    contacts,
			})
		}
		entries[target] = recipients
	}

	return NewStaticDirectory(entries), nil
}
