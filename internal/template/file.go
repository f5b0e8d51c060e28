package template

import (
	"encoding/json"
	"fmt"
	"os"
)

type templateFile struct {
	Templates map[string]Definition `json:"templates"`
}

// LoadFile builds a StaticResolver from a JSON file of template definitions.
func LoadFile(path string) (*StaticResolver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var file templateFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template file: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, fmt.Errorf("template file %s defines no templates", path)
	}

	return NewStaticResolver(file.Templates), nil
}
