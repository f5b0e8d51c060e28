package template

import (
	"context"
	"fmt"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

// Rendered is a resolved template ready for transport.
type Rendered struct {
	Subject string
	Content string
}

// Resolver resolves a template id plus parameters into subject and content.
type Resolver interface {
	Resolve(ctx context.Context, templateID string, params map[string]string) (Rendered, error)
}

// Definition is one authored template. Subject and Body use Go template
// syntax with parameter keys as fields, e.g. {{.incidentId}}.
type Definition struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// StaticResolver renders templates from an in-memory definition set. Template
// authoring lives outside this core; the set is loaded at startup.
type StaticResolver struct {
	mu        sync.RWMutex
	templates map[string]Definition
}

func NewStaticResolver(templates map[string]Definition) *StaticResolver {
	defs := make(map[string]Definition, len(templates))
	for id, def := range templates {
		defs[strings.TrimSpace(id)] = def
	}
	return &StaticResolver{templates: defs}
}

func (r *StaticResolver) Resolve(ctx context.Context, templateID string, params map[string]string) (Rendered, error) {
	id := strings.TrimSpace(templateID)
	if id == "" {
		return Rendered{}, fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}

	r.mu.RLock()
	def, ok := r.templates[id]
	r.mu.RUnlock()
	if !ok {
		return Rendered{}, fmt.Errorf("%w: template %q", domain.ErrNotFound, id)
	}

	subject, err := render(id+":subject", def.Subject, params)
	if err != nil {
		return Rendered{}, err
	}
	content, err := render(id+":body", def.Body, params)
	if err != nil {
		return Rendered{}, err
	}

	return Rendered{Subject: subject, Content: content}, nil
}

func render(name, text string, params map[string]string) (string, error) {
	tpl, err := texttemplate.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: template %s parse failed: %v", domain.ErrValidation, name, err)
	}

	data := make(map[string]string, len(params))
	for k, v := range params {
		data[k] = v
	}

	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%w: template %s render failed: %v", domain.ErrValidation, name, err)
	}
	return sb.String(), nil
}
