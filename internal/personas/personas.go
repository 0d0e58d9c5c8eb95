// Package personas holds the immutable catalog of reviewer identities.
package personas

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"vos/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var defaultCatalog []byte

type catalogFile struct {
	Personas []models.Persona `yaml:"personas"`
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	order []string
	byID  map[string]models.Persona
}

// Default returns the built-in catalog.
func Default() (*Registry, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file, or the built-in one when path is empty.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("personas: read %s: %w", path, err)
	}
	r, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("personas: %s: %w", path, err)
	}
	return r, nil
}

func Parse(data []byte) (*Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("personas: catalog is empty")
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("personas: decode catalog: %w", err)
	}
	return New(f.Personas)
}

func New(list []models.Persona) (*Registry, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("personas: catalog has no personas")
	}
	r := &Registry{byID: make(map[string]models.Persona, len(list))}
	for _, p := range list {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("personas: persona %q has no id", p.Name)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("personas: duplicate id %q", p.ID)
		}
		if strings.TrimSpace(p.SystemPrompt) == "" {
			return nil, fmt.Errorf("personas: %s has no system prompt", p.ID)
		}
		switch p.Tone {
		case models.ToneCritical, models.ToneSupportive, models.ToneTechnical, models.ToneNeutral:
		case "":
			p.Tone = models.ToneNeutral
		default:
			return nil, fmt.Errorf("personas: %s has unknown tone %q", p.ID, p.Tone)
		}
		p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
		p.FocusAreas = append([]string(nil), p.FocusAreas...)
		r.order = append(r.order, p.ID)
		r.byID[p.ID] = p
	}
	return r, nil
}

// List returns personas in catalog order.
func (r *Registry) List() []models.Persona {
	out := make([]models.Persona, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, clone(r.byID[id]))
	}
	return out
}

func (r *Registry) Get(id string) (models.Persona, bool) {
	p, ok := r.byID[id]
	if !ok {
		return models.Persona{}, false
	}
	return clone(p), true
}

func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

func clone(p models.Persona) models.Persona {
	p.FocusAreas = append([]string(nil), p.FocusAreas...)
	return p
}
