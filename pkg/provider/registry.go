package provider

import (
	"fmt"
	"strings"
)

// ID is the enumerated provider tag selected per request.
type ID string

const (
	OpenAI   ID = "OPENAI"
	DeepSeek ID = "DEEPSEEK"
	Ollama   ID = "OLLAMA"
	Mock     ID = "MOCK"
	Gemini   ID = "GEMINI"
)

// ErrUnknownProvider is returned when an ID has no registered backend.
// This is a caller/configuration error and is never retried.
type ErrUnknownProvider struct {
	ID ID
}

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("registry: unknown provider %q", string(e.ID))
}

// ParseID maps the external enumerated tag to an ID, case-insensitively.
func ParseID(s string) (ID, error) {
	switch id := ID(strings.ToUpper(strings.TrimSpace(s))); id {
	case OpenAI, DeepSeek, Ollama, Mock, Gemini:
		return id, nil
	default:
		return "", &ErrUnknownProvider{ID: id}
	}
}

// Registry maps provider IDs to backend instances. It is built once at
// process start and read-only thereafter.
type Registry struct {
	providers map[ID]Provider
}

// NewRegistry builds a registry from the given backends.
func NewRegistry(providers map[ID]Provider) *Registry {
	m := make(map[ID]Provider, len(providers))
	for id, p := range providers {
		m[id] = p
	}
	return &Registry{providers: m}
}

// Resolve returns the backend for id, or an *ErrUnknownProvider.
func (r *Registry) Resolve(id ID) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, &ErrUnknownProvider{ID: id}
	}
	return p, nil
}

// IDs returns the registered provider IDs.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}
