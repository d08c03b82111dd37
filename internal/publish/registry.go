package publish

import (
	"fmt"

	"github.com/quillpress/quill/internal/config"
)

// Registry holds the configured platform adapters keyed by platform name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds adapters from the per-platform config blocks.
// Unknown platform types fail loudly at startup rather than at publish time.
func NewRegistry(platforms map[string]config.Platform) (*Registry, error) {
	adapters := make(map[string]Adapter, len(platforms))

	for name, p := range platforms {
		switch p.Type {
		case "telegram":
			adapters[name] = NewTelegramAdapter(name, p.Token(), p.ChatID)
		case "webhook":
			adapters[name] = NewWebhookAdapter(name, p.URL, p.Secret(), p.Timeout())
		default:
			return nil, fmt.Errorf("platform %q: unknown type %q (valid: telegram, webhook)", name, p.Type)
		}
	}

	return &Registry{adapters: adapters}, nil
}

// NewRegistryFromAdapters builds a registry from pre-built adapters.
// Used by tests and embedders that construct adapters directly.
func NewRegistryFromAdapters(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Adapter returns the adapter for a platform name.
func (r *Registry) Adapter(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", name)
	}
	return a, nil
}

// Names returns all registered platform names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
