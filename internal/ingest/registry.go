package ingest

import (
	"fmt"
	"log/slog"
	"sort"
)

// SourceConfig carries the per-source settings from configuration.
type SourceConfig struct {
	Endpoint string
	APIKey   string
	Options  map[string]string
}

type Factory func(cfg SourceConfig, log *slog.Logger) (Source, error)

// Registry maps source names to factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry { return &Registry{factories: map[string]Factory{}} }

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) New(name string, cfg SourceConfig, log *slog.Logger) (Source, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownSource, name, r.Names())
	}
	if log == nil {
		log = slog.Default()
	}
	return f(cfg, log.With("source", name))
}
