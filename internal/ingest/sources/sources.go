// Package sources wires the built-in providers into an ingest registry.
package sources

import (
	"github.com/mohammed-shakir/geotemporal/internal/ingest"
	"github.com/mohammed-shakir/geotemporal/internal/ingest/sources/archive"
	"github.com/mohammed-shakir/geotemporal/internal/ingest/sources/climate"
	"github.com/mohammed-shakir/geotemporal/internal/ingest/sources/events"
	"github.com/mohammed-shakir/geotemporal/internal/ingest/sources/imagery"
)

// Registry returns a registry holding every built-in source.
func Registry() *ingest.Registry {
	r := ingest.NewRegistry()
	r.Register(archive.Name, archive.Factory)
	r.Register(climate.Name, climate.Factory)
	r.Register(events.Name, events.Factory)
	r.Register(imagery.Name, imagery.Factory)
	return r
}
