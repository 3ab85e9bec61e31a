// Package crs reprojects features between registered coordinate reference
// systems.
package crs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	WGS84       = "EPSG:4326"
	WebMercator = "EPSG:3857"
)

var ErrUnknownCRS = errors.New("unknown crs")

type UnknownCRSError struct {
	Code string
}

func (e *UnknownCRSError) Error() string { return fmt.Sprintf("unknown crs %q", e.Code) }

func (e *UnknownCRSError) Is(target error) bool { return target == ErrUnknownCRS }

// Projection maps a CRS to and from WGS84 longitude/latitude.
type Projection struct {
	Code      string
	Aliases   []string
	Geodetic  bool
	ToWGS84   orb.Projection
	FromWGS84 orb.Projection
}

func identity(p orb.Point) orb.Point { return p }

type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Projection
}

// NewRegistry returns a registry holding WGS84 and Web Mercator.
func NewRegistry() *Registry {
	r := &Registry{byKey: map[string]Projection{}}
	_ = r.Register(Projection{
		Code:      WGS84,
		Aliases:   []string{"CRS:84", "WGS84", "urn:ogc:def:crs:EPSG::4326"},
		Geodetic:  true,
		ToWGS84:   identity,
		FromWGS84: identity,
	})
	_ = r.Register(Projection{
		Code:      WebMercator,
		Aliases:   []string{"EPSG:900913", "EPSG:102100", "urn:ogc:def:crs:EPSG::3857"},
		ToWGS84:   project.Mercator.ToWGS84,
		FromWGS84: project.WGS84.ToMercator,
	})
	return r
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *Registry) Register(p Projection) error {
	if strings.TrimSpace(p.Code) == "" {
		return errors.New("crs: projection code is required")
	}
	if p.ToWGS84 == nil || p.FromWGS84 == nil {
		return fmt.Errorf("crs: projection %s needs both directions", p.Code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[normalize(p.Code)] = p
	for _, a := range p.Aliases {
		r.byKey[normalize(a)] = p
	}
	return nil
}

func (r *Registry) Lookup(code string) (Projection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[normalize(code)]
	if !ok {
		return Projection{}, &UnknownCRSError{Code: code}
	}
	return p, nil
}

// Codes lists canonical codes in sorted order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, p := range r.byKey {
		seen[p.Code] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// IsGeodetic reports whether code is a registered lon/lat system.
func (r *Registry) IsGeodetic(code string) bool {
	p, err := r.Lookup(code)
	return err == nil && p.Geodetic
}
