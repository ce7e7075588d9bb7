package service

import (
	"gorm.io/gorm"

	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/database"
	"github.com/shopfloor/isos/pkg/history"
)

// Set holds one Service per registered asset type.
type Set struct {
	db       *gorm.DB
	registry *asset.Registry
	services map[string]*Service
	ordered  []*Service
}

// NewSet creates a service for every asset type in reg.
func NewSet(db *gorm.DB, reg *asset.Registry, opts Options) *Set {
	set := &Set{db: db, registry: reg, services: make(map[string]*Service)}
	for _, d := range reg.All() {
		svc := New(db, d, opts)
		set.services[d.Name] = svc
		set.ordered = append(set.ordered, svc)
	}
	return set
}

// Lookup resolves the service of an asset type by name or slug.
func (s *Set) Lookup(nameOrSlug string) (*Service, bool) {
	d, ok := s.registry.Lookup(nameOrSlug)
	if !ok {
		return nil, false
	}
	svc, ok := s.services[d.Name]
	return svc, ok
}

// All returns the services in registration order.
func (s *Set) All() []*Service {
	return s.ordered
}

// Migrators returns the schema migrators of the asset, history, cycle and operator tables.
func (s *Set) Migrators() []database.Migrator {
	ms := []database.Migrator{asset.NewStore(s.db), history.NewRecorder(s.db)}
	if len(s.ordered) > 0 {
		ms = append(ms, s.ordered[0].tracker, s.ordered[0].operators)
	}
	return ms
}
