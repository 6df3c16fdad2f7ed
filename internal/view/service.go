// Package view exposes the reconciled entity view to the UI and CLI.
//
// The service runs the fetch -> reconcile -> organize pipeline within a
// single request's lifetime and keeps the last good view per entity type
// so a failed fetch can still render stale-but-available data.
package view

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/catalogops/metasync/internal/entity"
	"github.com/catalogops/metasync/internal/hierarchy"
	"github.com/catalogops/metasync/internal/reconcile"
	"github.com/catalogops/metasync/internal/remote"
	"github.com/catalogops/metasync/internal/store"
)

// CatalogReader is the read-only remote collaborator of the view service.
// *remote.Client satisfies it.
type CatalogReader interface {
	FetchAll(ctx context.Context, entityType entity.Type, pageSize int) ([]remote.Record, []error, error)
}

// View is one reconciled set prepared for rendering.
type View struct {
	*reconcile.Set

	// Stale is true when this view was served from cache because the
	// remote catalog could not be fetched.
	Stale bool `json:"stale"`

	// FetchError carries the fetch failure that forced a stale view.
	FetchError string `json:"fetch_error,omitempty"`

	LoadedAt time.Time `json:"loaded_at"`
}

// Options configures a view request.
type Options struct {
	// Filter narrows the local side of the reconciliation.
	Filter store.ListFilter

	// PageSize overrides the remote fetch page size (0 = default).
	PageSize int

	// ForceRefresh bypasses the TTL cache.
	ForceRefresh bool
}

// Service is the reconciled-view entry point shared by the HTTP server
// and the CLI.
type Service struct {
	store    *store.Store
	catalog  CatalogReader
	cache    *viewCache
	pageSize int
	logger   *log.Logger
}

// ServiceConfig holds view service configuration.
type ServiceConfig struct {
	// PageSize is the default remote fetch page size (default: 100).
	PageSize int

	// CacheTTL bounds how long a cached view counts as fresh
	// (default: 30s; 0 uses the default, negative disables freshness).
	CacheTTL time.Duration

	// Logger for view activity (default: stderr logger).
	Logger *log.Logger
}

// NewService creates a view service.
func NewService(st *store.Store, catalog CatalogReader, cfg *ServiceConfig) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[view] ", log.LstdFlags)
	}
	return &Service{
		store:    st,
		catalog:  catalog,
		cache:    newViewCache(ttl),
		pageSize: pageSize,
		logger:   logger,
	}
}

// ReconciledView loads the three-way reconciled view for one entity type.
//
// On fetch failure the last good view is returned flagged stale; the error
// is only propagated when there is nothing cached to fall back to.
func (s *Service) ReconciledView(ctx context.Context, entityType entity.Type, opts Options) (*View, error) {
	if !opts.ForceRefresh && opts.Filter == (store.ListFilter{}) {
		if v, ok := s.cache.fresh(entityType); ok {
			return v, nil
		}
	}

	local, err := s.store.ListContext(ctx, entityType, opts.Filter)
	if err != nil {
		return nil, err
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	records, parseErrs, err := s.catalog.FetchAll(ctx, entityType, pageSize)
	if err != nil {
		if cached, ok := s.cache.lastGood(entityType); ok {
			s.logger.Printf("Fetch failed for %s, serving stale view: %v", entityType, err)
			stale := *cached
			stale.Stale = true
			stale.FetchError = err.Error()
			return &stale, nil
		}
		return nil, err
	}

	remoteEntities := make([]*entity.Entity, 0, len(records))
	for i := range records {
		remoteEntities = append(remoteEntities, records[i].ToEntity(entityType))
	}

	set := reconcile.Reconcile(entityType, local, remoteEntities)
	for _, pe := range parseErrs {
		set.ParseErrors = append(set.ParseErrors, pe.Error())
	}

	v := &View{Set: set, LoadedAt: time.Now().UTC()}

	// Filtered views are partial; only cache the unfiltered one.
	if opts.Filter == (store.ListFilter{}) {
		s.cache.put(entityType, v)
	}

	s.logger.Printf("Reconciled %s: %d synced, %d local-only, %d remote-only",
		entityType, set.Stats.Synced, set.Stats.LocalOnly, set.Stats.RemoteOnly)
	return v, nil
}

// Tree loads the reconciled view and organizes it into a forest.
// Only meaningful for hierarchical entity types, but safe for all: flat
// types come back as a sorted list of roots.
func (s *Service) Tree(ctx context.Context, entityType entity.Type, opts Options) (*View, []*hierarchy.Node, error) {
	v, err := s.ReconciledView(ctx, entityType, opts)
	if err != nil {
		return nil, nil, err
	}

	roots, err := hierarchy.Organize(v.Items())
	if err != nil {
		return nil, nil, err
	}
	return v, roots, nil
}

// Invalidate drops the cached view for an entity type. Call after any
// action that mutates local or remote state.
func (s *Service) Invalidate(entityType entity.Type) {
	s.cache.invalidate(entityType)
}
