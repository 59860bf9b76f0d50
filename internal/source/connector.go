package source

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/gwimport/internal/model"
)

// Fetcher performs the individual read calls against the gateway.
// Implemented by HTTPFetcher (production) and in-memory fakes (tests).
type Fetcher interface {
	Instances(ctx context.Context) ([]model.SourceInstance, error)
	Groups(ctx context.Context, instanceID string) ([]model.SourceGroup, error)
	Services(ctx context.Context, instanceID string) ([]model.SourceService, error)
	APIKeys(ctx context.Context, instanceID string) ([]model.SourceAPIKey, error)
}

// Connector lists instances and loads instance catalogs.
type Connector struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewConnector creates a Connector over fetcher.
func NewConnector(fetcher Fetcher, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{fetcher: fetcher, logger: logger}
}

// ListInstances returns the gateway instances registered with the tenant.
func (c *Connector) ListInstances(ctx context.Context) ([]model.SourceInstance, error) {
	instances, err := c.fetcher.Instances(ctx)
	if err != nil {
		return nil, model.WrapError(model.ErrCatalogLoad, "list source instances", err)
	}
	if instances == nil {
		instances = []model.SourceInstance{}
	}
	return instances, nil
}

// LoadEntities fetches the catalog of one instance.
//
// The three fetches run concurrently; the first failure cancels the others
// and is returned as an ErrCatalogLoad error. Services and API keys are
// returned in display order.
func (c *Connector) LoadEntities(ctx context.Context, instanceID string) (model.Catalog, error) {
	var (
		groups   []model.SourceGroup
		services []model.SourceService
		keys     []model.SourceAPIKey
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		groups, err = c.fetcher.Groups(gctx, instanceID)
		if err != nil {
			return model.WrapError(model.ErrCatalogLoad, "fetch groups", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		services, err = c.fetcher.Services(gctx, instanceID)
		if err != nil {
			return model.WrapError(model.ErrCatalogLoad, "fetch services", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		keys, err = c.fetcher.APIKeys(gctx, instanceID)
		if err != nil {
			return model.WrapError(model.ErrCatalogLoad, "fetch api keys", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		c.logger.Warn("catalog load failed", "instance", instanceID, "error", err)
		return model.Catalog{}, err
	}

	if groups == nil {
		groups = []model.SourceGroup{}
	}
	if services == nil {
		services = []model.SourceService{}
	}
	if keys == nil {
		keys = []model.SourceAPIKey{}
	}
	model.SortServices(services)
	model.SortAPIKeys(keys)

	c.logger.Debug("catalog loaded",
		"instance", instanceID,
		"groups", len(groups),
		"services", len(services),
		"apikeys", len(keys),
	)
	return model.Catalog{Groups: groups, Services: services, APIKeys: keys}, nil
}
