package source

import (
	"context"
	"fmt"
	"net/url"

	"github.com/roach88/gwimport/internal/httpapi"
	"github.com/roach88/gwimport/internal/model"
)

// HTTPFetcher reads the gateway catalog through the platform's tenant-scoped
// proxy endpoints:
//
//	GET /api/tenants/{tenant}/otoroshis/simplified
//	GET /api/tenants/{tenant}/otoroshis/{id}/groups
//	GET /api/tenants/{tenant}/otoroshis/{id}/services
//	GET /api/tenants/{tenant}/otoroshis/{id}/apikeys
type HTTPFetcher struct {
	client *httpapi.Client
	tenant string
}

// NewHTTPFetcher creates a fetcher scoped to tenant.
func NewHTTPFetcher(client *httpapi.Client, tenant string) *HTTPFetcher {
	return &HTTPFetcher{client: client, tenant: tenant}
}

func (f *HTTPFetcher) base() string {
	return "/api/tenants/" + url.PathEscape(f.tenant) + "/otoroshis"
}

// Instances lists gateway instances.
func (f *HTTPFetcher) Instances(ctx context.Context) ([]model.SourceInstance, error) {
	var out []model.SourceInstance
	if err := f.client.Get(ctx, f.base()+"/simplified", &out); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return out, nil
}

// Groups lists the service groups of an instance.
func (f *HTTPFetcher) Groups(ctx context.Context, instanceID string) ([]model.SourceGroup, error) {
	var out []model.SourceGroup
	if err := f.client.Get(ctx, f.instancePath(instanceID, "groups"), &out); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return out, nil
}

// Services lists the services of an instance.
func (f *HTTPFetcher) Services(ctx context.Context, instanceID string) ([]model.SourceService, error) {
	var out []model.SourceService
	if err := f.client.Get(ctx, f.instancePath(instanceID, "services"), &out); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return out, nil
}

// APIKeys lists the API keys issued by an instance.
func (f *HTTPFetcher) APIKeys(ctx context.Context, instanceID string) ([]model.SourceAPIKey, error) {
	var out []model.SourceAPIKey
	if err := f.client.Get(ctx, f.instancePath(instanceID, "apikeys"), &out); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return out, nil
}

func (f *HTTPFetcher) instancePath(instanceID, resource string) string {
	return f.base() + "/" + url.PathEscape(instanceID) + "/" + resource
}
