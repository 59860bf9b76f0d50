// Package platform talks to the management platform that receives the
// imported entities: teams, published APIs and subscriptions.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/roach88/gwimport/internal/httpapi"
	"github.com/roach88/gwimport/internal/model"
)

// Platform is the set of read and write calls the import workflow makes.
// Implemented by HTTPClient (production) and testutil.Platform (tests).
type Platform interface {
	ListTeams(ctx context.Context) ([]model.Team, error)
	CreateTeam(ctx context.Context, draft model.TeamDraft) (model.Team, error)
	ListAPIs(ctx context.Context) ([]model.API, error)
	CreateAPI(ctx context.Context, req NewAPI) (model.API, error)
	GetAPI(ctx context.Context, teamID, apiID string) (model.API, error)
	UpdateAPI(ctx context.Context, api model.API) (model.API, error)
	CreateSubscription(ctx context.Context, req NewSubscription) (model.Subscription, error)
}

// NewAPI is the payload for creating a published API.
type NewAPI struct {
	Name            string            `json:"name"`
	HumanReadableID string            `json:"_humanReadableId"`
	Team            string            `json:"team"`
	Published       bool              `json:"published"`
	Plans           []model.UsagePlan `json:"possibleUsagePlans"`
}

// APIKey is the credential pair carried over from the gateway.
type APIKey struct {
	ClientID     string `json:"clientId"`
	ClientName   string `json:"clientName"`
	ClientSecret string `json:"clientSecret"`
}

// NewSubscription is the payload for creating a subscription with an
// existing gateway key.
type NewSubscription struct {
	Team               string   `json:"team"`
	API                string   `json:"api"`
	Plan               string   `json:"plan"`
	APIKey             APIKey   `json:"apikey"`
	AuthorizedEntities []string `json:"authorizedEntities,omitempty"`
}

// HTTPClient implements Platform over the platform REST API.
type HTTPClient struct {
	client *httpapi.Client
}

var _ Platform = (*HTTPClient)(nil)

// NewHTTPClient creates a platform client over transport.
func NewHTTPClient(client *httpapi.Client) *HTTPClient {
	return &HTTPClient{client: client}
}

// ListTeams returns the tenant's teams.
func (c *HTTPClient) ListTeams(ctx context.Context) ([]model.Team, error) {
	var out []model.Team
	if err := c.client.Get(ctx, "/api/teams", &out); err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return out, nil
}

// CreateTeam creates an organization team from a draft.
func (c *HTTPClient) CreateTeam(ctx context.Context, draft model.TeamDraft) (model.Team, error) {
	body := model.Team{
		Name:        draft.Name,
		Description: draft.Description,
		Contact:     draft.Contact,
		Type:        "Organization",
	}
	var out model.Team
	if err := c.client.Do(ctx, http.MethodPost, "/api/teams", body, &out); err != nil {
		return model.Team{}, fmt.Errorf("create team %q: %w", draft.Name, err)
	}
	return out, nil
}

// ListAPIs returns the APIs visible to the tenant.
func (c *HTTPClient) ListAPIs(ctx context.Context) ([]model.API, error) {
	var out []model.API
	if err := c.client.Get(ctx, "/api/apis", &out); err != nil {
		return nil, fmt.Errorf("list apis: %w", err)
	}
	return out, nil
}

// CreateAPI creates a published API owned by req.Team.
func (c *HTTPClient) CreateAPI(ctx context.Context, req NewAPI) (model.API, error) {
	var out model.API
	path := "/api/teams/" + url.PathEscape(req.Team) + "/apis"
	if err := c.client.Do(ctx, http.MethodPost, path, req, &out); err != nil {
		return model.API{}, fmt.Errorf("create api %q: %w", req.Name, err)
	}
	return out, nil
}

// GetAPI fetches one API by team and id.
func (c *HTTPClient) GetAPI(ctx context.Context, teamID, apiID string) (model.API, error) {
	var out model.API
	if err := c.client.Get(ctx, apiPath(teamID, apiID), &out); err != nil {
		return model.API{}, fmt.Errorf("get api %s: %w", apiID, err)
	}
	return out, nil
}

// UpdateAPI replaces an API.
func (c *HTTPClient) UpdateAPI(ctx context.Context, api model.API) (model.API, error) {
	var out model.API
	if err := c.client.Do(ctx, http.MethodPut, apiPath(api.Team, api.ID), api, &out); err != nil {
		return model.API{}, fmt.Errorf("update api %s: %w", api.ID, err)
	}
	return out, nil
}

// CreateSubscription subscribes a team to an API plan with an existing key.
func (c *HTTPClient) CreateSubscription(ctx context.Context, req NewSubscription) (model.Subscription, error) {
	var out model.Subscription
	path := "/api/apis/" + url.PathEscape(req.API) + "/subscriptions/_init"
	if err := c.client.Do(ctx, http.MethodPost, path, req, &out); err != nil {
		return model.Subscription{}, fmt.Errorf("create subscription %s: %w", req.APIKey.ClientID, err)
	}
	return out, nil
}

func apiPath(teamID, apiID string) string {
	return "/api/teams/" + url.PathEscape(teamID) + "/apis/" + url.PathEscape(apiID)
}
