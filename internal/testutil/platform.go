// Package testutil provides in-memory fakes of the gateway and the target
// platform, and an HTTP server exposing them, for tests across packages.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/gwimport/internal/model"
	"github.com/roach88/gwimport/internal/platform"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// Platform is an in-memory gateway and management platform.
//
// It implements platform.Platform and source.Fetcher. Every write is
// appended to Calls as "<kind>:<name>" so tests can assert ordering.
//
// Thread-safety: all methods are safe for concurrent use.
type Platform struct {
	mu sync.Mutex

	SourceInstances []model.SourceInstance
	Catalogs        map[string]model.Catalog

	Teams         []model.Team
	APIs          []model.API
	Subscriptions []model.Subscription

	// FailFetch fails the named catalog fetch ("groups", "services", "apikeys", "instances").
	FailFetch map[string]error
	// FailTeam fails CreateTeam for the named team.
	FailTeam map[string]error
	// FailAPI fails CreateAPI for the named API.
	FailAPI map[string]error
	// FailSubscription fails CreateSubscription for the client id.
	FailSubscription map[string]error
	// FailList fails ListTeams and ListAPIs.
	FailList error

	Calls []string

	seq int
}

var _ platform.Platform = (*Platform)(nil)

// NewPlatform creates an empty fake.
func NewPlatform() *Platform {
	return &Platform{
		Catalogs:         map[string]model.Catalog{},
		FailFetch:        map[string]error{},
		FailTeam:         map[string]error{},
		FailAPI:          map[string]error{},
		FailSubscription: map[string]error{},
	}
}

// AddInstance registers a gateway instance with its catalog.
func (p *Platform) AddInstance(inst model.SourceInstance, catalog model.Catalog) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SourceInstances = append(p.SourceInstances, inst)
	p.Catalogs[inst.ID] = catalog
}

// AddTeam registers an existing team.
func (p *Platform) AddTeam(team model.Team) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Teams = append(p.Teams, team)
}

// AddAPI registers an existing API.
func (p *Platform) AddAPI(api model.API) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.APIs = append(p.APIs, api)
}

// CallLog returns a copy of the write call log.
func (p *Platform) CallLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Calls)
}

func (p *Platform) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s-%d", prefix, p.seq)
}

// Instances implements source.Fetcher.
func (p *Platform) Instances(ctx context.Context) ([]model.SourceInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailFetch["instances"]; err != nil {
		return nil, err
	}
	return slices.Clone(p.SourceInstances), nil
}

func (p *Platform) catalog(resource, instanceID string) (model.Catalog, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.FailFetch[resource]; err != nil {
		return model.Catalog{}, err
	}
	c, ok := p.Catalogs[instanceID]
	if !ok {
		return model.Catalog{}, fmt.Errorf("instance %q not found", instanceID)
	}
	return c, nil
}

// Groups implements source.Fetcher.
func (p *Platform) Groups(ctx context.Context, instanceID string) ([]model.SourceGroup, error) {
	c, err := p.catalog("groups", instanceID)
	return slices.Clone(c.Groups), err
}

// Services implements source.Fetcher.
func (p *Platform) Services(ctx context.Context, instanceID string) ([]model.SourceService, error) {
	c, err := p.catalog("services", instanceID)
	return slices.Clone(c.Services), err
}

// APIKeys implements source.Fetcher.
func (p *Platform) APIKeys(ctx context.Context, instanceID string) ([]model.SourceAPIKey, error) {
	c, err := p.catalog("apikeys", instanceID)
	return slices.Clone(c.APIKeys), err
}

// ListTeams implements platform.Platform.
func (p *Platform) ListTeams(ctx context.Context) ([]model.Team, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailList != nil {
		return nil, p.FailList
	}
	return slices.Clone(p.Teams), nil
}

// CreateTeam implements platform.Platform.
func (p *Platform) CreateTeam(ctx context.Context, draft model.TeamDraft) (model.Team, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, "team:"+draft.Name)
	if err := p.FailTeam[draft.Name]; err != nil {
		return model.Team{}, err
	}
	team := model.Team{
		ID:          p.nextID("team"),
		Name:        draft.Name,
		Description: draft.Description,
		Contact:     draft.Contact,
		Type:        "Organization",
	}
	p.Teams = append(p.Teams, team)
	return team, nil
}

// ListAPIs implements platform.Platform.
func (p *Platform) ListAPIs(ctx context.Context) ([]model.API, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailList != nil {
		return nil, p.FailList
	}
	return slices.Clone(p.APIs), nil
}

// CreateAPI implements platform.Platform.
func (p *Platform) CreateAPI(ctx context.Context, req platform.NewAPI) (model.API, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, "api:"+req.Name)
	if err := p.FailAPI[req.Name]; err != nil {
		return model.API{}, err
	}
	if !slices.ContainsFunc(p.Teams, func(t model.Team) bool { return t.ID == req.Team }) {
		return model.API{}, fmt.Errorf("team %q not found", req.Team)
	}
	api := model.API{
		ID:              p.nextID("api"),
		HumanReadableID: req.HumanReadableID,
		Name:            req.Name,
		Team:            req.Team,
		Published:       req.Published,
		CurrentVersion:  "1.0.0",
		Plans:           make([]model.UsagePlan, len(req.Plans)),
	}
	for i, plan := range req.Plans {
		if plan.ID == "" {
			plan.ID = p.nextID("plan")
		}
		api.Plans[i] = plan
	}
	p.APIs = append(p.APIs, api)
	return api, nil
}

// GetAPI implements platform.Platform.
func (p *Platform) GetAPI(ctx context.Context, teamID, apiID string) (model.API, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, api := range p.APIs {
		if api.ID == apiID && api.Team == teamID {
			return api, nil
		}
	}
	return model.API{}, fmt.Errorf("api %q not found", apiID)
}

// UpdateAPI implements platform.Platform.
func (p *Platform) UpdateAPI(ctx context.Context, api model.API) (model.API, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, "update:"+api.Name)
	for i, existing := range p.APIs {
		if existing.ID == api.ID {
			for j := range api.Plans {
				if api.Plans[j].ID == "" {
					api.Plans[j].ID = p.nextID("plan")
				}
			}
			p.APIs[i] = api
			return api, nil
		}
	}
	return model.API{}, fmt.Errorf("api %q not found", api.ID)
}

// CreateSubscription implements platform.Platform.
func (p *Platform) CreateSubscription(ctx context.Context, req platform.NewSubscription) (model.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, "sub:"+req.APIKey.ClientID)
	if err := p.FailSubscription[req.APIKey.ClientID]; err != nil {
		return model.Subscription{}, err
	}
	sub := model.Subscription{
		ID:         p.nextID("sub"),
		Team:       req.Team,
		API:        req.API,
		Plan:       req.Plan,
		ClientID:   req.APIKey.ClientID,
		ClientName: req.APIKey.ClientName,
	}
	p.Subscriptions = append(p.Subscriptions, sub)
	return sub, nil
}
