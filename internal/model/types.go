package model

import (
	"maps"
	"slices"
)

// Track selects which kind of source entity the operator walks.
type Track string

const (
	// TrackServices walks source services and stages APIs.
	TrackServices Track = "services"
	// TrackAPIKeys walks source API keys and stages subscriptions.
	TrackAPIKeys Track = "apikeys"
)

// SourceInstance is one gateway deployment registered with the tenant.
// It is immutable once selected for a session.
type SourceInstance struct {
	ID   string `json:"_id"`
	URL  string `json:"url"`
	Host string `json:"host,omitempty"`
}

// SourceGroup groups zero or more services on the gateway.
type SourceGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SourceService is a gateway service or route.
// Metadata is opaque to the workflow and carried through untouched.
type SourceService struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	GroupID  string            `json:"groupId"`
	Enabled  bool              `json:"enabled"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SourceAPIKey is an API key issued by the gateway.
//
// AuthorizedEntities holds entity references such as "group_<id>" or
// "service_<id>" naming what the key may call.
type SourceAPIKey struct {
	ClientID           string            `json:"clientId"`
	ClientName         string            `json:"clientName"`
	ClientSecret       string            `json:"clientSecret"`
	AuthorizedEntities []string          `json:"authorizedEntities"`
	Enabled            bool              `json:"enabled"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Catalog is everything loaded from one source instance.
type Catalog struct {
	Groups   []SourceGroup   `json:"groups"`
	Services []SourceService `json:"services"`
	APIKeys  []SourceAPIKey  `json:"apikeys"`
}

// Group returns the group with the given id.
func (c Catalog) Group(id string) (SourceGroup, bool) {
	for _, g := range c.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return SourceGroup{}, false
}

// Team is a team on the target platform.
type Team struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact,omitempty"`
	Type        string `json:"type,omitempty"`
}

// TeamDraft is a team proposed during staging that does not exist yet.
// ID is a placeholder referenced by staged entities until commit.
type TeamDraft struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact,omitempty"`
}

// AuthorizedEntities lists the gateway entities a plan grants access to.
type AuthorizedEntities struct {
	Groups   []string `json:"groups"`
	Services []string `json:"services"`
}

// APIKeyCustomization controls keys the gateway issues for a plan.
type APIKeyCustomization struct {
	ClientIDOnly            bool              `json:"clientIdOnly"`
	ConstrainedServicesOnly bool              `json:"constrainedServicesOnly"`
	ReadOnly                bool              `json:"readOnly"`
	Metadata                map[string]string `json:"metadata"`
	Tags                    []string          `json:"tags"`
}

// GatewayTarget binds a usage plan to entities of a source instance.
type GatewayTarget struct {
	InstanceID          string              `json:"otoroshiSettings"`
	AuthorizedEntities  AuthorizedEntities  `json:"authorizedEntities"`
	APIKeyCustomization APIKeyCustomization `json:"apikeyCustomization"`
}

// UsagePlan is one plan of a published API.
type UsagePlan struct {
	ID         string         `json:"_id,omitempty"`
	Type       string         `json:"type"`
	CustomName string         `json:"customName,omitempty"`
	Target     *GatewayTarget `json:"otoroshiTarget,omitempty"`
}

// DisplayName returns the custom name, falling back to the plan type.
func (p UsagePlan) DisplayName() string {
	if p.CustomName != "" {
		return p.CustomName
	}
	return p.Type
}

// API is a published API on the target platform.
type API struct {
	ID              string      `json:"_id"`
	HumanReadableID string      `json:"_humanReadableId"`
	Name            string      `json:"name"`
	Team            string      `json:"team"`
	Published       bool        `json:"published"`
	CurrentVersion  string      `json:"currentVersion,omitempty"`
	Plans           []UsagePlan `json:"possibleUsagePlans"`
}

// Plan returns the usage plan with the given id.
func (a API) Plan(id string) (UsagePlan, bool) {
	for _, p := range a.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return UsagePlan{}, false
}

// Subscription grants a team access to an API plan with a given key.
type Subscription struct {
	ID         string `json:"_id"`
	Team       string `json:"team"`
	API        string `json:"api"`
	Plan       string `json:"plan"`
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName,omitempty"`
}

// StagedAPI is a proposed published API for one source service.
// Keyed by SourceServiceID.
type StagedAPI struct {
	SourceServiceID string    `json:"sourceServiceId"`
	GroupID         string    `json:"groupId"`
	TargetTeamID    string    `json:"team"`
	Name            string    `json:"name"`
	HumanReadableID string    `json:"humanReadableId"`
	PlanSkeleton    UsagePlan `json:"planSkeleton"`
}

// StagedSubscription is a proposed subscription for one source API key.
// Keyed by SourceAPIKeyID.
type StagedSubscription struct {
	SourceAPIKeyID     string   `json:"sourceApiKeyId"`
	TargetTeamID       string   `json:"team"`
	TargetAPIID        string   `json:"api"`
	TargetPlanID       string   `json:"plan"`
	ClientID           string   `json:"clientId"`
	ClientName         string   `json:"clientName"`
	ClientSecret       string   `json:"clientSecret"`
	AuthorizedEntities []string `json:"authorizedEntities"`
}

// Clone returns a copy of t sharing no slice or map with it.
func (t GatewayTarget) Clone() GatewayTarget {
	t.AuthorizedEntities.Groups = slices.Clone(t.AuthorizedEntities.Groups)
	t.AuthorizedEntities.Services = slices.Clone(t.AuthorizedEntities.Services)
	t.APIKeyCustomization.Metadata = maps.Clone(t.APIKeyCustomization.Metadata)
	t.APIKeyCustomization.Tags = slices.Clone(t.APIKeyCustomization.Tags)
	return t
}

// Clone returns a deep copy of p.
func (p UsagePlan) Clone() UsagePlan {
	if p.Target != nil {
		target := p.Target.Clone()
		p.Target = &target
	}
	return p
}

// Clone returns a deep copy of a.
func (a StagedAPI) Clone() StagedAPI {
	a.PlanSkeleton = a.PlanSkeleton.Clone()
	return a
}

// Clone returns a deep copy of s. A nil entity list stays nil.
func (s StagedSubscription) Clone() StagedSubscription {
	s.AuthorizedEntities = slices.Clone(s.AuthorizedEntities)
	return s
}

// Checkpoint is a persisted snapshot of an in-progress session.
// One checkpoint exists per tenant; a new save overwrites the previous one.
type Checkpoint struct {
	SourceInstanceID    string               `json:"otoroshi"`
	TenantID            string               `json:"tenant"`
	StepIndex           int                  `json:"step"`
	StagedAPIs          []StagedAPI          `json:"createdApis"`
	StagedSubscriptions []StagedSubscription `json:"createdSubs"`
	PendingTeams        []TeamDraft          `json:"pendingTeams,omitempty"`
	SessionID           string               `json:"session,omitempty"`
}

// Empty reports whether the checkpoint holds no staged entity.
func (c Checkpoint) Empty() bool {
	return len(c.StagedAPIs) == 0 && len(c.StagedSubscriptions) == 0
}

// Track returns the track a resumed session should re-enter.
// Staged APIs take precedence over staged subscriptions.
func (c Checkpoint) Track() (Track, bool) {
	switch {
	case len(c.StagedAPIs) > 0:
		return TrackServices, true
	case len(c.StagedSubscriptions) > 0:
		return TrackAPIKeys, true
	default:
		return "", false
	}
}

// Failure records one staged item that could not be created.
type Failure struct {
	SourceID string `json:"sourceId"`
	Reason   string `json:"reason"`
}

// CommitResult reports the outcome of a batch commit.
type CommitResult struct {
	CreatedTeams         []Team         `json:"createdTeams"`
	CreatedAPIs          []API          `json:"createdApis"`
	CreatedSubscriptions []Subscription `json:"createdSubscriptions"`
	Failures             []Failure      `json:"failures"`
	// Committed lists the source ids whose target entity was created.
	Committed            []string       `json:"committed"`
}

// HasFailures reports whether any item failed.
func (r CommitResult) HasFailures() bool {
	return len(r.Failures) > 0
}

// Failed reports whether the given source id is among the failures.
func (r CommitResult) Failed(sourceID string) bool {
	for _, f := range r.Failures {
		if f.SourceID == sourceID {
			return true
		}
	}
	return false
}
