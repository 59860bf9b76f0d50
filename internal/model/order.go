package model

import (
	"cmp"
	"slices"
	"strings"
)

// SortServices orders services by (group id, name) in place.
func SortServices(services []SourceService) {
	slices.SortFunc(services, func(a, b SourceService) int {
		return cmp.Or(
			strings.Compare(a.GroupID, b.GroupID),
			strings.Compare(a.Name, b.Name),
			strings.Compare(a.ID, b.ID),
		)
	})
}

// SortStagedAPIs orders staged APIs by (group id, name) in place.
func SortStagedAPIs(apis []StagedAPI) {
	slices.SortFunc(apis, func(a, b StagedAPI) int {
		return cmp.Or(
			strings.Compare(a.GroupID, b.GroupID),
			strings.Compare(a.Name, b.Name),
			strings.Compare(a.SourceServiceID, b.SourceServiceID),
		)
	})
}

// SortAPIKeys orders API keys by client name in place.
func SortAPIKeys(keys []SourceAPIKey) {
	slices.SortFunc(keys, func(a, b SourceAPIKey) int {
		return cmp.Or(
			strings.Compare(a.ClientName, b.ClientName),
			strings.Compare(a.ClientID, b.ClientID),
		)
	})
}

// SortStagedSubscriptions orders staged subscriptions by client name in place.
func SortStagedSubscriptions(subs []StagedSubscription) {
	slices.SortFunc(subs, func(a, b StagedSubscription) int {
		return cmp.Or(
			strings.Compare(a.ClientName, b.ClientName),
			strings.Compare(a.SourceAPIKeyID, b.SourceAPIKeyID),
		)
	})
}

// EntityKind is the kind of gateway entity an API key can be authorized on.
type EntityKind string

const (
	EntityGroup   EntityKind = "group"
	EntityService EntityKind = "service"
)

// EntityRef names a gateway entity the way API keys reference it.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// String returns the reference form used in authorized entities, e.g. "group_g1".
func (r EntityRef) String() string {
	return string(r.Kind) + "_" + r.ID
}

// FilterAPIKeys returns the keys authorized on ref, in client name order.
// The input slice is not modified.
func FilterAPIKeys(keys []SourceAPIKey, ref EntityRef) []SourceAPIKey {
	want := ref.String()
	out := make([]SourceAPIKey, 0, len(keys))
	for _, k := range keys {
		if slices.Contains(k.AuthorizedEntities, want) {
			out = append(out, k)
		}
	}
	SortAPIKeys(out)
	return out
}
