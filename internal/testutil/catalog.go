package testutil

import "github.com/roach88/gwimport/internal/model"

// SampleCatalog returns a small gateway catalog with two groups, three
// services in non-display order and three API keys.
func SampleCatalog() model.Catalog {
	return model.Catalog{
		Groups: []model.SourceGroup{
			{ID: "g1", Name: "Payments"},
			{ID: "g0", Name: "Core"},
		},
		Services: []model.SourceService{
			{ID: "svc-b", Name: "b", GroupID: "g1", Enabled: true},
			{ID: "svc-a1", Name: "a", GroupID: "g1", Enabled: true},
			{ID: "svc-a0", Name: "a", GroupID: "g0", Enabled: true},
		},
		APIKeys: []model.SourceAPIKey{
			{ClientID: "key-z", ClientName: "zulu", ClientSecret: "s-z", AuthorizedEntities: []string{"group_g1"}, Enabled: true},
			{ClientID: "key-a", ClientName: "alpha", ClientSecret: "s-a", AuthorizedEntities: []string{"service_svc-a0"}, Enabled: true},
			{ClientID: "key-m", ClientName: "mike", ClientSecret: "s-m", AuthorizedEntities: []string{"group_g0", "group_g1"}, Enabled: true},
		},
	}
}

// SampleInstance is the instance SampleCatalog is registered under.
func SampleInstance() model.SourceInstance {
	return model.SourceInstance{ID: "oto-1", URL: "https://otoroshi.example.com"}
}
