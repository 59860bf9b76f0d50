// Package source reads the catalog of a gateway instance.
//
// The connector is read-only and performs no retries. LoadEntities fetches
// groups, services and API keys concurrently and fails as a whole when any
// one fetch fails; a partial catalog is never returned.
package source
