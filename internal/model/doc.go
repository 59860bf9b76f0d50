// Package model defines the entities exchanged by the import workflow.
//
// Source entities (instances, groups, services, API keys) are read from the
// API gateway being imported. Target entities (teams, APIs, usage plans,
// subscriptions) live on the management platform. Staged entities sit in
// between: an operator's proposed mapping from one source entity to one
// target entity, keyed by the source entity's id, not yet committed.
//
// # Display Ordering
//
// Every list shown to an operator or committed as a batch is ordered
// deterministically:
//   - services and staged APIs by (group id, name), ascending, byte-wise
//   - API keys and staged subscriptions by client name, ascending, byte-wise
//
// Source ids break ties so repeated sorts of unchanged input are identical.
package model
