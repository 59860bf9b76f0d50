// Package staging holds the operator's proposed target entities until commit.
//
// Proposals are keyed by source id. Staging a key twice replaces the earlier
// proposal, so a key is present at most once at any instant. Lookups are map
// indexed; ordered views are built only by Snapshot.
package staging

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/gwimport/internal/model"
)

// PendingTeamPrefix prefixes placeholder ids of teams proposed during staging.
const PendingTeamPrefix = "pending-"

// IsPendingTeam reports whether id is a placeholder for a proposed team.
func IsPendingTeam(id string) bool {
	return strings.HasPrefix(id, PendingTeamPrefix)
}

// Snapshot is an ordered, detached copy of the store contents.
// Values going in or out of a Store never alias its internal state.
type Snapshot struct {
	APIs          []model.StagedAPI
	Subscriptions []model.StagedSubscription
	PendingTeams  []model.TeamDraft
}

// Empty reports whether nothing is staged.
// Pending teams alone do not count as staged work.
func (s Snapshot) Empty() bool {
	return len(s.APIs) == 0 && len(s.Subscriptions) == 0
}

// Store is an in-memory keyed collection of staged proposals.
//
// Thread-safety: all methods are safe for concurrent use, though a workflow
// session only ever calls them from one goroutine.
type Store struct {
	mu    sync.RWMutex
	apis  map[string]model.StagedAPI
	subs  map[string]model.StagedSubscription
	teams map[string]model.TeamDraft
}

// New creates an empty store.
func New() *Store {
	return &Store{
		apis:  map[string]model.StagedAPI{},
		subs:  map[string]model.StagedSubscription{},
		teams: map[string]model.TeamDraft{},
	}
}

// StageAPI inserts or replaces the proposal for sourceServiceID.
func (s *Store) StageAPI(sourceServiceID string, proposal model.StagedAPI) {
	proposal.SourceServiceID = sourceServiceID
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apis[sourceServiceID] = proposal.Clone()
}

// UnstageAPI removes the proposal for sourceServiceID, if any.
func (s *Store) UnstageAPI(sourceServiceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.apis, sourceServiceID)
}

// FindAPI returns the proposal for sourceServiceID.
func (s *Store) FindAPI(sourceServiceID string) (model.StagedAPI, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.apis[sourceServiceID]
	return p.Clone(), ok
}

// StageSubscription inserts or replaces the proposal for sourceAPIKeyID.
func (s *Store) StageSubscription(sourceAPIKeyID string, proposal model.StagedSubscription) {
	proposal.SourceAPIKeyID = sourceAPIKeyID
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sourceAPIKeyID] = proposal.Clone()
}

// UnstageSubscription removes the proposal for sourceAPIKeyID, if any.
func (s *Store) UnstageSubscription(sourceAPIKeyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sourceAPIKeyID)
}

// FindSubscription returns the proposal for sourceAPIKeyID.
func (s *Store) FindSubscription(sourceAPIKeyID string) (model.StagedSubscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.subs[sourceAPIKeyID]
	return p.Clone(), ok
}

// ProposeTeam records a team to be created at commit and returns the draft
// with its placeholder id. Proposing a name already proposed returns the
// existing draft; distinct names that slug alike get numbered ids.
func (s *Store) ProposeTeam(draft model.TeamDraft) model.TeamDraft {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.teams {
		if existing.Name == draft.Name {
			return existing
		}
	}

	base := PendingTeamPrefix + model.Slug(draft.Name)
	id := base
	for n := 2; ; n++ {
		if _, taken := s.teams[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
	draft.ID = id
	s.teams[id] = draft
	return draft
}

// PendingTeam returns the draft with the given placeholder id.
func (s *Store) PendingTeam(id string) (model.TeamDraft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.teams[id]
	return d, ok
}

// PruneTeams drops drafts no staged proposal references.
func (s *Store) PruneTeams() {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := map[string]bool{}
	for _, a := range s.apis {
		used[a.TargetTeamID] = true
	}
	for _, sub := range s.subs {
		used[sub.TargetTeamID] = true
	}
	for id := range s.teams {
		if !used[id] {
			delete(s.teams, id)
		}
	}
}

// Counts returns the number of staged APIs and subscriptions.
func (s *Store) Counts() (apis, subscriptions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apis), len(s.subs)
}

// Snapshot returns the contents in display order.
// Services by (group id, name), subscriptions by client name, drafts by id.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		APIs:          make([]model.StagedAPI, 0, len(s.apis)),
		Subscriptions: make([]model.StagedSubscription, 0, len(s.subs)),
		PendingTeams:  make([]model.TeamDraft, 0, len(s.teams)),
	}
	for _, a := range s.apis {
		snap.APIs = append(snap.APIs, a.Clone())
	}
	for _, sub := range s.subs {
		snap.Subscriptions = append(snap.Subscriptions, sub.Clone())
	}
	for _, d := range s.teams {
		snap.PendingTeams = append(snap.PendingTeams, d)
	}
	model.SortStagedAPIs(snap.APIs)
	model.SortStagedSubscriptions(snap.Subscriptions)
	slices.SortFunc(snap.PendingTeams, func(a, b model.TeamDraft) int {
		return strings.Compare(a.ID, b.ID)
	})
	return snap
}

// Restore replaces the contents with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.apis = make(map[string]model.StagedAPI, len(snap.APIs))
	for _, a := range snap.APIs {
		s.apis[a.SourceServiceID] = a.Clone()
	}
	s.subs = make(map[string]model.StagedSubscription, len(snap.Subscriptions))
	for _, sub := range snap.Subscriptions {
		s.subs[sub.SourceAPIKeyID] = sub.Clone()
	}
	s.teams = make(map[string]model.TeamDraft, len(snap.PendingTeams))
	for _, d := range snap.PendingTeams {
		s.teams[d.ID] = d
	}
}

// Clear removes everything.
func (s *Store) Clear() {
	s.Restore(Snapshot{})
}
