package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gwimport/internal/model"
)

func TestStageAPI_ReplacesByKey(t *testing.T) {
	s := New()
	p1 := model.StagedAPI{Name: "first", TargetTeamID: "t1"}
	p2 := model.StagedAPI{Name: "second", TargetTeamID: "t2"}

	s.StageAPI("svc-1", p1)
	s.StageAPI("svc-1", p2)

	got, ok := s.FindAPI("svc-1")
	require.True(t, ok)
	p2.SourceServiceID = "svc-1"
	assert.Equal(t, p2, got)

	apis, subs := s.Counts()
	assert.Equal(t, 1, apis)
	assert.Zero(t, subs)
}

func TestStageAPI_KeyOverridesProposalField(t *testing.T) {
	s := New()
	s.StageAPI("svc-1", model.StagedAPI{SourceServiceID: "other", Name: "x"})

	_, ok := s.FindAPI("other")
	assert.False(t, ok)
	got, ok := s.FindAPI("svc-1")
	require.True(t, ok)
	assert.Equal(t, "svc-1", got.SourceServiceID)
}

func TestUnstageAPI(t *testing.T) {
	s := New()
	s.StageAPI("svc-1", model.StagedAPI{Name: "x"})

	s.UnstageAPI("svc-1")
	s.UnstageAPI("never-staged")

	_, ok := s.FindAPI("svc-1")
	assert.False(t, ok)
	assert.True(t, s.Snapshot().Empty())
}

func TestStageSubscription_ReplacesByKey(t *testing.T) {
	s := New()
	s.StageSubscription("key-1", model.StagedSubscription{TargetPlanID: "p1"})
	s.StageSubscription("key-1", model.StagedSubscription{TargetPlanID: "p2"})

	got, ok := s.FindSubscription("key-1")
	require.True(t, ok)
	assert.Equal(t, "p2", got.TargetPlanID)
	assert.Equal(t, "key-1", got.SourceAPIKeyID)

	s.UnstageSubscription("key-1")
	_, ok = s.FindSubscription("key-1")
	assert.False(t, ok)
}

func TestSnapshot_DisplayOrder(t *testing.T) {
	s := New()
	s.StageAPI("s1", model.StagedAPI{Name: "b", GroupID: "g1"})
	s.StageAPI("s2", model.StagedAPI{Name: "a", GroupID: "g1"})
	s.StageAPI("s3", model.StagedAPI{Name: "a", GroupID: "g0"})
	s.StageSubscription("k1", model.StagedSubscription{ClientName: "zulu"})
	s.StageSubscription("k2", model.StagedSubscription{ClientName: "alpha"})

	first := s.Snapshot()
	names := []string{}
	for _, a := range first.APIs {
		names = append(names, a.GroupID+"/"+a.Name)
	}
	assert.Equal(t, []string{"g0/a", "g1/a", "g1/b"}, names)
	assert.Equal(t, "alpha", first.Subscriptions[0].ClientName)

	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Snapshot())
	}
}

func TestSnapshot_IsDetached(t *testing.T) {
	s := New()
	s.StageAPI("s1", model.StagedAPI{Name: "a", PlanSkeleton: model.DefaultPlanSkeleton("oto-1", "s1")})
	s.StageSubscription("k1", model.StagedSubscription{AuthorizedEntities: []string{"group_g1"}})

	snap := s.Snapshot()
	snap.APIs[0].Name = "mutated"
	snap.APIs[0].PlanSkeleton.Target.InstanceID = "mutated"
	snap.APIs[0].PlanSkeleton.Target.AuthorizedEntities.Services[0] = "other"
	snap.Subscriptions[0].AuthorizedEntities[0] = "other"

	got, ok := s.FindAPI("s1")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name)
	require.NotNil(t, got.PlanSkeleton.Target)
	assert.Equal(t, "oto-1", got.PlanSkeleton.Target.InstanceID)
	assert.Equal(t, []string{"s1"}, got.PlanSkeleton.Target.AuthorizedEntities.Services)

	sub, ok := s.FindSubscription("k1")
	require.True(t, ok)
	assert.Equal(t, []string{"group_g1"}, sub.AuthorizedEntities)
}

func TestStore_DoesNotAliasCallerValues(t *testing.T) {
	s := New()
	proposal := model.StagedAPI{Name: "a", PlanSkeleton: model.DefaultPlanSkeleton("oto-1", "s1")}
	s.StageAPI("s1", proposal)
	proposal.PlanSkeleton.Target.InstanceID = "after-stage"

	found, _ := s.FindAPI("s1")
	found.PlanSkeleton.Target.AuthorizedEntities.Services[0] = "after-find"

	got, _ := s.FindAPI("s1")
	assert.Equal(t, "oto-1", got.PlanSkeleton.Target.InstanceID)
	assert.Equal(t, []string{"s1"}, got.PlanSkeleton.Target.AuthorizedEntities.Services)

	entities := []string{"service_s1"}
	snap := Snapshot{
		APIs:          []model.StagedAPI{{SourceServiceID: "s2", PlanSkeleton: model.DefaultPlanSkeleton("oto-1", "s2")}},
		Subscriptions: []model.StagedSubscription{{SourceAPIKeyID: "k1", AuthorizedEntities: entities}},
	}
	other := New()
	other.Restore(snap)
	snap.APIs[0].PlanSkeleton.Target.InstanceID = "after-restore"
	entities[0] = "after-restore"

	restored, _ := other.FindAPI("s2")
	assert.Equal(t, "oto-1", restored.PlanSkeleton.Target.InstanceID)
	sub, _ := other.FindSubscription("k1")
	assert.Equal(t, []string{"service_s1"}, sub.AuthorizedEntities)
}

func TestProposeTeam(t *testing.T) {
	s := New()

	d1 := s.ProposeTeam(model.TeamDraft{Name: "Payments Team"})
	assert.Equal(t, "pending-payments-team", d1.ID)
	assert.True(t, IsPendingTeam(d1.ID))

	again := s.ProposeTeam(model.TeamDraft{Name: "Payments Team", Contact: "ignored"})
	assert.Equal(t, d1, again)

	clash := s.ProposeTeam(model.TeamDraft{Name: "payments-team"})
	assert.Equal(t, "pending-payments-team-2", clash.ID)

	got, ok := s.PendingTeam(clash.ID)
	require.True(t, ok)
	assert.Equal(t, "payments-team", got.Name)
	assert.False(t, IsPendingTeam("team-1"))
}

func TestPruneTeams(t *testing.T) {
	s := New()
	used := s.ProposeTeam(model.TeamDraft{Name: "Used"})
	s.ProposeTeam(model.TeamDraft{Name: "Unused"})
	s.StageAPI("s1", model.StagedAPI{Name: "a", TargetTeamID: used.ID})

	s.PruneTeams()

	snap := s.Snapshot()
	require.Len(t, snap.PendingTeams, 1)
	assert.Equal(t, used.ID, snap.PendingTeams[0].ID)
}

func TestRestore_RoundTrip(t *testing.T) {
	s := New()
	team := s.ProposeTeam(model.TeamDraft{Name: "T"})
	s.StageAPI("s1", model.StagedAPI{Name: "a", GroupID: "g", TargetTeamID: team.ID})
	s.StageSubscription("k1", model.StagedSubscription{ClientName: "c", TargetTeamID: "t9"})
	snap := s.Snapshot()

	other := New()
	other.Restore(snap)

	assert.Equal(t, snap, other.Snapshot())

	other.Clear()
	assert.True(t, other.Snapshot().Empty())
	assert.Empty(t, other.Snapshot().PendingTeams)
}
