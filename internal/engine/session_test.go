package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gwimport/internal/checkpoint"
	"github.com/roach88/gwimport/internal/commit"
	"github.com/roach88/gwimport/internal/model"
	"github.com/roach88/gwimport/internal/source"
	"github.com/roach88/gwimport/internal/testutil"
)

const tenant = "acme"

type fixture struct {
	platform  *testutil.Platform
	backend   *checkpoint.MemoryBackend
	store     *checkpoint.Store
	completed []model.CommitResult
}

func newFixture(catalog model.Catalog) *fixture {
	p := testutil.NewPlatform()
	p.AddInstance(testutil.SampleInstance(), catalog)
	p.AddTeam(model.Team{ID: "T1", Name: "Team One"})
	backend := checkpoint.NewMemoryBackend()
	return &fixture{
		platform: p,
		backend:  backend,
		store:    checkpoint.NewStore(backend, nil),
	}
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(Config{
		Catalog:     source.NewConnector(f.platform, nil),
		Platform:    f.platform,
		Committer:   commit.New(f.platform),
		Checkpoints: f.store,
		Tenant:      tenant,
		SessionID:   "session-1",
		OnComplete:  func(r model.CommitResult) { f.completed = append(f.completed, r) },
	})
	require.NoError(t, err)
	return s
}

func twoServiceCatalog() model.Catalog {
	return model.Catalog{
		Groups: []model.SourceGroup{{ID: "g1", Name: "Group One"}},
		Services: []model.SourceService{
			{ID: "svc-b", Name: "svcB", GroupID: "g1"},
			{ID: "svc-a", Name: "svcA", GroupID: "g1"},
		},
	}
}

// send delivers ev and requires it to be accepted.
func send(t *testing.T, s *Session, ev Event) State {
	t.Helper()
	st, err := s.Send(context.Background(), ev)
	require.NoError(t, err, "send %s", ev)
	return st
}

// stageCurrent stages the default proposal of the current service for team.
func stageCurrent(t *testing.T, s *Session, team string) {
	t.Helper()
	proposal, staged, ok := s.Proposal()
	require.True(t, ok)
	require.False(t, staged)
	proposal.TargetTeamID = team
	require.NoError(t, s.StageAPI(context.Background(), proposal))
}

func TestSession_EndToEnd(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	s := f.session(t)
	ctx := context.Background()

	st := send(t, s, Load("oto-1"))
	assert.Equal(t, PhaseTrackSelection, st.Phase)
	assert.Equal(t, 2, st.Services)

	send(t, s, Of(EventLoadService))
	svc, ok := s.CurrentService()
	require.True(t, ok)
	assert.Equal(t, "svc-a", svc.ID)

	// Nothing staged yet.
	_, err := s.Send(ctx, Recap(false))
	assert.True(t, model.IsKind(err, model.ErrNothingStaged))

	stageCurrent(t, s, "T1")
	send(t, s, Of(EventNext))
	svc, _ = s.CurrentService()
	assert.Equal(t, "svc-b", svc.ID)

	st = send(t, s, Of(EventNext))
	assert.Equal(t, PhaseServicesRecap, st.Phase)
	snap := s.Snapshot()
	require.Len(t, snap.APIs, 1)
	assert.Equal(t, "svc-a", snap.APIs[0].SourceServiceID)
	assert.Equal(t, "T1", snap.APIs[0].TargetTeamID)

	_, saved := f.store.Load(ctx, tenant)
	assert.True(t, saved, "staging writes a checkpoint")

	st = send(t, s, Of(EventCreateAPIs))
	assert.Equal(t, PhaseComplete, st.Phase)
	require.NotNil(t, st.Result)
	assert.Len(t, st.Result.CreatedAPIs, 1)
	assert.Empty(t, st.Result.Failures)

	assert.True(t, s.Snapshot().Empty())
	_, saved = f.store.Load(ctx, tenant)
	assert.False(t, saved, "a fully committed batch clears the checkpoint")
	require.Len(t, f.completed, 1)
	assert.Equal(t, []string{"api:svcA"}, f.platform.CallLog())

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "end_to_end", []byte(FormatTrace(s.Trace())))
}

func TestSession_CatalogLoadFailure(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	f.platform.FailFetch["services"] = testutil.ErrInjected
	s := f.session(t)

	st, err := s.Send(context.Background(), Load("oto-1"))
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrCatalogLoad))
	assert.Equal(t, PhaseFailed, st.Phase)
	require.NotNil(t, st.Error)
	assert.Equal(t, model.ErrCatalogLoad, st.Error.Kind)
	assert.Empty(t, s.Catalog().Services, "no partial catalog")

	st = send(t, s, Of(EventRestart))
	assert.Equal(t, Initial(), st)
}

func TestSession_ResumeRestoresStagingAndStep(t *testing.T) {
	f := newFixture(testutil.SampleCatalog())
	first := f.session(t)
	send(t, first, Load("oto-1"))
	send(t, first, Of(EventLoadService))
	send(t, first, Goto(2))
	stageCurrent(t, first, "T1")
	saved := first.Snapshot()

	second := f.session(t)
	st := send(t, second, Of(EventLoadPreviousState))

	assert.Equal(t, PhaseWalkingServices, st.Phase)
	assert.Equal(t, 2, st.StepIndex)
	assert.Equal(t, saved, second.Snapshot())

	proposal, staged, ok := second.Proposal()
	require.True(t, ok)
	assert.True(t, staged)
	assert.Equal(t, "svc-b", proposal.SourceServiceID)
}

func TestSession_ResumeWithoutCheckpoint(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	s := f.session(t)

	st, err := s.Send(context.Background(), Of(EventLoadPreviousState))
	assert.True(t, model.IsKind(err, model.ErrNoSavedState))
	assert.Equal(t, PhaseSourceSelection, st.Phase)
}

func TestSession_ResumeCorruptCheckpoint(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	require.NoError(t, f.backend.Put(context.Background(), checkpoint.Key(tenant), []byte("{oops")))
	s := f.session(t)

	st, err := s.Send(context.Background(), Of(EventLoadPreviousState))
	assert.True(t, model.IsKind(err, model.ErrNoSavedState))
	assert.Equal(t, PhaseSourceSelection, st.Phase)
}

func TestSession_StagingConflicts(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	f.platform.AddAPI(model.API{ID: "api-old", Name: "Legacy", Team: "T1"})
	s := f.session(t)
	ctx := context.Background()

	err := s.StageAPI(ctx, model.StagedAPI{Name: "x", TargetTeamID: "T1"})
	assert.True(t, model.IsKind(err, model.ErrInvalidTransition), "staging requires the services walk")

	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadService))
	require.NoError(t, s.StageAPI(ctx, model.StagedAPI{SourceServiceID: "svc-b", Name: "Taken", TargetTeamID: "T1"}))

	tests := []struct {
		name     string
		proposal model.StagedAPI
	}{
		{"unknown team", model.StagedAPI{Name: "fresh", TargetTeamID: "T9"}},
		{"missing team", model.StagedAPI{Name: "fresh"}},
		{"unknown pending team", model.StagedAPI{Name: "fresh", TargetTeamID: "pending-ghost"}},
		{"empty name", model.StagedAPI{TargetTeamID: "T1"}},
		{"name on platform", model.StagedAPI{Name: "Legacy", TargetTeamID: "T1"}},
		{"name staged elsewhere", model.StagedAPI{Name: "Taken", TargetTeamID: "T1"}},
		{"unknown service", model.StagedAPI{SourceServiceID: "svc-zzz", Name: "fresh", TargetTeamID: "T1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.StageAPI(ctx, tt.proposal)
			require.Error(t, err)
			assert.True(t, model.IsKind(err, model.ErrStagingConflict), "got %v", err)
			assert.Equal(t, PhaseWalkingServices, s.State().Phase)

			for _, a := range s.Snapshot().APIs {
				assert.NotEqual(t, "svc-a", a.SourceServiceID)
			}
		})
	}

	// Restaging the same key under its own name is a replace, not a conflict.
	require.NoError(t, s.StageAPI(ctx, model.StagedAPI{SourceServiceID: "svc-b", Name: "Taken", TargetTeamID: "T1"}))
	assert.Len(t, s.Snapshot().APIs, 1)

	last := s.Trace()[len(s.Trace())-2]
	assert.Equal(t, model.ErrStagingConflict, last.Error)
	assert.Equal(t, last.From, last.To)
}

func TestSession_StageFillsDefaults(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	s := f.session(t)
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadService))

	require.NoError(t, s.StageAPI(context.Background(), model.StagedAPI{Name: "Café Payments", TargetTeamID: "T1"}))

	staged := s.Snapshot().APIs[0]
	assert.Equal(t, "svc-a", staged.SourceServiceID)
	assert.Equal(t, "g1", staged.GroupID)
	assert.Equal(t, "cafe-payments", staged.HumanReadableID)
	assert.Equal(t, model.DefaultPlanSkeleton("oto-1", "svc-a"), staged.PlanSkeleton)
}

func TestSession_PendingTeamCommittedOnce(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	s := f.session(t)
	ctx := context.Background()
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadService))

	draft, err := s.ProposeTeam(ctx, model.TeamDraft{Name: "Payments", Contact: "pay@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "pending-payments", draft.ID)

	_, err = s.ProposeTeam(ctx, model.TeamDraft{Name: "Team One"})
	assert.True(t, model.IsKind(err, model.ErrStagingConflict), "platform team names are taken")

	stageCurrent(t, s, draft.ID)
	send(t, s, Of(EventNext))
	stageCurrent(t, s, draft.ID)

	cp, ok := f.store.Load(ctx, tenant)
	require.True(t, ok)
	assert.Equal(t, []model.TeamDraft{draft}, cp.PendingTeams)

	send(t, s, Recap(false))
	st := send(t, s, Of(EventCreateAPIs))

	assert.Equal(t, PhaseComplete, st.Phase)
	assert.Equal(t, []string{"team:Payments", "api:svcA", "api:svcB"}, f.platform.CallLog())
	assert.Len(t, st.Result.CreatedTeams, 1)
	assert.Empty(t, s.Snapshot().PendingTeams)
}

func TestSession_PartialFailureKeepsLeftovers(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	f.platform.FailAPI["svcB"] = testutil.ErrInjected
	s := f.session(t)
	ctx := context.Background()
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadService))
	stageCurrent(t, s, "T1")
	send(t, s, Of(EventNext))
	stageCurrent(t, s, "T1")
	send(t, s, Recap(false))

	st := send(t, s, Of(EventCreateAPIs))

	assert.Equal(t, PhaseComplete, st.Phase)
	assert.True(t, st.Result.Failed("svc-b"))
	assert.Len(t, st.Result.CreatedAPIs, 1)

	left := s.Snapshot().APIs
	require.Len(t, left, 1)
	assert.Equal(t, "svc-b", left[0].SourceServiceID)

	cp, ok := f.store.Load(ctx, tenant)
	require.True(t, ok, "leftovers stay resumable")
	require.Len(t, cp.StagedAPIs, 1)
	assert.Equal(t, "svc-b", cp.StagedAPIs[0].SourceServiceID)

	// The leftover can be retried once the platform recovers.
	delete(f.platform.FailAPI, "svcB")
	send(t, s, Of(EventLoadService))
	send(t, s, Recap(false))
	st = send(t, s, Of(EventCreateAPIs))
	assert.Empty(t, st.Result.Failures)
	assert.True(t, s.Snapshot().Empty())
}

func TestSession_CommitFatal(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	s := f.session(t)
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadService))
	stageCurrent(t, s, "T1")
	send(t, s, Recap(false))
	f.platform.FailList = testutil.ErrInjected

	st, err := s.Send(context.Background(), Of(EventCreateAPIs))

	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrCommitFatal))
	assert.Equal(t, PhaseFailed, st.Phase)
	require.NotNil(t, st.Error.Result)
	assert.Empty(t, st.Error.Result.CreatedAPIs)
	assert.Len(t, s.Snapshot().APIs, 1, "nothing was created, nothing is unstaged")
	assert.Empty(t, f.completed)
}

func TestSession_CancelAndRollbackKeepStaged(t *testing.T) {
	f := newFixture(testutil.SampleCatalog())
	s := f.session(t)
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadService))
	send(t, s, Goto(1))
	stageCurrent(t, s, "T1")

	st := send(t, s, Recap(false))
	assert.Equal(t, 1, st.StepIndex)
	st = send(t, s, Of(EventRollback))
	assert.Equal(t, PhaseWalkingServices, st.Phase)
	assert.Equal(t, 1, st.StepIndex)

	st = send(t, s, Of(EventCancel))
	assert.Equal(t, PhaseTrackSelection, st.Phase)
	assert.Len(t, s.Snapshot().APIs, 1)

	send(t, s, Of(EventLoadService))
	send(t, s, Goto(1))
	_, staged, ok := s.Proposal()
	require.True(t, ok)
	assert.True(t, staged)
}

func TestSession_LeavingInstanceClearsMemoryNotCheckpoint(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	s := f.session(t)
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadService))
	stageCurrent(t, s, "T1")
	send(t, s, Of(EventCancel))

	st := send(t, s, Of(EventCancel))

	assert.Equal(t, PhaseSourceSelection, st.Phase)
	assert.True(t, s.Snapshot().Empty())
	assert.Empty(t, s.Catalog().Services)
	_, ok := f.store.Load(context.Background(), tenant)
	assert.True(t, ok)
}

func TestSession_APIKeyTrack(t *testing.T) {
	f := newFixture(testutil.SampleCatalog())
	f.platform.AddAPI(model.API{
		ID:    "api-pay",
		Name:  "Payments",
		Team:  "T1",
		Plans: []model.UsagePlan{{ID: "plan-free", Type: model.DefaultPlanType}},
	})
	s := f.session(t)
	ctx := context.Background()
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadAPIKey))

	key, ok := s.CurrentAPIKey()
	require.True(t, ok)
	assert.Equal(t, "alpha", key.ClientName)

	err := s.StageSubscription(ctx, model.StagedSubscription{TargetTeamID: "T1", TargetAPIID: "api-pay", TargetPlanID: "plan-gold"})
	assert.True(t, model.IsKind(err, model.ErrStagingConflict))
	err = s.StageSubscription(ctx, model.StagedSubscription{TargetTeamID: "T1", TargetAPIID: "api-gone", TargetPlanID: "plan-free"})
	assert.True(t, model.IsKind(err, model.ErrStagingConflict))

	require.NoError(t, s.StageSubscription(ctx, model.StagedSubscription{
		TargetTeamID: "T1",
		TargetAPIID:  "api-pay",
		TargetPlanID: "plan-free",
		ClientSecret: "ignored",
	}))
	sub, staged, ok := s.SubscriptionProposal()
	require.True(t, ok)
	assert.True(t, staged)
	assert.Equal(t, "key-a", sub.ClientID)
	assert.Equal(t, "s-a", sub.ClientSecret, "credentials come from the source key")

	send(t, s, Recap(false))
	st := send(t, s, Of(EventCreateAPIKeys))

	assert.Equal(t, PhaseComplete, st.Phase)
	require.Len(t, st.Result.CreatedSubscriptions, 1)
	assert.Equal(t, "key-a", st.Result.CreatedSubscriptions[0].ClientID)
	assert.Equal(t, []string{"sub:key-a"}, f.platform.CallLog())
}

func TestSession_CreatePlanForCurrentKey(t *testing.T) {
	f := newFixture(testutil.SampleCatalog())
	f.platform.AddAPI(model.API{ID: "api-pay", Name: "Payments", Team: "T1"})
	s := f.session(t)
	ctx := context.Background()
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadAPIKey))
	send(t, s, Goto(1)) // mike: group_g0, group_g1

	api, plan, err := s.CreatePlan(ctx, "T1", "api-pay", model.UsagePlan{CustomName: "legacy"})
	require.NoError(t, err)

	require.Len(t, api.Plans, 1)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "legacy", plan.CustomName)
	require.NotNil(t, plan.Target)
	assert.Equal(t, []string{"g0", "g1"}, plan.Target.AuthorizedEntities.Groups)
	assert.Equal(t, []string{"update:Payments"}, f.platform.CallLog())

	// The new plan is immediately usable for staging.
	require.NoError(t, s.StageSubscription(ctx, model.StagedSubscription{
		TargetTeamID: "T1", TargetAPIID: "api-pay", TargetPlanID: plan.ID,
	}))
}

func TestSession_CreatePlanUnknownAPIIsConflict(t *testing.T) {
	f := newFixture(testutil.SampleCatalog())
	s := f.session(t)
	ctx := context.Background()
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadAPIKey))

	_, _, err := s.CreatePlan(ctx, "T1", "api-missing", model.UsagePlan{CustomName: "legacy"})

	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrStagingConflict), "got %v", err)
	assert.False(t, model.IsKind(err, model.ErrCommitItem))
	assert.Empty(t, f.platform.CallLog())
	assert.Equal(t, PhaseWalkingAPIKeys, s.State().Phase)
}

func TestSession_TraceSequence(t *testing.T) {
	f := newFixture(testutil.SampleCatalog())
	s := f.session(t)
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadAPIKey))
	_, _, _ = s.CreatePlan(context.Background(), "T1", "api-missing", model.UsagePlan{})

	trace := s.Trace()
	require.NotEmpty(t, trace)
	for i, entry := range trace {
		assert.Equal(t, int64(i+1), entry.Seq, "entry %d", i)
	}
	assert.Equal(t, model.ErrStagingConflict, trace[len(trace)-1].Error)
}

func TestSession_APIKeysFor(t *testing.T) {
	f := newFixture(testutil.SampleCatalog())
	s := f.session(t)
	send(t, s, Load("oto-1"))

	keys := s.APIKeysFor(model.EntityRef{Kind: model.EntityGroup, ID: "g1"})

	require.Len(t, keys, 2)
	assert.Equal(t, "mike", keys[0].ClientName)
	assert.Equal(t, "zulu", keys[1].ClientName)
}

func TestSession_ResolveTeam(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	s := f.session(t)
	ctx := context.Background()
	send(t, s, Load("oto-1"))
	_, err := s.ProposeTeam(ctx, model.TeamDraft{Name: "Payments"})
	require.NoError(t, err)

	for ref, want := range map[string]string{
		"T1":               "T1",
		"Team One":         "T1",
		"Payments":         "pending-payments",
		"pending-payments": "pending-payments",
	} {
		got, err := s.ResolveTeam(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, want, got, ref)
	}

	_, err = s.ResolveTeam(ctx, "Nobody")
	assert.True(t, model.IsKind(err, model.ErrStagingConflict))
}

func TestSession_InternalEventsRejected(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	s := f.session(t)

	_, err := s.Send(context.Background(), Event{Type: EventCommitDone})
	assert.True(t, model.IsKind(err, model.ErrInvalidTransition))
	assert.Empty(t, s.Trace())
}

func TestSession_CheckpointSaveFailureIsNotFatal(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	f.backend.FailPut = testutil.ErrInjected
	s := f.session(t)
	send(t, s, Load("oto-1"))
	send(t, s, Of(EventLoadService))

	stageCurrent(t, s, "T1")

	assert.Len(t, s.Snapshot().APIs, 1)
	st := send(t, s, Of(EventNext))
	assert.Equal(t, 1, st.StepIndex)
}

// gatedLoader blocks LoadEntities until release is closed.
type gatedLoader struct {
	inner   CatalogLoader
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLoader) LoadEntities(ctx context.Context, instanceID string) (model.Catalog, error) {
	close(g.entered)
	<-g.release
	return g.inner.LoadEntities(ctx, instanceID)
}

func TestSession_BusyWhileLoading(t *testing.T) {
	f := newFixture(twoServiceCatalog())
	loader := &gatedLoader{
		inner:   source.NewConnector(f.platform, nil),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, err := NewSession(Config{
		Catalog:   loader,
		Platform:  f.platform,
		Committer: commit.New(f.platform),
		Tenant:    tenant,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Send(context.Background(), Load("oto-1"))
	}()

	select {
	case <-loader.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("load never started")
	}

	st, err := s.Send(context.Background(), Of(EventCancel))
	assert.True(t, model.IsKind(err, model.ErrBusy))
	assert.Equal(t, PhaseLoadingCatalog, st.Phase)

	close(loader.release)
	wg.Wait()
	assert.Equal(t, PhaseTrackSelection, s.State().Phase)
}

func TestNewSession_Validation(t *testing.T) {
	p := testutil.NewPlatform()

	_, err := NewSession(Config{Tenant: tenant})
	assert.Error(t, err)

	_, err = NewSession(Config{
		Catalog:   source.NewConnector(p, nil),
		Platform:  p,
		Committer: commit.New(p),
	})
	assert.Error(t, err)

	s, err := NewSession(Config{
		Catalog:   source.NewConnector(p, nil),
		Platform:  p,
		Committer: commit.New(p),
		Tenant:    tenant,
	})
	require.NoError(t, err)
	assert.Len(t, s.ID(), 36, "defaults to a uuid")
}
