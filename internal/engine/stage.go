package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/gwimport/internal/model"
	"github.com/roach88/gwimport/internal/staging"
)

// CurrentService returns the service at the current step.
func (s *Session) CurrentService() (model.SourceService, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase != PhaseWalkingServices {
		return model.SourceService{}, false
	}
	return at(s.catalog.Services, s.state.StepIndex)
}

// CurrentAPIKey returns the API key at the current step.
func (s *Session) CurrentAPIKey() (model.SourceAPIKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase != PhaseWalkingAPIKeys {
		return model.SourceAPIKey{}, false
	}
	return at(s.catalog.APIKeys, s.state.StepIndex)
}

// Proposal returns what to show for the current service: the staged
// proposal if one exists, otherwise a default proposal. staged reports
// which of the two it is.
func (s *Session) Proposal() (proposal model.StagedAPI, staged bool, ok bool) {
	svc, ok := s.CurrentService()
	if !ok {
		return model.StagedAPI{}, false, false
	}
	if p, found := s.staged.FindAPI(svc.ID); found {
		return p, true, true
	}
	return model.DefaultProposal(s.State().InstanceID, svc), false, true
}

// SubscriptionProposal returns the staged subscription for the current API
// key, or a proposal carrying only the key's credentials.
func (s *Session) SubscriptionProposal() (proposal model.StagedSubscription, staged bool, ok bool) {
	key, ok := s.CurrentAPIKey()
	if !ok {
		return model.StagedSubscription{}, false, false
	}
	if p, found := s.staged.FindSubscription(key.ClientID); found {
		return p, true, true
	}
	return model.NewSubscriptionProposal(key, "", "", ""), false, true
}

// APIKeysFor lists the loaded keys authorized on ref.
func (s *Session) APIKeysFor(ref model.EntityRef) []model.SourceAPIKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.FilterAPIKeys(s.catalog.APIKeys, ref)
}

// Teams returns the platform teams.
func (s *Session) Teams(ctx context.Context) ([]model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadRefs(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.teams), nil
}

// APIs returns the platform APIs.
func (s *Session) APIs(ctx context.Context) ([]model.API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadRefs(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.apis), nil
}

// StageAPI validates proposal and stages it.
//
// An empty SourceServiceID targets the current service. A blank
// humanReadableId or plan is filled from the defaults. The proposal is
// rejected with ErrStagingConflict when its team is neither a platform team
// nor a pending draft, or when its name is already used by a platform API
// or by another staged API.
func (s *Session) StageAPI(ctx context.Context, proposal model.StagedAPI) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := proposal.SourceServiceID
	if id == "" {
		if svc, ok := at(s.catalog.Services, s.state.StepIndex); ok {
			id = svc.ID
		}
	}
	err := s.stageAPI(ctx, id, proposal)
	s.recordOp("STAGE_API("+id+")", err)
	if err != nil {
		return err
	}
	s.save(ctx)
	return nil
}

func (s *Session) stageAPI(ctx context.Context, id string, proposal model.StagedAPI) *model.Error {
	if err := s.requirePhase(PhaseWalkingServices, "stage an api"); err != nil {
		return err
	}
	i := slices.IndexFunc(s.catalog.Services, func(svc model.SourceService) bool { return svc.ID == id })
	if i < 0 {
		return model.NewStagingConflict(id, "service is not in the loaded catalog")
	}
	svc := s.catalog.Services[i]

	proposal.SourceServiceID = svc.ID
	proposal.GroupID = svc.GroupID
	if proposal.Name == "" {
		return model.NewStagingConflict(id, "api name is required")
	}
	if proposal.HumanReadableID == "" {
		proposal.HumanReadableID = model.Slug(proposal.Name)
	}
	if proposal.PlanSkeleton.Type == "" {
		proposal.PlanSkeleton = model.DefaultPlanSkeleton(s.state.InstanceID, svc.ID)
	}

	if err := s.loadRefs(ctx); err != nil {
		return err
	}
	if err := s.checkTeam(id, proposal.TargetTeamID); err != nil {
		return err
	}
	if slices.ContainsFunc(s.apis, func(a model.API) bool { return a.Name == proposal.Name }) {
		return model.NewStagingConflict(id, fmt.Sprintf("api name %q is already used on the platform", proposal.Name))
	}
	for _, other := range s.staged.Snapshot().APIs {
		if other.Name == proposal.Name && other.SourceServiceID != id {
			return model.NewStagingConflict(id,
				fmt.Sprintf("api name %q is already staged for service %s", proposal.Name, other.SourceServiceID))
		}
	}

	s.staged.StageAPI(id, proposal)
	return nil
}

// UnstageAPI discards the proposal for a service.
func (s *Session) UnstageAPI(ctx context.Context, sourceServiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.requireIdle("unstage an api")
	s.recordOp("UNSTAGE_API("+sourceServiceID+")", err)
	if err != nil {
		return err
	}
	s.staged.UnstageAPI(sourceServiceID)
	s.staged.PruneTeams()
	s.save(ctx)
	return nil
}

// StageSubscription validates proposal and stages it.
//
// An empty SourceAPIKeyID targets the current key. Credentials and
// authorized entities always come from the source key. The referenced
// team must exist or be pending, and the API and plan must exist on the
// platform; otherwise the proposal is rejected with ErrStagingConflict.
func (s *Session) StageSubscription(ctx context.Context, proposal model.StagedSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := proposal.SourceAPIKeyID
	if id == "" {
		if key, ok := at(s.catalog.APIKeys, s.state.StepIndex); ok {
			id = key.ClientID
		}
	}
	err := s.stageSubscription(ctx, id, proposal)
	s.recordOp("STAGE_SUBSCRIPTION("+id+")", err)
	if err != nil {
		return err
	}
	s.save(ctx)
	return nil
}

func (s *Session) stageSubscription(ctx context.Context, id string, proposal model.StagedSubscription) *model.Error {
	if err := s.requirePhase(PhaseWalkingAPIKeys, "stage a subscription"); err != nil {
		return err
	}
	i := slices.IndexFunc(s.catalog.APIKeys, func(k model.SourceAPIKey) bool { return k.ClientID == id })
	if i < 0 {
		return model.NewStagingConflict(id, "api key is not in the loaded catalog")
	}
	key := s.catalog.APIKeys[i]

	if err := s.loadRefs(ctx); err != nil {
		return err
	}
	if err := s.checkTeam(id, proposal.TargetTeamID); err != nil {
		return err
	}
	j := slices.IndexFunc(s.apis, func(a model.API) bool { return a.ID == proposal.TargetAPIID })
	if j < 0 {
		return model.NewStagingConflict(id, fmt.Sprintf("api %q does not exist", proposal.TargetAPIID))
	}
	if _, ok := s.apis[j].Plan(proposal.TargetPlanID); !ok {
		return model.NewStagingConflict(id,
			fmt.Sprintf("plan %q does not exist on api %q", proposal.TargetPlanID, s.apis[j].Name))
	}

	s.staged.StageSubscription(id, model.NewSubscriptionProposal(key,
		proposal.TargetTeamID, proposal.TargetAPIID, proposal.TargetPlanID))
	return nil
}

// UnstageSubscription discards the proposal for an API key.
func (s *Session) UnstageSubscription(ctx context.Context, sourceAPIKeyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.requireIdle("unstage a subscription")
	s.recordOp("UNSTAGE_SUBSCRIPTION("+sourceAPIKeyID+")", err)
	if err != nil {
		return err
	}
	s.staged.UnstageSubscription(sourceAPIKeyID)
	s.staged.PruneTeams()
	s.save(ctx)
	return nil
}

// ProposeTeam records a team to create at commit and returns its draft.
// A name already taken by a platform team is rejected.
func (s *Session) ProposeTeam(ctx context.Context, draft model.TeamDraft) (model.TeamDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.proposeTeam(ctx, draft)
	s.recordOp("PROPOSE_TEAM("+draft.Name+")", err)
	if err != nil {
		return model.TeamDraft{}, err
	}
	return out, nil
}

func (s *Session) proposeTeam(ctx context.Context, draft model.TeamDraft) (model.TeamDraft, *model.Error) {
	if err := s.requireIdle("propose a team"); err != nil {
		return model.TeamDraft{}, err
	}
	if draft.Name == "" {
		return model.TeamDraft{}, model.NewStagingConflict("", "team name is required")
	}
	if err := s.loadRefs(ctx); err != nil {
		return model.TeamDraft{}, err
	}
	if slices.ContainsFunc(s.teams, func(t model.Team) bool { return t.Name == draft.Name }) {
		return model.TeamDraft{}, model.NewStagingConflict("", fmt.Sprintf("team %q already exists", draft.Name))
	}
	return s.staged.ProposeTeam(draft), nil
}

// ResolveTeam maps a team id or name to the id staged proposals reference:
// a platform team id, or the placeholder id of a pending draft.
func (s *Session) ResolveTeam(ctx context.Context, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadRefs(ctx); err != nil {
		return "", err
	}
	for _, t := range s.teams {
		if t.ID == ref || t.Name == ref {
			return t.ID, nil
		}
	}
	for _, d := range s.staged.Snapshot().PendingTeams {
		if d.ID == ref || d.Name == ref {
			return d.ID, nil
		}
	}
	return "", model.NewStagingConflict("", fmt.Sprintf("team %q is neither a platform team nor proposed", ref))
}

// CreatePlan adds a usage plan to an existing platform API and returns the
// updated API with the new plan. A plan without a type defaults to a free
// plan granting what the current API key is authorized on.
func (s *Session) CreatePlan(ctx context.Context, teamID, apiID string, plan model.UsagePlan) (model.API, model.UsagePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	api, created, err := s.createPlan(ctx, teamID, apiID, plan)
	s.recordOp("CREATE_PLAN("+apiID+")", err)
	if err != nil {
		return model.API{}, model.UsagePlan{}, err
	}
	return api, created, nil
}

func (s *Session) createPlan(ctx context.Context, teamID, apiID string, plan model.UsagePlan) (model.API, model.UsagePlan, *model.Error) {
	if err := s.requirePhase(PhaseWalkingAPIKeys, "create a plan"); err != nil {
		return model.API{}, model.UsagePlan{}, err
	}
	if plan.Type == "" {
		key, _ := at(s.catalog.APIKeys, s.state.StepIndex)
		plan = model.KeyPlanSkeleton(s.state.InstanceID, plan.CustomName, key)
	}

	api, err := s.platform.GetAPI(ctx, teamID, apiID)
	if err != nil {
		return model.API{}, model.UsagePlan{}, s.planConflict("fetch api "+apiID, err)
	}
	known := make(map[string]bool, len(api.Plans))
	for _, p := range api.Plans {
		known[p.ID] = true
	}
	api.Plans = append(slices.Clone(api.Plans), plan)

	updated, err := s.platform.UpdateAPI(ctx, api)
	if err != nil {
		return model.API{}, model.UsagePlan{}, s.planConflict("update api "+apiID, err)
	}

	created := plan
	for _, p := range updated.Plans {
		if !known[p.ID] {
			created = p
		}
	}

	if s.refsLoaded {
		if i := slices.IndexFunc(s.apis, func(a model.API) bool { return a.ID == updated.ID }); i >= 0 {
			s.apis[i] = updated
		} else {
			s.apis = append(s.apis, updated)
		}
	}
	s.logger.Info("plan created", "api", updated.ID, "plan", created.ID)
	return updated, created, nil
}

// planConflict rejects a plan creation against the API key being walked.
// Nothing is staged or committed by the failed attempt.
func (s *Session) planConflict(message string, cause error) *model.Error {
	e := model.WrapError(model.ErrStagingConflict, message, cause)
	if key, ok := at(s.catalog.APIKeys, s.state.StepIndex); ok {
		e.SourceID = key.ClientID
	}
	return e
}

// checkTeam requires teamID to be a platform team or a pending draft.
func (s *Session) checkTeam(sourceID, teamID string) *model.Error {
	if teamID == "" {
		return model.NewStagingConflict(sourceID, "target team is required")
	}
	if slices.ContainsFunc(s.teams, func(t model.Team) bool { return t.ID == teamID }) {
		return nil
	}
	if staging.IsPendingTeam(teamID) {
		if _, ok := s.staged.PendingTeam(teamID); ok {
			return nil
		}
	}
	return model.NewStagingConflict(sourceID, fmt.Sprintf("team %q does not exist", teamID))
}

// loadRefs fetches the platform teams and APIs once per instance.
func (s *Session) loadRefs(ctx context.Context) *model.Error {
	if s.refsLoaded {
		return nil
	}
	teams, err := s.platform.ListTeams(ctx)
	if err != nil {
		return model.WrapError(model.ErrCatalogLoad, "list platform teams", err)
	}
	apis, err := s.platform.ListAPIs(ctx)
	if err != nil {
		return model.WrapError(model.ErrCatalogLoad, "list platform apis", err)
	}
	s.teams, s.apis, s.refsLoaded = teams, apis, true
	return nil
}

func (s *Session) requirePhase(phase Phase, action string) *model.Error {
	if s.state.Phase != phase {
		return model.NewError(model.ErrInvalidTransition, fmt.Sprintf("cannot %s in %s", action, s.state.Phase))
	}
	return nil
}

func (s *Session) requireIdle(action string) *model.Error {
	if s.state.Phase.Busy() {
		return model.NewError(model.ErrBusy, fmt.Sprintf("cannot %s while %s", action, s.state.Phase))
	}
	return nil
}

// recordOp traces a staging operation. The phase never changes.
func (s *Session) recordOp(op string, err *model.Error) {
	s.record(s.state.Phase, op, s.state.Phase, err)
}

func at[T any](items []T, i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(items) {
		return zero, false
	}
	return items[i], true
}
