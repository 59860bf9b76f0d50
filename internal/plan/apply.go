package plan

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/gwimport/internal/engine"
	"github.com/roach88/gwimport/internal/model"
)

// Report summarizes an applied plan.
type Report struct {
	// Staged counts the decisions that were accepted.
	Staged int `json:"staged"`

	// Rejected lists the decisions refused by validation. They do not stop
	// the plan.
	Rejected []model.Failure `json:"rejected"`

	// Plans lists the usage plans created on platform APIs.
	Plans []model.UsagePlan `json:"plans"`

	// Phase is the phase the session ended in.
	Phase engine.Phase `json:"phase"`

	// Result is set when the batch ran.
	Result *model.CommitResult `json:"result,omitempty"`
}

// Options adjust how a plan is applied.
type Options struct {
	// Commit runs the batch even when the plan does not ask for it.
	Commit bool
}

// Apply drives s through p from sourceSelection: load the instance, enter
// the plan's track, propose its teams, stage every decision and open the
// recap. The batch runs when the plan or opts asks for it.
//
// Rejected decisions are collected in the report. A returned error means
// the session could not go on: a failed load, nothing staged, or a fatal
// commit.
func Apply(ctx context.Context, s *engine.Session, p *Plan, opts Options) (Report, error) {
	report := Report{Rejected: []model.Failure{}, Plans: []model.UsagePlan{}}

	st, err := s.Send(ctx, engine.Load(p.Instance))
	if err != nil {
		return finish(report, st), fmt.Errorf("load instance %s: %w", p.Instance, err)
	}

	walk := engine.EventLoadService
	if p.Track == model.TrackAPIKeys {
		walk = engine.EventLoadAPIKey
	}
	if st, err = s.Send(ctx, engine.Of(walk)); err != nil {
		return finish(report, st), err
	}

	for _, t := range p.Teams {
		if err := proposeTeam(ctx, s, t); err != nil {
			report.reject("team:"+t.Name, err)
		}
	}

	if p.Track == model.TrackAPIKeys {
		for _, np := range p.Plans {
			created, err := createPlan(ctx, s, np)
			if err != nil {
				report.reject(np.APIKey, err)
				continue
			}
			report.Plans = append(report.Plans, created)
		}
		for _, d := range p.Subscriptions {
			if err := stageSubscription(ctx, s, d); err != nil {
				report.reject(d.APIKey, err)
				continue
			}
			report.Staged++
		}
	} else {
		for _, d := range p.APIs {
			if err := stageAPI(ctx, s, d); err != nil {
				report.reject(d.Service, err)
				continue
			}
			report.Staged++
		}
	}

	if st, err = s.Send(ctx, engine.Recap(false)); err != nil {
		return finish(report, st), err
	}
	if !p.Commit && !opts.Commit {
		return finish(report, st), nil
	}

	create := engine.EventCreateAPIs
	if p.Track == model.TrackAPIKeys {
		create = engine.EventCreateAPIKeys
	}
	st, err = s.Send(ctx, engine.Of(create))
	return finish(report, st), err
}

// Resume restores the saved checkpoint into s, opens the recap and, when
// commit is set, runs the batch.
func Resume(ctx context.Context, s *engine.Session, commit bool) (Report, error) {
	report := Report{Rejected: []model.Failure{}, Plans: []model.UsagePlan{}}

	st, err := s.Send(ctx, engine.Of(engine.EventLoadPreviousState))
	if err != nil {
		return finish(report, st), err
	}
	snap := s.Snapshot()
	report.Staged = len(snap.APIs) + len(snap.Subscriptions)

	if st, err = s.Send(ctx, engine.Recap(false)); err != nil {
		return finish(report, st), err
	}
	if !commit {
		return finish(report, st), nil
	}

	create := engine.EventCreateAPIs
	if st.Track == model.TrackAPIKeys {
		create = engine.EventCreateAPIKeys
	}
	st, err = s.Send(ctx, engine.Of(create))
	return finish(report, st), err
}

func finish(r Report, st engine.State) Report {
	r.Phase = st.Phase
	r.Result = st.Result
	if r.Result == nil && st.Error != nil {
		r.Result = st.Error.Result
	}
	return r
}

func (r *Report) reject(sourceID string, err error) {
	r.Rejected = append(r.Rejected, model.Failure{SourceID: sourceID, Reason: err.Error()})
}

// proposeTeam drafts t unless a platform team or draft already holds its name.
func proposeTeam(ctx context.Context, s *engine.Session, t Team) error {
	_, err := s.ResolveTeam(ctx, t.Name)
	if err == nil {
		return nil
	}
	if !model.IsKind(err, model.ErrStagingConflict) {
		return err
	}
	_, err = s.ProposeTeam(ctx, model.TeamDraft{
		Name:        t.Name,
		Description: t.Description,
		Contact:     t.Contact,
	})
	return err
}

func stageAPI(ctx context.Context, s *engine.Session, d APIDecision) error {
	i := slices.IndexFunc(s.Catalog().Services, func(svc model.SourceService) bool { return svc.ID == d.Service })
	if i < 0 {
		return model.NewStagingConflict(d.Service, "service is not in the loaded catalog")
	}
	if _, err := s.Send(ctx, engine.Goto(i)); err != nil {
		return err
	}

	proposal, _, ok := s.Proposal()
	if !ok {
		return model.NewStagingConflict(d.Service, "service is not the current step")
	}
	teamID, err := s.ResolveTeam(ctx, d.Team)
	if err != nil {
		return err
	}
	proposal.TargetTeamID = teamID
	if d.Name != "" {
		proposal.Name = d.Name
		proposal.HumanReadableID = model.Slug(d.Name)
	}
	if d.HumanReadableID != "" {
		proposal.HumanReadableID = d.HumanReadableID
	}
	return s.StageAPI(ctx, proposal)
}

// gotoKey moves the walk to the API key with the given client id.
func gotoKey(ctx context.Context, s *engine.Session, clientID string) error {
	i := slices.IndexFunc(s.Catalog().APIKeys, func(k model.SourceAPIKey) bool { return k.ClientID == clientID })
	if i < 0 {
		return model.NewStagingConflict(clientID, "api key is not in the loaded catalog")
	}
	_, err := s.Send(ctx, engine.Goto(i))
	return err
}

func createPlan(ctx context.Context, s *engine.Session, np NewPlan) (model.UsagePlan, error) {
	if err := gotoKey(ctx, s, np.APIKey); err != nil {
		return model.UsagePlan{}, err
	}
	api, err := findAPI(ctx, s, np.APIKey, np.API)
	if err != nil {
		return model.UsagePlan{}, err
	}
	_, created, err := s.CreatePlan(ctx, api.Team, api.ID, model.UsagePlan{CustomName: np.CustomName})
	return created, err
}

func stageSubscription(ctx context.Context, s *engine.Session, d SubscriptionDecision) error {
	if err := gotoKey(ctx, s, d.APIKey); err != nil {
		return err
	}
	teamID, err := s.ResolveTeam(ctx, d.Team)
	if err != nil {
		return err
	}
	api, err := findAPI(ctx, s, d.APIKey, d.API)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(api.Plans, func(p model.UsagePlan) bool {
		return p.ID == d.Plan || p.DisplayName() == d.Plan
	})
	if i < 0 {
		return model.NewStagingConflict(d.APIKey, fmt.Sprintf("plan %q does not exist on api %q", d.Plan, api.Name))
	}
	return s.StageSubscription(ctx, model.StagedSubscription{
		SourceAPIKeyID: d.APIKey,
		TargetTeamID:   teamID,
		TargetAPIID:    api.ID,
		TargetPlanID:   api.Plans[i].ID,
	})
}

// findAPI resolves a platform API by id or name.
func findAPI(ctx context.Context, s *engine.Session, sourceID, ref string) (model.API, error) {
	apis, err := s.APIs(ctx)
	if err != nil {
		return model.API{}, err
	}
	for _, a := range apis {
		if a.ID == ref || a.Name == ref {
			return a, nil
		}
	}
	return model.API{}, model.NewStagingConflict(sourceID, fmt.Sprintf("api %q does not exist", ref))
}
