package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/gwimport/internal/httpapi"
	"github.com/roach88/gwimport/internal/model"
	"github.com/roach88/gwimport/internal/platform"
)

// Target is the subset of the platform a commit writes to.
type Target interface {
	ListTeams(ctx context.Context) ([]model.Team, error)
	CreateTeam(ctx context.Context, draft model.TeamDraft) (model.Team, error)
	ListAPIs(ctx context.Context) ([]model.API, error)
	CreateAPI(ctx context.Context, req platform.NewAPI) (model.API, error)
	CreateSubscription(ctx context.Context, req platform.NewSubscription) (model.Subscription, error)
}

// Committer runs commit batches against a Target.
type Committer struct {
	target  Target
	metrics *Metrics
	logger  *slog.Logger
}

// Option configures a Committer.
type Option func(*Committer)

// WithMetrics records batch and item counters.
func WithMetrics(m *Metrics) Option {
	return func(c *Committer) { c.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Committer) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Committer writing to target.
func New(target Target, opts ...Option) *Committer {
	c := &Committer{target: target, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CommitAPIs creates a published API for every staged API.
//
// The returned error is non-nil only for a fatal batch failure; it is a
// *model.Error of kind ErrCommitFatal whose Result holds what was created
// before the batch stopped. Per-item failures are reported in the result.
func (c *Committer) CommitAPIs(ctx context.Context, apis []model.StagedAPI, drafts []model.TeamDraft) (model.CommitResult, error) {
	started := time.Now()
	result := emptyResult()

	existing, err := c.target.ListTeams(ctx)
	if err != nil {
		return c.fatal(model.TrackServices, started, result, "list platform teams", err)
	}
	teams := newTeamResolver(c.target, c.metrics, existing, drafts)

	ordered := slices.Clone(apis)
	model.SortStagedAPIs(ordered)

	for _, staged := range ordered {
		team, created, err := teams.resolve(ctx, staged.TargetTeamID)
		if created {
			result.CreatedTeams = append(result.CreatedTeams, team)
		}
		if err != nil {
			if isFatal(ctx, err) {
				return c.fatal(model.TrackServices, started, result, "create team", err)
			}
			c.fail(&result, staged.SourceServiceID, err)
			continue
		}

		api, err := c.target.CreateAPI(ctx, platform.NewAPI{
			Name:            staged.Name,
			HumanReadableID: staged.HumanReadableID,
			Team:            team.ID,
			Published:       true,
			Plans:           []model.UsagePlan{staged.PlanSkeleton},
		})
		c.metrics.item("api", err)
		if err != nil {
			if isFatal(ctx, err) {
				return c.fatal(model.TrackServices, started, result, "create api", err)
			}
			c.fail(&result, staged.SourceServiceID, err)
			continue
		}
		c.logger.Debug("api created", "source_id", staged.SourceServiceID, "api", api.ID, "team", team.ID)
		result.CreatedAPIs = append(result.CreatedAPIs, api)
		result.Committed = append(result.Committed, staged.SourceServiceID)
	}

	c.done(model.TrackServices, started, result)
	return result, nil
}

// CommitSubscriptions creates a subscription for every staged subscription.
//
// The referenced API and plan must already exist on the platform; an item
// whose API or plan is missing fails without a create call. Error semantics
// match CommitAPIs.
func (c *Committer) CommitSubscriptions(ctx context.Context, subs []model.StagedSubscription, drafts []model.TeamDraft) (model.CommitResult, error) {
	started := time.Now()
	result := emptyResult()

	existing, err := c.target.ListTeams(ctx)
	if err != nil {
		return c.fatal(model.TrackAPIKeys, started, result, "list platform teams", err)
	}
	apiList, err := c.target.ListAPIs(ctx)
	if err != nil {
		return c.fatal(model.TrackAPIKeys, started, result, "list platform apis", err)
	}
	apis := make(map[string]model.API, len(apiList))
	for _, a := range apiList {
		apis[a.ID] = a
	}
	teams := newTeamResolver(c.target, c.metrics, existing, drafts)

	ordered := slices.Clone(subs)
	model.SortStagedSubscriptions(ordered)

	for _, staged := range ordered {
		api, ok := apis[staged.TargetAPIID]
		if !ok {
			c.fail(&result, staged.SourceAPIKeyID, fmt.Errorf("api %q not found", staged.TargetAPIID))
			continue
		}
		if _, ok := api.Plan(staged.TargetPlanID); !ok {
			c.fail(&result, staged.SourceAPIKeyID,
				fmt.Errorf("plan %q not found on api %q", staged.TargetPlanID, api.Name))
			continue
		}

		team, created, err := teams.resolve(ctx, staged.TargetTeamID)
		if created {
			result.CreatedTeams = append(result.CreatedTeams, team)
		}
		if err != nil {
			if isFatal(ctx, err) {
				return c.fatal(model.TrackAPIKeys, started, result, "create team", err)
			}
			c.fail(&result, staged.SourceAPIKeyID, err)
			continue
		}

		sub, err := c.target.CreateSubscription(ctx, platform.NewSubscription{
			Team: team.ID,
			API:  api.ID,
			Plan: staged.TargetPlanID,
			APIKey: platform.APIKey{
				ClientID:     staged.ClientID,
				ClientName:   staged.ClientName,
				ClientSecret: staged.ClientSecret,
			},
			AuthorizedEntities: staged.AuthorizedEntities,
		})
		c.metrics.item("subscription", err)
		if err != nil {
			if isFatal(ctx, err) {
				return c.fatal(model.TrackAPIKeys, started, result, "create subscription", err)
			}
			c.fail(&result, staged.SourceAPIKeyID, err)
			continue
		}
		c.logger.Debug("subscription created", "source_id", staged.SourceAPIKeyID, "subscription", sub.ID)
		result.CreatedSubscriptions = append(result.CreatedSubscriptions, sub)
		result.Committed = append(result.Committed, staged.SourceAPIKeyID)
	}

	c.done(model.TrackAPIKeys, started, result)
	return result, nil
}

func (c *Committer) fail(result *model.CommitResult, sourceID string, err error) {
	c.logger.Warn("commit item failed",
		"kind", model.ErrCommitItem,
		"source_id", sourceID,
		"error", err,
	)
	result.Failures = append(result.Failures, model.Failure{SourceID: sourceID, Reason: err.Error()})
}

func (c *Committer) fatal(track model.Track, started time.Time, result model.CommitResult, step string, err error) (model.CommitResult, error) {
	c.metrics.batch(string(track), "fatal", started)
	c.logger.Error("commit aborted", "track", track, "step", step, "error", err)
	e := model.WrapError(model.ErrCommitFatal, step, err)
	e.Result = &result
	return result, e
}

func (c *Committer) done(track model.Track, started time.Time, result model.CommitResult) {
	outcome := "ok"
	if result.HasFailures() {
		outcome = "partial"
	}
	c.metrics.batch(string(track), outcome, started)
	c.logger.Info("commit finished",
		"track", track,
		"teams", len(result.CreatedTeams),
		"apis", len(result.CreatedAPIs),
		"subscriptions", len(result.CreatedSubscriptions),
		"failures", len(result.Failures),
	)
}

// isFatal reports whether err means the platform can no longer be reached.
func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, httpapi.ErrUnreachable) || ctx.Err() != nil
}

func emptyResult() model.CommitResult {
	return model.CommitResult{
		CreatedTeams:         []model.Team{},
		CreatedAPIs:          []model.API{},
		CreatedSubscriptions: []model.Subscription{},
		Failures:             []model.Failure{},
		Committed:            []string{},
	}
}
