package commit

import (
	"context"
	"fmt"

	"github.com/roach88/gwimport/internal/model"
)

// teamResolver maps staged team ids to real teams within one batch.
//
// A team id that is not a real team is created from its draft the first
// time it is needed. The outcome, success or failure, is memoized so a
// team referenced by several items is attempted exactly once.
type teamResolver struct {
	target  Target
	metrics *Metrics
	byID    map[string]model.Team
	byName  map[string]model.Team
	drafts  map[string]model.TeamDraft
	settled map[string]teamOutcome
}

type teamOutcome struct {
	team model.Team
	err  error
}

func newTeamResolver(target Target, metrics *Metrics, existing []model.Team, drafts []model.TeamDraft) *teamResolver {
	r := &teamResolver{
		target:  target,
		metrics: metrics,
		byID:    make(map[string]model.Team, len(existing)),
		byName:  make(map[string]model.Team, len(existing)),
		drafts:  make(map[string]model.TeamDraft, len(drafts)),
		settled: map[string]teamOutcome{},
	}
	for _, t := range existing {
		r.byID[t.ID] = t
		r.byName[t.Name] = t
	}
	for _, d := range drafts {
		r.drafts[d.ID] = d
	}
	return r
}

// resolve returns the real team for id. created is true only on the call
// that created it.
func (r *teamResolver) resolve(ctx context.Context, id string) (team model.Team, created bool, err error) {
	if t, ok := r.byID[id]; ok {
		return t, false, nil
	}
	if o, ok := r.settled[id]; ok {
		return o.team, false, o.err
	}

	draft, ok := r.drafts[id]
	if !ok {
		draft = model.TeamDraft{ID: id, Name: id}
	}
	// A draft whose team was created by an earlier, partially failed batch.
	if t, ok := r.byName[draft.Name]; ok {
		r.settled[id] = teamOutcome{team: t}
		return t, false, nil
	}

	t, err := r.target.CreateTeam(ctx, draft)
	r.metrics.item("team", err)
	if err != nil {
		err = fmt.Errorf("team %q: %w", draft.Name, err)
		r.settled[id] = teamOutcome{err: err}
		return model.Team{}, false, err
	}
	r.settled[id] = teamOutcome{team: t}
	r.byName[t.Name] = t
	return t, true, nil
}
