package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/gwimport/internal/checkpoint"
	"github.com/roach88/gwimport/internal/model"
	"github.com/roach88/gwimport/internal/staging"
)

// CatalogLoader loads the catalog of one source instance.
type CatalogLoader interface {
	LoadEntities(ctx context.Context, instanceID string) (model.Catalog, error)
}

// Committer creates staged entities on the target platform.
type Committer interface {
	CommitAPIs(ctx context.Context, apis []model.StagedAPI, drafts []model.TeamDraft) (model.CommitResult, error)
	CommitSubscriptions(ctx context.Context, subs []model.StagedSubscription, drafts []model.TeamDraft) (model.CommitResult, error)
}

// Platform is the read side of the target platform used to validate
// proposals, plus the API update used to add plans.
type Platform interface {
	ListTeams(ctx context.Context) ([]model.Team, error)
	ListAPIs(ctx context.Context) ([]model.API, error)
	GetAPI(ctx context.Context, teamID, apiID string) (model.API, error)
	UpdateAPI(ctx context.Context, api model.API) (model.API, error)
}

// Config wires a Session to its collaborators.
type Config struct {
	Catalog   CatalogLoader
	Platform  Platform
	Committer Committer

	// Checkpoints persists the session. Nil disables persistence.
	Checkpoints *checkpoint.Store

	// Staging holds proposals. Defaults to an empty store.
	Staging *staging.Store

	Tenant string

	// SessionID is stamped into checkpoints. Defaults to a new UUIDv7.
	SessionID string

	Logger *slog.Logger

	// OnComplete is called after a batch finishes, fully or partially,
	// so callers can refresh cached platform lists.
	OnComplete func(model.CommitResult)
}

// Session is one operator's run through the import workflow.
//
// Thread-safety: all methods are safe for concurrent use. Events are
// processed one at a time; see the package documentation for how busy
// phases are handled.
type Session struct {
	mu sync.Mutex

	catalogLoader CatalogLoader
	platform      Platform
	committer     Committer
	checkpoints   *checkpoint.Store
	staged        *staging.Store
	tenant        string
	id            string
	logger        *slog.Logger
	onComplete    func(model.CommitResult)

	state   State
	catalog model.Catalog
	queue   *eventQueue
	trace   []TraceEntry
	seq     int64 // last trace sequence number

	// Cached platform lists, loaded on first validation.
	refsLoaded bool
	teams      []model.Team
	apis       []model.API
}

// NewSession creates a session in sourceSelection.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Catalog == nil || cfg.Platform == nil || cfg.Committer == nil {
		return nil, errors.New("session requires a catalog loader, a platform and a committer")
	}
	if cfg.Tenant == "" {
		return nil, errors.New("session requires a tenant")
	}

	s := &Session{
		catalogLoader: cfg.Catalog,
		platform:      cfg.Platform,
		committer:     cfg.Committer,
		checkpoints:   cfg.Checkpoints,
		staged:        cfg.Staging,
		tenant:        cfg.Tenant,
		id:            cfg.SessionID,
		logger:        cfg.Logger,
		onComplete:    cfg.OnComplete,
		state:         Initial(),
		catalog:       emptyCatalog(),
		queue:         newEventQueue(),
	}
	if s.staged == nil {
		s.staged = staging.New()
	}
	if s.id == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}
		s.id = id.String()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("session", s.id, "tenant", s.tenant)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Catalog returns the loaded catalog. It is empty before a load completes.
func (s *Session) Catalog() model.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

// Snapshot returns the staged proposals in display order.
func (s *Session) Snapshot() staging.Snapshot {
	return s.staged.Snapshot()
}

// Trace returns a copy of the trace.
func (s *Session) Trace() []TraceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.trace)
}

// Send processes an operator event and everything it triggers.
//
// It returns the state once the queue is drained. The error is the
// rejection of ev, if it was rejected, or the failure carried into the
// failed phase by a load or commit ev started.
func (s *Session) Send(ctx context.Context, ev Event) (State, error) {
	if ev.Type.Internal() {
		return s.State(), model.NewError(model.ErrInvalidTransition,
			fmt.Sprintf("%s is produced by the session", ev.Type))
	}

	s.mu.Lock()
	if ev.Type == EventLoadPreviousState && ev.Checkpoint == nil && s.state.Phase == PhaseSourceSelection {
		ev.Checkpoint = s.loadCheckpoint(ctx)
	}
	s.queue.Enqueue(ev)

	var (
		rejected  *model.Error
		completed []model.CommitResult
	)
	for {
		next, ok := s.queue.TryDequeue()
		if !ok {
			break
		}

		prev := s.state
		st, err := Transition(prev, next, s.counts())
		s.record(prev.Phase, next.String(), st.Phase, err)
		if err != nil {
			if rejected == nil {
				rejected = err
			}
			s.logger.Debug("event rejected", "event", next.Type, "phase", prev.Phase, "error", err)
			continue
		}
		s.state = st
		s.logger.Debug("transition", "event", next.Type, "from", prev.Phase, "to", st.Phase)

		if res := s.apply(ctx, prev, next); res != nil {
			completed = append(completed, *res)
		}

		// Effects run unlocked. Until their outcome is queued the machine
		// stays in a busy phase, which rejects every operator event.
		switch st.Phase {
		case PhaseLoadingCatalog:
			instanceID := st.InstanceID
			s.mu.Unlock()
			follow := s.loadCatalog(ctx, instanceID)
			s.mu.Lock()
			s.queue.Enqueue(follow)
		case PhaseCommitting:
			track, snap := st.Track, s.staged.Snapshot()
			s.mu.Unlock()
			follow := s.commit(ctx, track, snap)
			s.mu.Lock()
			s.queue.Enqueue(follow)
		}
	}
	final := s.state
	s.mu.Unlock()

	if s.onComplete != nil {
		for _, res := range completed {
			s.onComplete(res)
		}
	}

	if rejected != nil {
		return final, rejected
	}
	if final.Phase == PhaseFailed && final.Error != nil && ev.Type != EventRestart {
		return final, final.Error
	}
	return final, nil
}

// apply performs the bookkeeping of an accepted transition. It returns the
// commit result when a batch just finished.
func (s *Session) apply(ctx context.Context, prev State, ev Event) *model.CommitResult {
	switch ev.Type {
	case EventLoadPreviousState:
		cp := ev.Checkpoint
		s.staged.Restore(staging.Snapshot{
			APIs:          cp.StagedAPIs,
			Subscriptions: cp.StagedSubscriptions,
			PendingTeams:  cp.PendingTeams,
		})
		s.logger.Info("session resumed",
			"instance", cp.SourceInstanceID,
			"step", cp.StepIndex,
			"previous_session", cp.SessionID,
		)

	case EventCatalogLoaded:
		s.catalog = emptyCatalog()
		if ev.Catalog != nil {
			s.catalog = *ev.Catalog
		}

	case EventCatalogFailed:
		s.catalog = emptyCatalog()

	case EventNext, EventPrevious, EventGoto:
		if s.state.StepIndex != prev.StepIndex {
			s.save(ctx)
		}

	case EventCommitDone:
		s.cleanup(ctx, prev.Track, ev.Result)
		if ev.Result != nil {
			return ev.Result
		}
		return &model.CommitResult{}

	case EventCommitFailed:
		if ev.Err != nil {
			s.cleanup(ctx, prev.Track, ev.Err.Result)
		}
	}

	// Leaving the instance drops everything loaded for it. The checkpoint
	// is kept, so staged work can still be resumed.
	if s.state.Phase == PhaseSourceSelection && prev.Phase != PhaseSourceSelection {
		s.catalog = emptyCatalog()
		s.staged.Clear()
		s.refsLoaded = false
	}
	return nil
}

func (s *Session) loadCatalog(ctx context.Context, instanceID string) Event {
	catalog, err := s.catalogLoader.LoadEntities(ctx, instanceID)
	if err != nil {
		return Event{Type: EventCatalogFailed, Err: model.AsError(err, model.ErrCatalogLoad)}
	}
	return Event{Type: EventCatalogLoaded, Catalog: &catalog}
}

func (s *Session) commit(ctx context.Context, track model.Track, snap staging.Snapshot) Event {
	var (
		result model.CommitResult
		err    error
	)
	if track == model.TrackAPIKeys {
		result, err = s.committer.CommitSubscriptions(ctx, snap.Subscriptions, snap.PendingTeams)
	} else {
		result, err = s.committer.CommitAPIs(ctx, snap.APIs, snap.PendingTeams)
	}
	if err != nil {
		e := model.AsError(err, model.ErrCommitFatal)
		if e.Result == nil {
			e.Result = &result
		}
		return Event{Type: EventCommitFailed, Err: e}
	}
	return Event{Type: EventCommitDone, Result: &result}
}

// cleanup unstages what a batch created and brings the checkpoint in line:
// cleared when nothing is left, rewritten with the leftovers otherwise.
func (s *Session) cleanup(ctx context.Context, track model.Track, result *model.CommitResult) {
	// Created teams and APIs are now on the platform.
	s.refsLoaded = false
	if result == nil {
		return
	}

	for _, id := range result.Committed {
		if track == model.TrackAPIKeys {
			s.staged.UnstageSubscription(id)
		} else {
			s.staged.UnstageAPI(id)
		}
	}
	s.staged.PruneTeams()

	if apis, subs := s.staged.Counts(); apis+subs > 0 {
		s.save(ctx)
		return
	}
	if s.checkpoints != nil {
		if err := s.checkpoints.Clear(ctx, s.tenant); err != nil {
			s.logger.Warn("checkpoint clear failed", "error", err)
		}
	}
}

func (s *Session) counts() Staged {
	apis, subs := s.staged.Counts()
	return Staged{APIs: apis, Subscriptions: subs}
}

// record appends a trace entry. Callers hold s.mu.
func (s *Session) record(from Phase, event string, to Phase, err *model.Error) {
	s.seq++
	entry := TraceEntry{Seq: s.seq, From: from, Event: event, To: to}
	if err != nil {
		entry.Error = err.Kind
	}
	s.trace = append(s.trace, entry)
}

// save writes the checkpoint. Empty staging is never written and storage
// errors are logged by the store.
func (s *Session) save(ctx context.Context) {
	if s.checkpoints == nil {
		return
	}
	snap := s.staged.Snapshot()
	s.checkpoints.Save(ctx, s.tenant, model.Checkpoint{
		SourceInstanceID:    s.state.InstanceID,
		StepIndex:           s.state.StepIndex,
		StagedAPIs:          snap.APIs,
		StagedSubscriptions: snap.Subscriptions,
		PendingTeams:        snap.PendingTeams,
		SessionID:           s.id,
	})
}

func (s *Session) loadCheckpoint(ctx context.Context) *model.Checkpoint {
	if s.checkpoints == nil {
		return nil
	}
	cp, ok := s.checkpoints.Load(ctx, s.tenant)
	if !ok {
		return nil
	}
	return &cp
}

func emptyCatalog() model.Catalog {
	return model.Catalog{
		Groups:   []model.SourceGroup{},
		Services: []model.SourceService{},
		APIKeys:  []model.SourceAPIKey{},
	}
}
