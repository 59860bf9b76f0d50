package engine

import (
	"fmt"

	"github.com/roach88/gwimport/internal/model"
)

// State is the machine state. It is a plain value; Transition returns a
// modified copy and never mutates its input.
type State struct {
	Phase      Phase       `json:"phase"`
	InstanceID string      `json:"instance,omitempty"`
	Track      model.Track `json:"track,omitempty"`
	StepIndex  int         `json:"step"`

	// Catalog sizes, used to clamp navigation.
	Services int `json:"services"`
	APIKeys  int `json:"apikeys"`

	// Resume is set between LOAD_PREVIOUS_STATE and the end of the load.
	Resume *ResumePoint `json:"resume,omitempty"`

	// Result is set in complete.
	Result *model.CommitResult `json:"result,omitempty"`

	// Error is set in failed.
	Error *model.Error `json:"error,omitempty"`
}

// ResumePoint is where a resumed session re-enters the walk.
type ResumePoint struct {
	Track     model.Track `json:"track"`
	StepIndex int         `json:"step"`
}

// Staged is the number of staged items per track.
type Staged struct {
	APIs          int
	Subscriptions int
}

// Initial returns the state a session starts in.
func Initial() State {
	return State{Phase: PhaseSourceSelection}
}

// Items returns the size of the list walked on the current track.
func (s State) Items() int {
	switch s.Track {
	case model.TrackServices:
		return s.Services
	case model.TrackAPIKeys:
		return s.APIKeys
	default:
		return 0
	}
}

// Transition applies ev to s.
//
// On rejection it returns s unchanged together with the reason. Busy
// phases reject every operator event with ErrBusy. Events a phase does not
// accept are rejected with ErrInvalidTransition.
func Transition(s State, ev Event, staged Staged) (State, *model.Error) {
	if s.Phase.Busy() && !ev.Type.Internal() {
		return s, model.NewError(model.ErrBusy,
			fmt.Sprintf("%s not accepted while %s", ev.Type, s.Phase))
	}

	switch s.Phase {
	case PhaseSourceSelection:
		return fromSourceSelection(s, ev)
	case PhaseLoadingCatalog:
		return fromLoadingCatalog(s, ev)
	case PhaseTrackSelection:
		return fromTrackSelection(s, ev)
	case PhaseWalkingServices, PhaseWalkingAPIKeys:
		return fromWalking(s, ev, staged)
	case PhaseServicesRecap, PhaseAPIKeysRecap:
		return fromRecap(s, ev, staged)
	case PhaseCommitting:
		return fromCommitting(s, ev)
	case PhaseComplete:
		return fromComplete(s, ev)
	case PhaseFailed:
		if ev.Type == EventRestart {
			return Initial(), nil
		}
	}
	return s, invalid(s, ev)
}

func fromSourceSelection(s State, ev Event) (State, *model.Error) {
	switch ev.Type {
	case EventLoad:
		if ev.InstanceID == "" {
			return s, model.NewError(model.ErrInvalidTransition, "LOAD requires a source instance")
		}
		return State{Phase: PhaseLoadingCatalog, InstanceID: ev.InstanceID}, nil

	case EventLoadPreviousState:
		cp := ev.Checkpoint
		if cp == nil || cp.SourceInstanceID == "" {
			return s, model.NewError(model.ErrNoSavedState, "no saved state found")
		}
		track, ok := cp.Track()
		if !ok {
			return s, model.NewError(model.ErrNoSavedState, "saved state has nothing staged")
		}
		return State{
			Phase:      PhaseLoadingCatalog,
			InstanceID: cp.SourceInstanceID,
			Resume:     &ResumePoint{Track: track, StepIndex: cp.StepIndex},
		}, nil
	}
	return s, invalid(s, ev)
}

func fromLoadingCatalog(s State, ev Event) (State, *model.Error) {
	switch ev.Type {
	case EventCatalogLoaded:
		next := s
		next.Services, next.APIKeys = 0, 0
		if ev.Catalog != nil {
			next.Services = len(ev.Catalog.Services)
			next.APIKeys = len(ev.Catalog.APIKeys)
		}
		if r := s.Resume; r != nil {
			next.Resume = nil
			next = walk(next, r.Track)
			next.StepIndex = clamp(r.StepIndex, next.Items())
			return next, nil
		}
		next.Phase = PhaseTrackSelection
		return next, nil

	case EventCatalogFailed:
		return failed(s, ev.Err, model.ErrCatalogLoad), nil
	}
	return s, invalid(s, ev)
}

func fromTrackSelection(s State, ev Event) (State, *model.Error) {
	switch ev.Type {
	case EventLoadService:
		return walk(s, model.TrackServices), nil
	case EventLoadAPIKey:
		return walk(s, model.TrackAPIKeys), nil
	case EventCancel:
		return Initial(), nil
	}
	return s, invalid(s, ev)
}

func fromWalking(s State, ev Event, staged Staged) (State, *model.Error) {
	next := s
	switch ev.Type {
	case EventNext:
		if s.StepIndex >= s.Items()-1 {
			return recap(s, false, staged)
		}
		next.StepIndex++
		return next, nil
	case EventPrevious:
		next.StepIndex = max(0, s.StepIndex-1)
		return next, nil
	case EventGoto:
		next.StepIndex = clamp(ev.Index, s.Items())
		return next, nil
	case EventRecap:
		return recap(s, ev.Force, staged)
	case EventCancel:
		return toTrackSelection(s), nil
	}
	return s, invalid(s, ev)
}

func fromRecap(s State, ev Event, staged Staged) (State, *model.Error) {
	create := EventCreateAPIs
	if s.Track == model.TrackAPIKeys {
		create = EventCreateAPIKeys
	}

	switch ev.Type {
	case EventRollback:
		next := s
		next.Phase = walkingPhase(s.Track)
		return next, nil
	case create:
		if stagedFor(s.Track, staged) == 0 {
			return s, model.NewError(model.ErrNothingStaged, fmt.Sprintf("nothing staged on the %s track", s.Track))
		}
		next := s
		next.Phase = PhaseCommitting
		return next, nil
	case EventCancel:
		return toTrackSelection(s), nil
	}
	return s, invalid(s, ev)
}

func fromCommitting(s State, ev Event) (State, *model.Error) {
	switch ev.Type {
	case EventCommitDone:
		next := s
		next.Phase = PhaseComplete
		next.Result = ev.Result
		if next.Result == nil {
			next.Result = &model.CommitResult{}
		}
		return next, nil
	case EventCommitFailed:
		return failed(s, ev.Err, model.ErrCommitFatal), nil
	}
	return s, invalid(s, ev)
}

func fromComplete(s State, ev Event) (State, *model.Error) {
	switch ev.Type {
	case EventLoadService:
		return walk(s, model.TrackServices), nil
	case EventLoadAPIKey:
		return walk(s, model.TrackAPIKeys), nil
	case EventRestart:
		return Initial(), nil
	}
	return s, invalid(s, ev)
}

func recap(s State, force bool, staged Staged) (State, *model.Error) {
	if !force && stagedFor(s.Track, staged) == 0 {
		return s, model.NewError(model.ErrNothingStaged, fmt.Sprintf("nothing staged on the %s track", s.Track))
	}
	next := s
	next.Phase = recapPhase(s.Track)
	return next, nil
}

func walk(s State, track model.Track) State {
	next := s
	next.Phase = walkingPhase(track)
	next.Track = track
	next.StepIndex = 0
	next.Result = nil
	next.Error = nil
	return next
}

func toTrackSelection(s State) State {
	next := s
	next.Phase = PhaseTrackSelection
	next.Track = ""
	next.StepIndex = 0
	return next
}

func failed(s State, err *model.Error, fallback model.ErrorKind) State {
	if err == nil {
		err = model.NewError(fallback, "unknown failure")
	}
	next := s
	next.Phase = PhaseFailed
	next.Resume = nil
	next.Error = err
	return next
}

func invalid(s State, ev Event) *model.Error {
	return model.NewError(model.ErrInvalidTransition,
		fmt.Sprintf("%s not accepted in %s", ev.Type, s.Phase))
}

func walkingPhase(track model.Track) Phase {
	if track == model.TrackAPIKeys {
		return PhaseWalkingAPIKeys
	}
	return PhaseWalkingServices
}

func recapPhase(track model.Track) Phase {
	if track == model.TrackAPIKeys {
		return PhaseAPIKeysRecap
	}
	return PhaseServicesRecap
}

func stagedFor(track model.Track, staged Staged) int {
	if track == model.TrackAPIKeys {
		return staged.Subscriptions
	}
	return staged.APIs
}

// clamp bounds i to a valid index of a list of n items.
func clamp(i, n int) int {
	if n <= 0 {
		return 0
	}
	return max(0, min(i, n-1))
}
