package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/gwimport/internal/model"
)

// Phase is one state of the import workflow.
type Phase string

const (
	PhaseSourceSelection Phase = "sourceSelection"
	PhaseLoadingCatalog  Phase = "loadingCatalog"
	PhaseTrackSelection  Phase = "trackSelection"
	PhaseWalkingServices Phase = "walkingServices"
	PhaseServicesRecap   Phase = "servicesRecap"
	PhaseWalkingAPIKeys  Phase = "walkingApiKeys"
	PhaseAPIKeysRecap    Phase = "apiKeysRecap"
	PhaseCommitting      Phase = "committing"
	PhaseComplete        Phase = "complete"
	PhaseFailed          Phase = "failed"
)

// Busy reports whether an effect is in flight in this phase.
func (p Phase) Busy() bool {
	return p == PhaseLoadingCatalog || p == PhaseCommitting
}

// Walking reports whether the operator is stepping through items.
func (p Phase) Walking() bool {
	return p == PhaseWalkingServices || p == PhaseWalkingAPIKeys
}

// EventType names an event the machine reacts to.
type EventType string

const (
	// Operator events.
	EventLoad              EventType = "LOAD"
	EventLoadPreviousState EventType = "LOAD_PREVIOUS_STATE"
	EventLoadService       EventType = "LOAD_SERVICE"
	EventLoadAPIKey        EventType = "LOAD_APIKEY"
	EventRecap             EventType = "RECAP"
	EventRollback          EventType = "ROLLBACK"
	EventCreateAPIs        EventType = "CREATE_APIS"
	EventCreateAPIKeys     EventType = "CREATE_APIKEYS"
	EventCancel            EventType = "CANCEL"
	EventNext              EventType = "NEXT"
	EventPrevious          EventType = "PREVIOUS"
	EventGoto              EventType = "GOTO"
	EventRestart           EventType = "RESTART"

	// Internal events, produced by Session effects.
	EventCatalogLoaded EventType = "CATALOG_LOADED"
	EventCatalogFailed EventType = "CATALOG_FAILED"
	EventCommitDone    EventType = "COMMIT_DONE"
	EventCommitFailed  EventType = "COMMIT_FAILED"
)

// Internal reports whether t is only ever produced by the session itself.
func (t EventType) Internal() bool {
	switch t {
	case EventCatalogLoaded, EventCatalogFailed, EventCommitDone, EventCommitFailed:
		return true
	default:
		return false
	}
}

// Event is an input to Transition. Only the fields relevant to Type are set.
type Event struct {
	Type EventType

	// InstanceID selects the source instance (LOAD).
	InstanceID string

	// Checkpoint is the saved session to resume (LOAD_PREVIOUS_STATE).
	// Session fills it from the checkpoint store.
	Checkpoint *model.Checkpoint

	// Force enters recap even with nothing staged (RECAP).
	Force bool

	// Index is the target step (GOTO).
	Index int

	// Catalog is the loaded catalog (CATALOG_LOADED).
	Catalog *model.Catalog

	// Result is the batch outcome (COMMIT_DONE).
	Result *model.CommitResult

	// Err is the failure (CATALOG_FAILED, COMMIT_FAILED).
	Err *model.Error
}

// Load selects a source instance.
func Load(instanceID string) Event {
	return Event{Type: EventLoad, InstanceID: instanceID}
}

// Goto jumps to the item at index.
func Goto(index int) Event {
	return Event{Type: EventGoto, Index: index}
}

// Recap enters the recap phase. force allows an empty recap.
func Recap(force bool) Event {
	return Event{Type: EventRecap, Force: force}
}

// Of builds an event that carries no payload.
func Of(t EventType) Event {
	return Event{Type: t}
}

// String renders the event for traces, e.g. "LOAD(oto-1)" or "GOTO(2)".
func (e Event) String() string {
	var args []string
	switch e.Type {
	case EventLoad:
		args = append(args, e.InstanceID)
	case EventLoadPreviousState:
		if e.Checkpoint != nil {
			args = append(args, e.Checkpoint.SourceInstanceID, fmt.Sprintf("step=%d", e.Checkpoint.StepIndex))
		}
	case EventRecap:
		if e.Force {
			args = append(args, "force")
		}
	case EventGoto:
		args = append(args, fmt.Sprintf("%d", e.Index))
	case EventCatalogLoaded:
		if e.Catalog != nil {
			args = append(args,
				fmt.Sprintf("services=%d", len(e.Catalog.Services)),
				fmt.Sprintf("apikeys=%d", len(e.Catalog.APIKeys)),
			)
		}
	case EventCommitDone:
		if e.Result != nil {
			args = append(args,
				fmt.Sprintf("created=%d", len(e.Result.Committed)),
				fmt.Sprintf("failed=%d", len(e.Result.Failures)),
			)
		}
	case EventCatalogFailed, EventCommitFailed:
		if e.Err != nil {
			args = append(args, string(e.Err.Kind))
		}
	}
	if len(args) == 0 {
		return string(e.Type)
	}
	return string(e.Type) + "(" + strings.Join(args, " ") + ")"
}
