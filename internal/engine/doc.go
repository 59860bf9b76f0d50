// Package engine drives an import session through its phases.
//
// The machine is split in two halves:
//
//   - Transition is a pure function from (State, Event, Staged) to a new
//     State plus an optional *model.Error. It performs no I/O and never
//     panics, so every rule is testable with plain tables.
//   - Session owns the I/O. It feeds operator events through Transition,
//     runs the catalog load and the commit batch when the machine enters
//     loadingCatalog or committing, and feeds their outcome back in as
//     internal events.
//
// Session processes one event at a time from a FIFO queue. Effects run
// without holding the session lock; while one is in flight the machine is
// in a busy phase and every operator event is rejected with ErrBusy rather
// than aborting the network call.
//
// Every processed event, accepted or not, is appended to the session trace
// under a sequence number starting at 1, so a scripted session produces the
// same trace on every run.
package engine
