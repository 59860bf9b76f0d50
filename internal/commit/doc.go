// Package commit turns staged proposals into real platform entities.
//
// Items are created one at a time in display order. Teams referenced by
// pending drafts are created once per batch, before the first API or
// subscription that needs them. A failing item is recorded in the result
// and the batch moves on; only a lost platform connection stops it early.
// Nothing already created is rolled back.
package commit
