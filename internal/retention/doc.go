// Package retention decides how much of the oplog may be discarded and
// enforces that decision.
//
// Engine computes a Boundary from the configured size budget and the floor
// sampled at the last checkpoint: the oldest start time of any transaction
// that was prepared but unresolved when the checkpoint was taken. Entries
// strictly older than the boundary may be deleted; the boundary entry and
// everything after it are kept. The boundary never exceeds the newest entry
// or the last checkpoint, and it never moves backwards.
//
// Truncator applies the boundary on its own cadence. A failed tick leaves the
// enforced boundary where it was and the next tick retries.
package retention
