// Package checkpoint tracks the last stable checkpoint of a node and the
// retention floor sampled with it.
//
// A Mark pairs the checkpoint timestamp with the oldest start time of any
// prepared transaction at that instant. Two engines produce marks:
//
//   - Durable runs on a cadence. Each round samples the log and tracker,
//     flushes Pebble so every entry up to the sampled timestamp is persisted
//     outside the WAL, optionally writes a physical Pebble checkpoint, and
//     persists the mark so it survives a restart.
//   - Volatile has nothing to persist. CheckpointNow synthesizes a mark from
//     the current state; the truncator calls it at the start of each tick.
//
// Consumers only see the Clock interface.
package checkpoint
