// Package txn is the foreground write path of a primary.
//
// Writes inside a transaction are buffered until Prepare or Commit and then
// appended in one batch, together with the transaction's side-table row. The
// tracker learns about a prepare or a resolution only after that batch is
// durable.
//
// Two log layouts are supported:
//
//   - FormatMultiEntry: one entry per write followed by a prepare entry. The
//     transaction's start time is its first write entry.
//   - FormatSingleEntry: a single prepare entry carrying every write. The
//     start time is the prepare entry itself.
package txn
