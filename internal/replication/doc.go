// Package replication applies a primary's oplog on a secondary in process.
//
// The Applier reads entries after its own newest timestamp, appends them with
// the primary's timestamps and writes the matching transaction rows in the
// same batch, so a prepared transaction's row is durable no later than its
// prepare entry. The secondary's tracker is updated after the batch commits,
// and progress is reported back to the source as a member cursor.
package replication
