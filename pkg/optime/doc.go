// Package optime provides the logical timestamp that orders oplog entries.
//
// # Format
//
// A Timestamp is a uint64: the high 32 bits hold wall-clock seconds and the
// low 32 bits hold an increment. Integer comparison therefore matches
// chronological order, and timestamps issued within the same second remain
// strictly increasing by increment. The zero value is the null timestamp.
//
// # Monotonicity
//
// The Clock ensures per-node monotonicity:
//   - If the system clock regresses, it pins to the last seen second and
//     increments to avoid going backwards.
//   - If the increment would overflow within a second, it waits for the next
//     second before issuing the next timestamp.
//   - Observe folds in timestamps seen on replicated entries so a secondary
//     that is later promoted never reissues one.
//
// Usage
//
//	c := optime.NewClock()
//	ts := c.Next()
//	fmt.Println(ts) // Timestamp(1718000000, 1)
package optime
