// Package node wires a single oplog-holding node: Pebble storage (on disk for
// the durable engine, in memory for the volatile one), the oplog, the
// transaction side-table and tracker, the checkpoint clock, and the retention
// engine and truncator. A primary also owns the transaction manager; a
// secondary owns an applier tailing its primary.
//
// Example:
//
//	n, _ := node.Open(node.Options{Name: "primary", Engine: config.EngineInMemory, MaxBytes: 1 << 20})
//	defer n.Close()
//	_ = n.Start(ctx)
//	txns, _ := n.Txns()
//	tx := txns.Begin()
//	_ = tx.Write(ctx, oplog.OpInsert, []byte("doc"))
//	_, _ = tx.Prepare(ctx)
//	st, _ := n.Status()
package node
