// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// snapshots, batches, flush/checkpoint helpers, an in-memory mode, and minimal
// metrics hooks.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	// Atomic updates with batches
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
//	// Volatile store for the in-memory engine
//	mem, _ := pebblestore.Open(pebblestore.Options{InMemory: true})
//
//	// Durable engines flush and take physical checkpoints
//	_ = db.Flush()
//	_ = db.Checkpoint("./data/ckpt-1")
package pebblestore
