// Package httpserver provides the JSON status and driver API of oplogd on
// gorilla/mux: node health and retention status, oplog reads and inserts,
// transaction begin/prepare/commit/abort on the primary, manual truncation,
// and the Prometheus /metrics endpoint.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8027")
package httpserver
