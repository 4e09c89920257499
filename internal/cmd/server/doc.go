// Package serverrun exposes the shared Run entrypoint used by the CLI to start
// the oplogd runtime and its HTTP API, handling configuration layering,
// lifecycle and shutdown.
//
// Example:
//
//	cfg, _ := serverrun.BuildConfig("oplogd.yaml", serverrun.Overrides{HTTPAddr: ":8027"})
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
