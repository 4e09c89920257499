// Package runtime wires the process topology: one primary node and the
// in-process secondaries declared in configuration, each replicating from the
// primary's oplog. It exposes Open/Start/Stop/Close, health checks, and
// lookup of nodes by name for the HTTP layer.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Secondaries = []config.SecondaryConfig{{Name: "s1", Engine: config.EngineInMemory}}
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.Start(context.Background())
//	_ = rt.CheckHealth(context.Background())
//	st, _ := rt.Primary().Status()
package runtime
