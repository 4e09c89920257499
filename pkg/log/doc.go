// Package log provides oplogd's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. It is backed by zap: every
// BaseLogger owns a *zap.Logger built from a zapcore.Core whose level is an
// atomic level, so SetLevel takes effect on all derived loggers.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatConsole),
//	)
//	l = l.With(log.Component("retention"), log.Str("node", "n1"))
//	l.Info("truncated oplog", log.Int("entries", 12))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting JSON
// or console encoding and stdout, stderr, a file path, or "null" as output.
//
// # Interop
//
// RedirectStdLog routes the standard library logger through a Logger, and
// PebbleLogger adapts a Logger to the logging interface Pebble expects.
package log
