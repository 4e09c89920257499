// Package client provides the oplogd command-line client.
//
// The commands talk to the oplogd HTTP API to inspect retention state and to
// drive writes and transactions on the primary. They are intended for
// developers and operators exercising a running server.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. The standalone binary reads OPLOGD_API and
// defaults to http://127.0.0.1:8027.
//
// Usage
//
//	oplogd status
//	oplogd status --node s1
//
//	oplogd oplog insert --data '{"x":1}'
//	oplogd oplog list --limit 10 --reverse
//	oplogd oplog list --node s1 --start 1700000000:1
//
//	# Prepare a transaction; it pins truncation at its first write
//	oplogd txn begin --write insert=a --write update=b --prepare
//	oplogd txn list
//	oplogd txn commit 5b0c7c6e-...
//
//	oplogd truncate --node s1
package client
