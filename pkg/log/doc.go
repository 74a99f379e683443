/*
Package log provides structured logging for the store using zerolog.

The log package wraps zerolog to give every other package a JSON- or
console-formatted logger with component-scoped and txn-scoped child loggers,
configurable severity filtering, and a small set of helper functions for the
common one-line cases.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog.Logger instance                  │          │
	│  │  - initialized via log.Init()               │          │
	│  │  - safe for concurrent use                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Context Loggers                   │          │
	│  │  - WithComponent("txninfo" | "session" ...) │          │
	│  │  - WithSession(sessionID)                   │          │
	│  │  - WithTxn(beginTS) / WithCommit(commitTS)  │          │
	│  └────────────────────────────────────────────┘           │
	└──────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	sessLog := log.WithSession(sessionID)
	sessLog.Info().Msg("session connected")

	txnLog := log.WithTxn(beginTS)
	txnLog.Debug().Str("locator", locator.String()).Msg("mutation appended")

This package integrates with every other package in the module: pkg/arena,
pkg/txninfo, pkg/txnlog, pkg/txn, pkg/session, pkg/watermark, pkg/server,
pkg/dbclient, pkg/persist.
*/
package log
