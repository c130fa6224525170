// Package paidwork provides a library-first core for paid background work:
// a wallet ledger with at-most-once billing, a bounded-concurrency job
// queue with automatic retry and refund on permanent failure, and an
// exactly-once batch tracker for bulk runs.
//
// Paidwork is a library, not a service. Import it, configure a store,
// register typed job handlers, and wire a Notifier for delivery.
//
// # Quick Start
//
//	c, err := paidwork.New(
//	    paidwork.WithStore(memory.New()),
//	    paidwork.WithConcurrency(8),
//	)
//
// Then build an engine around it with the engine package, which wires the
// ledger service, batch tracker, worker pool, and settlement hook together.
//
// # Architecture
//
// Each subsystem (job, ledger) defines its own store interface; a single
// backend implements all of them. Lifecycle events (enqueued, started,
// completed, retrying, failed, batch ready, credit recorded, refund
// issued) are delivered to registered extensions.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers ("acct_…", "job_…", "txn_…", "batch_…").
package paidwork
