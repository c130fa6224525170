// Package store defines the aggregate persistence interface. Each
// subsystem (job, ledger) defines its own store interface; the composite
// Store composes them all. Backends: Postgres and Memory.
package store

import (
	"context"

	"github.com/robelmit/paidwork/job"
	"github.com/robelmit/paidwork/ledger"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// implements all of them so the wallet debit and the job row live in the
// same database.
type Store interface {
	job.Store
	ledger.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
