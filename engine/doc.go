// Package engine wires all paidwork subsystems together. It creates the
// extension registry, job registry, ledger service, batch tracker,
// middleware chain, and worker pool, and provides the Register/Enqueue
// operations applications call.
//
// This package exists to break the import cycle: the root paidwork
// package defines Entity (imported by job, ledger, etc.) and so cannot
// import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine
