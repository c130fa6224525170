package paidwork

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("paidwork: no store configured")
	ErrStoreClosed = errors.New("paidwork: store closed")

	// Not found errors.
	ErrJobNotFound     = errors.New("paidwork: job not found")
	ErrAccountNotFound = errors.New("paidwork: account not found")

	// Conflict errors.
	ErrJobAlreadyExists      = errors.New("paidwork: job already exists")
	ErrAccountAlreadyExists  = errors.New("paidwork: account already exists")

	// Ledger errors.
	ErrInvalidAmount           = errors.New("paidwork: amount is not an allowed denomination")
	ErrDuplicateIdempotencyKey = errors.New("paidwork: idempotency key already used")
	ErrCurrencyMismatch        = errors.New("paidwork: currency does not match account")

	// State errors.
	ErrInvalidState = errors.New("paidwork: invalid state transition")
)
