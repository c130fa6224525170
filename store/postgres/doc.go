// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue, single-statement conditional debits,
// and in-code SQL migrations with a tracking table.
package postgres
