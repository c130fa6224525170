// Package ledger implements the wallet: account balances and an
// append-only history of credits, debits, and refunds.
//
// Two invariants are non-negotiable and enforced by the store's atomic
// primitives, never by read-modify-write in this package:
//
//   - A balance never goes negative: Debit is a single conditional
//     update that succeeds only when balance ≥ amount, and reports
//     insufficient funds as ok=false, not as an error.
//   - A payment reference is consumed at most once per provider: Credit
//     inserts the (provider, key) row before incrementing the balance,
//     inside one transaction, so two concurrent credits with the same
//     key cannot both succeed.
//
// Entries are append-only. Corrections are made by writing a refund
// entry, never by editing history.
package ledger
