// Package settlehook is an extension that settles job outcomes against
// the wallet ledger and a delivery channel.
//
// On a job's terminal failure the hook refunds the job's cost to the
// paying account before any notification goes out; the refund is never
// conditional on the notification succeeding. On completion it delivers
// the result through the [Notifier] and, for batch members, reports the
// artifact to the batch tracker.
//
// Notifier is defined locally so the package does not depend on any
// concrete delivery transport — callers inject a NotifierFunc that
// bridges to their bot, webhook, or message bus at wiring time.
package settlehook
