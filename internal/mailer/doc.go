// Package mailer is the outbound transport boundary.
//
// Dispatch hands a fully rendered Email to a Sender and records whatever the
// Sender returns. Senders never retry; a failed attempt is a ledger row.
//
// Implementations:
//   - resend.Sender: Resend HTTP API
//   - LogSender: dry run, logs the message and returns a synthetic id
//   - Limited: token-bucket wrapper around any Sender
package mailer
