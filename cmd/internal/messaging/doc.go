// Package messaging implements bazaar's conversation and message core.
//
// It owns:
//   - deterministic conversation keys for a pair of users and an optional subject (a listed product)
//   - the append-only message store and the per-conversation ledger (preview, unread counters, status)
//   - the Service that validates, persists and authorizes every messaging operation
//
// Transport concerns (HTTP, tokens) live in other packages. Storage comes in two flavors:
// an in-memory store for dev/tests and a PostgreSQL store backed by pgx.
package messaging
