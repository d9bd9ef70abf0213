// Package client is the sync side of the communicator protocol.
//
// It owns everything the server deliberately does not: the per-user poll cursor,
// the durable outbox of unsent messages, and the conversation view that reconciles
// optimistic sends, cached history and polled batches. Local state lives behind
// Storage, backed by bbolt on disk or a map in tests.
package client
