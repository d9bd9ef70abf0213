// Package identity implements the communicator user directory.
//
// It owns user registration and credential checks, and answers the one question
// the messaging core depends on: does a given user id exist.
// Both an in-memory and a Postgres-backed Directory are provided.
package identity
