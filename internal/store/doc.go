// Package store owns subscription persistence: one current record per
// user, optimistic concurrency on writes, the append-only history trail,
// and the parking lot for webhook events that could not be resolved.
//
// Two implementations are provided: a Postgres repository on pgx for
// production and an in-memory repository with identical concurrency
// semantics for tests.
package store
