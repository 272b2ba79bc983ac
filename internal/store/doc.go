// Package store holds the persistence layer: the Postgres price
// history and subscriber tables, and the Redis market snapshot cache
// used as the warm fallback tier.
package store
